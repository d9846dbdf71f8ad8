package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booner/internal/config"
	"booner/internal/gateway/advisor"
	"booner/internal/metrics"

	"github.com/google/uuid"
)

// ErrInvalidSignal wraps every ingestion validation failure.
var ErrInvalidSignal = errors.New("invalid signal")

// Deps are the collaborators an Evaluator reads from. Risk, Trends and
// Advisor are optional.
type Deps struct {
	Risk         RiskSource
	Weights      WeightSource
	Trends       TrendSource
	Advisor      advisor.Advisor
	Correlations CorrelationTable
	Rules        []Rule
	Metrics      *metrics.Metrics
	Now          func() time.Time
	NewID        func() string
}

// Evaluator turns signals into decisions by running the confidence pipeline.
type Evaluator struct {
	cfg      config.PipelineConfig
	pipeline *Pipeline
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

func NewEvaluator(cfg config.PipelineConfig, deps Deps) (*Evaluator, error) {
	if deps.Weights == nil {
		return nil, fmt.Errorf("pipeline: weight source is required")
	}
	if deps.Correlations == nil {
		deps.Correlations = DefaultCorrelations()
	}
	if deps.Rules == nil {
		deps.Rules = DefaultRules()
	}
	if deps.Advisor == nil {
		deps.Advisor = advisor.Noop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	p := New("confidence",
		&safetyStage{risk: deps.Risk, ceiling: cfg.RiskCeilingPct},
		&correlationStage{table: deps.Correlations, trends: deps.Trends, veto: cfg.CorrelationVeto},
		&scoringStage{weights: deps.Weights},
		&rulesStage{rules: deps.Rules, cap: cfg.AdjustmentCap},
		&advisorStage{advisor: deps.Advisor, timeout: cfg.AdvisorTimeout()},
		&breakerStage{
			soft:          cfg.VolatilitySoft,
			hard:          cfg.VolatilityHard,
			hardThreshold: cfg.HardThreshold,
			softIncrement: cfg.SoftIncrement,
		},
	)
	return &Evaluator{
		cfg:      cfg,
		pipeline: p,
		metrics:  deps.Metrics,
		now:      deps.Now,
		newID:    deps.NewID,
	}, nil
}

// Evaluate runs every stage for sig. Vetoes and rejections come back as a
// Decision; an error means the decision could not be made at all.
func (e *Evaluator) Evaluate(ctx context.Context, sig Signal) (Decision, error) {
	if err := sig.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}
	ev := newEvaluation(sig, e.cfg.ThresholdFor(sig.Asset))
	if err := e.pipeline.Run(ctx, ev); err != nil {
		return Decision{}, fmt.Errorf("evaluate %s %s: %w", sig.Asset, sig.Direction, err)
	}
	if !ev.Terminal() {
		return Decision{}, fmt.Errorf("evaluate %s %s: pipeline ended in %s", sig.Asset, sig.Direction, ev.State())
	}
	d := decisionFrom(ev, e.newID(), e.now().UTC())
	e.metrics.ObserveDecision(string(d.Outcome))
	if d.Approved {
		log.Infof("%s %s %s approved score=%.2f threshold=%.2f", d.Asset, d.Strategy, d.Direction, d.FinalScore, d.Threshold)
	} else {
		log.Infof("%s %s %s %s: %s", d.Asset, d.Strategy, d.Direction, strings.ToLower(string(d.Outcome)), strings.Join(d.Reasons, "; "))
	}
	return d, nil
}
