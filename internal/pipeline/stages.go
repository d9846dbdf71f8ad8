package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"booner/internal/gateway/advisor"
	"booner/internal/pkg/circuit"
	"booner/internal/types"
)

// ErrNoPillarOverlap is returned when none of the feature pillars carries a weight.
var ErrNoPillarOverlap = errors.New("no feature pillar matches the strategy weights")

// RiskSource reports aggregate open risk as a percentage of equity.
type RiskSource interface {
	PortfolioRiskPct(ctx context.Context) (float64, error)
}

// WeightSource returns the current pillar weights for asset and strategy.
type WeightSource interface {
	Weights(ctx context.Context, asset, strategy string) (types.PillarWeights, error)
}

type safetyStage struct {
	risk    RiskSource
	ceiling float64
}

func (s *safetyStage) Meta() StageMeta {
	return StageMeta{Name: "safety", Order: 0, State: StateSafetyCheck, Timeout: 5 * time.Second}
}

func (s *safetyStage) Handle(ctx context.Context, ev *Evaluation) error {
	if s.risk == nil || s.ceiling <= 0 {
		return nil
	}
	pct, err := s.risk.PortfolioRiskPct(ctx)
	if err != nil {
		ev.Veto("portfolio risk unavailable")
		return err
	}
	ev.RiskPct = pct
	if pct >= s.ceiling {
		ev.Veto(fmt.Sprintf("portfolio risk %.2f%% at or above ceiling %.2f%%", pct, s.ceiling))
	}
	return nil
}

type correlationStage struct {
	table  CorrelationTable
	trends TrendSource
	veto   float64
}

func (s *correlationStage) Meta() StageMeta {
	return StageMeta{Name: "correlation", Order: 1, State: StateCorrelation, Timeout: 5 * time.Second}
}

func (s *correlationStage) Handle(ctx context.Context, ev *Evaluation) error {
	corr, ok := s.table[ev.Signal.Asset]
	if !ok {
		return nil
	}
	ev.CorrelatedAsset = corr.With
	trend := ev.Signal.Features.CorrelatedTrend
	var lookupErr error
	if trend == types.TrendUnknown && s.trends != nil {
		trend, lookupErr = s.trends.Trend(ctx, corr.With)
		if lookupErr != nil {
			trend = types.TrendUnknown
		}
	}
	ev.CorrelatedTrend = trend
	ev.Multiplier = Multiplier(corr, trend, ev.Signal.Direction)
	if ev.Multiplier < s.veto {
		ev.Veto(fmt.Sprintf("correlation veto: %s %s conflicts with %s trend %s (x%.2f)",
			ev.Signal.Asset, ev.Signal.Direction, corr.With, trend, ev.Multiplier))
		return nil
	}
	if ev.Multiplier != MultiplierNeutral {
		ev.AddReason(fmt.Sprintf("correlation %s trend %s (x%.2f)", corr.With, trend, ev.Multiplier))
	}
	if lookupErr != nil {
		return fmt.Errorf("trend %s: %w", corr.With, lookupErr)
	}
	return nil
}

type scoringStage struct {
	weights WeightSource
}

func (s *scoringStage) Meta() StageMeta {
	return StageMeta{Name: "scoring", Order: 2, State: StateScoring, Critical: true, Timeout: 10 * time.Second}
}

func (s *scoringStage) Handle(ctx context.Context, ev *Evaluation) error {
	w, err := s.weights.Weights(ctx, ev.Signal.Asset, ev.Signal.Strategy)
	if err != nil {
		return err
	}
	base, contrib, ok := WeightedScore(w, ev.Signal.Features.Pillars)
	if !ok {
		return ErrNoPillarOverlap
	}
	ev.Weights = w
	ev.BaseScore = base
	ev.Contributions = contrib
	return nil
}

// WeightedScore is Σ w·s / Σ w over pillars present in both maps, with each
// pillar's share of the result normalized to sum to 1.
func WeightedScore(w types.PillarWeights, pillars map[string]float64) (float64, map[string]float64, bool) {
	var sumW, sumWS float64
	raw := make(map[string]float64, len(w))
	for _, name := range w.Names() {
		score, ok := pillars[name]
		if !ok || w[name] <= 0 {
			continue
		}
		sumW += w[name]
		sumWS += w[name] * score
		raw[name] = w[name] * score
	}
	if sumW <= 0 {
		return 0, nil, false
	}
	contrib := make(map[string]float64, len(raw))
	for name, v := range raw {
		if sumWS > 0 {
			contrib[name] = v / sumWS
		} else {
			contrib[name] = 0
		}
	}
	return sumWS / sumW, contrib, true
}

type rulesStage struct {
	rules []Rule
	cap   float64
}

func (s *rulesStage) Meta() StageMeta {
	return StageMeta{Name: "rules", Order: 3, State: StateAdvocateReview, Critical: true}
}

func (s *rulesStage) Handle(_ context.Context, ev *Evaluation) error {
	flags, net, magnitude := applyRules(s.rules, ev.Signal)
	ev.Flags = flags
	ev.RuleDelta = net
	for _, f := range flags {
		ev.AddReason(fmt.Sprintf("%s %+.1f: %s", f.Name, f.Delta, f.Detail))
	}
	if magnitude > s.cap {
		ev.Reject(fmt.Sprintf("adjustment exceeds allowed bound (%.1f > %.1f)", magnitude, s.cap))
	}
	return nil
}

// advisorStage collects narrative only; its result never touches a score.
type advisorStage struct {
	advisor advisor.Advisor
	timeout time.Duration
}

func (s *advisorStage) Meta() StageMeta {
	return StageMeta{Name: "advisor", Order: 3, State: StateAdvocateReview, Timeout: s.timeout}
}

func (s *advisorStage) Handle(ctx context.Context, ev *Evaluation) error {
	req := advisor.Request{
		Asset:     ev.Signal.Asset,
		Strategy:  ev.Signal.Strategy,
		Direction: string(ev.Signal.Direction),
		Score:     math.Round(ev.BaseScore*ev.Multiplier*100) / 100,
		Pillars:   ev.Signal.Features.Pillars,
		Context:   ev.Signal.Features.Indicators,
	}
	analysis, err := s.advisor.Analyze(ctx, req)
	if err != nil {
		if errors.Is(err, advisor.ErrDisabled) || errors.Is(err, circuit.ErrOpen) {
			return nil
		}
		return fmt.Errorf("advisor unavailable: %w", err)
	}
	ev.Advice = &analysis
	return nil
}

type breakerStage struct {
	soft, hard    float64
	hardThreshold float64
	softIncrement float64
}

func (s *breakerStage) Meta() StageMeta {
	return StageMeta{Name: "circuit_breaker", Order: 4, State: StateCircuitBreaker, Critical: true}
}

func (s *breakerStage) Handle(_ context.Context, ev *Evaluation) error {
	vol := ev.Signal.Features.VolatilityFactor
	breaker := s.thresholdFor(ev.Threshold, vol)
	effective := math.Max(ev.Threshold, breaker)
	if vol >= s.hard {
		ev.AddReason(fmt.Sprintf("circuit breaker: volatility %.2fx forces threshold %.0f", vol, s.hardThreshold))
	} else if vol >= s.soft {
		ev.AddReason(fmt.Sprintf("circuit breaker: volatility %.2fx raises threshold to %.1f", vol, effective))
	}
	ev.EffectiveThreshold = effective
	ev.FinalScore = clampScore(ev.BaseScore*ev.Multiplier + ev.RuleDelta)
	if ev.FinalScore >= effective {
		ev.Approve(fmt.Sprintf("confidence %.2f meets threshold %.2f", ev.FinalScore, effective))
		return nil
	}
	ev.Reject(fmt.Sprintf("confidence below threshold (%.2f < %.2f)", ev.FinalScore, effective))
	return nil
}

// thresholdFor is the circuit-breaker bar for the given volatility. The
// hard band pins it to hardThreshold regardless of the asset threshold.
func (s *breakerStage) thresholdFor(base, vol float64) float64 {
	switch {
	case vol >= s.hard:
		return s.hardThreshold
	case vol >= s.soft:
		return base + s.softIncrement
	default:
		return base
	}
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
