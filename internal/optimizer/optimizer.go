// Package optimizer adapts per-pillar confidence weights from realized trade
// outcomes. Weights live in the store keyed by asset and strategy.
package optimizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"booner/internal/logger"
	"booner/internal/metrics"
	"booner/internal/store"
	"booner/internal/strategy"
	"booner/internal/types"
)

var log = logger.For("optimizer")

type Status string

const (
	StatusUpdated          Status = "UPDATED"
	StatusInsufficientData Status = "INSUFFICIENT_DATA"
	StatusNoContributions  Status = "NO_CONTRIBUTIONS"
)

// Store is the slice of persistence the optimizer needs.
type Store interface {
	store.WeightRepository
	CountClosedTrades(ctx context.Context, asset, strategy string) (int, error)
}

// SettingsSource provides strategy default weights.
type SettingsSource interface {
	Resolve(tag string) strategy.Settings
}

type Config struct {
	LearningRate float64
	MinTrades    int
	Bounds       Bounds
}

func DefaultConfig() Config {
	return Config{LearningRate: 0.05, MinTrades: 3, Bounds: DefaultBounds()}
}

// Outcome is one closed trade fed back into the learner.
type Outcome struct {
	Asset         string
	Strategy      string
	PositionID    string
	Result        float64
	Contributions map[string]float64
}

// OutcomeFromPosition builds the feedback record of a closed position.
func OutcomeFromPosition(p types.Position) Outcome {
	return Outcome{
		Asset:         p.Asset,
		Strategy:      p.Strategy,
		PositionID:    p.ID,
		Result:        p.Outcome(),
		Contributions: p.Contributions,
	}
}

type Result struct {
	Status       Status              `json:"status"`
	Asset        string              `json:"asset"`
	Strategy     string              `json:"strategy"`
	ClosedTrades int                 `json:"closed_trades"`
	Before       types.PillarWeights `json:"before,omitempty"`
	After        types.PillarWeights `json:"after,omitempty"`
}

type Optimizer struct {
	store    Store
	settings SettingsSource
	cfg      Config
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(st Store, settings SettingsSource, cfg Config, m *metrics.Metrics) *Optimizer {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultConfig().LearningRate
	}
	if cfg.Bounds.Total <= 0 {
		cfg.Bounds = DefaultBounds()
	}
	return &Optimizer{store: st, settings: settings, cfg: cfg, metrics: m, now: time.Now}
}

// Defaults returns the strategy's default weights, normalized to the bounds.
func (o *Optimizer) Defaults(strat string) types.PillarWeights {
	var w types.PillarWeights
	if o.settings != nil {
		w = o.settings.Resolve(strat).Weights(o.cfg.Bounds.Total)
	} else {
		w = types.EqualWeights(types.DefaultPillars, o.cfg.Bounds.Total)
	}
	if !o.cfg.Bounds.feasible(len(w)) {
		log.Warnf("%s default weights: %d pillars cannot fit bounds [%.2f,%.2f] total %.2f, using %v",
			strat, len(w), o.cfg.Bounds.Min, o.cfg.Bounds.Max, o.cfg.Bounds.Total, types.DefaultPillars)
		w = types.EqualWeights(types.DefaultPillars, o.cfg.Bounds.Total)
	}
	return Renormalize(w, o.cfg.Bounds)
}

// Weights returns the current weights, creating them from strategy defaults on first use.
func (o *Optimizer) Weights(ctx context.Context, asset, strat string) (types.PillarWeights, error) {
	rec, ok, err := o.store.GetWeights(ctx, asset, strat)
	if err != nil {
		return nil, fmt.Errorf("load weights %s/%s: %w", asset, strat, err)
	}
	if ok && len(rec.Weights) >= 2 {
		return rec.Weights, nil
	}
	defaults := o.Defaults(strat)
	rec, err = o.store.UpsertWeights(ctx, asset, strat, func(r *store.WeightsRecord) error {
		if len(r.Weights) < 2 {
			r.Weights = defaults.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("init weights %s/%s: %w", asset, strat, err)
	}
	return rec.Weights, nil
}

// Update applies one closed-trade outcome. Below MinTrades closed trades the
// weights are left untouched and StatusInsufficientData is returned.
func (o *Optimizer) Update(ctx context.Context, out Outcome) (Result, error) {
	asset, strat := types.NormalizeAsset(out.Asset), types.NormalizeStrategy(out.Strategy)
	res := Result{Asset: asset, Strategy: strat}
	if out.Result != 1 && out.Result != -1 {
		return res, fmt.Errorf("optimizer outcome must be +1 or -1, got %v", out.Result)
	}
	closed, err := o.store.CountClosedTrades(ctx, asset, strat)
	if err != nil {
		return res, fmt.Errorf("count closed trades %s/%s: %w", asset, strat, err)
	}
	res.ClosedTrades = closed
	if closed < o.cfg.MinTrades {
		res.Status = StatusInsufficientData
		log.Infof("%s/%s insufficient data closed=%d need=%d", asset, strat, closed, o.cfg.MinTrades)
		o.metrics.ObserveOptimizer(string(res.Status))
		return res, nil
	}
	if len(out.Contributions) == 0 {
		res.Status = StatusNoContributions
		log.Warnf("%s/%s position=%s carries no contributions, skipping", asset, strat, out.PositionID)
		o.metrics.ObserveOptimizer(string(res.Status))
		return res, nil
	}
	defaults := o.Defaults(strat)
	var before, after types.PillarWeights
	_, err = o.store.UpsertWeights(ctx, asset, strat, func(r *store.WeightsRecord) error {
		current := r.Weights
		if len(current) < 2 {
			current = defaults
		}
		before = current.Clone()
		after = Apply(before, out.Contributions, out.Result, o.cfg.LearningRate, o.cfg.Bounds)
		r.Weights = after
		r.Updates++
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("update weights %s/%s: %w", asset, strat, err)
	}
	res.Status, res.Before, res.After = StatusUpdated, before, after
	if err := o.store.AppendWeightHistory(ctx, store.WeightHistoryRecord{
		Asset:         asset,
		Strategy:      strat,
		PositionID:    out.PositionID,
		Outcome:       out.Result,
		Before:        before,
		After:         after,
		Contributions: NormalizeContributions(before, out.Contributions),
		CreatedAt:     o.now(),
	}); err != nil {
		// weights are already committed; the audit row is best effort
		log.Errorf("%s/%s append history failed: %v", asset, strat, err)
	}
	log.Infof("%s/%s updated outcome=%+.0f weights=%s", asset, strat, out.Result, formatWeights(after))
	o.metrics.ObserveOptimizer(string(res.Status))
	return res, nil
}

func (o *Optimizer) History(ctx context.Context, asset, strat string, limit int) ([]store.WeightHistoryRecord, error) {
	return o.store.ListWeightHistory(ctx, asset, strat, limit)
}

// Drift returns current minus default weight per pillar.
func (o *Optimizer) Drift(ctx context.Context, asset, strat string) (map[string]float64, error) {
	current, err := o.Weights(ctx, asset, strat)
	if err != nil {
		return nil, err
	}
	defaults := o.Defaults(strat)
	out := make(map[string]float64, len(current))
	for name, v := range current {
		out[name] = v - defaults[name]
	}
	for name, v := range defaults {
		if _, ok := out[name]; !ok {
			out[name] = -v
		}
	}
	return out, nil
}

func formatWeights(w types.PillarWeights) string {
	var b strings.Builder
	for i, n := range w.Names() {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%.3f", n, w[n])
	}
	return b.String()
}
