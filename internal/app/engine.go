package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"booner/internal/analysis/features"
	"booner/internal/executor"
	"booner/internal/gateway/venue"
	"booner/internal/logger"
	"booner/internal/monitor"
	"booner/internal/optimizer"
	"booner/internal/pipeline"
	"booner/internal/store"
	"booner/internal/transport/http/api"
	"booner/internal/types"
)

var log = logger.For("app")

// Engine is the explicit context object: every collaborator is built once by
// the AppBuilder and reached through it. Nothing here is global.
type Engine struct {
	store      store.Store
	optimizer  *optimizer.Optimizer
	evaluator  *pipeline.Evaluator
	trends     *pipeline.TrendBook
	trendCache *pipeline.TrendCache
	features   *features.Builder
	gate       *executor.Gate
	monitor    *monitor.Monitor
	venue      venue.Venue
	closers    []io.Closer
}

var _ api.Engine = (*Engine)(nil)

// priceFeed is implemented by venues that accept injected quotes.
type priceFeed interface {
	SetPrice(asset string, bid, ask float64)
}

// HandleSignal evaluates one signal, records the decision and, when it is
// approved, opens the position through the gate. The returned result carries
// the decision even when execution fails.
func (e *Engine) HandleSignal(ctx context.Context, req api.SignalRequest) (api.SignalResult, error) {
	fv, err := e.featureVector(req)
	if err != nil {
		return api.SignalResult{}, err
	}
	sig := pipeline.Signal{
		Asset:     req.Asset,
		Strategy:  req.Strategy,
		Direction: req.Direction,
		Features:  fv,
	}
	d, err := e.evaluator.Evaluate(ctx, sig)
	if err != nil {
		return api.SignalResult{}, err
	}
	res := api.SignalResult{Decision: d, Execution: api.ExecutionSkipped}
	if err := e.store.AppendDecision(ctx, d.ToRecord()); err != nil {
		log.Errorf("audit decision %s failed: %v", d.ID, err)
		res.Execution = api.ExecutionFailed
		return res, fmt.Errorf("audit decision %s: %w", d.ID, err)
	}
	if !d.Approved {
		return res, nil
	}
	if req.DryRun {
		res.Execution = api.ExecutionDryRun
		return res, nil
	}
	pos, err := e.gate.Open(ctx, executor.OpenRequest{
		Asset:         d.Asset,
		Strategy:      d.Strategy,
		Direction:     d.Direction,
		Size:          req.Size,
		DecisionID:    d.ID,
		Contributions: d.Contributions,
	})
	if err != nil {
		if errors.Is(err, executor.ErrDuplicateInProgress) || errors.Is(err, executor.ErrCooldownActive) {
			res.Execution = api.ExecutionRefused
		} else {
			res.Execution = api.ExecutionFailed
		}
		return res, err
	}
	res.Execution = api.ExecutionOpened
	res.Position = &pos
	return res, nil
}

func (e *Engine) featureVector(req api.SignalRequest) (types.FeatureVector, error) {
	if req.Features != nil {
		fv := *req.Features
		if fv.Asset == "" {
			fv.Asset = req.Asset
		}
		return fv, nil
	}
	if len(req.Candles) == 0 {
		return types.FeatureVector{}, fmt.Errorf("%w: features or candles are required", api.ErrBadRequest)
	}
	dir, err := types.ParseDirection(string(req.Direction))
	if err != nil {
		return types.FeatureVector{}, fmt.Errorf("%w: %w", pipeline.ErrInvalidSignal, err)
	}
	sentiment := -1.0
	if req.Sentiment != nil {
		sentiment = *req.Sentiment
	}
	fv, err := e.features.Build(types.NormalizeAsset(req.Asset), dir, req.Candles, sentiment)
	if err != nil {
		return types.FeatureVector{}, fmt.Errorf("%w: %w", api.ErrBadRequest, err)
	}
	return fv, nil
}

// UpdateTrend records a correlated asset's trend, either given directly or
// classified from candles.
func (e *Engine) UpdateTrend(_ context.Context, req api.TrendRequest) (types.Trend, error) {
	asset := types.NormalizeAsset(req.Asset)
	if asset == "" {
		return types.TrendUnknown, fmt.Errorf("%w: asset is required", api.ErrBadRequest)
	}
	var trend types.Trend
	switch {
	case req.Trend != "":
		trend = types.ParseTrend(string(req.Trend))
		if trend == types.TrendUnknown {
			return trend, fmt.Errorf("%w: unknown trend %q", api.ErrBadRequest, req.Trend)
		}
	case len(req.Candles) > 0:
		t, err := e.features.Trend(req.Candles)
		if err != nil {
			return types.TrendUnknown, fmt.Errorf("%w: %w", api.ErrBadRequest, err)
		}
		trend = t
	default:
		return types.TrendUnknown, fmt.Errorf("%w: trend or candles are required", api.ErrBadRequest)
	}
	e.trends.Set(asset, trend)
	e.trendCache.Forget(asset)
	log.Debugf("trend %s=%s", asset, trend)
	return trend, nil
}

func (e *Engine) UpdatePrice(_ context.Context, req api.PriceRequest) error {
	feed, ok := e.venue.(priceFeed)
	if !ok {
		return fmt.Errorf("price injection on venue %s: %w", e.venue.Name(), api.ErrUnsupported)
	}
	asset := types.NormalizeAsset(req.Asset)
	if asset == "" || req.Bid <= 0 || req.Ask <= 0 || req.Bid > req.Ask {
		return fmt.Errorf("%w: need asset and 0 < bid <= ask", api.ErrBadRequest)
	}
	feed.SetPrice(asset, req.Bid, req.Ask)
	return nil
}

func (e *Engine) Decisions(ctx context.Context, asset string, limit int) ([]store.DecisionRecord, error) {
	return e.store.ListDecisions(ctx, types.NormalizeAsset(asset), limit)
}

func (e *Engine) Positions(ctx context.Context, filter store.PositionFilter) ([]types.Position, error) {
	filter.Asset = types.NormalizeAsset(filter.Asset)
	return e.store.ListPositions(ctx, filter)
}

func (e *Engine) Weights(ctx context.Context, asset, strat string) (types.PillarWeights, error) {
	return e.optimizer.Weights(ctx, asset, strat)
}

func (e *Engine) WeightHistory(ctx context.Context, asset, strat string, limit int) ([]store.WeightHistoryRecord, error) {
	return e.optimizer.History(ctx, asset, strat, limit)
}

func (e *Engine) WeightDrift(ctx context.Context, asset, strat string) (map[string]float64, error) {
	return e.optimizer.Drift(ctx, asset, strat)
}

func (e *Engine) Cooldown(ctx context.Context, asset string) (time.Duration, error) {
	return e.gate.CooldownRemaining(ctx, asset)
}

// Poll runs one monitor cycle on demand.
func (e *Engine) Poll(ctx context.Context) ([]monitor.CheckResult, error) {
	return e.monitor.Poll(ctx)
}

// Close releases the lock backend and the store.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
