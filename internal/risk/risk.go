// Package risk measures the capital currently at risk across open positions.
package risk

import (
	"context"
	"fmt"
	"math"

	"booner/internal/metrics"
	"booner/internal/store"
	"booner/internal/types"
)

type PositionLister interface {
	ListPositions(ctx context.Context, filter store.PositionFilter) ([]types.Position, error)
}

// Gauge sums the loss each open position would take at its stop.
type Gauge struct {
	positions PositionLister
	equity    float64
	metrics   *metrics.Metrics
}

func NewGauge(positions PositionLister, equity float64, m *metrics.Metrics) *Gauge {
	return &Gauge{positions: positions, equity: equity, metrics: m}
}

// PositionRisk is the amount lost if p is stopped out. A position without a
// stop puts its whole notional at risk.
func PositionRisk(p types.Position) float64 {
	if p.EntryPrice <= 0 || p.Size <= 0 {
		return 0
	}
	if p.StopLoss <= 0 {
		return p.EntryPrice * p.Size
	}
	return math.Abs(p.EntryPrice-p.StopLoss) * p.Size
}

// PortfolioRiskPct returns the open risk as a percentage of account equity.
func (g *Gauge) PortfolioRiskPct(ctx context.Context) (float64, error) {
	if g == nil || g.positions == nil {
		return 0, nil
	}
	if g.equity <= 0 {
		return 0, fmt.Errorf("risk gauge: account equity must be positive")
	}
	open, err := g.positions.ListPositions(ctx, store.PositionFilter{Status: types.PositionOpen})
	if err != nil {
		return 0, fmt.Errorf("risk gauge: list open positions: %w", err)
	}
	total := 0.0
	for _, p := range open {
		total += PositionRisk(p)
	}
	pct := total / g.equity * 100
	g.metrics.SetPortfolioRisk(pct)
	return pct, nil
}
