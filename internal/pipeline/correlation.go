package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"booner/internal/types"
)

type Relation string

const (
	Positive Relation = "POSITIVE"
	Inverse  Relation = "INVERSE"
)

// Correlation links an asset to the asset whose trend it tends to follow or oppose.
type Correlation struct {
	With     string
	Relation Relation
	Strong   bool
}

// CorrelationTable is the static asset to correlated-asset mapping.
type CorrelationTable map[string]Correlation

func DefaultCorrelations() CorrelationTable {
	return CorrelationTable{
		"GOLD":   {With: "DXY", Relation: Inverse, Strong: true},
		"SILVER": {With: "GOLD", Relation: Positive, Strong: true},
		"EURUSD": {With: "DXY", Relation: Inverse, Strong: true},
		"GBPUSD": {With: "DXY", Relation: Inverse, Strong: true},
		"USDJPY": {With: "DXY", Relation: Positive},
		"BTC":    {With: "NASDAQ", Relation: Positive},
		"ETH":    {With: "BTC", Relation: Positive, Strong: true},
		"OIL":    {With: "DXY", Relation: Inverse},
		"NASDAQ": {With: "VIX", Relation: Inverse, Strong: true},
		"US500":  {With: "VIX", Relation: Inverse, Strong: true},
	}
}

// Correlation multipliers applied to the weighted score.
const (
	MultiplierSupportive     = 1.05
	MultiplierNeutral        = 1.0
	MultiplierWeakConflict   = 0.92
	MultiplierStrongConflict = 0.80
)

// Multiplier scores how the correlated trend lines up with a trade direction.
func Multiplier(c Correlation, trend types.Trend, dir types.Direction) float64 {
	if trend != types.TrendUp && trend != types.TrendDown {
		return MultiplierNeutral
	}
	implied := types.DirectionBuy
	if trend == types.TrendDown {
		implied = types.DirectionSell
	}
	if c.Relation == Inverse {
		if implied == types.DirectionBuy {
			implied = types.DirectionSell
		} else {
			implied = types.DirectionBuy
		}
	}
	if implied == dir {
		return MultiplierSupportive
	}
	if c.Strong {
		return MultiplierStrongConflict
	}
	return MultiplierWeakConflict
}

// TrendSource reports the current trend of an asset.
type TrendSource interface {
	Trend(ctx context.Context, asset string) (types.Trend, error)
}

// TrendBook is an in-memory TrendSource fed by the analytics collaborator.
type TrendBook struct {
	mu     sync.RWMutex
	trends map[string]types.Trend
}

func NewTrendBook() *TrendBook {
	return &TrendBook{trends: make(map[string]types.Trend)}
}

func (b *TrendBook) Set(asset string, trend types.Trend) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trends[types.NormalizeAsset(asset)] = trend
}

func (b *TrendBook) Trend(_ context.Context, asset string) (types.Trend, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	trend, ok := b.trends[types.NormalizeAsset(asset)]
	if !ok {
		return types.TrendUnknown, fmt.Errorf("no trend for %s", asset)
	}
	return trend, nil
}

type cachedTrend struct {
	trend     types.Trend
	expiresAt time.Time
}

// TrendCache memoizes a TrendSource for ttl. Failures are not cached.
type TrendCache struct {
	src   TrendSource
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	items map[string]cachedTrend
}

func NewTrendCache(src TrendSource, ttl time.Duration) *TrendCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TrendCache{src: src, ttl: ttl, now: time.Now, items: make(map[string]cachedTrend)}
}

func (c *TrendCache) Trend(ctx context.Context, asset string) (types.Trend, error) {
	asset = types.NormalizeAsset(asset)
	now := c.now()
	c.mu.Lock()
	item, ok := c.items[asset]
	c.mu.Unlock()
	if ok && now.Before(item.expiresAt) {
		return item.trend, nil
	}
	trend, err := c.src.Trend(ctx, asset)
	if err != nil {
		return types.TrendUnknown, err
	}
	c.mu.Lock()
	c.items[asset] = cachedTrend{trend: trend, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return trend, nil
}

// Forget drops the cached trend of asset so the next read goes to the source.
func (c *TrendCache) Forget(asset string) {
	c.mu.Lock()
	delete(c.items, types.NormalizeAsset(asset))
	c.mu.Unlock()
}
