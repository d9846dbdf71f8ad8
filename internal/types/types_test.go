package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	for raw, want := range map[string]Direction{"buy": DirectionBuy, " LONG ": DirectionBuy, "sell": DirectionSell, "short": DirectionSell} {
		got, err := ParseDirection(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseDirection("hold")
	assert.Error(t, err)
}

func TestFeatureVectorValidateNormalizes(t *testing.T) {
	fv := FeatureVector{
		Asset:           " gold ",
		Pillars:         map[string]float64{" Base ": 70, "TREND": 40, "": 10},
		CorrelatedTrend: "bearish",
	}
	require.NoError(t, fv.Validate())
	assert.Equal(t, "GOLD", fv.Asset)
	assert.Equal(t, map[string]float64{"base": 70, "trend": 40}, fv.Pillars)
	assert.Equal(t, 1.0, fv.VolatilityFactor)
	assert.Equal(t, TrendDown, fv.CorrelatedTrend)
}

func TestFeatureVectorValidateRejects(t *testing.T) {
	cases := map[string]FeatureVector{
		"no asset":       {Pillars: map[string]float64{"base": 50}},
		"no pillars":     {Asset: "GOLD"},
		"score too high": {Asset: "GOLD", Pillars: map[string]float64{"base": 101}},
		"negative score": {Asset: "GOLD", Pillars: map[string]float64{"base": -1}},
		"nan score":      {Asset: "GOLD", Pillars: map[string]float64{"base": math.NaN()}},
		"bad volatility": {Asset: "GOLD", Pillars: map[string]float64{"base": 50}, VolatilityFactor: -2},
	}
	for name, fv := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, fv.Validate())
		})
	}
	var nilVec *FeatureVector
	assert.Error(t, nilVec.Validate())
}

func TestIndicatorSkipsNonFinite(t *testing.T) {
	fv := FeatureVector{Indicators: map[string]float64{IndicatorRSI: 55, IndicatorATR: math.Inf(1)}}
	v, ok := fv.Indicator(IndicatorRSI)
	assert.True(t, ok)
	assert.Equal(t, 55.0, v)
	_, ok = fv.Indicator(IndicatorATR)
	assert.False(t, ok)
	_, ok = fv.Indicator(IndicatorSMA200)
	assert.False(t, ok)
}

func TestQuoteSides(t *testing.T) {
	q := Quote{Bid: 99, Ask: 101}
	assert.Equal(t, 99.0, q.ExitPrice(DirectionBuy))
	assert.Equal(t, 101.0, q.ExitPrice(DirectionSell))
	assert.Equal(t, 101.0, q.EntryPrice(DirectionBuy))
	assert.Equal(t, 99.0, q.EntryPrice(DirectionSell))
	assert.Equal(t, 100.0, q.Mid())

	oneSided := Quote{Ask: 50}
	assert.Equal(t, 50.0, oneSided.ExitPrice(DirectionBuy))
	assert.False(t, oneSided.IsEmpty())
	assert.True(t, Quote{}.IsEmpty())
}

func TestPositionPnL(t *testing.T) {
	long := Position{Direction: DirectionBuy, EntryPrice: 100, Size: 2}
	assert.Equal(t, 10.0, long.PnLAt(105))
	short := Position{Direction: DirectionSell, EntryPrice: 100, Size: 2}
	assert.Equal(t, 10.0, short.PnLAt(95))

	short.RealizedPnL = 0
	assert.Equal(t, -1.0, short.Outcome())
	short.RealizedPnL = 3
	assert.Equal(t, 1.0, short.Outcome())
}

func TestEqualWeights(t *testing.T) {
	w := EqualWeights(DefaultPillars, 100)
	assert.Len(t, w, 4)
	assert.InDelta(t, 100, w.Sum(), 1e-9)
	assert.Equal(t, []string{"base", "sentiment", "trend", "volatility"}, w.Names())
	assert.Empty(t, EqualWeights(nil, 100))
}
