// Package features derives a FeatureVector from raw candles. It is the default
// market analytics collaborator; callers that already score pillars can send
// a FeatureVector directly.
package features

import (
	"fmt"
	"math"

	"booner/internal/types"

	talib "github.com/markcheno/go-talib"
)

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Config holds indicator periods.
type Config struct {
	SMAPeriod   int
	RSIPeriod   int
	ATRPeriod   int
	ATRBaseline int
	EMAFast     int
	EMASlow     int
	// TrendBand is the EMA spread, in percent, below which a trend is sideways.
	TrendBand float64
}

func DefaultConfig() Config {
	return Config{
		SMAPeriod:   200,
		RSIPeriod:   14,
		ATRPeriod:   14,
		ATRBaseline: 100,
		EMAFast:     21,
		EMASlow:     50,
		TrendBand:   0.1,
	}
}

type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	def := DefaultConfig()
	if cfg.SMAPeriod <= 0 {
		cfg.SMAPeriod = def.SMAPeriod
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.ATRBaseline <= 0 {
		cfg.ATRBaseline = def.ATRBaseline
	}
	if cfg.EMAFast <= 0 {
		cfg.EMAFast = def.EMAFast
	}
	if cfg.EMASlow <= cfg.EMAFast {
		cfg.EMASlow = def.EMASlow
	}
	if cfg.TrendBand <= 0 {
		cfg.TrendBand = def.TrendBand
	}
	return &Builder{cfg: cfg}
}

// MinCandles is the shortest series Build accepts.
func (b *Builder) MinCandles() int {
	n := b.cfg.RSIPeriod
	if b.cfg.ATRPeriod > n {
		n = b.cfg.ATRPeriod
	}
	if b.cfg.EMASlow > n {
		n = b.cfg.EMASlow
	}
	return n + 1
}

// Build scores the four standard pillars for a trade in dir. Pillars express
// support for dir, so the same candles score differently for BUY and SELL.
// sentiment is passed through when in [0,100], otherwise it is neutral.
func (b *Builder) Build(asset string, dir types.Direction, candles []Candle, sentiment float64) (types.FeatureVector, error) {
	if len(candles) < b.MinCandles() {
		return types.FeatureVector{}, fmt.Errorf("features %s: need %d candles, got %d", asset, b.MinCandles(), len(candles))
	}
	closes, highs, lows := series(candles)
	price := closes[len(closes)-1]

	indicators := map[string]float64{types.IndicatorPrice: price}
	rsi := last(talib.Rsi(closes, b.cfg.RSIPeriod))
	indicators[types.IndicatorRSI] = rsi
	atr := talib.Atr(highs, lows, closes, b.cfg.ATRPeriod)
	indicators[types.IndicatorATR] = last(atr)
	_, _, hist := talib.Macd(closes, 12, 26, 9)
	indicators["macd_hist"] = last(hist)

	trendDist := emaSpreadPct(closes, b.cfg.EMAFast, b.cfg.EMASlow)
	if len(closes) > b.cfg.SMAPeriod {
		sma := last(talib.Sma(closes, b.cfg.SMAPeriod))
		if sma > 0 {
			indicators[types.IndicatorSMA200] = sma
			trendDist = (price - sma) / sma * 100
		}
	}
	volFactor := volatilityFactor(atr, b.cfg.ATRPeriod, b.cfg.ATRBaseline)

	sign := dir.Sign()
	momentum := rsi
	if sign < 0 {
		momentum = 100 - rsi
	}
	if math.IsNaN(sentiment) || sentiment < 0 || sentiment > 100 {
		sentiment = 50
	}
	fv := types.FeatureVector{
		Asset: asset,
		Pillars: map[string]float64{
			types.PillarBase:       clamp(momentum, 0, 100),
			types.PillarTrend:      clamp(50+sign*trendDist*10, 0, 100),
			types.PillarVolatility: clamp(100-(volFactor-1)*50, 0, 100),
			types.PillarSentiment:  sentiment,
		},
		Indicators:       indicators,
		VolatilityFactor: volFactor,
	}
	if err := fv.Validate(); err != nil {
		return types.FeatureVector{}, err
	}
	return fv, nil
}

// Trend classifies candles by the spread between the fast and slow EMA.
func (b *Builder) Trend(candles []Candle) (types.Trend, error) {
	if len(candles) <= b.cfg.EMASlow {
		return types.TrendUnknown, fmt.Errorf("trend: need %d candles, got %d", b.cfg.EMASlow+1, len(candles))
	}
	closes, _, _ := series(candles)
	spread := emaSpreadPct(closes, b.cfg.EMAFast, b.cfg.EMASlow)
	switch {
	case spread > b.cfg.TrendBand:
		return types.TrendUp, nil
	case spread < -b.cfg.TrendBand:
		return types.TrendDown, nil
	default:
		return types.TrendSideways, nil
	}
}

func series(candles []Candle) (closes, highs, lows []float64) {
	closes = make([]float64, len(candles))
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	return closes, highs, lows
}

func emaSpreadPct(closes []float64, fast, slow int) float64 {
	f := last(talib.Ema(closes, fast))
	s := last(talib.Ema(closes, slow))
	if s == 0 {
		return 0
	}
	return (f - s) / s * 100
}

// volatilityFactor is the latest ATR over the mean ATR of the baseline window.
func volatilityFactor(atr []float64, period, baseline int) float64 {
	if len(atr) <= period {
		return 1
	}
	valid := atr[period:]
	if len(valid) > baseline {
		valid = valid[len(valid)-baseline:]
	}
	sum, n := 0.0, 0
	for _, v := range valid {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 || sum == 0 {
		return 1
	}
	return valid[len(valid)-1] / (sum / float64(n))
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
