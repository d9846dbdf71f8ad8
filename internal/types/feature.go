package types

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Canonical pillar names. Feature vectors may carry additional pillars as long
// as the weights for the strategy name them too.
const (
	PillarBase       = "base"
	PillarTrend      = "trend"
	PillarVolatility = "volatility"
	PillarSentiment  = "sentiment"
)

// DefaultPillars is the pillar set used when a strategy declares no weights.
var DefaultPillars = []string{PillarBase, PillarTrend, PillarVolatility, PillarSentiment}

// Well-known raw indicator keys consumed by the rule-based adjustment stage.
const (
	IndicatorPrice  = "price"
	IndicatorSMA200 = "sma200"
	IndicatorRSI    = "rsi14"
	IndicatorATR    = "atr14"
)

// Trend of a correlated asset.
type Trend string

const (
	TrendUnknown  Trend = ""
	TrendUp       Trend = "UP"
	TrendDown     Trend = "DOWN"
	TrendSideways Trend = "SIDEWAYS"
)

// ParseTrend normalizes collaborator input; anything unrecognised is unknown.
func ParseTrend(raw string) Trend {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "UP", "BULLISH":
		return TrendUp
	case "DOWN", "BEARISH":
		return TrendDown
	case "SIDEWAYS", "NEUTRAL", "FLAT":
		return TrendSideways
	default:
		return TrendUnknown
	}
}

// FeatureVector is produced per evaluation by the market analytics collaborator.
type FeatureVector struct {
	Asset   string             `json:"asset"`
	Pillars map[string]float64 `json:"pillars"`
	// Indicators holds raw values such as price, sma200, rsi14.
	Indicators map[string]float64 `json:"indicators,omitempty"`
	// VolatilityFactor is current volatility relative to normal (1.0 = normal).
	VolatilityFactor float64 `json:"volatility_factor"`
	// CorrelatedTrend is optional; the pipeline looks it up when empty.
	CorrelatedTrend Trend `json:"correlated_trend,omitempty"`
}

// Indicator returns a raw indicator value if present and finite.
func (f FeatureVector) Indicator(key string) (float64, bool) {
	if f.Indicators == nil {
		return 0, false
	}
	v, ok := f.Indicators[key]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Validate checks the vector at the ingestion boundary.
func (f *FeatureVector) Validate() error {
	if f == nil {
		return fmt.Errorf("feature vector is nil")
	}
	f.Asset = NormalizeAsset(f.Asset)
	if f.Asset == "" {
		return fmt.Errorf("feature vector: asset is required")
	}
	if len(f.Pillars) == 0 {
		return fmt.Errorf("feature vector %s: no pillar scores", f.Asset)
	}
	clean := make(map[string]float64, len(f.Pillars))
	for name, score := range f.Pillars {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 || score > 100 {
			return fmt.Errorf("feature vector %s: pillar %s score %.4f outside [0,100]", f.Asset, key, score)
		}
		clean[key] = score
	}
	f.Pillars = clean
	if math.IsNaN(f.VolatilityFactor) || math.IsInf(f.VolatilityFactor, 0) || f.VolatilityFactor < 0 {
		return fmt.Errorf("feature vector %s: invalid volatility factor", f.Asset)
	}
	if f.VolatilityFactor == 0 {
		f.VolatilityFactor = 1
	}
	if f.CorrelatedTrend != TrendUnknown {
		f.CorrelatedTrend = ParseTrend(string(f.CorrelatedTrend))
	}
	return nil
}

// PillarWeights maps pillar name to weight; weights sum to 100.
type PillarWeights map[string]float64

// Clone returns an independent copy.
func (w PillarWeights) Clone() PillarWeights {
	out := make(PillarWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Names returns pillar names sorted for deterministic iteration.
func (w PillarWeights) Names() []string {
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (w PillarWeights) Sum() float64 {
	total := 0.0
	for _, name := range w.Names() {
		total += w[name]
	}
	return total
}

// EqualWeights spreads total evenly over names.
func EqualWeights(names []string, total float64) PillarWeights {
	out := make(PillarWeights, len(names))
	if len(names) == 0 {
		return out
	}
	share := total / float64(len(names))
	for _, n := range names {
		out[strings.ToLower(strings.TrimSpace(n))] = share
	}
	return out
}

func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
