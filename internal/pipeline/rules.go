package pipeline

import (
	"fmt"
	"math"

	"booner/internal/types"
)

// Rule inspects a signal and raises zero or more flags.
type Rule func(sig Signal) []Flag

// Rule thresholds.
const (
	overextendedPct   = 5.0
	rsiOverbought     = 70.0
	rsiOversold       = 30.0
	abnormalVolFactor = 1.5
)

func DefaultRules() []Rule {
	return []Rule{trendRule, rsiRule, volatilityRule}
}

// trendRule compares price with the 200 period moving average.
func trendRule(sig Signal) []Flag {
	price, ok := sig.Features.Indicator(types.IndicatorPrice)
	if !ok || price <= 0 {
		return nil
	}
	sma, ok := sig.Features.Indicator(types.IndicatorSMA200)
	if !ok || sma <= 0 {
		return nil
	}
	distPct := (price - sma) / sma * 100
	aligned := (sig.Direction == types.DirectionBuy && distPct > 0) ||
		(sig.Direction == types.DirectionSell && distPct < 0)
	switch {
	case !aligned:
		return []Flag{{Name: "against_trend", Delta: -2, Detail: fmt.Sprintf("price %.2f%% from sma200 against %s", distPct, sig.Direction)}}
	case math.Abs(distPct) > overextendedPct:
		return []Flag{{Name: "overextended", Delta: -2, Detail: fmt.Sprintf("price %.2f%% from sma200", distPct)}}
	default:
		return []Flag{{Name: "trend_aligned", Delta: 1, Detail: fmt.Sprintf("price %.2f%% from sma200", distPct)}}
	}
}

func rsiRule(sig Signal) []Flag {
	rsi, ok := sig.Features.Indicator(types.IndicatorRSI)
	if !ok {
		return nil
	}
	hot, cold := rsi > rsiOverbought, rsi < rsiOversold
	if sig.Direction == types.DirectionSell {
		hot, cold = cold, hot
	}
	switch {
	case hot:
		return []Flag{{Name: "rsi_extreme", Delta: -2, Detail: fmt.Sprintf("rsi %.1f against %s", rsi, sig.Direction)}}
	case cold:
		return []Flag{{Name: "rsi_reversal", Delta: 1, Detail: fmt.Sprintf("rsi %.1f supports %s", rsi, sig.Direction)}}
	}
	return nil
}

func volatilityRule(sig Signal) []Flag {
	if sig.Features.VolatilityFactor < abnormalVolFactor {
		return nil
	}
	return []Flag{{Name: "abnormal_volatility", Delta: -1.5, Detail: fmt.Sprintf("volatility %.2fx normal", sig.Features.VolatilityFactor)}}
}

// applyRules runs every rule and returns the flags, their net delta and the
// combined magnitude of all deltas.
func applyRules(rules []Rule, sig Signal) ([]Flag, float64, float64) {
	var (
		flags     []Flag
		net       float64
		magnitude float64
	)
	for _, rule := range rules {
		for _, f := range rule(sig) {
			flags = append(flags, f)
			net += f.Delta
			magnitude += math.Abs(f.Delta)
		}
	}
	return flags, net, magnitude
}
