package strategy

import (
	"math"

	"booner/internal/types"

	"github.com/shopspring/decimal"
)

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// relativePrice moves entry by pct percent in the given sign (+1 up, -1 down).
func relativePrice(entry, pct float64, sign int) float64 {
	if entry <= 0 || pct <= 0 {
		return 0
	}
	delta := decFromFloat(pct).Div(decHundred)
	factor := decOne.Add(delta)
	if sign < 0 {
		factor = decOne.Sub(delta)
	}
	return decToFloat(decFromFloat(entry).Mul(factor))
}

// Levels derives stop-loss and take-profit prices from entry and percentages.
func Levels(dir types.Direction, entry, stopPct, takePct float64) (stop, take float64) {
	if dir == types.DirectionSell {
		return relativePrice(entry, stopPct, +1), relativePrice(entry, takePct, -1)
	}
	return relativePrice(entry, stopPct, -1), relativePrice(entry, takePct, +1)
}

// StopLossHit reports whether price crossed stop against the position.
func StopLossHit(dir types.Direction, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	if dir == types.DirectionSell {
		return decimalGTE(price, stop)
	}
	return decimalLTE(price, stop)
}

// TakeProfitHit reports whether price reached take in the position's favour.
func TakeProfitHit(dir types.Direction, price, take float64) bool {
	if take <= 0 || price <= 0 {
		return false
	}
	if dir == types.DirectionSell {
		return decimalLTE(price, take)
	}
	return decimalGTE(price, take)
}

// Profitable reports whether closing at price realizes a strictly positive result.
func Profitable(dir types.Direction, entry, price float64) bool {
	if entry <= 0 || price <= 0 {
		return false
	}
	diff := decFromFloat(price).Sub(decFromFloat(entry))
	if dir == types.DirectionSell {
		diff = diff.Neg()
	}
	return diff.IsPositive()
}
