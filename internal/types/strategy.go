package types

import "strings"

// Strategy tags used when a signal does not name one.
const (
	StrategyDayTrading = "day_trading"
	StrategySwing      = "swing"
)

func NormalizeStrategy(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return StrategyDayTrading
	}
	return tag
}
