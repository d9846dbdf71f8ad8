package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"booner/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelsPerDirection(t *testing.T) {
	stop, take := Levels(types.DirectionBuy, 100, 5, 10)
	assert.InDelta(t, 95, stop, 1e-9)
	assert.InDelta(t, 110, take, 1e-9)

	stop, take = Levels(types.DirectionSell, 100, 5, 10)
	assert.InDelta(t, 105, stop, 1e-9)
	assert.InDelta(t, 90, take, 1e-9)
}

func TestCrossingChecks(t *testing.T) {
	assert.True(t, StopLossHit(types.DirectionBuy, 94.5, 95))
	assert.True(t, StopLossHit(types.DirectionBuy, 95, 95))
	assert.False(t, StopLossHit(types.DirectionBuy, 95.01, 95))
	assert.True(t, StopLossHit(types.DirectionSell, 105.2, 105))
	assert.False(t, StopLossHit(types.DirectionBuy, 90, 0), "unset stop never triggers")

	assert.True(t, TakeProfitHit(types.DirectionBuy, 110, 110))
	assert.True(t, TakeProfitHit(types.DirectionSell, 89, 90))
	assert.False(t, TakeProfitHit(types.DirectionSell, 91, 90))

	assert.True(t, Profitable(types.DirectionBuy, 100, 100.5))
	assert.False(t, Profitable(types.DirectionBuy, 100, 100))
	assert.True(t, Profitable(types.DirectionSell, 100, 99))
}

func TestQuoteExitPrice(t *testing.T) {
	q := types.Quote{Bid: 99.9, Ask: 100.1}
	assert.Equal(t, 99.9, q.ExitPrice(types.DirectionBuy))
	assert.Equal(t, 100.1, q.ExitPrice(types.DirectionSell))
	assert.Equal(t, 5.0, types.Quote{Bid: 5}.ExitPrice(types.DirectionSell))
	assert.Equal(t, 100.1, q.EntryPrice(types.DirectionBuy))
	assert.InDelta(t, 100.0, q.Mid(), 1e-9)
}

func TestWindowContains(t *testing.T) {
	w := Window{Start: "20:30", End: "21:00"}
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	assert.True(t, w.Contains(day.Add(20*time.Hour+45*time.Minute)))
	assert.False(t, w.Contains(day.Add(21*time.Hour)))
	assert.False(t, w.Contains(day.Add(12*time.Hour)))

	wrap := Window{Start: "23:30", End: "00:30"}
	assert.True(t, wrap.Contains(day.Add(23*time.Hour+45*time.Minute)))
	assert.True(t, wrap.Contains(day.Add(10*time.Minute)))
}

func TestWeeklyCloseUpcoming(t *testing.T) {
	wc := WeeklyClose{Weekday: "friday", Time: "21:00", LeadMinutes: 60}
	friday := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Friday, friday.Weekday())

	assert.True(t, wc.Upcoming(friday.Add(20*time.Hour+15*time.Minute)))
	assert.False(t, wc.Upcoming(friday.Add(19*time.Hour)))
	thursday := friday.AddDate(0, 0, -1)
	assert.False(t, wc.Upcoming(thursday.Add(20*time.Hour+30*time.Minute)))
}

func TestRegistryLoadsFileAndResolves(t *testing.T) {
	reg, err := NewRegistry(filepath.Join("..", "..", "configs", "strategies.yaml"))
	require.NoError(t, err)

	swing, ok := reg.Lookup("SWING")
	require.True(t, ok)
	assert.False(t, swing.Intraday)
	assert.Equal(t, 3.0, swing.StopLossPct)
	assert.InDelta(t, 100, swing.Weights(100).Sum(), 1e-9)

	fallback := reg.Resolve("scalping")
	assert.Equal(t, types.StrategyDayTrading, fallback.Name)
	assert.True(t, fallback.Intraday)
	assert.Equal(t, 60, reg.WeeklyClose().LeadMinutes)
}

func TestRegistryRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing take profit": "strategies:\n  swing:\n    stop_loss_pct: 2\n",
		"negative stop":       "strategies:\n  swing:\n    stop_loss_pct: -1\n    take_profit_pct: 2\n",
		"unknown key":         "strategies:\n  swing:\n    stop_loss_pct: 1\n    take_profit_pct: 2\n    trailing: true\n",
		"bad window":          "strategies:\n  swing:\n    stop_loss_pct: 1\n    take_profit_pct: 2\n    daily_close: {start: \"9pm\", end: \"21:00\"}\n",
		"too many pillars":    "strategies:\n  swing:\n    stop_loss_pct: 1\n    take_profit_pct: 2\n    default_weights: {" + manyPillars(21) + "}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := NewRegistry(path)
			assert.Error(t, err)
		})
	}
}

func manyPillars(n int) string {
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("p%02d: 1", i))
	}
	return strings.Join(parts, ", ")
}

func TestRegistryLoadsTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	body := "strategies:\n  swing:\n    stop_loss_pct: 2.5\n    take_profit_pct: 5\n    default_weights: {base: 40, trend: 30, volatility: 15, sentiment: 15}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	reg, err := NewRegistry(path)
	require.NoError(t, err)
	swing, ok := reg.Lookup(types.StrategySwing)
	require.True(t, ok)
	assert.Equal(t, 2.5, swing.StopLossPct)
	assert.Equal(t, 40.0, swing.Weights(100)[types.PillarBase])
}

func TestRegistryMissingFileUsesDefaults(t *testing.T) {
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	s := reg.Resolve(types.StrategyDayTrading)
	assert.True(t, s.Intraday)
	require.NotNil(t, s.DailyClose)
	w := s.Weights(100)
	assert.Len(t, w, len(types.DefaultPillars))
}
