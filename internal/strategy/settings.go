package strategy

import (
	"fmt"
	"strings"
	"time"

	"booner/internal/types"
)

// Settings are the per-strategy parameters the monitor and optimizer read.
type Settings struct {
	Name             string             `yaml:"-"`
	Intraday         bool               `yaml:"intraday"`
	StopLossPct      float64            `yaml:"stop_loss_pct"`
	TakeProfitPct    float64            `yaml:"take_profit_pct"`
	DailyClose       *Window            `yaml:"daily_close"`
	DefaultWeights   map[string]float64 `yaml:"default_weights"`
	WeeklyCloseGuard *bool              `yaml:"weekly_close"`
}

// Window is a daily UTC time range written as "HH:MM".
type Window struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// WeeklyClose is the venue's weekly session end. Positions become eligible for
// a profitable close LeadMinutes before it.
type WeeklyClose struct {
	Weekday     string `yaml:"weekday"`
	Time        string `yaml:"time"`
	LeadMinutes int    `yaml:"lead_minutes"`
}

// FileConfig maps the strategies document.
type FileConfig struct {
	WeeklyClose WeeklyClose         `yaml:"weekly_close"`
	Strategies  map[string]Settings `yaml:"strategies"`
}

// DefaultFileConfig is used when no settings file exists.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		WeeklyClose: WeeklyClose{Weekday: "friday", Time: "21:00", LeadMinutes: 60},
		Strategies: map[string]Settings{
			types.StrategyDayTrading: {
				Intraday:      true,
				StopLossPct:   1.0,
				TakeProfitPct: 2.0,
				DailyClose:    &Window{Start: "20:30", End: "21:00"},
			},
			types.StrategySwing: {
				StopLossPct:   3.0,
				TakeProfitPct: 6.0,
			},
		},
	}
}

// Weights returns the configured default weights or equal weights over the
// standard pillars.
func (s Settings) Weights(total float64) types.PillarWeights {
	if len(s.DefaultWeights) == 0 {
		return types.EqualWeights(types.DefaultPillars, total)
	}
	out := make(types.PillarWeights, len(s.DefaultWeights))
	for k, v := range s.DefaultWeights {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// ClosesWeekly reports whether the weekly close applies; it does unless disabled.
func (s Settings) ClosesWeekly() bool {
	return s.WeeklyCloseGuard == nil || *s.WeeklyCloseGuard
}

// Contains reports whether t (converted to UTC) falls inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	t = t.UTC()
	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now < end
	}
	// window wraps midnight
	return now >= start || now < end
}

// Upcoming reports whether t lies within LeadMinutes before the weekly close.
func (w WeeklyClose) Upcoming(t time.Time) bool {
	day, ok := parseWeekday(w.Weekday)
	if !ok {
		return false
	}
	clock, err := parseClock(w.Time)
	if err != nil {
		return false
	}
	t = t.UTC()
	closeAt := time.Date(t.Year(), t.Month(), t.Day(), clock/60, clock%60, 0, 0, time.UTC)
	closeAt = closeAt.AddDate(0, 0, int(day-t.Weekday()+7)%7)
	if closeAt.Before(t) {
		closeAt = closeAt.AddDate(0, 0, 7)
	}
	lead := time.Duration(w.LeadMinutes) * time.Minute
	return closeAt.Sub(t) <= lead
}

func parseClock(raw string) (int, error) {
	ts, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", raw, err)
	}
	return ts.Hour()*60 + ts.Minute(), nil
}

func parseWeekday(raw string) (time.Weekday, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == raw || strings.ToLower(d.String()[:3]) == raw {
			return d, true
		}
	}
	return time.Sunday, false
}
