// Package advisor talks to an optional reasoning model that reviews a signal
// and returns pro and contra points plus a short narrative. Its output is
// advisory and never changes a numeric decision.
package advisor

import (
	"context"
	"errors"
)

// ErrDisabled is returned by the no-op advisor.
var ErrDisabled = errors.New("advisor disabled")

type Request struct {
	Asset     string             `json:"asset"`
	Strategy  string             `json:"strategy"`
	Direction string             `json:"direction"`
	Score     float64            `json:"score"`
	Pillars   map[string]float64 `json:"pillars"`
	Flags     []string           `json:"flags,omitempty"`
	Context   map[string]float64 `json:"context,omitempty"`
}

type Analysis struct {
	ProPoints    []string `json:"pro_points"`
	ContraPoints []string `json:"contra_points"`
	Narrative    string   `json:"narrative"`
}

type Advisor interface {
	Analyze(ctx context.Context, req Request) (Analysis, error)
}

// Noop is used when no reasoning endpoint is configured.
type Noop struct{}

func (Noop) Analyze(context.Context, Request) (Analysis, error) {
	return Analysis{}, ErrDisabled
}
