package pipeline

import (
	"fmt"
	"sync"

	"booner/internal/gateway/advisor"
	"booner/internal/logger"
	"booner/internal/types"
)

var log = logger.For("pipeline")

// State is a position in the decision state machine.
type State string

const (
	StateNew            State = "NEW"
	StateSafetyCheck    State = "SAFETY_CHECK"
	StateCorrelation    State = "CORRELATION"
	StateScoring        State = "SCORING"
	StateAdvocateReview State = "ADVOCATE_REVIEW"
	StateCircuitBreaker State = "CIRCUIT_BREAKER"
	StateApproved       State = "APPROVED"
	StateVetoed         State = "VETOED"
	StateRejected       State = "REJECTED"
)

func (s State) Terminal() bool {
	return s == StateApproved || s == StateVetoed || s == StateRejected
}

// Signal is one request to evaluate a trade.
type Signal struct {
	Asset     string              `json:"asset"`
	Strategy  string              `json:"strategy"`
	Direction types.Direction     `json:"direction"`
	Features  types.FeatureVector `json:"features"`
}

// Validate normalizes the signal at the ingestion boundary.
func (s *Signal) Validate() error {
	if s.Features.Asset == "" {
		s.Features.Asset = s.Asset
	}
	if err := s.Features.Validate(); err != nil {
		return err
	}
	s.Asset = types.NormalizeAsset(s.Asset)
	if s.Asset == "" {
		s.Asset = s.Features.Asset
	}
	if s.Asset != s.Features.Asset {
		return fmt.Errorf("signal asset %s does not match features asset %s", s.Asset, s.Features.Asset)
	}
	dir, err := types.ParseDirection(string(s.Direction))
	if err != nil {
		return err
	}
	s.Direction = dir
	s.Strategy = types.NormalizeStrategy(s.Strategy)
	return nil
}

// Flag is a red or green flag raised by a deterministic rule.
type Flag struct {
	Name   string  `json:"name"`
	Delta  float64 `json:"delta"`
	Detail string  `json:"detail"`
}

// Evaluation is the mutable state one pipeline run carries between stages.
// Each stage owns the fields it writes; stages in the same group never write
// the same field.
type Evaluation struct {
	Signal    Signal
	Threshold float64

	RiskPct float64

	CorrelatedAsset string
	CorrelatedTrend types.Trend
	Multiplier      float64

	Weights       types.PillarWeights
	BaseScore     float64
	Contributions map[string]float64

	Flags     []Flag
	RuleDelta float64
	Advice    *advisor.Analysis

	EffectiveThreshold float64
	FinalScore         float64

	mu       sync.Mutex
	state    State
	trail    []State
	reasons  []string
	warnings []string
}

func newEvaluation(sig Signal, threshold float64) *Evaluation {
	return &Evaluation{
		Signal:     sig,
		Threshold:  threshold,
		Multiplier: 1,
		state:      StateNew,
		trail:      []State{StateNew},
	}
}

func (ev *Evaluation) State() State {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.state
}

func (ev *Evaluation) Terminal() bool {
	return ev.State().Terminal()
}

func (ev *Evaluation) enter(s State) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.state.Terminal() || s == "" || ev.state == s {
		return
	}
	ev.state = s
	ev.trail = append(ev.trail, s)
}

func (ev *Evaluation) finish(s State, reason string) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.state.Terminal() {
		return
	}
	ev.state = s
	ev.trail = append(ev.trail, s)
	if reason != "" {
		ev.reasons = append(ev.reasons, reason)
	}
}

func (ev *Evaluation) Veto(reason string)    { ev.finish(StateVetoed, reason) }
func (ev *Evaluation) Reject(reason string)  { ev.finish(StateRejected, reason) }
func (ev *Evaluation) Approve(reason string) { ev.finish(StateApproved, reason) }

// AddReason records a non-terminal note for the audit trail.
func (ev *Evaluation) AddReason(reason string) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.reasons = append(ev.reasons, reason)
}

func (ev *Evaluation) AddWarning(msg string) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.warnings = append(ev.warnings, msg)
}

func (ev *Evaluation) Reasons() []string {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return append([]string(nil), ev.reasons...)
}

func (ev *Evaluation) Trail() []State {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return append([]State(nil), ev.trail...)
}

func (ev *Evaluation) Warnings() []string {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return append([]string(nil), ev.warnings...)
}
