package pipeline

import (
	"time"

	"booner/internal/store"
	"booner/internal/types"
)

// Decision is the audit view of a finished evaluation. Vetoes and rejections
// are decisions, not errors.
type Decision struct {
	ID                    string              `json:"id"`
	Asset                 string              `json:"asset"`
	Strategy              string              `json:"strategy"`
	Direction             types.Direction     `json:"direction"`
	Outcome               State               `json:"outcome"`
	Approved              bool                `json:"approved"`
	RiskPct               float64             `json:"risk_pct"`
	CorrelatedAsset       string              `json:"correlated_asset,omitempty"`
	CorrelatedTrend       types.Trend         `json:"correlated_trend,omitempty"`
	OriginalScore         float64             `json:"original_score"`
	CorrelationMultiplier float64             `json:"correlation_multiplier"`
	RuleDelta             float64             `json:"rule_delta"`
	FinalScore            float64             `json:"final_score"`
	Threshold             float64             `json:"threshold"`
	Flags                 []Flag              `json:"flags,omitempty"`
	Reasons               []string            `json:"reasons"`
	Trail                 []State             `json:"trail"`
	Warnings              []string            `json:"warnings,omitempty"`
	Weights               types.PillarWeights `json:"weights,omitempty"`
	Contributions         map[string]float64  `json:"contributions,omitempty"`
	ProPoints             []string            `json:"pro_points,omitempty"`
	ContraPoints          []string            `json:"contra_points,omitempty"`
	Narrative             string              `json:"narrative,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
}

func decisionFrom(ev *Evaluation, id string, now time.Time) Decision {
	d := Decision{
		ID:                    id,
		Asset:                 ev.Signal.Asset,
		Strategy:              ev.Signal.Strategy,
		Direction:             ev.Signal.Direction,
		Outcome:               ev.State(),
		RiskPct:               ev.RiskPct,
		CorrelatedAsset:       ev.CorrelatedAsset,
		CorrelatedTrend:       ev.CorrelatedTrend,
		OriginalScore:         ev.BaseScore,
		CorrelationMultiplier: ev.Multiplier,
		RuleDelta:             ev.RuleDelta,
		FinalScore:            ev.FinalScore,
		Threshold:             ev.EffectiveThreshold,
		Flags:                 append([]Flag(nil), ev.Flags...),
		Reasons:               ev.Reasons(),
		Trail:                 ev.Trail(),
		Warnings:              ev.Warnings(),
		Weights:               ev.Weights,
		Contributions:         ev.Contributions,
		CreatedAt:             now,
	}
	d.Approved = d.Outcome == StateApproved
	if d.Threshold == 0 {
		d.Threshold = ev.Threshold
	}
	if ev.Advice != nil {
		d.ProPoints = ev.Advice.ProPoints
		d.ContraPoints = ev.Advice.ContraPoints
		d.Narrative = ev.Advice.Narrative
	}
	return d
}

func (d Decision) ToRecord() store.DecisionRecord {
	trail := make([]string, len(d.Trail))
	for i, s := range d.Trail {
		trail[i] = string(s)
	}
	return store.DecisionRecord{
		ID:                    d.ID,
		Asset:                 d.Asset,
		Strategy:              d.Strategy,
		Direction:             string(d.Direction),
		OriginalScore:         d.OriginalScore,
		CorrelationMultiplier: d.CorrelationMultiplier,
		RuleDelta:             d.RuleDelta,
		FinalScore:            d.FinalScore,
		Threshold:             d.Threshold,
		Outcome:               string(d.Outcome),
		Approved:              d.Approved,
		Reasons:               append([]string(nil), d.Reasons...),
		Trail:                 trail,
		Narrative:             d.Narrative,
		Contributions:         d.Contributions,
		CreatedAt:             d.CreatedAt,
	}
}
