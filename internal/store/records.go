package store

import (
	"time"

	"booner/internal/types"
)

type PositionFilter struct {
	Status   types.PositionStatus
	Asset    string
	Strategy string
	Limit    int
}

type WeightsRecord struct {
	Asset     string
	Strategy  string
	Weights   types.PillarWeights
	Updates   int
	Version   int64
	UpdatedAt time.Time
}

type WeightHistoryRecord struct {
	ID            int64               `json:"id"`
	Asset         string              `json:"asset"`
	Strategy      string              `json:"strategy"`
	PositionID    string              `json:"position_id,omitempty"`
	Outcome       float64             `json:"outcome"`
	Before        types.PillarWeights `json:"before"`
	After         types.PillarWeights `json:"after"`
	Contributions map[string]float64  `json:"contributions"`
	CreatedAt     time.Time           `json:"created_at"`
}

type CooldownRecord struct {
	Asset       string
	LastTradeAt time.Time
	Version     int64
}

type DecisionRecord struct {
	ID                    string             `json:"id"`
	Asset                 string             `json:"asset"`
	Strategy              string             `json:"strategy"`
	Direction             string             `json:"direction"`
	OriginalScore         float64            `json:"original_score"`
	CorrelationMultiplier float64            `json:"correlation_multiplier"`
	RuleDelta             float64            `json:"rule_delta"`
	FinalScore            float64            `json:"final_score"`
	Threshold             float64            `json:"threshold"`
	Outcome               string             `json:"outcome"`
	Approved              bool               `json:"approved"`
	Reasons               []string           `json:"reasons"`
	Trail                 []string           `json:"trail"`
	Narrative             string             `json:"narrative,omitempty"`
	Contributions         map[string]float64 `json:"contributions,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
}
