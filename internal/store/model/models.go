package model

import (
	"gorm.io/datatypes"
)

// Timestamps are stored as Unix milliseconds. Every mutable row carries a
// version column used for compare-and-swap updates.

type PositionModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	OrderID       string         `gorm:"column:order_id"`
	Asset         string         `gorm:"column:asset;index"`
	Direction     string         `gorm:"column:direction"`
	Size          float64        `gorm:"column:size"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	StopLoss      float64        `gorm:"column:stop_loss"`
	TakeProfit    float64        `gorm:"column:take_profit"`
	Strategy      string         `gorm:"column:strategy;index"`
	Status        string         `gorm:"column:status;index"`
	OpenedAtUnix  int64          `gorm:"column:opened_at"`
	ClosedAtUnix  int64          `gorm:"column:closed_at"`
	ClosePrice    float64        `gorm:"column:close_price"`
	CloseReason   string         `gorm:"column:close_reason"`
	RealizedPnL   float64        `gorm:"column:realized_pnl"`
	DecisionID    string         `gorm:"column:decision_id"`
	Contributions datatypes.JSON `gorm:"column:contributions;type:TEXT"`
	Version       int64          `gorm:"column:version"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

type WeightsModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Asset         string         `gorm:"column:asset;uniqueIndex:idx_weights_key,priority:1"`
	Strategy      string         `gorm:"column:strategy;uniqueIndex:idx_weights_key,priority:2"`
	Weights       datatypes.JSON `gorm:"column:weights;type:TEXT"`
	Updates       int            `gorm:"column:updates"`
	Version       int64          `gorm:"column:version"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (WeightsModel) TableName() string { return "pillar_weights" }

type WeightHistoryModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Asset         string         `gorm:"column:asset;index:idx_weight_history_key,priority:1"`
	Strategy      string         `gorm:"column:strategy;index:idx_weight_history_key,priority:2"`
	PositionID    string         `gorm:"column:position_id"`
	Outcome       float64        `gorm:"column:outcome"`
	Before        datatypes.JSON `gorm:"column:before_weights;type:TEXT"`
	After         datatypes.JSON `gorm:"column:after_weights;type:TEXT"`
	Contributions datatypes.JSON `gorm:"column:contributions;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (WeightHistoryModel) TableName() string { return "weight_history" }

type CooldownModel struct {
	Asset         string `gorm:"column:asset;primaryKey"`
	LastTradeUnix int64  `gorm:"column:last_trade_at"`
	Version       int64  `gorm:"column:version"`
}

func (CooldownModel) TableName() string { return "cooldowns" }

type LockModel struct {
	LockKey       string `gorm:"column:lock_key;primaryKey"`
	Owner         string `gorm:"column:owner"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
	ExpiresAtUnix int64  `gorm:"column:expires_at;index"`
}

func (LockModel) TableName() string { return "execution_locks" }

type DecisionModel struct {
	ID                    string         `gorm:"column:id;primaryKey"`
	Asset                 string         `gorm:"column:asset;index"`
	Strategy              string         `gorm:"column:strategy"`
	Direction             string         `gorm:"column:direction"`
	OriginalScore         float64        `gorm:"column:original_score"`
	CorrelationMultiplier float64        `gorm:"column:correlation_multiplier"`
	RuleDelta             float64        `gorm:"column:rule_delta"`
	FinalScore            float64        `gorm:"column:final_score"`
	Threshold             float64        `gorm:"column:threshold"`
	Outcome               string         `gorm:"column:outcome"`
	Approved              bool           `gorm:"column:approved"`
	Reasons               datatypes.JSON `gorm:"column:reasons;type:TEXT"`
	Trail                 datatypes.JSON `gorm:"column:trail;type:TEXT"`
	Narrative             string         `gorm:"column:narrative"`
	Contributions         datatypes.JSON `gorm:"column:contributions;type:TEXT"`
	CreatedAtUnix         int64          `gorm:"column:created_at;index"`
}

func (DecisionModel) TableName() string { return "decisions" }
