package types

import (
	"fmt"
	"strings"
	"time"
)

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return DirectionBuy, nil
	case "SELL", "SHORT":
		return DirectionSell, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

// Sign is +1 for BUY and -1 for SELL.
func (d Direction) Sign() float64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

type CloseReason string

const (
	CloseExternal    CloseReason = "EXTERNAL"
	CloseStopLoss    CloseReason = "STOP_LOSS"
	CloseTakeProfit  CloseReason = "TAKE_PROFIT"
	CloseDailyClose  CloseReason = "DAILY_CLOSE"
	CloseWeeklyClose CloseReason = "WEEKLY_CLOSE"
)

// Position is created on a venue fill and mutated only by the monitor.
type Position struct {
	ID          string         `json:"id"`
	OrderID     string         `json:"order_id"`
	Asset       string         `json:"asset"`
	Direction   Direction      `json:"direction"`
	Size        float64        `json:"size"`
	EntryPrice  float64        `json:"entry_price"`
	StopLoss    float64        `json:"stop_loss"`
	TakeProfit  float64        `json:"take_profit"`
	Strategy    string         `json:"strategy"`
	Status      PositionStatus `json:"status"`
	OpenedAt    time.Time      `json:"opened_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
	ClosePrice  float64        `json:"close_price,omitempty"`
	CloseReason CloseReason    `json:"close_reason,omitempty"`
	RealizedPnL float64        `json:"realized_pnl"`
	DecisionID  string         `json:"decision_id,omitempty"`
	// Contributions are the normalized pillar contributions of the approving decision.
	Contributions map[string]float64 `json:"contributions,omitempty"`
}

func (p Position) IsOpen() bool { return p.Status == PositionOpen }

// PnLAt returns the profit/loss of the whole position at price.
func (p Position) PnLAt(price float64) float64 {
	return (price - p.EntryPrice) * p.Direction.Sign() * p.Size
}

// Outcome returns +1 for a profitable close and -1 otherwise.
func (p Position) Outcome() float64 {
	if p.RealizedPnL > 0 {
		return 1
	}
	return -1
}
