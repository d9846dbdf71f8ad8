// Package venue defines the execution venue the gate opens orders on and the
// monitor closes them with. Expected failure modes come back as *Error.
package venue

import (
	"context"
	"time"

	"booner/internal/types"
)

type Venue interface {
	Name() string

	Open(ctx context.Context, req OpenRequest) (OpenResult, error)

	// Close closes the position opened under orderID.
	Close(ctx context.Context, orderID string) error

	ListPositions(ctx context.Context) ([]Position, error)

	GetPrice(ctx context.Context, asset string) (types.Quote, error)
}

type OpenRequest struct {
	Asset      string
	Direction  types.Direction
	Size       float64
	StopLoss   float64
	TakeProfit float64
	ClientID   string
}

type OpenResult struct {
	OrderID   string
	FillPrice float64
	FilledAt  time.Time
}

// Position is the venue's view of an open position.
type Position struct {
	OrderID    string
	Asset      string
	Direction  types.Direction
	Size       float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
}
