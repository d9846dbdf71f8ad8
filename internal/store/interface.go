// Package store defines the durable state of the engine and the records
// exchanged with its backends.
package store

import (
	"context"
	"time"

	"booner/internal/types"
)

// Store is the entry point for durable state. Every Upsert/Update method is a
// read-modify-write that retries on write contention and fails with
// *ContentionError once retries are exhausted. Mutators may run more than once
// and must not have side effects outside the record they are given.
type Store interface {
	PositionRepository
	WeightRepository
	CooldownRepository
	DecisionRepository
	LockTable

	Close() error
}

// LockTable is the distributed lock registry keyed by asset.
type LockTable interface {
	// TryAcquireLock creates the lock if no unexpired lock exists for key.
	TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes the lock only if owner holds it.
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
}

// PositionRepository handles position persistence.
type PositionRepository interface {
	SavePosition(ctx context.Context, pos types.Position) error
	GetPosition(ctx context.Context, id string) (types.Position, bool, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]types.Position, error)
	// UpdatePosition applies mutate to the stored position. Asset, direction,
	// entry price and strategy tag are immutable; changing them fails with ErrImmutableField.
	UpdatePosition(ctx context.Context, id string, mutate func(*types.Position) error) (types.Position, error)
	CountClosedTrades(ctx context.Context, asset, strategy string) (int, error)
}

// WeightRepository handles pillar weights and their audit history.
type WeightRepository interface {
	GetWeights(ctx context.Context, asset, strategy string) (WeightsRecord, bool, error)
	UpsertWeights(ctx context.Context, asset, strategy string, mutate func(*WeightsRecord) error) (WeightsRecord, error)
	AppendWeightHistory(ctx context.Context, rec WeightHistoryRecord) error
	ListWeightHistory(ctx context.Context, asset, strategy string, limit int) ([]WeightHistoryRecord, error)
}

// CooldownRepository tracks the last successful open per asset.
type CooldownRepository interface {
	GetCooldown(ctx context.Context, asset string) (CooldownRecord, bool, error)
	UpsertCooldown(ctx context.Context, asset string, mutate func(*CooldownRecord) error) (CooldownRecord, error)
}

// DecisionRepository stores the pipeline audit trail.
type DecisionRepository interface {
	AppendDecision(ctx context.Context, rec DecisionRecord) error
	ListDecisions(ctx context.Context, asset string, limit int) ([]DecisionRecord, error)
}
