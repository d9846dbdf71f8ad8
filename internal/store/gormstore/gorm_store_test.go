package gormstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"booner/internal/pkg/retry"
	"booner/internal/store"
	"booner/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestStore(t *testing.T, opts Options) (*GormStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "booner.db")
	s, err := NewGormStore(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestUpsertWeightsCreatesThenBumpsVersion(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	_, ok, err := s.GetWeights(ctx, "gold", "day_trading")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.UpsertWeights(ctx, "gold", "", func(r *store.WeightsRecord) error {
		r.Weights = types.PillarWeights{"base": 50, "trend": 50}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "GOLD", rec.Asset)
	assert.Equal(t, types.StrategyDayTrading, rec.Strategy)

	rec, err = s.UpsertWeights(ctx, "GOLD", "day_trading", func(r *store.WeightsRecord) error {
		r.Weights["trend"] = 40
		r.Weights["base"] = 60
		r.Updates++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)

	got, ok, err := s.GetWeights(ctx, "GOLD", "day_trading")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 60.0, got.Weights["base"])
	assert.Equal(t, 1, got.Updates)
}

func TestUpsertWeightsMutatorErrorIsNotRetried(t *testing.T) {
	var retries int
	s, _ := newTestStore(t, Options{OnRetry: func(string) { retries++ }})
	boom := errors.New("boom")
	_, err := s.UpsertWeights(context.Background(), "GOLD", "swing", func(*store.WeightsRecord) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, retries)
	_, ok, err := s.GetWeights(context.Background(), "GOLD", "swing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertWeightsConcurrentWritersLoseNoUpdate(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	const workers, each = 6, 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*each)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_, err := s.UpsertWeights(ctx, "EURUSD", "swing", func(r *store.WeightsRecord) error {
					r.Updates++
					return nil
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("upsert failed: %v", err)
	}

	got, ok, err := s.GetWeights(ctx, "EURUSD", "swing")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workers*each, got.Updates)
}

func TestWriteSurfacesContentionAfterRetries(t *testing.T) {
	var retries int
	s, path := newTestStore(t, Options{
		BusyTimeout: 20 * time.Millisecond,
		Retry:       retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		OnRetry:     func(string) { retries++ },
	})
	ctx := context.Background()

	holder, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=10", path)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := holder.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	conn, err := sqlDB.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
	require.NoError(t, err)

	_, err = s.UpsertCooldown(ctx, "GOLD", func(r *store.CooldownRecord) error {
		r.LastTradeAt = time.Now()
		return nil
	})
	require.Error(t, err)
	var ce *store.ContentionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "upsert_cooldown", ce.Op)
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, 2, retries)

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)
	_, err = s.UpsertCooldown(ctx, "GOLD", func(r *store.CooldownRecord) error {
		r.LastTradeAt = time.Now()
		return nil
	})
	assert.NoError(t, err)
}

func TestLockTableAcquireReleaseAndExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, _ := newTestStore(t, Options{Now: func() time.Time { return now }})
	ctx := context.Background()

	ok, err := s.TryAcquireLock(ctx, "GOLD", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAcquireLock(ctx, "GOLD", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live lock must not be taken over")

	released, err := s.ReleaseLock(ctx, "GOLD", "b")
	require.NoError(t, err)
	assert.False(t, released, "only the owner can release")

	now = now.Add(2 * time.Minute)
	ok, err = s.TryAcquireLock(ctx, "GOLD", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is reclaimed")

	released, err = s.ReleaseLock(ctx, "GOLD", "b")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = s.TryAcquireLock(ctx, "GOLD", "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdatePositionEnforcesImmutableFields(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	pos := types.Position{
		ID:            "p1",
		Asset:         "gold",
		Direction:     types.DirectionBuy,
		Size:          1,
		EntryPrice:    2000,
		StopLoss:      1990,
		TakeProfit:    2030,
		Strategy:      types.StrategySwing,
		Contributions: map[string]float64{"base": 0.6, "trend": 0.4},
	}
	require.NoError(t, s.SavePosition(ctx, pos))

	_, err := s.UpdatePosition(ctx, "p1", func(p *types.Position) error {
		p.Strategy = types.StrategyDayTrading
		return nil
	})
	assert.ErrorIs(t, err, store.ErrImmutableField)

	closedAt := time.Now()
	updated, err := s.UpdatePosition(ctx, "p1", func(p *types.Position) error {
		p.Status = types.PositionClosed
		p.ClosedAt = &closedAt
		p.CloseReason = types.CloseTakeProfit
		p.ClosePrice = 2030
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.PositionClosed, updated.Status)

	got, ok, err := s.GetPosition(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "GOLD", got.Asset)
	assert.Equal(t, types.StrategySwing, got.Strategy)
	assert.Equal(t, types.CloseTakeProfit, got.CloseReason)
	assert.InDelta(t, 0.6, got.Contributions["base"], 1e-9)
	require.NotNil(t, got.ClosedAt)

	n, err := s.CountClosedTrades(ctx, "GOLD", types.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	open, err := s.ListPositions(ctx, store.PositionFilter{Status: types.PositionOpen})
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = s.UpdatePosition(ctx, "missing", func(*types.Position) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDecisionsNewestFirst(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, _ := newTestStore(t, Options{Now: func() time.Time { return now }})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendDecision(ctx, store.DecisionRecord{
			ID:      fmt.Sprintf("d%d", i),
			Asset:   "GOLD",
			Outcome: "REJECTED",
			Reasons: []string{"confidence below threshold"},
			Trail:   []string{"NEW", "SCORING", "REJECTED"},
		}))
		now = now.Add(time.Second)
	}
	require.NoError(t, s.AppendDecision(ctx, store.DecisionRecord{ID: "x", Asset: "SILVER"}))

	got, err := s.ListDecisions(ctx, "gold", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d2", got[0].ID)
	assert.Equal(t, []string{"confidence below threshold"}, got[0].Reasons)
	assert.Equal(t, []string{"NEW", "SCORING", "REJECTED"}, got[0].Trail)
}

func TestCorruptJSONColumnsSurfaceAsErrors(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	_, err := s.UpsertWeights(ctx, "GOLD", types.StrategySwing, func(r *store.WeightsRecord) error {
		r.Weights = types.PillarWeights{"base": 40, "trend": 30, "volatility": 15, "sentiment": 15}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.AppendWeightHistory(ctx, store.WeightHistoryRecord{
		Asset:    "GOLD",
		Strategy: types.StrategySwing,
		Before:   types.PillarWeights{"base": 25, "trend": 75},
		After:    types.PillarWeights{"base": 30, "trend": 70},
	}))
	require.NoError(t, s.SavePosition(ctx, types.Position{
		ID:            "p1",
		Asset:         "GOLD",
		Direction:     types.DirectionBuy,
		Size:          1,
		EntryPrice:    2000,
		Strategy:      types.StrategySwing,
		Contributions: map[string]float64{"base": 1},
	}))

	db := s.GormDB()
	require.NoError(t, db.Exec("UPDATE pillar_weights SET weights = ?", "{not json").Error)
	require.NoError(t, db.Exec("UPDATE weight_history SET after_weights = ?", "[1,").Error)
	require.NoError(t, db.Exec("UPDATE positions SET contributions = ?", "nope").Error)

	_, _, err = s.GetWeights(ctx, "GOLD", types.StrategySwing)
	assert.ErrorIs(t, err, store.ErrCorruptRecord)

	calls := 0
	_, err = s.UpsertWeights(ctx, "GOLD", types.StrategySwing, func(*store.WeightsRecord) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, store.ErrCorruptRecord)
	assert.Zero(t, calls)

	_, err = s.ListWeightHistory(ctx, "GOLD", types.StrategySwing, 10)
	assert.ErrorIs(t, err, store.ErrCorruptRecord)

	_, _, err = s.GetPosition(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrCorruptRecord)
	_, err = s.ListPositions(ctx, store.PositionFilter{})
	assert.ErrorIs(t, err, store.ErrCorruptRecord)
}
