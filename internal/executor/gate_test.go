package executor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"booner/internal/gateway/venue"
	"booner/internal/store/gormstore"
	"booner/internal/strategy"
	"booner/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTracker struct {
	mu        sync.Mutex
	positions []types.Position
}

func (r *recordingTracker) Track(p types.Position) {
	r.mu.Lock()
	r.positions = append(r.positions, p)
	r.mu.Unlock()
}

func (r *recordingTracker) tracked() []types.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Position(nil), r.positions...)
}

type fixture struct {
	gate    *Gate
	store   *gormstore.GormStore
	paper   *venue.Paper
	tracker *recordingTracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "gate.db"), gormstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg, err := strategy.NewStaticRegistry(strategy.DefaultFileConfig())
	require.NoError(t, err)

	paper := venue.NewPaper()
	paper.SetPrice("GOLD", 1999.5, 2000.5)
	paper.SetPrice("SILVER", 24.9, 25.1)

	g := NewGate(st, st, paper, reg, Config{
		Cooldown:     5 * time.Minute,
		LockTTL:      time.Minute,
		VenueTimeout: 5 * time.Second,
		DefaultSize:  1,
	}, nil)
	tracker := &recordingTracker{}
	g.SetTracker(tracker)
	return &fixture{gate: g, store: st, paper: paper, tracker: tracker}
}

func goldBuy() OpenRequest {
	return OpenRequest{
		Asset:         "GOLD",
		Strategy:      types.StrategyDayTrading,
		Direction:     types.DirectionBuy,
		DecisionID:    "d-1",
		Contributions: map[string]float64{"base": 0.5, "trend": 0.5},
	}
}

func TestOpenPersistsPositionAndCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.gate.Open(ctx, goldBuy())
	require.NoError(t, err)
	assert.NotEmpty(t, pos.OrderID)
	assert.Equal(t, 2000.5, pos.EntryPrice)
	assert.InDelta(t, 1980.495, pos.StopLoss, 1e-6)
	assert.InDelta(t, 2040.51, pos.TakeProfit, 1e-6)
	assert.Equal(t, types.PositionOpen, pos.Status)

	saved, ok, err := f.store.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "d-1", saved.DecisionID)
	assert.Equal(t, pos.Contributions, saved.Contributions)

	cd, ok, err := f.store.GetCooldown(ctx, "GOLD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, pos.OpenedAt, cd.LastTradeAt, time.Millisecond)

	require.Len(t, f.tracker.tracked(), 1)

	acquired, err := f.store.TryAcquireLock(ctx, "GOLD", "probe", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "lock is released after a fill")
}

func TestScenarioB_SimultaneousOpensYieldOneOrder(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	f.paper.SetOpenHook(func(ctx context.Context, _ venue.OpenRequest) error {
		once.Do(func() { close(entered) })
		select {
		case <-proceed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	type result struct {
		pos types.Position
		err error
	}
	first := make(chan result, 1)
	go func() {
		pos, err := f.gate.Open(context.Background(), goldBuy())
		first <- result{pos, err}
	}()
	<-entered

	_, err := f.gate.Open(context.Background(), goldBuy())
	assert.ErrorIs(t, err, ErrDuplicateInProgress)

	close(proceed)
	res := <-first
	require.NoError(t, res.err)
	assert.NotEmpty(t, res.pos.OrderID)
}

func TestConcurrentOpensSameAssetExactlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.gate.Open(context.Background(), goldBuy())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range others {
		assert.True(t, errors.Is(err, ErrDuplicateInProgress) || errors.Is(err, ErrCooldownActive), "unexpected error: %v", err)
	}
	assert.Len(t, f.tracker.tracked(), 1)
}

func TestDistinctAssetsDoNotBlockEachOther(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, asset := range []string{"GOLD", "SILVER"} {
		wg.Add(1)
		go func(i int, asset string) {
			defer wg.Done()
			req := goldBuy()
			req.Asset = asset
			_, errs[i] = f.gate.Open(context.Background(), req)
		}(i, asset)
	}
	wg.Wait()
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestCooldownRejectsUntilWindowPasses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.Open(ctx, goldBuy())
	require.NoError(t, err)

	_, err = f.gate.Open(ctx, goldBuy())
	assert.ErrorIs(t, err, ErrCooldownActive)

	left, err := f.gate.CooldownRemaining(ctx, "gold")
	require.NoError(t, err)
	assert.Greater(t, left, 4*time.Minute)

	later := time.Now().Add(6 * time.Minute)
	f.gate.now = func() time.Time { return later }
	_, err = f.gate.Open(ctx, goldBuy())
	assert.NoError(t, err)
}

func TestVenueFailureLeavesNoCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.paper.FailNext("open", venue.NewError(venue.KindMargin, "open", errors.New("insufficient margin")))

	_, err := f.gate.Open(ctx, goldBuy())
	require.Error(t, err)
	assert.True(t, venue.IsKind(err, venue.KindMargin))

	_, ok, err := f.store.GetCooldown(ctx, "GOLD")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.tracker.tracked())

	_, err = f.gate.Open(ctx, goldBuy())
	assert.NoError(t, err, "a retry after a venue failure is allowed")
}

func TestLockHeldElsewhereFailsFast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ok, err := f.store.TryAcquireLock(ctx, "GOLD", "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.gate.Open(ctx, goldBuy())
	assert.ErrorIs(t, err, ErrDuplicateInProgress)

	released, err := f.store.ReleaseLock(ctx, "GOLD", "other-process")
	require.NoError(t, err)
	assert.True(t, released, "the gate must not release a lock it does not own")
}

func TestOpenValidatesRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.Open(context.Background(), OpenRequest{Direction: types.DirectionBuy})
	assert.Error(t, err)

	req := goldBuy()
	req.Direction = "FLAT"
	_, err = f.gate.Open(context.Background(), req)
	assert.Error(t, err)
}
