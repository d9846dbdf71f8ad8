// Package executor guards order submission: at most one in-flight open per
// asset and no two successful opens for an asset inside the cooldown window.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"booner/internal/gateway/venue"
	"booner/internal/logger"
	"booner/internal/metrics"
	"booner/internal/store"
	"booner/internal/strategy"
	"booner/internal/types"

	"github.com/google/uuid"
)

var log = logger.For("gate")

var (
	ErrDuplicateInProgress = errors.New("duplicate-in-progress")
	ErrCooldownActive      = errors.New("cooldown-active")
)

// Store is the persistence the gate writes to.
type Store interface {
	store.CooldownRepository
	SavePosition(ctx context.Context, pos types.Position) error
}

type SettingsSource interface {
	Resolve(tag string) strategy.Settings
}

// Tracker receives every position the gate opens.
type Tracker interface {
	Track(pos types.Position)
}

type Config struct {
	Cooldown     time.Duration
	LockTTL      time.Duration
	VenueTimeout time.Duration
	DefaultSize  float64
}

type OpenRequest struct {
	Asset         string
	Strategy      string
	Direction     types.Direction
	Size          float64
	DecisionID    string
	Contributions map[string]float64
}

type Gate struct {
	store    Store
	locks    store.LockTable
	venue    venue.Venue
	settings SettingsSource
	tracker  Tracker
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
	newID    func() string

	mu    sync.Mutex
	slots map[string]*sync.Mutex
}

func NewGate(st Store, locks store.LockTable, v venue.Venue, settings SettingsSource, cfg Config, m *metrics.Metrics) *Gate {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 15 * time.Second
	}
	if cfg.LockTTL <= cfg.VenueTimeout {
		cfg.LockTTL = cfg.VenueTimeout + time.Minute
	}
	return &Gate{
		store:    st,
		locks:    locks,
		venue:    v,
		settings: settings,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		slots:    make(map[string]*sync.Mutex),
	}
}

// SetTracker wires the monitor after construction.
func (g *Gate) SetTracker(t Tracker) {
	g.mu.Lock()
	g.tracker = t
	g.mu.Unlock()
}

// slot returns the in-process mutex for asset, creating it under the registry
// lock so concurrent first requests share one mutex.
func (g *Gate) slot(asset string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.slots[asset]
	if !ok {
		m = &sync.Mutex{}
		g.slots[asset] = m
	}
	return m
}

// CooldownRemaining reports how long asset stays in cooldown; zero means none.
func (g *Gate) CooldownRemaining(ctx context.Context, asset string) (time.Duration, error) {
	rec, ok, err := g.store.GetCooldown(ctx, types.NormalizeAsset(asset))
	if err != nil {
		return 0, fmt.Errorf("read cooldown %s: %w", asset, err)
	}
	if !ok || rec.LastTradeAt.IsZero() {
		return 0, nil
	}
	left := g.cfg.Cooldown - g.now().Sub(rec.LastTradeAt)
	if left <= 0 {
		return 0, nil
	}
	return left, nil
}

func (g *Gate) checkCooldown(ctx context.Context, asset string) error {
	left, err := g.CooldownRemaining(ctx, asset)
	if err != nil {
		return err
	}
	if left > 0 {
		g.metrics.ObserveGate("cooldown")
		log.Infof("%s rejected: cooldown active for %s", asset, left.Truncate(time.Second))
		return ErrCooldownActive
	}
	return nil
}

// Open submits req to the venue. Duplicates fail fast with
// ErrDuplicateInProgress; recent opens fail with ErrCooldownActive. A venue
// failure releases the lock and leaves no cooldown behind.
func (g *Gate) Open(ctx context.Context, req OpenRequest) (types.Position, error) {
	asset := types.NormalizeAsset(req.Asset)
	if asset == "" {
		return types.Position{}, fmt.Errorf("open: asset is required")
	}
	dir, err := types.ParseDirection(string(req.Direction))
	if err != nil {
		return types.Position{}, fmt.Errorf("open %s: %w", asset, err)
	}
	size := req.Size
	if size <= 0 {
		size = g.cfg.DefaultSize
	}
	if size <= 0 {
		return types.Position{}, fmt.Errorf("open %s: size must be positive", asset)
	}
	strat := types.NormalizeStrategy(req.Strategy)

	if err := g.checkCooldown(ctx, asset); err != nil {
		return types.Position{}, err
	}

	slot := g.slot(asset)
	if !slot.TryLock() {
		return types.Position{}, g.duplicate(asset, "in-process")
	}
	defer slot.Unlock()

	owner := g.newID()
	acquired, err := g.locks.TryAcquireLock(ctx, asset, owner, g.cfg.LockTTL)
	if err != nil {
		g.metrics.ObserveGate("error")
		return types.Position{}, fmt.Errorf("acquire lock %s: %w", asset, err)
	}
	if !acquired {
		return types.Position{}, g.duplicate(asset, "lock table")
	}
	release := true
	defer func() {
		if release {
			g.releaseLock(context.WithoutCancel(ctx), asset, owner)
		}
	}()

	// another process may have opened between the first check and the lock
	if err := g.checkCooldown(ctx, asset); err != nil {
		return types.Position{}, err
	}

	settings := g.settings.Resolve(strat)
	venueCtx, cancel := context.WithTimeout(ctx, g.cfg.VenueTimeout)
	defer cancel()

	var stop, take float64
	if quote, err := g.venue.GetPrice(venueCtx, asset); err == nil {
		stop, take = strategy.Levels(dir, quote.EntryPrice(dir), settings.StopLossPct, settings.TakeProfitPct)
	}
	res, err := g.venue.Open(venueCtx, venue.OpenRequest{
		Asset:      asset,
		Direction:  dir,
		Size:       size,
		StopLoss:   stop,
		TakeProfit: take,
		ClientID:   owner,
	})
	if err != nil {
		g.metrics.ObserveGate("venue_error")
		log.Warnf("%s %s open failed kind=%s: %v", asset, dir, venue.KindOf(err), err)
		return types.Position{}, fmt.Errorf("open %s: %w", asset, err)
	}

	openedAt := res.FilledAt
	if openedAt.IsZero() {
		openedAt = g.now()
	}
	stop, take = strategy.Levels(dir, res.FillPrice, settings.StopLossPct, settings.TakeProfitPct)
	pos := types.Position{
		ID:            g.newID(),
		OrderID:       res.OrderID,
		Asset:         asset,
		Direction:     dir,
		Size:          size,
		EntryPrice:    res.FillPrice,
		StopLoss:      stop,
		TakeProfit:    take,
		Strategy:      strat,
		Status:        types.PositionOpen,
		OpenedAt:      openedAt.UTC(),
		DecisionID:    req.DecisionID,
		Contributions: req.Contributions,
	}

	writeCtx := context.WithoutCancel(ctx)
	if _, err := g.store.UpsertCooldown(writeCtx, asset, func(rec *store.CooldownRecord) error {
		rec.LastTradeAt = openedAt.UTC()
		return nil
	}); err != nil {
		release = false
		log.Errorf("%s cooldown not recorded, holding lock until ttl %s: %v", asset, g.cfg.LockTTL, err)
	}
	saveErr := g.store.SavePosition(writeCtx, pos)
	if saveErr != nil {
		log.Errorf("%s order %s filled but position not saved: %v", asset, res.OrderID, saveErr)
	}
	if release {
		g.releaseLock(writeCtx, asset, owner)
		release = false
	}
	if saveErr != nil {
		g.metrics.ObserveGate("error")
		return pos, fmt.Errorf("save position %s: %w", pos.ID, saveErr)
	}

	g.mu.Lock()
	tracker := g.tracker
	g.mu.Unlock()
	if tracker != nil {
		tracker.Track(pos)
	}
	g.metrics.ObserveGate("opened")
	log.Infof("%s %s opened order=%s size=%.4f entry=%.5f sl=%.5f tp=%.5f strategy=%s",
		asset, dir, res.OrderID, size, res.FillPrice, stop, take, strat)
	return pos, nil
}

func (g *Gate) duplicate(asset, where string) error {
	g.metrics.ObserveGate("duplicate")
	log.Warnf("%s rejected: open already in progress (%s)", asset, where)
	return ErrDuplicateInProgress
}

func (g *Gate) releaseLock(ctx context.Context, asset, owner string) {
	if _, err := g.locks.ReleaseLock(ctx, asset, owner); err != nil {
		log.Warnf("%s release lock failed, expires in %s: %v", asset, g.cfg.LockTTL, err)
	}
}
