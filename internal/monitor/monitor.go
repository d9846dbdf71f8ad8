// Package monitor supervises open positions until they close and feeds each
// closed trade back into the weight optimizer.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"booner/internal/gateway/venue"
	"booner/internal/logger"
	"booner/internal/metrics"
	"booner/internal/optimizer"
	"booner/internal/pkg/retry"
	"booner/internal/scheduler"
	"booner/internal/store"
	"booner/internal/strategy"
	"booner/internal/types"
)

var log = logger.For("monitor")

var errAlreadyClosed = errors.New("position already closed")

type Store interface {
	GetPosition(ctx context.Context, id string) (types.Position, bool, error)
	ListPositions(ctx context.Context, filter store.PositionFilter) ([]types.Position, error)
	UpdatePosition(ctx context.Context, id string, mutate func(*types.Position) error) (types.Position, error)
}

type SettingsSource interface {
	Resolve(tag string) strategy.Settings
	WeeklyClose() strategy.WeeklyClose
}

// Learner receives the outcome of every closed position.
type Learner interface {
	Update(ctx context.Context, out optimizer.Outcome) (optimizer.Result, error)
}

type Config struct {
	Interval              time.Duration
	VenueTimeout          time.Duration
	CloseRetry            retry.Policy
	MarketClosedLogWindow time.Duration
}

// Action is what one check did to a position.
type Action string

const (
	ActionNone     Action = "NONE"
	ActionClosed   Action = "CLOSED"
	ActionDeferred Action = "DEFERRED"
	ActionFailed   Action = "FAILED"
)

type CheckResult struct {
	PositionID string
	Action     Action
	Reason     types.CloseReason
	Err        error
}

type Monitor struct {
	store    Store
	venue    venue.Venue
	settings SettingsSource
	learner  Learner
	metrics  *metrics.Metrics
	cfg      Config
	throttle *logger.Throttle
	now      func() time.Time
	sleep    retry.Sleeper

	mu      sync.Mutex
	tracked map[string]types.Position
}

func New(st Store, v venue.Venue, settings SettingsSource, learner Learner, cfg Config, m *metrics.Metrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 15 * time.Second
	}
	if cfg.CloseRetry.MaxAttempts <= 0 {
		cfg.CloseRetry = retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second, Multiplier: 2}
	}
	return &Monitor{
		store:    st,
		venue:    v,
		settings: settings,
		learner:  learner,
		metrics:  m,
		cfg:      cfg,
		throttle: logger.NewThrottle(cfg.MarketClosedLogWindow),
		now:      time.Now,
		tracked:  make(map[string]types.Position),
	}
}

// Track registers a freshly opened position so the next poll checks it even
// if the store listing lags.
func (m *Monitor) Track(pos types.Position) {
	m.mu.Lock()
	m.tracked[pos.ID] = pos
	n := len(m.tracked)
	m.mu.Unlock()
	log.Infof("tracking %s %s %s order=%s (%d tracked)", pos.ID, pos.Asset, pos.Direction, pos.OrderID, n)
}

func (m *Monitor) untrack(id string) {
	m.mu.Lock()
	delete(m.tracked, id)
	m.mu.Unlock()
}

// Run polls every Interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	sched := scheduler.NewIntervalScheduler("monitor", m.cfg.Interval)
	return sched.Run(ctx, func(ctx context.Context) {
		if _, err := m.Poll(ctx); err != nil {
			log.Warnf("poll: %v", err)
		}
	})
}

// Poll checks every open position once.
func (m *Monitor) Poll(ctx context.Context) ([]CheckResult, error) {
	open, err := m.openPositions(ctx)
	if err != nil {
		return nil, err
	}
	m.metrics.SetOpenPositions(len(open))
	if len(open) == 0 {
		return nil, nil
	}
	listed, err := m.venueOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list venue positions: %w", err)
	}
	results := make([]CheckResult, 0, len(open))
	var errs []error
	for _, pos := range open {
		res := m.check(ctx, pos, listed)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pos.ID, res.Err))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Check evaluates a single position. Checking a position that is already
// closed is a no-op.
func (m *Monitor) Check(ctx context.Context, pos types.Position) (CheckResult, error) {
	listed, err := m.venueOrders(ctx)
	if err != nil {
		return CheckResult{PositionID: pos.ID, Action: ActionFailed, Err: err}, err
	}
	res := m.check(ctx, pos, listed)
	return res, res.Err
}

func (m *Monitor) openPositions(ctx context.Context) ([]types.Position, error) {
	open, err := m.store.ListPositions(ctx, store.PositionFilter{Status: types.PositionOpen})
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	seen := make(map[string]struct{}, len(open))
	for _, p := range open {
		seen[p.ID] = struct{}{}
	}
	m.mu.Lock()
	var pending []string
	for id := range m.tracked {
		if _, ok := seen[id]; !ok {
			pending = append(pending, id)
		}
	}
	m.mu.Unlock()
	for _, id := range pending {
		p, ok, err := m.store.GetPosition(ctx, id)
		if err != nil {
			log.Warnf("reload tracked %s: %v", id, err)
			continue
		}
		if !ok || !p.IsOpen() {
			m.untrack(id)
			continue
		}
		open = append(open, p)
	}
	return open, nil
}

func (m *Monitor) venueOrders(ctx context.Context) (map[string]struct{}, error) {
	vctx, cancel := context.WithTimeout(ctx, m.cfg.VenueTimeout)
	defer cancel()
	list, err := m.venue.ListPositions(vctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(list))
	for _, p := range list {
		out[p.OrderID] = struct{}{}
	}
	return out, nil
}

func (m *Monitor) check(ctx context.Context, pos types.Position, listed map[string]struct{}) CheckResult {
	res := CheckResult{PositionID: pos.ID, Action: ActionNone}
	if !pos.IsOpen() {
		return res
	}
	quote, quoteErr := m.quote(ctx, pos.Asset)

	// external closure wins over every other trigger
	if _, ok := listed[pos.OrderID]; !ok {
		price := 0.0
		if quoteErr == nil {
			price = quote.ExitPrice(pos.Direction)
		}
		return m.finish(ctx, pos, types.CloseExternal, price)
	}

	settings := m.settings.Resolve(pos.Strategy)
	pos = m.refreshLevels(ctx, pos, settings)
	if quoteErr != nil {
		log.Warnf("%s %s price unavailable: %v", pos.ID, pos.Asset, quoteErr)
		return res
	}
	price := quote.ExitPrice(pos.Direction)
	now := m.now()

	var reason types.CloseReason
	switch {
	case strategy.StopLossHit(pos.Direction, price, pos.StopLoss):
		reason = types.CloseStopLoss
	case strategy.TakeProfitHit(pos.Direction, price, pos.TakeProfit):
		reason = types.CloseTakeProfit
	case !strategy.Profitable(pos.Direction, pos.EntryPrice, price):
		// scheduled closes only lock in profit
	case settings.Intraday && settings.DailyClose != nil && settings.DailyClose.Contains(now):
		reason = types.CloseDailyClose
	case settings.ClosesWeekly() && m.settings.WeeklyClose().Upcoming(now):
		reason = types.CloseWeeklyClose
	}
	if reason == "" {
		return res
	}
	return m.closeAtVenue(ctx, pos, reason, price)
}

func (m *Monitor) quote(ctx context.Context, asset string) (types.Quote, error) {
	vctx, cancel := context.WithTimeout(ctx, m.cfg.VenueTimeout)
	defer cancel()
	return m.venue.GetPrice(vctx, asset)
}

// refreshLevels recomputes stop and take from the current strategy settings.
// The strategy tag itself is never changed.
func (m *Monitor) refreshLevels(ctx context.Context, pos types.Position, s strategy.Settings) types.Position {
	if s.StopLossPct <= 0 && s.TakeProfitPct <= 0 {
		return pos
	}
	stop, take := strategy.Levels(pos.Direction, pos.EntryPrice, s.StopLossPct, s.TakeProfitPct)
	if stop <= 0 {
		stop = pos.StopLoss
	}
	if take <= 0 {
		take = pos.TakeProfit
	}
	if stop == pos.StopLoss && take == pos.TakeProfit {
		return pos
	}
	updated, err := m.store.UpdatePosition(ctx, pos.ID, func(p *types.Position) error {
		if !p.IsOpen() {
			return errAlreadyClosed
		}
		p.StopLoss, p.TakeProfit = stop, take
		return nil
	})
	if err != nil {
		if !errors.Is(err, errAlreadyClosed) {
			log.Warnf("%s recompute levels: %v", pos.ID, err)
		}
		return pos
	}
	log.Infof("%s levels updated sl=%.5f tp=%.5f (%s)", pos.ID, stop, take, pos.Strategy)
	return updated
}

func isTimeout(err error) bool {
	return venue.IsKind(err, venue.KindTimeout)
}

func (m *Monitor) closeAtVenue(ctx context.Context, pos types.Position, reason types.CloseReason, price float64) CheckResult {
	err := retry.DoWithSleeper(ctx, m.cfg.CloseRetry, isTimeout, m.sleep, func(attempt int) error {
		if attempt > 1 {
			log.Infof("%s close retry attempt=%d", pos.ID, attempt)
		}
		vctx, cancel := context.WithTimeout(ctx, m.cfg.VenueTimeout)
		defer cancel()
		return m.venue.Close(vctx, pos.OrderID)
	})
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Err
	}
	res := CheckResult{PositionID: pos.ID, Reason: reason}
	switch kind := venue.KindOf(err); {
	case err == nil:
		return m.finish(ctx, pos, reason, price)
	case kind == venue.KindInvalidTicket:
		log.Infof("%s order %s unknown at venue, reconciling as closed (%s)", pos.ID, pos.OrderID, reason)
		return m.finish(ctx, pos, reason, price)
	case kind == venue.KindTimeout:
		log.Warnf("%s close %s timed out, deferred to next cycle", pos.ID, reason)
		res.Action = ActionDeferred
	case kind == venue.KindMarketClosed:
		key := pos.ID + ":" + string(reason)
		if m.throttle.Allow(key) {
			log.Warnf("%s close %s deferred: market closed", pos.ID, reason)
		}
		res.Action = ActionDeferred
	default:
		log.Errorf("%s close %s failed kind=%s: %v", pos.ID, reason, kind, err)
		res.Action = ActionFailed
		res.Err = err
	}
	return res
}

// finish marks the position closed once. A position some other path closed
// first is left untouched.
func (m *Monitor) finish(ctx context.Context, pos types.Position, reason types.CloseReason, price float64) CheckResult {
	res := CheckResult{PositionID: pos.ID, Reason: reason}
	now := m.now().UTC()
	closed, err := m.store.UpdatePosition(context.WithoutCancel(ctx), pos.ID, func(p *types.Position) error {
		if !p.IsOpen() {
			return errAlreadyClosed
		}
		p.Status = types.PositionClosed
		p.ClosedAt = &now
		p.CloseReason = reason
		p.ClosePrice = price
		if price > 0 {
			p.RealizedPnL = p.PnLAt(price)
		}
		return nil
	})
	if errors.Is(err, errAlreadyClosed) {
		m.untrack(pos.ID)
		res.Action = ActionNone
		return res
	}
	if err != nil {
		log.Errorf("%s mark closed (%s): %v", pos.ID, reason, err)
		res.Action = ActionFailed
		res.Err = err
		return res
	}
	m.untrack(pos.ID)
	m.throttle.Forget(pos.ID + ":" + string(reason))
	m.metrics.ObserveClose(string(reason))
	res.Action = ActionClosed
	log.Infof("%s %s %s closed reason=%s price=%.5f pnl=%.4f", closed.ID, closed.Asset, closed.Direction, reason, price, closed.RealizedPnL)
	m.learn(ctx, closed)
	return res
}

func (m *Monitor) learn(ctx context.Context, pos types.Position) {
	if m.learner == nil {
		return
	}
	if pos.ClosePrice <= 0 {
		log.Infof("%s closed without a price, skipping weight update", pos.ID)
		return
	}
	out, err := m.learner.Update(context.WithoutCancel(ctx), optimizer.OutcomeFromPosition(pos))
	if err != nil {
		log.Warnf("%s weight update: %v", pos.ID, err)
		return
	}
	log.Debugf("%s weight update status=%s", pos.ID, out.Status)
}
