package venue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"booner/internal/types"

	"github.com/google/uuid"
)

// Paper is an in-memory venue. Prices are set by the caller; failures can be
// queued per operation to exercise error handling.
type Paper struct {
	mu         sync.Mutex
	prices     map[string]types.Quote
	positions  map[string]Position
	marketOpen bool
	failures   map[string][]error
	openHook   func(ctx context.Context, req OpenRequest) error
	now        func() time.Time
}

var _ Venue = (*Paper)(nil)

func NewPaper() *Paper {
	return &Paper{
		prices:     make(map[string]types.Quote),
		positions:  make(map[string]Position),
		marketOpen: true,
		failures:   make(map[string][]error),
		now:        time.Now,
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) SetPrice(asset string, bid, ask float64) {
	p.mu.Lock()
	p.prices[types.NormalizeAsset(asset)] = types.Quote{Bid: bid, Ask: ask}
	p.mu.Unlock()
}

func (p *Paper) SetMarketOpen(open bool) {
	p.mu.Lock()
	p.marketOpen = open
	p.mu.Unlock()
}

// FailNext queues err for the next call of op ("open", "close", "list", "price").
func (p *Paper) FailNext(op string, err error) {
	p.mu.Lock()
	op = strings.ToLower(op)
	p.failures[op] = append(p.failures[op], err)
	p.mu.Unlock()
}

// SetOpenHook installs fn to run at the start of every Open, outside the venue lock.
func (p *Paper) SetOpenHook(fn func(ctx context.Context, req OpenRequest) error) {
	p.mu.Lock()
	p.openHook = fn
	p.mu.Unlock()
}

// Drop removes a position as if it had been closed outside the engine.
func (p *Paper) Drop(orderID string) {
	p.mu.Lock()
	delete(p.positions, orderID)
	p.mu.Unlock()
}

func (p *Paper) popFailure(op string) error {
	queue := p.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	p.failures[op] = queue[1:]
	return err
}

func (p *Paper) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	p.mu.Lock()
	hook := p.openHook
	p.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return OpenResult{}, Wrap("open", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return OpenResult{}, Wrap("open", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure("open"); err != nil {
		return OpenResult{}, Wrap("open", err)
	}
	if !p.marketOpen {
		return OpenResult{}, NewError(KindMarketClosed, "open", nil)
	}
	if req.Size <= 0 {
		return OpenResult{}, NewError(KindInvalidTicket, "open", fmt.Errorf("size must be positive"))
	}
	asset := types.NormalizeAsset(req.Asset)
	quote, ok := p.prices[asset]
	if !ok || quote.IsEmpty() {
		return OpenResult{}, NewError(KindUnknown, "open", fmt.Errorf("no price for %s", asset))
	}
	now := p.now()
	res := OpenResult{
		OrderID:   uuid.NewString(),
		FillPrice: quote.EntryPrice(req.Direction),
		FilledAt:  now,
	}
	p.positions[res.OrderID] = Position{
		OrderID:    res.OrderID,
		Asset:      asset,
		Direction:  req.Direction,
		Size:       req.Size,
		EntryPrice: res.FillPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenedAt:   now,
	}
	return res, nil
}

func (p *Paper) Close(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return Wrap("close", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure("close"); err != nil {
		return Wrap("close", err)
	}
	if !p.marketOpen {
		return NewError(KindMarketClosed, "close", nil)
	}
	if _, ok := p.positions[orderID]; !ok {
		return NewError(KindInvalidTicket, "close", fmt.Errorf("unknown order %s", orderID))
	}
	delete(p.positions, orderID)
	return nil
}

func (p *Paper) ListPositions(ctx context.Context) ([]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("list", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure("list"); err != nil {
		return nil, Wrap("list", err)
	}
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (p *Paper) GetPrice(ctx context.Context, asset string) (types.Quote, error) {
	if err := ctx.Err(); err != nil {
		return types.Quote{}, Wrap("price", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure("price"); err != nil {
		return types.Quote{}, Wrap("price", err)
	}
	asset = types.NormalizeAsset(asset)
	q, ok := p.prices[asset]
	if !ok || q.IsEmpty() {
		return types.Quote{}, NewError(KindUnknown, "price", fmt.Errorf("no price for %s", asset))
	}
	return q, nil
}
