// Package engine owns the order book and is the single point where every
// order, cancel and query is serialized. The book itself is not safe for
// concurrent use; the engine goroutine is the only code that touches it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"

	"tickbook/internal/book"
	. "tickbook/internal/common"
	"tickbook/internal/entry"
)

const defaultQueueSize = 1024

var (
	ErrEngineStopped = errors.New("engine stopped")
	ErrNotOwner      = errors.New("order belongs to another owner")
)

// Reporter is told about every trade, from the engine goroutine and in the
// order the trades happened. maker is the owner the resting order was placed
// with, empty when it had none. Implementations must not block.
type Reporter interface {
	ReportTrade(trade Trade, maker string) error
}

// Result describes what a single request did to the book.
type Result struct {
	OrderID   OrderID
	Trades    []Trade
	Filled    Quantity // Sum of the trade quantities.
	Resting   Quantity // Left in the book, limit orders only.
	Discarded Quantity // Unfilled market remainder.
	Cancel    book.CancelResult
}

type task struct {
	fn   func()
	done chan struct{}
}

type Engine struct {
	book     *book.PriceTimeBook
	requests chan task
	stopped  chan struct{}
	reporter Reporter
	pending  []Trade
	owners   map[OrderID]string // Resting orders placed with an owner.
	log      zerolog.Logger
}

type Option func(*Engine)

func WithReporter(reporter Reporter) Option {
	return func(e *Engine) {
		e.reporter = reporter
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = logger
	}
}

// WithQueueSize bounds the number of requests waiting for the engine.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.requests = make(chan task, n)
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		requests: make(chan task, defaultQueueSize),
		stopped:  make(chan struct{}),
		owners:   make(map[OrderID]string),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.book = book.New(
		book.WithTradeHandler(e.collect),
		book.WithLogger(e.log.With().Str("component", "book").Logger()),
	)
	return e
}

// SetReporter must be called before Run.
func (e *Engine) SetReporter(reporter Reporter) {
	e.reporter = reporter
}

// Run dispatches requests into the book one at a time until the tomb starts
// dying. It must only be started once.
func (e *Engine) Run(t *tomb.Tomb) error {
	defer close(e.stopped)

	e.log.Info().Msg("engine running")
	for {
		select {
		case <-t.Dying():
			e.log.Info().Msg("engine stopping")
			return nil
		case next := <-e.requests:
			next.fn()
			close(next.done)
		}
	}
}

// exec runs fn on the engine goroutine and waits for it. ctx only bounds the
// wait for a queue slot: once queued the request runs to completion and exec
// waits for it, so callers never see an error for work that took effect.
func (e *Engine) exec(ctx context.Context, fn func()) error {
	next := task{fn: fn, done: make(chan struct{})}

	select {
	case e.requests <- next:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-next.done:
		return nil
	case <-e.stopped:
		select {
		case <-next.done:
			return nil
		default:
			return ErrEngineStopped
		}
	}
}

// Submit applies a new order or a cancel. Book precondition failures, such as
// a duplicate live order id, come back as errors; trading less than asked for
// is not an error. A context error means the request never reached the book.
func (e *Engine) Submit(ctx context.Context, req entry.Request) (Result, error) {
	if err := entry.Validate(req); err != nil {
		return Result{}, err
	}

	var (
		res Result
		err error
	)
	if execErr := e.exec(ctx, func() { res, err = e.apply(req) }); execErr != nil {
		return Result{}, execErr
	}
	return res, err
}

func (e *Engine) Quote(ctx context.Context) (book.BestQuote, error) {
	var quote book.BestQuote
	err := e.exec(ctx, func() { quote = e.book.BestQuote() })
	return quote, err
}

func (e *Engine) Depth(ctx context.Context, side Side, price Price) (Quantity, error) {
	var qty Quantity
	err := e.exec(ctx, func() { qty = e.book.DepthQuantity(side, price) })
	return qty, err
}

func (e *Engine) Snapshot(ctx context.Context, levels int) (book.Snapshot, error) {
	var snap book.Snapshot
	err := e.exec(ctx, func() { snap = e.book.Snapshot(levels) })
	return snap, err
}

// collect is the book's trade handler. Trades are buffered for the request in
// flight and reported once the book call has returned.
func (e *Engine) collect(trade Trade) {
	e.pending = append(e.pending, trade)
}

func (e *Engine) apply(req entry.Request) (Result, error) {
	res := Result{OrderID: req.OrderID}

	if req.Kind == entry.CancelOrder {
		if owner, ok := e.owners[req.OrderID]; ok && req.Owner != "" && owner != req.Owner {
			e.log.Warn().Uint64("order_id", req.OrderID).Str("owner", req.Owner).Msg("cancel refused")
			return Result{}, fmt.Errorf("%w: %d", ErrNotOwner, req.OrderID)
		}
		res.Cancel = e.book.Cancel(req.OrderID)
		if res.Cancel == book.CancelOK {
			delete(e.owners, req.OrderID)
		}
		e.log.Debug().
			Uint64("order_id", req.OrderID).
			Stringer("result", res.Cancel).
			Msg("cancel")
		return res, nil
	}

	e.pending = e.pending[:0]

	var err error
	switch {
	case req.Type == MarketOrder && req.Side == Bid:
		err = e.book.AddMarketBuy(req.OrderID, req.Quantity)
	case req.Type == MarketOrder:
		err = e.book.AddMarketSell(req.OrderID, req.Quantity)
	case req.Side == Bid:
		err = e.book.AddLimitBuy(req.OrderID, req.Price, req.Quantity)
	default:
		err = e.book.AddLimitSell(req.OrderID, req.Price, req.Quantity)
	}
	if err != nil {
		e.log.Warn().Err(err).Uint64("order_id", req.OrderID).Msg("order rejected")
		return Result{}, err
	}

	res.Trades = slices.Clone(e.pending)
	makers := make([]string, len(res.Trades))
	for i, trade := range res.Trades {
		res.Filled += trade.Quantity
		makers[i] = e.owners[trade.MakerID]
		if trade.MakerRemaining == 0 {
			delete(e.owners, trade.MakerID)
		}
	}

	switch req.Type {
	case LimitOrder:
		if state, ok := e.book.Order(req.OrderID); ok {
			res.Resting = state.Remaining
			if req.Owner != "" {
				e.owners[req.OrderID] = req.Owner
			}
		}
	case MarketOrder:
		res.Discarded = req.Quantity - res.Filled
	}

	if e.reporter != nil {
		for i, trade := range res.Trades {
			if err := e.reporter.ReportTrade(trade, makers[i]); err != nil {
				e.log.Error().Err(err).Uint64("trade", trade.Sequence).Msg("unable to report trade")
			}
		}
	}
	return res, nil
}
