package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"tickbook/internal/book"
	. "tickbook/internal/common"
	"tickbook/internal/entry"
)

// --- Setup & Helpers --------------------------------------------------------

type MockReporter struct {
	mu     sync.Mutex
	trades []Trade
	makers []string
}

func (r *MockReporter) ReportTrade(trade Trade, maker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	r.makers = append(r.makers, maker)
	return nil
}

func (r *MockReporter) Makers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.makers...)
}

func (r *MockReporter) Trades() []Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Trade(nil), r.trades...)
}

func startTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	eng := New(opts...)
	var tb tomb.Tomb
	tb.Go(func() error { return eng.Run(&tb) })
	t.Cleanup(func() {
		tb.Kill(nil)
		_ = tb.Wait()
	})
	return eng
}

func limit(id OrderID, side Side, price Price, qty Quantity) entry.Request {
	return entry.Request{Kind: entry.NewOrder, OrderID: id, Side: side, Type: LimitOrder, Price: price, Quantity: qty}
}

func market(id OrderID, side Side, qty Quantity) entry.Request {
	return entry.Request{Kind: entry.NewOrder, OrderID: id, Side: side, Type: MarketOrder, Quantity: qty}
}

func cancelOrder(id OrderID) entry.Request {
	return entry.Request{Kind: entry.CancelOrder, OrderID: id}
}

func owned(req entry.Request, owner string) entry.Request {
	req.Owner = owner
	return req
}

// --- Tests ------------------------------------------------------------------

func TestSubmit_LimitRestsAndTrades(t *testing.T) {
	reporter := &MockReporter{}
	eng := startTestEngine(t, WithReporter(reporter))
	ctx := context.Background()

	res, err := eng.Submit(ctx, limit(1, Bid, 100, 10))
	require.NoError(t, err)
	assert.Equal(t, Quantity(10), res.Resting)
	assert.Empty(t, res.Trades)

	res, err = eng.Submit(ctx, limit(2, Ask, 99, 4))
	require.NoError(t, err)
	assert.Equal(t, Quantity(4), res.Filled)
	assert.Equal(t, Quantity(0), res.Resting)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, Price(100), res.Trades[0].Price)
	assert.Equal(t, res.Trades, reporter.Trades())

	depth, err := eng.Depth(ctx, Bid, 100)
	require.NoError(t, err)
	assert.Equal(t, Quantity(6), depth)
}

func TestSubmit_MarketDiscardsRemainder(t *testing.T) {
	eng := startTestEngine(t)
	ctx := context.Background()

	_, err := eng.Submit(ctx, limit(1, Ask, 101, 3))
	require.NoError(t, err)

	res, err := eng.Submit(ctx, market(2, Bid, 10))
	require.NoError(t, err)
	assert.Equal(t, Quantity(3), res.Filled)
	assert.Equal(t, Quantity(7), res.Discarded)

	quote, err := eng.Quote(ctx)
	require.NoError(t, err)
	assert.Equal(t, book.BestQuote{}, quote)
}

func TestSubmit_Cancel(t *testing.T) {
	eng := startTestEngine(t)
	ctx := context.Background()

	_, err := eng.Submit(ctx, limit(5, Bid, 100, 10))
	require.NoError(t, err)

	res, err := eng.Submit(ctx, cancelOrder(5))
	require.NoError(t, err)
	assert.Equal(t, book.CancelOK, res.Cancel)

	res, err = eng.Submit(ctx, cancelOrder(5))
	require.NoError(t, err)
	assert.Equal(t, book.CancelNotFound, res.Cancel)
}

func TestSubmit_RejectsInvalidAndDuplicate(t *testing.T) {
	eng := startTestEngine(t)
	ctx := context.Background()

	_, err := eng.Submit(ctx, limit(1, Bid, 100, 0))
	assert.ErrorIs(t, err, entry.ErrInvalidQuantity)

	_, err = eng.Submit(ctx, limit(1, Bid, 100, 1))
	require.NoError(t, err)
	_, err = eng.Submit(ctx, limit(1, Ask, 200, 1))
	assert.ErrorIs(t, err, book.ErrDuplicateOrderID)
}

func TestSnapshot_ThroughEngine(t *testing.T) {
	eng := startTestEngine(t)
	ctx := context.Background()

	for i, price := range []Price{97, 99, 98} {
		_, err := eng.Submit(ctx, limit(OrderID(i+1), Bid, price, 5))
		require.NoError(t, err)
	}

	snap, err := eng.Snapshot(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []book.Level{{Price: 99, Quantity: 5}, {Price: 98, Quantity: 5}}, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestSubmit_ConcurrentProducersSerialized(t *testing.T) {
	eng := startTestEngine(t)
	ctx := context.Background()

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := OrderID(p*perProducer + i + 1)
				_, err := eng.Submit(ctx, limit(id, Bid, Price(100+i%5), 1))
				assert.NoError(t, err)
			}
		}(p)
	}
	wg.Wait()

	var total Quantity
	snap, err := eng.Snapshot(ctx, 10)
	require.NoError(t, err)
	for _, level := range snap.Bids {
		total += level.Quantity
	}
	assert.Equal(t, Quantity(producers*perProducer), total)
}

func TestSubmit_StoppedEngine(t *testing.T) {
	eng := New()
	var tb tomb.Tomb
	tb.Go(func() error { return eng.Run(&tb) })
	tb.Kill(nil)
	require.NoError(t, tb.Wait())

	_, err := eng.Submit(context.Background(), limit(1, Bid, 100, 1))
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestSubmit_ContextDeadline(t *testing.T) {
	// Not running, so nothing drains the queue.
	eng := New(WithQueueSize(1))
	eng.requests <- task{fn: func() {}, done: make(chan struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := eng.Quote(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmit_TradesCarryMakerOwner(t *testing.T) {
	reporter := &MockReporter{}
	eng := startTestEngine(t, WithReporter(reporter))
	ctx := context.Background()

	_, err := eng.Submit(ctx, owned(limit(1, Ask, 100, 5), "alice"))
	require.NoError(t, err)
	_, err = eng.Submit(ctx, limit(2, Ask, 100, 5))
	require.NoError(t, err)

	res, err := eng.Submit(ctx, owned(limit(3, Bid, 100, 10), "bob"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, []string{"alice", ""}, reporter.Makers())
}

func TestSubmit_CancelChecksOwner(t *testing.T) {
	eng := startTestEngine(t)
	ctx := context.Background()

	_, err := eng.Submit(ctx, owned(limit(1, Bid, 100, 5), "alice"))
	require.NoError(t, err)

	_, err = eng.Submit(ctx, owned(cancelOrder(1), "bob"))
	assert.ErrorIs(t, err, ErrNotOwner)

	depth, err := eng.Depth(ctx, Bid, 100)
	require.NoError(t, err)
	assert.Equal(t, Quantity(5), depth)

	res, err := eng.Submit(ctx, owned(cancelOrder(1), "alice"))
	require.NoError(t, err)
	assert.Equal(t, book.CancelOK, res.Cancel)
}

func TestSubmit_OwnershipEndsWithOrder(t *testing.T) {
	reporter := &MockReporter{}
	eng := startTestEngine(t, WithReporter(reporter))
	ctx := context.Background()

	// Cancelled without an owner, as an operator would.
	_, err := eng.Submit(ctx, owned(limit(7, Ask, 100, 5), "alice"))
	require.NoError(t, err)
	res, err := eng.Submit(ctx, cancelOrder(7))
	require.NoError(t, err)
	assert.Equal(t, book.CancelOK, res.Cancel)

	// The id is reused by someone else and then trades.
	_, err = eng.Submit(ctx, limit(7, Ask, 100, 5))
	require.NoError(t, err)
	_, err = eng.Submit(ctx, owned(limit(8, Bid, 100, 5), "bob"))
	require.NoError(t, err)
	assert.Equal(t, []string{""}, reporter.Makers())

	// A fully filled maker releases its id as well.
	_, err = eng.Submit(ctx, owned(limit(9, Ask, 100, 2), "alice"))
	require.NoError(t, err)
	_, err = eng.Submit(ctx, limit(10, Bid, 100, 2))
	require.NoError(t, err)
	res, err = eng.Submit(ctx, limit(9, Bid, 90, 1))
	require.NoError(t, err)
	assert.Equal(t, Quantity(1), res.Resting)

	res, err = eng.Submit(ctx, owned(cancelOrder(9), "bob"))
	require.NoError(t, err)
	assert.Equal(t, book.CancelOK, res.Cancel)
}

func TestSubmit_QueuedRequestOutlivesContext(t *testing.T) {
	eng := New()
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		_, err := eng.Submit(ctx, limit(1, Bid, 100, 5))
		errs <- err
	}()

	// Wait until the request is queued, then give up on it.
	require.Eventually(t, func() bool { return len(eng.requests) == 1 }, time.Second, time.Millisecond)
	cancel()

	var tb tomb.Tomb
	tb.Go(func() error { return eng.Run(&tb) })
	t.Cleanup(func() {
		tb.Kill(nil)
		_ = tb.Wait()
	})

	require.NoError(t, <-errs)
	depth, err := eng.Depth(context.Background(), Bid, 100)
	require.NoError(t, err)
	assert.Equal(t, Quantity(5), depth)
}
