// Package api exposes order entry and book queries over HTTP/JSON. Every
// call goes through the engine, so it is serialized with the TCP traffic.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tickbook/internal/book"
	. "tickbook/internal/common"
	"tickbook/internal/engine"
	"tickbook/internal/entry"
)

const defaultSnapshotLevels = 10

type Engine interface {
	Submit(ctx context.Context, req entry.Request) (engine.Result, error)
	Quote(ctx context.Context) (book.BestQuote, error)
	Depth(ctx context.Context, side Side, price Price) (Quantity, error)
	Snapshot(ctx context.Context, levels int) (book.Snapshot, error)
}

type Server struct {
	address   string
	engine    Engine
	validator *entry.Validator
	router    *gin.Engine
}

func New(address string, eng Engine, validator *entry.Validator) *Server {
	s := &Server{
		address:   address,
		engine:    eng,
		validator: validator,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.POST("/orders", s.submitOrder)
	r.DELETE("/orders/:id", s.cancelOrder)
	r.GET("/quote", s.getQuote)
	r.GET("/depth", s.getDepth)
	r.GET("/snapshot", s.getSnapshot)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.address,
		Handler: s.router,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("address", s.address).Msg("http server running")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("http server shut down")
	return nil
}

// statusOf maps engine and validation errors onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, book.ErrDuplicateOrderID):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, entry.ErrInvalidSide),
		errors.Is(err, entry.ErrInvalidOrderType),
		errors.Is(err, entry.ErrInvalidQuantity),
		errors.Is(err, entry.ErrInvalidPrice),
		errors.Is(err, entry.ErrMissingPrice),
		errors.Is(err, entry.ErrUnexpectedPrice),
		errors.Is(err, entry.ErrUnknownSymbol),
		errors.Is(err, book.ErrZeroQuantity):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func (s *Server) submitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.validator.NewOrder(req.OrderID, req.Symbol, req.Side, req.Type, req.Quantity, req.Price)
	if err != nil {
		abort(c, err)
		return
	}

	res, err := s.engine.Submit(c.Request.Context(), order)
	if err != nil {
		abort(c, err)
		return
	}

	resp := SubmitOrderResponse{
		OrderID:   res.OrderID,
		Filled:    res.Filled,
		Resting:   res.Resting,
		Discarded: res.Discarded,
		Trades:    make([]TradeResponse, 0, len(res.Trades)),
	}
	for _, trade := range res.Trades {
		resp.Trades = append(resp.Trades, TradeResponse{
			MakerID:  trade.MakerID,
			Price:    s.validator.FromTicks(trade.Price),
			Quantity: trade.Quantity,
			Sequence: trade.Sequence,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	res, err := s.engine.Submit(c.Request.Context(), s.validator.Cancel(id))
	if err != nil {
		abort(c, err)
		return
	}

	status := http.StatusOK
	if res.Cancel != book.CancelOK {
		status = http.StatusNotFound
	}
	c.JSON(status, CancelOrderResponse{OrderID: id, Result: res.Cancel.String()})
}

func (s *Server) getQuote(c *gin.Context) {
	quote, err := s.engine.Quote(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}

	var resp QuoteResponse
	if quote.HasBid {
		bid := s.validator.FromTicks(quote.Bid)
		resp.Bid = &bid
	}
	if quote.HasAsk {
		ask := s.validator.FromTicks(quote.Ask)
		resp.Ask = &ask
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getDepth(c *gin.Context) {
	side, err := entry.ParseSide(c.Query("side"))
	if err != nil {
		abort(c, err)
		return
	}
	price, err := s.validator.ParsePrice(c.Query("price"))
	if err != nil {
		abort(c, err)
		return
	}

	qty, err := s.engine.Depth(c.Request.Context(), side, price)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, DepthResponse{
		Side:     side.String(),
		Price:    s.validator.FromTicks(price),
		Quantity: qty,
	})
}

func (s *Server) getSnapshot(c *gin.Context) {
	levels := defaultSnapshotLevels
	if raw := c.Query("levels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid levels"})
			return
		}
		levels = n
	}

	snap, err := s.engine.Snapshot(c.Request.Context(), levels)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, SnapshotResponse{
		Bids: s.levels(snap.Bids),
		Asks: s.levels(snap.Asks),
	})
}

func (s *Server) levels(in []book.Level) []LevelResponse {
	out := make([]LevelResponse, len(in))
	for i, level := range in {
		out[i] = LevelResponse{Price: s.validator.FromTicks(level.Price), Quantity: level.Quantity}
	}
	return out
}
