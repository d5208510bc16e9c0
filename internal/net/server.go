package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"tickbook/internal/book"
	. "tickbook/internal/common"
	"tickbook/internal/engine"
	"tickbook/internal/entry"
	"tickbook/internal/utils"
)

const (
	defaultNWorkers     = 10
	defaultMaxSessions  = 1024
	defaultPollInterval = 10 * time.Millisecond
	defaultConnTimeout  = time.Second
	defaultOutboxSize   = 256
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrTooManySessions    = errors.New("too many sessions")
	ErrSlowConsumer       = errors.New("client is not reading its reports")
)

// Engine is the part of the matching engine the server drives.
type Engine interface {
	Submit(ctx context.Context, req entry.Request) (engine.Result, error)
	Quote(ctx context.Context) (book.BestQuote, error)
	Snapshot(ctx context.Context, levels int) (book.Snapshot, error)
}

// ClientSession contains relevant information pertaining to an individual
// connected TCP session. Reports are queued on outbox and written by the
// session's own writer goroutine, which also closes the connection.
type ClientSession struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	outbox chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClientSession(conn net.Conn) *ClientSession {
	return &ClientSession{
		id:     uuid.NewString(),
		conn:   conn,
		reader: bufio.NewReader(conn),
		outbox: make(chan []byte, defaultOutboxSize),
		done:   make(chan struct{}),
	}
}

// send queues a report without blocking. A full outbox means the client has
// stopped reading.
func (c *ClientSession) send(report Report) error {
	buf, err := report.Serialize()
	if err != nil {
		return err
	}
	if c.closed() {
		return fmt.Errorf("%w: %s", ErrClientDoesNotExist, c.id)
	}

	select {
	case c.outbox <- buf:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSlowConsumer, c.id)
	}
}

func (c *ClientSession) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *ClientSession) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writeReport writes straight to conn, for connections that never became a
// session.
func writeReport(conn net.Conn, report Report) error {
	buf, err := report.Serialize()
	if err != nil {
		return err
	}
	return writeFrame(conn, buf)
}

func writeFrame(conn net.Conn, buf []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

type Config struct {
	Address      string
	Port         int
	Workers      uint
	MaxSessions  int
	PollInterval time.Duration
}

type Server struct {
	address      string
	port         int
	pollInterval time.Duration
	engine       Engine
	pool         *utils.WorkerPool

	clientSessions     map[string]*ClientSession
	clientSessionsLock sync.Mutex

	addr     net.Addr
	addrLock sync.Mutex
}

func New(cfg Config, eng Engine) *Server {
	if cfg.Workers == 0 {
		cfg.Workers = defaultNWorkers
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	// Each session sits in the queue at most once, so sizing the queue to
	// the session limit means a requeue never fails.
	pool := utils.NewWorkerPool(cfg.Workers, cfg.MaxSessions)

	return &Server{
		address:        cfg.Address,
		port:           cfg.Port,
		pollInterval:   cfg.PollInterval,
		engine:         eng,
		pool:           pool,
		clientSessions: make(map[string]*ClientSession),
	}
}

// Addr is the bound listener address, nil until Run is listening.
func (s *Server) Addr() net.Addr {
	s.addrLock.Lock()
	defer s.addrLock.Unlock()
	return s.addr
}

// Run serves clients until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.address, strconv.Itoa(s.port)))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}

	s.addrLock.Lock()
	s.addr = listener.Addr()
	s.addrLock.Unlock()

	// Unblock Accept once we are shutting down.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		return nil
	})

	// Start the worker pool.
	t.Go(func() error {
		s.pool.Setup(t, s.handleSession)
		return nil
	})

	t.Go(func() error {
		return s.accept(t, listener)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("tcp server running")
	err = t.Wait()
	s.closeClientSessions()
	log.Info().Msg("tcp server shut down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) accept(t *tomb.Tomb, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !t.Alive() {
				return nil
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		session, err := s.addClientSession(conn)
		if err != nil {
			log.Warn().Err(err).Str("address", conn.RemoteAddr().String()).Msg("client refused")
			_ = writeReport(conn, Error{Err: err.Error()})
			_ = conn.Close()
			continue
		}
		t.Go(func() error {
			s.writer(t, session)
			return nil
		})

		log.Info().
			Str("session", session.id).
			Str("address", conn.RemoteAddr().String()).
			Msg("new client added")

		// Pass over the session to be read from.
		s.requeue(session)
	}
}

// writer drains the session outbox onto the connection until the session is
// closed or the server stops, then flushes what is left and closes the
// connection.
func (s *Server) writer(t *tomb.Tomb, session *ClientSession) {
	defer func() {
		s.flush(session)
		if err := session.conn.Close(); err != nil {
			log.Debug().Err(err).Str("session", session.id).Msg("error closing connection")
		}
	}()

	for {
		select {
		case <-t.Dying():
			return
		case <-session.done:
			return
		case buf := <-session.outbox:
			if err := writeFrame(session.conn, buf); err != nil {
				log.Info().Err(err).Str("session", session.id).Msg("client unreachable")
				s.deleteClientSession(session)
				return
			}
		}
	}
}

// flush writes out reports already queued, stopping at the first failure.
func (s *Server) flush(session *ClientSession) {
	for {
		select {
		case buf := <-session.outbox:
			if err := writeFrame(session.conn, buf); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) requeue(session *ClientSession) {
	if err := s.pool.AddTask(session); err != nil {
		log.Error().Err(err).Str("session", session.id).Msg("unable to requeue session")
		s.deleteClientSession(session)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// handleSession is a short-lived worker method which waits briefly for the
// next message on a session. A complete message is read, dispatched to the
// engine and the session is pushed back to the pool. Any error returned from
// here is fatal.
func (s *Server) handleSession(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}
	if session.closed() {
		return nil
	}

	if err := session.conn.SetReadDeadline(time.Now().Add(s.pollInterval)); err != nil {
		log.Error().Err(err).Str("session", session.id).Msg("failed setting deadline for connection")
		s.deleteClientSession(session)
		return nil
	}
	if _, err := session.reader.Peek(BaseMessageHeaderLen); err != nil {
		if isTimeout(err) {
			s.requeue(session)
			return nil
		}
		// If a read from a client fails, it is likely that the client
		// has exited.
		log.Info().Err(err).Str("session", session.id).Msg("client disconnected")
		s.deleteClientSession(session)
		return nil
	}

	// A message has started, give the rest of it a full timeout.
	_ = session.conn.SetReadDeadline(time.Now().Add(defaultConnTimeout))
	message, err := ReadMessage(session.reader)
	if err != nil {
		// Framing is lost once a message is unreadable.
		log.Error().Err(err).Str("session", session.id).Msg("error parsing message")
		_ = session.send(Error{Err: err.Error()})
		s.deleteClientSession(session)
		return nil
	}

	s.dispatch(t.Context(nil), session, message)
	s.requeue(session)
	return nil
}

func (s *Server) dispatch(ctx context.Context, session *ClientSession, message Message) {
	var err error
	switch msg := message.(type) {
	case NewOrderMessage:
		err = s.handleNewOrder(ctx, session, msg)
	case CancelOrderMessage:
		err = s.handleCancel(ctx, session, msg)
	case QuerySnapshotMessage:
		var snap book.Snapshot
		if snap, err = s.engine.Snapshot(ctx, int(msg.Levels)); err == nil {
			err = session.send(SnapshotLevels{snap})
		}
	default:
		switch message.GetType() {
		case Heartbeat:
		case QueryQuote:
			var quote book.BestQuote
			if quote, err = s.engine.Quote(ctx); err == nil {
				err = session.send(Quote{quote})
			}
		}
	}

	if err != nil {
		log.Warn().Err(err).Str("session", session.id).Msg("request failed")
		if sendErr := session.send(Error{Err: err.Error()}); sendErr != nil {
			log.Error().Err(sendErr).Str("session", session.id).Msg("unable to send error report")
		}
	}
}

func (s *Server) handleNewOrder(ctx context.Context, session *ClientSession, msg NewOrderMessage) error {
	req := entry.Request{
		Kind:     entry.NewOrder,
		OrderID:  msg.OrderID,
		Side:     msg.Side,
		Type:     msg.OrderType,
		Price:    msg.Price,
		Quantity: msg.Quantity,
		Owner:    session.id,
	}
	res, err := s.engine.Submit(ctx, req)
	if err != nil {
		return err
	}

	if err := session.send(Ack{OrderID: res.OrderID, Filled: res.Filled, Resting: res.Resting}); err != nil {
		return err
	}
	leaves := req.Quantity
	for _, trade := range res.Trades {
		leaves -= trade.Quantity
		if err := session.send(takerExecution(trade, leaves)); err != nil {
			return err
		}
	}
	return nil
}

// handleCancel cancels an order this session placed. Orders placed by other
// sessions are refused by the engine.
func (s *Server) handleCancel(ctx context.Context, session *ClientSession, msg CancelOrderMessage) error {
	res, err := s.engine.Submit(ctx, entry.Request{
		Kind:    entry.CancelOrder,
		OrderID: msg.OrderID,
		Owner:   session.id,
	})
	if err != nil {
		return err
	}
	return session.send(Cancel{OrderID: msg.OrderID, Result: res.Cancel})
}

// ReportTrade queues the maker side of a trade for the session that placed
// the resting order. It runs on the engine goroutine, so it only ever queues.
// The taker is answered by the session's own request.
func (s *Server) ReportTrade(trade Trade, maker string) error {
	if maker == "" {
		// Resting order came in over another transport.
		return nil
	}

	s.clientSessionsLock.Lock()
	session := s.clientSessions[maker]
	s.clientSessionsLock.Unlock()

	if session == nil {
		return fmt.Errorf("%w: %s", ErrClientDoesNotExist, maker)
	}
	err := session.send(makerExecution(trade))
	if errors.Is(err, ErrSlowConsumer) {
		s.deleteClientSession(session)
	}
	return err
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) (*ClientSession, error) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	if len(s.clientSessions) >= s.pool.Capacity() {
		return nil, ErrTooManySessions
	}

	session := newClientSession(conn)
	s.clientSessions[session.id] = session
	return session, nil
}

// deleteClientSession is an atomic map remove. The writer closes the
// connection once it has flushed. Orders the session left in the book stay
// there and their fills are no longer reported.
func (s *Server) deleteClientSession(session *ClientSession) {
	s.clientSessionsLock.Lock()
	delete(s.clientSessions, session.id)
	s.clientSessionsLock.Unlock()

	session.close()
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	sessions := make([]*ClientSession, 0, len(s.clientSessions))
	for _, session := range s.clientSessions {
		sessions = append(sessions, session)
	}
	s.clientSessionsLock.Unlock()

	for _, session := range sessions {
		s.deleteClientSession(session)
	}
}
