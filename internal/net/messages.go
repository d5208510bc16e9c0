package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"tickbook/internal/book"
	. "tickbook/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidReportType  = errors.New("invalid report type")
	ErrReportTooLong      = errors.New("report body too long")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	QueryQuote
	QuerySnapshot
)

type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
	CancelReport
	QuoteReport
	SnapshotReport
	AckReport
)

// Message format constants. Every client message is a 2 byte type header
// followed by a fixed size body.
const (
	BaseMessageHeaderLen        = 2
	NewOrderMessageBodyLen      = 8 + 1 + 1 + 8 + 8
	CancelOrderMessageBodyLen   = 8
	QuerySnapshotMessageBodyLen = 2
)

type Message interface {
	GetType() MessageType
}

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

type NewOrderMessage struct {
	BaseMessage
	OrderID   OrderID   // 8 bytes
	Side      Side      // 1 byte
	OrderType OrderType // 1 byte
	Price     Price     // 8 bytes, ticks
	Quantity  Quantity  // 8 bytes
}

type CancelOrderMessage struct {
	BaseMessage
	OrderID OrderID // 8 bytes
}

type QuerySnapshotMessage struct {
	BaseMessage
	Levels uint16 // 2 bytes
}

func bodyLen(typeOf MessageType) (int, error) {
	switch typeOf {
	case Heartbeat, QueryQuote:
		return 0, nil
	case NewOrder:
		return NewOrderMessageBodyLen, nil
	case CancelOrder:
		return CancelOrderMessageBodyLen, nil
	case QuerySnapshot:
		return QuerySnapshotMessageBodyLen, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
}

// ReadMessage reads exactly one framed client message.
func ReadMessage(r io.Reader) (Message, error) {
	var header [BaseMessageHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	typeOf := MessageType(binary.BigEndian.Uint16(header[:]))
	n, err := bodyLen(typeOf)
	if err != nil {
		return nil, err
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return parseBody(typeOf, body), nil
}

func parseBody(typeOf MessageType, msg []byte) Message {
	base := BaseMessage{TypeOf: typeOf}
	switch typeOf {
	case NewOrder:
		return NewOrderMessage{
			BaseMessage: base,
			OrderID:     binary.BigEndian.Uint64(msg[0:8]),
			Side:        Side(msg[8]),
			OrderType:   OrderType(msg[9]),
			Price:       Price(binary.BigEndian.Uint64(msg[10:18])),
			Quantity:    binary.BigEndian.Uint64(msg[18:26]),
		}
	case CancelOrder:
		return CancelOrderMessage{
			BaseMessage: base,
			OrderID:     binary.BigEndian.Uint64(msg[0:8]),
		}
	case QuerySnapshot:
		return QuerySnapshotMessage{
			BaseMessage: base,
			Levels:      binary.BigEndian.Uint16(msg[0:2]),
		}
	}
	return base
}

// Serialize converts a client message to be sent on the wire.
func Serialize(m Message) []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(m.GetType()))
	switch msg := m.(type) {
	case NewOrderMessage:
		buf = binary.BigEndian.AppendUint64(buf, msg.OrderID)
		buf = append(buf, byte(msg.Side), byte(msg.OrderType))
		buf = binary.BigEndian.AppendUint64(buf, uint64(msg.Price))
		buf = binary.BigEndian.AppendUint64(buf, msg.Quantity)
	case CancelOrderMessage:
		buf = binary.BigEndian.AppendUint64(buf, msg.OrderID)
	case QuerySnapshotMessage:
		buf = binary.BigEndian.AppendUint16(buf, msg.Levels)
	}
	return buf
}

// --- Reports -----------------------------------------------------------------

// Report is a server to client message. The first byte on the wire is the
// ReportMessageType.
type Report interface {
	ReportType() ReportMessageType
	Serialize() ([]byte, error)
}

// Execution is sent to each party of a trade, from their own side.
type Execution struct {
	Side           Side     // 1 byte
	OrderID        OrderID  // 8 bytes
	CounterOrderID OrderID  // 8 bytes
	Price          Price    // 8 bytes
	Quantity       Quantity // 8 bytes
	Leaves         Quantity // 8 bytes, left on OrderID after the trade
	TradeSequence  uint64   // 8 bytes
}

const executionLen = 1 + 1 + 8*6

func (Execution) ReportType() ReportMessageType { return ExecutionReport }

func (r Execution) Serialize() ([]byte, error) {
	buf := make([]byte, 0, executionLen)
	buf = append(buf, byte(ExecutionReport), byte(r.Side))
	buf = binary.BigEndian.AppendUint64(buf, r.OrderID)
	buf = binary.BigEndian.AppendUint64(buf, r.CounterOrderID)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Price))
	buf = binary.BigEndian.AppendUint64(buf, r.Quantity)
	buf = binary.BigEndian.AppendUint64(buf, r.Leaves)
	buf = binary.BigEndian.AppendUint64(buf, r.TradeSequence)
	return buf, nil
}

// takerExecution reports a trade to the incoming order. leaves is what the
// taker still had to fill once this trade was done.
func takerExecution(trade Trade, leaves Quantity) Execution {
	return Execution{
		Side:           trade.TakerSide,
		OrderID:        trade.TakerID,
		CounterOrderID: trade.MakerID,
		Price:          trade.Price,
		Quantity:       trade.Quantity,
		Leaves:         leaves,
		TradeSequence:  trade.Sequence,
	}
}

func makerExecution(trade Trade) Execution {
	return Execution{
		Side:           trade.TakerSide.Opposite(),
		OrderID:        trade.MakerID,
		CounterOrderID: trade.TakerID,
		Price:          trade.Price,
		Quantity:       trade.Quantity,
		Leaves:         trade.MakerRemaining,
		TradeSequence:  trade.Sequence,
	}
}

type Error struct {
	Err string // 2 byte length + n bytes
}

func (Error) ReportType() ReportMessageType { return ErrorReport }

func (r Error) Serialize() ([]byte, error) {
	if len(r.Err) > 0xffff {
		return nil, ErrReportTooLong
	}
	buf := []byte{byte(ErrorReport)}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Err)))
	return append(buf, r.Err...), nil
}

// Ack confirms a new order was accepted by the book.
type Ack struct {
	OrderID OrderID  // 8 bytes
	Filled  Quantity // 8 bytes
	Resting Quantity // 8 bytes
}

func (Ack) ReportType() ReportMessageType { return AckReport }

func (r Ack) Serialize() ([]byte, error) {
	buf := []byte{byte(AckReport)}
	buf = binary.BigEndian.AppendUint64(buf, r.OrderID)
	buf = binary.BigEndian.AppendUint64(buf, r.Filled)
	buf = binary.BigEndian.AppendUint64(buf, r.Resting)
	return buf, nil
}

type Cancel struct {
	OrderID OrderID           // 8 bytes
	Result  book.CancelResult // 1 byte
}

func (Cancel) ReportType() ReportMessageType { return CancelReport }

func (r Cancel) Serialize() ([]byte, error) {
	buf := []byte{byte(CancelReport)}
	buf = binary.BigEndian.AppendUint64(buf, r.OrderID)
	return append(buf, byte(r.Result)), nil
}

type Quote struct {
	book.BestQuote
}

func (Quote) ReportType() ReportMessageType { return QuoteReport }

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (r Quote) Serialize() ([]byte, error) {
	buf := []byte{byte(QuoteReport), boolByte(r.HasBid)}
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Bid))
	buf = append(buf, boolByte(r.HasAsk))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Ask))
	return buf, nil
}

type SnapshotLevels struct {
	book.Snapshot
}

func (SnapshotLevels) ReportType() ReportMessageType { return SnapshotReport }

func (r SnapshotLevels) Serialize() ([]byte, error) {
	if len(r.Bids) > 0xffff || len(r.Asks) > 0xffff {
		return nil, ErrReportTooLong
	}
	buf := make([]byte, 0, 5+16*(len(r.Bids)+len(r.Asks)))
	buf = append(buf, byte(SnapshotReport))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Bids)))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Asks)))
	for _, levels := range [][]book.Level{r.Bids, r.Asks} {
		for _, level := range levels {
			buf = binary.BigEndian.AppendUint64(buf, uint64(level.Price))
			buf = binary.BigEndian.AppendUint64(buf, level.Quantity)
		}
	}
	return buf, nil
}

// ReadReport reads one report off the wire. Used by clients.
func ReadReport(r io.Reader) (Report, error) {
	var typeOf [1]byte
	if _, err := io.ReadFull(r, typeOf[:]); err != nil {
		return nil, err
	}

	switch ReportMessageType(typeOf[0]) {
	case ExecutionReport:
		buf := make([]byte, executionLen-1)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return Execution{
			Side:           Side(buf[0]),
			OrderID:        binary.BigEndian.Uint64(buf[1:9]),
			CounterOrderID: binary.BigEndian.Uint64(buf[9:17]),
			Price:          Price(binary.BigEndian.Uint64(buf[17:25])),
			Quantity:       binary.BigEndian.Uint64(buf[25:33]),
			Leaves:         binary.BigEndian.Uint64(buf[33:41]),
			TradeSequence:  binary.BigEndian.Uint64(buf[41:49]),
		}, nil

	case ErrorReport:
		var n [2]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, err
		}
		buf := make([]byte, binary.BigEndian.Uint16(n[:]))
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return Error{Err: string(buf)}, nil

	case AckReport:
		buf := make([]byte, 24)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return Ack{
			OrderID: binary.BigEndian.Uint64(buf[0:8]),
			Filled:  binary.BigEndian.Uint64(buf[8:16]),
			Resting: binary.BigEndian.Uint64(buf[16:24]),
		}, nil

	case CancelReport:
		buf := make([]byte, 9)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return Cancel{
			OrderID: binary.BigEndian.Uint64(buf[0:8]),
			Result:  book.CancelResult(buf[8]),
		}, nil

	case QuoteReport:
		buf := make([]byte, 18)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		var q Quote
		q.HasBid = buf[0] == 1
		q.Bid = Price(binary.BigEndian.Uint64(buf[1:9]))
		q.HasAsk = buf[9] == 1
		q.Ask = Price(binary.BigEndian.Uint64(buf[10:18]))
		return q, nil

	case SnapshotReport:
		var counts [4]byte
		if _, err := io.ReadFull(r, counts[:]); err != nil {
			return nil, err
		}
		nBids := int(binary.BigEndian.Uint16(counts[0:2]))
		nAsks := int(binary.BigEndian.Uint16(counts[2:4]))
		buf := make([]byte, 16*(nBids+nAsks))
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		levels := make([]book.Level, nBids+nAsks)
		for i := range levels {
			levels[i] = book.Level{
				Price:    Price(binary.BigEndian.Uint64(buf[16*i : 16*i+8])),
				Quantity: binary.BigEndian.Uint64(buf[16*i+8 : 16*i+16]),
			}
		}
		return SnapshotLevels{book.Snapshot{Bids: levels[:nBids:nBids], Asks: levels[nBids:]}}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidReportType, typeOf[0])
}
