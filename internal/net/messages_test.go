package net

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickbook/internal/book"
	. "tickbook/internal/common"
)

func TestReadMessage_NewOrder(t *testing.T) {
	want := NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		OrderID:     42,
		Side:        Ask,
		OrderType:   LimitOrder,
		Price:       -15,
		Quantity:    300,
	}
	buf := Serialize(want)
	assert.Len(t, buf, BaseMessageHeaderLen+NewOrderMessageBodyLen)

	got, err := ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadMessage_Stream(t *testing.T) {
	var stream []byte
	stream = append(stream, Serialize(CancelOrderMessage{BaseMessage{CancelOrder}, 7})...)
	stream = append(stream, Serialize(BaseMessage{QueryQuote})...)
	stream = append(stream, Serialize(QuerySnapshotMessage{BaseMessage{QuerySnapshot}, 5})...)

	r := bytes.NewReader(stream)
	msg, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, CancelOrderMessage{BaseMessage{CancelOrder}, 7}, msg)

	msg, err = ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, QueryQuote, msg.GetType())

	msg, err = ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, QuerySnapshotMessage{BaseMessage{QuerySnapshot}, 5}, msg)

	_, err = ReadMessage(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessage_Errors(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(binary.BigEndian.AppendUint16(nil, 99)))
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	truncated := Serialize(CancelOrderMessage{BaseMessage{CancelOrder}, 7})[:5]
	_, err = ReadMessage(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReports_ReadBack(t *testing.T) {
	reports := []Report{
		Execution{Side: Bid, OrderID: 1, CounterOrderID: 2, Price: 100, Quantity: 3, Leaves: 4, TradeSequence: 5},
		Error{Err: "quantity must be a positive integer: 0"},
		Ack{OrderID: 9, Filled: 1, Resting: 2},
		Cancel{OrderID: 9, Result: book.CancelNotFound},
		Quote{book.BestQuote{Bid: 99, HasBid: true}},
		SnapshotLevels{book.Snapshot{
			Bids: []book.Level{{Price: 99, Quantity: 4}},
			Asks: []book.Level{{Price: 101, Quantity: 1}, {Price: 102, Quantity: 7}},
		}},
	}

	var stream bytes.Buffer
	for _, report := range reports {
		buf, err := report.Serialize()
		require.NoError(t, err)
		assert.Equal(t, byte(report.ReportType()), buf[0])
		stream.Write(buf)
	}

	for _, want := range reports {
		got, err := ReadReport(&stream)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestExecutions_FromTrade(t *testing.T) {
	trade := Trade{TakerID: 3, MakerID: 1, TakerSide: Ask, Price: 100, Quantity: 3, Sequence: 2, MakerRemaining: 7}

	assert.Equal(t,
		Execution{Side: Ask, OrderID: 3, CounterOrderID: 1, Price: 100, Quantity: 3, Leaves: 5, TradeSequence: 2},
		takerExecution(trade, 5))
	assert.Equal(t,
		Execution{Side: Bid, OrderID: 1, CounterOrderID: 3, Price: 100, Quantity: 3, Leaves: 7, TradeSequence: 2},
		makerExecution(trade))
}
