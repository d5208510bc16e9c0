package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tickbook/internal/book"
	. "tickbook/internal/common"
	"tickbook/internal/entry"
	tbNet "tickbook/internal/net"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'quote', 'snapshot']")

	// Order Parameters
	orderID := flag.Uint64("id", 0, "Order id; multiple quantities use consecutive ids (compulsory for place/cancel)")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	price := flag.String("price", "100.00", "Limit price, ignored for market orders")
	tick := flag.String("tick", "0.01", "Tick size used to convert the price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	// Query Parameters
	levels := flag.Uint("levels", 5, "Levels per side for 'snapshot'")
	wait := flag.Duration("wait", 2*time.Second, "How long to listen for reports")

	flag.Parse()

	tickSize, err := decimal.NewFromString(*tick)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid tick size")
	}
	validator, err := entry.NewValidator("", tickSize)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid tick size")
	}

	// Validate everything before connecting.
	var messages []tbNet.Message
	switch strings.ToLower(*action) {
	case "place":
		if *orderID == 0 {
			log.Fatal().Msg("-id is required to place orders")
		}
		limitPrice := *price
		if strings.EqualFold(*typeStr, "market") {
			limitPrice = ""
		}
		for i, qty := range strings.Split(*qtyStr, ",") {
			req, err := validator.NewOrder(*orderID+OrderID(i), "", *sideStr, *typeStr, qty, limitPrice)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid order")
			}
			messages = append(messages, tbNet.NewOrderMessage{
				BaseMessage: tbNet.BaseMessage{TypeOf: tbNet.NewOrder},
				OrderID:     req.OrderID,
				Side:        req.Side,
				OrderType:   req.Type,
				Price:       req.Price,
				Quantity:    req.Quantity,
			})
		}

	case "cancel":
		if *orderID == 0 {
			log.Fatal().Msg("-id is required for cancellation")
		}
		messages = append(messages, tbNet.CancelOrderMessage{
			BaseMessage: tbNet.BaseMessage{TypeOf: tbNet.CancelOrder},
			OrderID:     *orderID,
		})

	case "quote":
		messages = append(messages, tbNet.BaseMessage{TypeOf: tbNet.QueryQuote})

	case "snapshot":
		messages = append(messages, tbNet.QuerySnapshotMessage{
			BaseMessage: tbNet.BaseMessage{TypeOf: tbNet.QuerySnapshot},
			Levels:      uint16(min(*levels, 0xffff)),
		})

	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect to server")
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *serverAddr)

	// Start Listening for Reports (Async)
	go readReports(conn, validator)

	for _, m := range messages {
		if _, err := conn.Write(tbNet.Serialize(m)); err != nil {
			log.Error().Err(err).Msg("failed to send request")
		}
	}

	fmt.Printf("Listening for reports for %v...\n", *wait)
	time.Sleep(*wait)
}

// readReports continuously reads and prints reports from the server.
func readReports(conn net.Conn, validator *entry.Validator) {
	for {
		report, err := tbNet.ReadReport(conn)
		if err != nil {
			if err != io.EOF {
				log.Error().Err(err).Msg("connection lost")
			}
			os.Exit(0)
		}

		switch r := report.(type) {
		case tbNet.Error:
			fmt.Printf("[SERVER ERROR] %s\n", r.Err)
		case tbNet.Ack:
			fmt.Printf("[ACK] order %d filled %d resting %d\n", r.OrderID, r.Filled, r.Resting)
		case tbNet.Execution:
			fmt.Printf("[EXECUTION] %v order %d | Qty: %d | Price: %s | vs: %d | Leaves: %d\n",
				r.Side, r.OrderID, r.Quantity, validator.FromTicks(r.Price), r.CounterOrderID, r.Leaves)
		case tbNet.Cancel:
			fmt.Printf("[CANCEL] order %d: %v\n", r.OrderID, r.Result)
		case tbNet.Quote:
			fmt.Printf("[QUOTE] bid %s | ask %s\n",
				side(validator, r.HasBid, r.Bid), side(validator, r.HasAsk, r.Ask))
		case tbNet.SnapshotLevels:
			printLevels("BIDS", validator, r.Bids)
			printLevels("ASKS", validator, r.Asks)
		}
	}
}

func side(validator *entry.Validator, ok bool, price Price) string {
	if !ok {
		return "-"
	}
	return validator.FromTicks(price).String()
}

func printLevels(title string, validator *entry.Validator, levels []book.Level) {
	fmt.Println(title)
	for _, level := range levels {
		fmt.Printf("  %12s  %d\n", validator.FromTicks(level.Price), level.Quantity)
	}
}
