package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTickSize = errors.New("tick size must be positive")
	ErrInvalidWorkers  = errors.New("worker count must be positive")
	ErrInvalidSymbol   = errors.New("symbol must not be empty")
)

type Config struct {
	Symbol   string
	TickSize decimal.Decimal

	TCPAddress   string
	TCPPort      int
	Workers      uint
	MaxSessions  int
	PollInterval time.Duration

	HTTPAddress string // Empty disables the HTTP API.

	QueueSize int // Requests waiting for the engine.

	LogLevel string
	Console  bool
}

func Default() Config {
	return Config{
		Symbol:       "AAPL",
		TickSize:     decimal.RequireFromString("0.01"),
		TCPAddress:   "0.0.0.0",
		TCPPort:      9001,
		Workers:      10,
		MaxSessions:  1024,
		PollInterval: 10 * time.Millisecond,
		HTTPAddress:  ":8080",
		QueueSize:    1024,
		LogLevel:     "info",
	}
}

// Load parses command line flags over the defaults.
func Load(args []string, output io.Writer) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("tickbook", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.Symbol, "symbol", cfg.Symbol, "Instrument traded by this book")
	fs.Func("tick", "Tick size in price units (default 0.01)", func(s string) error {
		tick, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		cfg.TickSize = tick
		return nil
	})
	fs.StringVar(&cfg.TCPAddress, "address", cfg.TCPAddress, "TCP listen address")
	fs.IntVar(&cfg.TCPPort, "port", cfg.TCPPort, "TCP listen port")
	fs.UintVar(&cfg.Workers, "workers", cfg.Workers, "Connection worker count")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "Maximum concurrent TCP sessions")
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Idle session poll interval")
	fs.StringVar(&cfg.HTTPAddress, "http", cfg.HTTPAddress, "HTTP listen address, empty to disable")
	fs.IntVar(&cfg.QueueSize, "queue", cfg.QueueSize, "Engine request queue size")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.Console, "console", cfg.Console, "Human readable console logs")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Symbol == "" {
		return ErrInvalidSymbol
	}
	if !c.TickSize.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidTickSize, c.TickSize)
	}
	if c.Workers == 0 {
		return ErrInvalidWorkers
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// Logger builds the process logger described by the config.
func (c Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if c.Console {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("symbol", c.Symbol).Logger()
}
