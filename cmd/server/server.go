package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"tickbook/internal/api"
	"tickbook/internal/config"
	"tickbook/internal/engine"
	"tickbook/internal/entry"
	"tickbook/internal/net"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Logger = cfg.Logger()
	if log.Logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	validator, err := entry.NewValidator(cfg.Symbol, cfg.TickSize)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid instrument")
	}

	// Setup the matching engine and the transports feeding it.
	eng := engine.New(
		engine.WithLogger(log.Logger.With().Str("component", "engine").Logger()),
		engine.WithQueueSize(cfg.QueueSize),
	)
	srv := net.New(net.Config{
		Address:      cfg.TCPAddress,
		Port:         cfg.TCPPort,
		Workers:      cfg.Workers,
		MaxSessions:  cfg.MaxSessions,
		PollInterval: cfg.PollInterval,
	}, eng)
	eng.SetReporter(srv)

	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error { return eng.Run(t) })
	t.Go(func() error { return srv.Run(ctx) })
	if cfg.HTTPAddress != "" {
		httpSrv := api.New(cfg.HTTPAddress, eng, validator)
		t.Go(func() error { return httpSrv.Run(ctx) })
	}

	log.Info().
		Str("symbol", cfg.Symbol).
		Str("tick", cfg.TickSize.String()).
		Msg("exchange started")

	// Block until a signal arrives or a component fails.
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exchange stopped")
	}
	log.Info().Msg("exchange stopped")
}
