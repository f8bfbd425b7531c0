package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cloudx-io/blindauction/attest"
	"github.com/cloudx-io/blindauction/auction"
	"github.com/cloudx-io/blindauction/journal"
	"github.com/cloudx-io/blindauction/localprovider"
	"github.com/cloudx-io/blindauction/oblivious"
)

func newLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "auctiond")), nil
}

func main() {
	configPath := flag.String("config", "auctiond.yaml", "path to the auction configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auctiond: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auctiond: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	provider, err := localprovider.NewProvider()
	if err != nil {
		logger.Fatal("failed to initialize provider", zap.Error(err))
	}
	provider.Tokens().StartExpirationCleanup(context.Background(), 10*time.Second, 1*time.Minute)
	logger.Info("token expiration cleanup started",
		zap.Duration("interval", 10*time.Second),
		zap.Duration("max_age", 1*time.Minute))

	var store *journal.Store
	switch {
	case cfg.Journal.InMemory:
		store, err = journal.OpenInMemory()
	case cfg.Journal.Path != "":
		store, err = journal.Open(cfg.Journal.Path)
	}
	if err != nil {
		logger.Fatal("failed to open journal", zap.Error(err))
	}
	var recorder auction.Recorder
	if store != nil {
		recorder = store
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close journal", zap.Error(err))
			}
		}()
		logger.Info("journal opened",
			zap.String("path", cfg.Journal.Path),
			zap.Bool("in_memory", cfg.Journal.InMemory))
	}

	reserve, err := cfg.ReserveMinorUnits()
	if err != nil {
		logger.Fatal("invalid reserve", zap.Error(err))
	}

	clock := NewTickerClock(auction.BlockHeight(cfg.Chain.StartHeight), time.Duration(cfg.Chain.BlockInterval))
	relayer := auction.NewLoopbackRelayer(provider, logger)

	engine, err := auction.NewEngine(auction.Config{
		AuctionID:      cfg.AuctionID,
		Seller:         oblivious.Principal(cfg.Seller),
		Width:          cfg.Width(),
		Reserve:        reserve,
		BidDeadline:    auction.BlockHeight(cfg.BidDeadline),
		RevealDeadline: auction.BlockHeight(cfg.RevealDeadline),
		Provider:       provider,
		Clock:          clock,
		Relayer:        relayer,
		Recorder:       recorder,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("failed to initialize auction engine", zap.Error(err))
	}
	relayer.Bind(engine)

	var attester attest.Attester
	switch cfg.Attest.Mode {
	case "nitro":
		attester, err = attest.NewNitroAttester()
		if err != nil {
			logger.Fatal("failed to initialize nitro attester", zap.Error(err))
		}
		logger.Info("nitro attester initialized")
	case "local":
		local, err := attest.NewLocalAttester()
		if err != nil {
			logger.Fatal("failed to initialize local attester", zap.Error(err))
		}
		attester = local
		logger.Info("local attester initialized, receipts carry zeroed measurements")
	default:
		logger.Info("settlement receipts disabled")
	}

	server := NewServer(cfg, logger, engine, provider, attester)
	logger.Fatal("server stopped", zap.Error(server.Start()))
}
