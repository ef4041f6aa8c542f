package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arbcore/internal/api"
	"arbcore/internal/detector"
	"arbcore/internal/engine"
	"arbcore/internal/events"
	"arbcore/internal/executor"
	"arbcore/internal/gateway"
	"arbcore/internal/market"
	"arbcore/internal/monitor"
	"arbcore/internal/persistence"
	"arbcore/internal/redisfeed"
	"arbcore/internal/risk"
	"arbcore/internal/stats"
	"arbcore/pkg/config"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	log.Info("starting",
		zap.String("version", version),
		zap.String("scope", cfg.Scope),
		zap.String("symbol", cfg.Arbitrage.Symbol),
		zap.Int("venues", len(cfg.Venues)))

	if cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = uuid.NewString()
		log.Warn("no jwt secret configured, generated an ephemeral one")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	store, err := persistence.Open(cfg.DBPath, log)
	if err != nil {
		log.Fatal("store open failed", zap.Error(err))
	}
	defer store.Close()

	// Venue gateways behind the circuit-breaking registry
	registry := gateway.NewRegistry(gateway.Config{}, log)
	defer registry.Close()
	venueNames := make([]string, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		gw, err := gateway.Build(ctx, vc)
		if err != nil {
			log.Fatal("gateway build failed",
				zap.String("venue", vc.Name),
				zap.Error(err))
		}
		registry.Register(gw)
		venueNames = append(venueNames, vc.Name)
		log.Info("venue registered",
			zap.String("venue", vc.Name),
			zap.String("kind", vc.Kind))
	}
	if len(venueNames) < 2 {
		log.Fatal("need at least two venues to arbitrage")
	}

	gate := risk.NewGate(cfg.RiskLimits, bus, store, log)

	agg := market.NewAggregator(registry, cfg.Arbitrage.Symbol,
		cfg.Arbitrage.PollTimeout, cfg.Arbitrage.RefreshInterval, log)

	det := detector.New(detector.Config{
		MinSpreadPct:     cfg.Arbitrage.MinSpreadPct,
		MaxSpreadPct:     cfg.Arbitrage.MaxSpreadPct,
		MinVolume:        cfg.Arbitrage.MinVolume,
		MaxPositionSize:  cfg.Arbitrage.MaxPositionSize,
		MinConfidence:    cfg.Arbitrage.MinConfidence,
		OpportunityTTL:   cfg.Arbitrage.OpportunityTTL,
		LatencyThreshold: cfg.Arbitrage.LatencyThreshold,
		QuoteStaleAfter:  cfg.Arbitrage.QuoteStaleAfter,
	}, agg, bus, cfg.Scope, log)

	tracker := stats.NewTracker()

	exec := executor.New(registry, gate, store, tracker, bus, executor.Config{
		Scope:            cfg.Scope,
		ExecutionTimeout: cfg.Arbitrage.ExecutionTimeout,
		MaxConcurrent:    cfg.Arbitrage.MaxConcurrentTrades,
		AccountBalance:   cfg.AccountBalance,
		MaxSlippagePct:   cfg.Arbitrage.MaxSlippagePct,
	}, log)

	riskMon := risk.NewMonitor(gate, engine.MarketView{Agg: agg}, cfg.Scope,
		cfg.Arbitrage.MonitorInterval, log)

	// Optional redis event mirror
	if pub := redisfeed.NewPublisher(cfg.Redis, log); pub != nil {
		defer pub.Close()
		pub.Run(ctx, bus,
			events.TopicOpportunityDetected,
			events.TopicTradeCompleted,
			events.TopicTradePartial,
			events.TopicTradeFailed,
			events.TopicRiskEvent,
			events.TopicLimitsUpdated,
			events.TopicEnginePaused,
			events.TopicEmergencyStop)
		log.Info("redis event mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	monitor.Serve(ctx, cfg.Server.MetricsAddr, nil, log)

	srv := api.NewServer(gate, det, tracker, store, registry, agg, api.SystemMeta{
		Version: version,
		Scope:   cfg.Scope,
		Symbol:  cfg.Arbitrage.Symbol,
		Venues:  venueNames,
	}, cfg.Server.JWTSecret, log)
	srv.Start(ctx, cfg.Server.APIAddr)

	eng := engine.New(engine.Config{
		Aggregator:   agg,
		Detector:     det,
		Executor:     exec,
		RiskMonitor:  riskMon,
		Gate:         gate,
		ScanInterval: cfg.Arbitrage.ScanInterval,
	}, log)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.Info("shutdown signal received", zap.String("signal", s.String()))
		cancel()
	}()

	eng.Run(ctx)

	if err := store.Flush(); err != nil {
		log.Warn("final flush failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}
