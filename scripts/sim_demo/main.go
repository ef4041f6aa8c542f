// Command sim_demo runs the engine against two simulated venues for a
// short burst and prints what it detected and executed.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arbcore/internal/detector"
	"arbcore/internal/engine"
	"arbcore/internal/events"
	"arbcore/internal/executor"
	"arbcore/internal/gateway"
	"arbcore/internal/market"
	"arbcore/internal/risk"
	"arbcore/internal/stats"
	"arbcore/pkg/config"
)

func main() {
	duration := flag.Duration("duration", 30*time.Second, "how long to run")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	cfg := config.Default()
	// Loosen the band so the random walks cross often enough to watch.
	cfg.Arbitrage.MinSpreadPct = 0.05
	cfg.Arbitrage.MinConfidence = 0.3

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	bus := events.NewBus()
	registry := gateway.NewRegistry(gateway.Config{}, log)
	defer registry.Close()
	for _, vc := range cfg.Venues {
		gw, err := gateway.Build(ctx, vc)
		if err != nil {
			log.Fatal("gateway build failed", zap.Error(err))
		}
		registry.Register(gw)
	}

	gate := risk.NewGate(cfg.RiskLimits, bus, nil, log)
	agg := market.NewAggregator(registry, cfg.Arbitrage.Symbol,
		cfg.Arbitrage.PollTimeout, 200*time.Millisecond, log)
	det := detector.New(detector.Config{
		MinSpreadPct:    cfg.Arbitrage.MinSpreadPct,
		MaxSpreadPct:    cfg.Arbitrage.MaxSpreadPct,
		MaxPositionSize: cfg.Arbitrage.MaxPositionSize,
		OpportunityTTL:  cfg.Arbitrage.OpportunityTTL,
		MinConfidence:   cfg.Arbitrage.MinConfidence,
		QuoteStaleAfter: cfg.Arbitrage.QuoteStaleAfter,
	}, agg, bus, cfg.Scope, log)
	tracker := stats.NewTracker()
	exec := executor.New(registry, gate, nil, tracker, bus, executor.Config{
		Scope:            cfg.Scope,
		ExecutionTimeout: cfg.Arbitrage.ExecutionTimeout,
		MaxConcurrent:    cfg.Arbitrage.MaxConcurrentTrades,
		AccountBalance:   cfg.AccountBalance,
	}, log)
	riskMon := risk.NewMonitor(gate, engine.MarketView{Agg: agg}, cfg.Scope,
		cfg.Arbitrage.MonitorInterval, log)

	eng := engine.New(engine.Config{
		Aggregator:   agg,
		Detector:     det,
		Executor:     exec,
		RiskMonitor:  riskMon,
		Gate:         gate,
		ScanInterval: 200 * time.Millisecond,
	}, log)

	eng.Run(ctx)

	report := tracker.Report()
	fmt.Printf("\ntrades=%d completed=%d partial=%d failed=%d net=%.4f success=%.1f%%\n",
		report.TotalTrades, report.Completed, report.Partial, report.Failed,
		report.TotalNetProfit, report.SuccessRate)
}
