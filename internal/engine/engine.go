// Package engine owns the run loops: snapshot refresh, opportunity
// scanning, execution and position monitoring, plus the daily risk reset.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"arbcore/internal/detector"
	"arbcore/internal/executor"
	"arbcore/internal/market"
	"arbcore/internal/risk"
)

// Config wires the engine's components together.
type Config struct {
	Aggregator  *market.Aggregator
	Detector    *detector.Detector
	Executor    *executor.Executor
	RiskMonitor *risk.Monitor
	Gate        *risk.Gate

	ScanInterval time.Duration
}

// Engine drives the scan-and-execute cycle until its context ends.
type Engine struct {
	agg     *market.Aggregator
	det     *detector.Detector
	exec    *executor.Executor
	riskMon *risk.Monitor
	gate    *risk.Gate

	scanInterval time.Duration
	cron         *cron.Cron
	log          *zap.Logger
	wg           sync.WaitGroup
}

// New creates the engine.
func New(cfg Config, log *zap.Logger) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	return &Engine{
		agg:          cfg.Aggregator,
		det:          cfg.Detector,
		exec:         cfg.Executor,
		riskMon:      cfg.RiskMonitor,
		gate:         cfg.Gate,
		scanInterval: cfg.ScanInterval,
		cron:         cron.New(cron.WithLocation(time.UTC)),
		log:          log,
	}
}

// Run starts all loops and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("engine starting", zap.Duration("scan_interval", e.scanInterval))

	// Daily metrics and latch reset at midnight UTC.
	if _, err := e.cron.AddFunc("0 0 * * *", func() {
		e.log.Info("daily risk reset")
		e.gate.ResetDaily()
	}); err != nil {
		e.log.Error("cron schedule failed", zap.Error(err))
	}
	e.cron.Start()

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.agg.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.riskMon.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.scanLoop(ctx)
	}()

	<-ctx.Done()
	cronCtx := e.cron.Stop()
	<-cronCtx.Done()
	e.wg.Wait()
	e.log.Info("engine stopped")
}

// scanLoop turns each fresh snapshot into ranked candidates and hands the
// best one to the executor. A cycle that finds nothing executable is the
// normal case, not an error.
func (e *Engine) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(e.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

func (e *Engine) cycle(ctx context.Context) {
	candidates := e.det.Scan(e.agg.Snapshot())
	if len(candidates) == 0 {
		return
	}

	trade, err := e.exec.ExecuteBest(ctx, candidates)
	switch {
	case err == nil:
		// Executed candidates leave the set; re-detection on the next scan
		// is cheaper than tracking fill state here.
		for _, opp := range candidates {
			if opp.ID == trade.OpportunityID {
				e.det.Remove(opp)
				break
			}
		}
	case errors.Is(err, executor.ErrNoOpportunity):
	case errors.Is(err, risk.ErrTradingPaused), errors.Is(err, risk.ErrTradingHalted):
		e.log.Debug("execution blocked by risk gate", zap.Error(err))
	default:
		e.log.Error("execution cycle failed", zap.Error(err))
	}
}

// MarketView adapts the aggregator to what the risk monitor needs.
type MarketView struct {
	Agg *market.Aggregator
}

// LastPrice reports the venue's latest mid price from the shared snapshot.
func (v MarketView) LastPrice(venue, symbol string) (float64, bool) {
	q, ok := v.Agg.Snapshot().Quotes[venue]
	if !ok || q.Symbol != symbol {
		return 0, false
	}
	mid := q.Mid()
	return mid, mid > 0
}

// MaxVolatilityPct reports the highest per-venue realized volatility.
func (v MarketView) MaxVolatilityPct() float64 {
	return v.Agg.MaxVolatilityPct()
}
