// Package executor coordinates the two-leg execution of detected
// opportunities against their venue gateways.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/events"
	"arbcore/internal/gateway"
	"arbcore/internal/monitor"
	"arbcore/internal/risk"
	exchange "arbcore/pkg/exchanges/common"
)

// ErrNoOpportunity is returned when no candidate survives selection.
var ErrNoOpportunity = errors.New("no executable opportunity")

// TradeStore persists finalized trades best-effort.
type TradeStore interface {
	SaveTrade(trade core.TradeExecution) bool
}

// Recorder receives finalized trades (statistics).
type Recorder interface {
	Record(trade core.TradeExecution)
}

// Config holds execution parameters.
type Config struct {
	Scope            string
	ExecutionTimeout time.Duration
	MaxConcurrent    int
	AccountBalance   float64
	MaxSlippagePct   float64 // realized slippage above this is flagged
	UnwindStopPct    float64 // stop offset applied to a surviving partial leg
	UnwindTrailPct   float64 // trailing offset for the same
}

// Executor picks the best candidate, re-validates it through the risk gate
// and runs both legs concurrently under one shared timeout. At most one
// execution is in flight per (buy, sell) venue pair.
type Executor struct {
	registry *gateway.Registry
	gate     *risk.Gate
	store    TradeStore
	stats    Recorder
	bus      *events.Bus
	cfg      Config
	log      *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
	sem      chan struct{}
}

// New creates an executor.
func New(registry *gateway.Registry, gate *risk.Gate, store TradeStore, stats Recorder, bus *events.Bus, cfg Config, log *zap.Logger) *Executor {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.UnwindStopPct <= 0 {
		cfg.UnwindStopPct = 0.02
	}
	if cfg.UnwindTrailPct <= 0 {
		cfg.UnwindTrailPct = 0.01
	}
	return &Executor{
		registry: registry,
		gate:     gate,
		store:    store,
		stats:    stats,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		inflight: make(map[string]bool),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

// ExecuteBest runs the highest-net-profit unexpired candidate. Candidates
// arrive already ranked; the first one that passes selection and the risk
// gate is executed. Returns ErrNoOpportunity when nothing is executable.
func (e *Executor) ExecuteBest(ctx context.Context, candidates []core.ArbitrageOpportunity) (*core.TradeExecution, error) {
	if err := e.gate.AllowTrading(e.cfg.Scope); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, opp := range candidates {
		if opp.Expired(now) {
			continue
		}
		// invariant check: a negative spread or empty volume reaching this
		// point is a bug upstream; skip the candidate, never the loop
		if opp.SellPrice <= opp.BuyPrice || opp.Volume <= 0 || opp.NetProfit <= 0 {
			e.log.Error("invalid candidate skipped",
				zap.String("id", opp.ID),
				zap.Float64("buy_price", opp.BuyPrice),
				zap.Float64("sell_price", opp.SellPrice),
				zap.Float64("volume", opp.Volume))
			continue
		}
		if !e.tryReserve(opp.BuyVenue, opp.SellVenue) {
			continue
		}

		notional := opp.Volume * opp.BuyPrice
		if !e.gate.CheckPositionSize(e.cfg.Scope, notional, e.cfg.AccountBalance) {
			e.release(opp.BuyVenue, opp.SellVenue)
			continue
		}

		select {
		case e.sem <- struct{}{}:
		default:
			e.release(opp.BuyVenue, opp.SellVenue)
			return nil, ErrNoOpportunity
		}

		trade, err := e.execute(ctx, opp)
		<-e.sem
		e.release(opp.BuyVenue, opp.SellVenue)
		return trade, err
	}
	return nil, ErrNoOpportunity
}

func pairKey(buy, sell string) string { return buy + "|" + sell }

func (e *Executor) tryReserve(buy, sell string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := pairKey(buy, sell)
	if e.inflight[key] {
		return false
	}
	e.inflight[key] = true
	return true
}

func (e *Executor) release(buy, sell string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, pairKey(buy, sell))
}

type legResult struct {
	side   exchange.Side
	venue  string
	quoted float64
	res    exchange.OrderResult
	err    error
}

// execute submits both legs concurrently and reconciles the outcome under
// one shared timeout.
func (e *Executor) execute(ctx context.Context, opp core.ArbitrageOpportunity) (*core.TradeExecution, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	started := time.Now()
	results := make(chan legResult, 2)

	go e.submitLeg(execCtx, results, opp, exchange.SideBuy, opp.BuyVenue, opp.BuyPrice)
	go e.submitLeg(execCtx, results, opp, exchange.SideSell, opp.SellVenue, opp.SellPrice)

	var buy, sell legResult
	for i := 0; i < 2; i++ {
		r := <-results
		if r.side == exchange.SideBuy {
			buy = r
		} else {
			sell = r
		}
	}
	duration := time.Since(started)

	timedOut := errors.Is(buy.err, context.DeadlineExceeded) ||
		errors.Is(sell.err, context.DeadlineExceeded)

	trade := core.TradeExecution{
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		Amount:        opp.Volume,
		BuyVenue:      opp.BuyVenue,
		SellVenue:     opp.SellVenue,
		BuyOrderID:    buy.res.OrderID,
		SellOrderID:   sell.res.OrderID,
		Duration:      duration,
		ExecutedAt:    started.UTC(),
	}

	buyFilled := buy.err == nil && buy.res.Filled()
	sellFilled := sell.err == nil && sell.res.Filled()

	if buyFilled && sellFilled {
		return e.finalizeCompleted(&trade, opp, buy, sell), nil
	}

	// reconcile: a leg that reached its venue without filling is cancelled;
	// a cancel that fails means the leg filled and must be settled, never
	// ignored
	buySurvives := buyFilled || e.cancelLeg(opp.Symbol, opp.BuyVenue, buy.res.OrderID)
	sellSurvives := sellFilled || e.cancelLeg(opp.Symbol, opp.SellVenue, sell.res.OrderID)

	switch {
	case buySurvives && sellSurvives:
		e.log.Warn("both legs live after reconciliation, settling trade",
			zap.String("opportunity", opp.ID))
		return e.finalizeCompleted(&trade, opp, buy, sell), nil

	case buySurvives != sellSurvives:
		return e.finalizePartial(trade, opp, buy, sell, buySurvives), nil

	default:
		trade.Status = core.ExecFailed
		e.finalize(&trade, events.TopicTradeFailed)
		if timedOut {
			e.log.Warn("execution timed out",
				zap.String("opportunity", opp.ID),
				zap.Duration("timeout", e.cfg.ExecutionTimeout))
		} else {
			e.log.Warn("both legs failed",
				zap.String("opportunity", opp.ID),
				zap.NamedError("buy_err", buy.err),
				zap.NamedError("sell_err", sell.err))
		}
		return &trade, nil
	}
}

// legPrice returns the fill price, falling back to the quoted price for a
// leg settled without a fill report (cancel failed after the venue ack).
func legPrice(r legResult) float64 {
	if r.res.FilledPrice > 0 {
		return r.res.FilledPrice
	}
	return r.quoted
}

// finalizeCompleted settles both legs and records the trade as completed.
func (e *Executor) finalizeCompleted(trade *core.TradeExecution, opp core.ArbitrageOpportunity, buy, sell legResult) *core.TradeExecution {
	trade.BuyPrice = legPrice(buy)
	trade.SellPrice = legPrice(sell)
	trade.GrossProfit = (trade.SellPrice - trade.BuyPrice) * opp.Volume
	trade.Fees = buy.res.Fee + sell.res.Fee
	trade.NetProfit = trade.GrossProfit - trade.Fees
	trade.SlippagePct = (slippagePct(buy) + slippagePct(sell)) / 2
	trade.Status = core.ExecCompleted
	e.finalize(trade, events.TopicTradeCompleted)
	if e.cfg.MaxSlippagePct > 0 && trade.SlippagePct > e.cfg.MaxSlippagePct {
		e.log.Warn("slippage above threshold",
			zap.String("opportunity", opp.ID),
			zap.Float64("slippage_pct", trade.SlippagePct),
			zap.Float64("threshold", e.cfg.MaxSlippagePct))
	}
	e.log.Info("execution completed",
		zap.String("opportunity", opp.ID),
		zap.Float64("net_profit", trade.NetProfit),
		zap.Float64("slippage_pct", trade.SlippagePct),
		zap.Duration("duration", trade.Duration))
	return trade
}

func (e *Executor) submitLeg(ctx context.Context, out chan<- legResult, opp core.ArbitrageOpportunity, side exchange.Side, venue string, quoted float64) {
	result := legResult{side: side, venue: venue, quoted: quoted}
	defer func() { out <- result }()

	gw, err := e.registry.Get(venue)
	if err != nil {
		result.err = err
		return
	}
	result.res, result.err = gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:   opp.Symbol,
		Side:     side,
		Type:     exchange.OrderTypeMarket,
		Qty:      opp.Volume,
		ClientID: opp.ID + ":" + string(side),
	})
	if result.err != nil {
		e.registry.RecordFailure(venue)
	}
}

// cancelLeg attempts to cancel an order; returns true when the cancel
// failed and the leg must be treated as filled.
func (e *Executor) cancelLeg(symbol, venue, orderID string) bool {
	if orderID == "" {
		return false
	}
	gw, err := e.registry.Get(venue)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.CancelOrder(ctx, symbol, orderID); err != nil {
		e.log.Warn("leg cancel failed, treating as filled",
			zap.String("venue", venue),
			zap.String("order_id", orderID),
			zap.Error(err))
		return true
	}
	return false
}

// finalizePartial records the trade as partial and hands the surviving leg
// to the risk monitor for managed unwind.
func (e *Executor) finalizePartial(trade core.TradeExecution, opp core.ArbitrageOpportunity, buy, sell legResult, buySurvived bool) *core.TradeExecution {
	survivor := sell
	if buySurvived {
		survivor = buy
	}

	trade.Status = core.ExecPartial
	if buySurvived {
		trade.BuyPrice = buy.res.FilledPrice
		trade.Fees = buy.res.Fee
	} else {
		trade.SellPrice = sell.res.FilledPrice
		trade.Fees = sell.res.Fee
	}
	trade.SlippagePct = slippagePct(survivor)
	e.finalize(&trade, events.TopicTradePartial)

	entry := survivor.res.FilledPrice
	if entry <= 0 {
		entry = survivor.quoted
	}
	e.gate.TrackPosition(core.Position{
		Scope:       e.cfg.Scope,
		Symbol:      opp.Symbol,
		Venue:       survivor.venue,
		EntryPrice:  entry,
		Amount:      opp.Volume,
		StopLoss:    entry * (1 - e.cfg.UnwindStopPct),
		TrailingPct: e.cfg.UnwindTrailPct,
	})

	e.log.Warn("partial execution, surviving leg handed to risk monitor",
		zap.String("opportunity", opp.ID),
		zap.String("venue", survivor.venue),
		zap.String("side", string(survivor.side)),
		zap.Float64("entry", entry))
	return &trade
}

// finalize records a terminal trade into the ledger, the stats fold, the
// risk metrics and the event bus. Persistence failures never block.
func (e *Executor) finalize(trade *core.TradeExecution, topic events.Topic) {
	if e.store != nil && !e.store.SaveTrade(*trade) {
		e.log.Error("trade persistence failed", zap.String("opportunity", trade.OpportunityID))
	}
	if e.stats != nil {
		e.stats.Record(*trade)
	}
	e.gate.RecordTrade(e.cfg.Scope, *trade)

	monitor.TradesByStatus.WithLabelValues(string(trade.Status)).Inc()
	monitor.NetProfit.Add(trade.NetProfit)
	monitor.ExecutionDuration.Observe(trade.Duration.Seconds())
	monitor.OpenPositions.Set(float64(len(e.gate.OpenPositions(e.cfg.Scope))))

	sev := core.SeverityLow
	if trade.Status != core.ExecCompleted {
		sev = core.SeverityMedium
	}
	e.bus.Publish(events.NewEnvelope(topic, e.cfg.Scope, string(trade.Status), sev, trade))

	if trade.Status == core.ExecPartial {
		e.bus.Publish(events.FromRiskEvent(core.RiskEvent{
			Scope:     e.cfg.Scope,
			Kind:      core.RiskPartialExec,
			Severity:  core.SeverityMedium,
			Message:   fmt.Sprintf("partial execution of %s", trade.OpportunityID),
			Timestamp: time.Now().UTC(),
		}))
	}
}

func slippagePct(r legResult) float64 {
	if r.quoted <= 0 || r.res.FilledPrice <= 0 {
		return 0
	}
	return math.Abs(r.res.FilledPrice-r.quoted) / r.quoted * 100
}
