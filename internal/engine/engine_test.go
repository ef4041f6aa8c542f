package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/detector"
	"arbcore/internal/events"
	"arbcore/internal/executor"
	"arbcore/internal/gateway"
	"arbcore/internal/market"
	"arbcore/internal/risk"
	"arbcore/internal/stats"
	exchange "arbcore/pkg/exchanges/common"
)

// fixedVenue serves a constant book and fills every order at the quoted
// price immediately.
type fixedVenue struct {
	name string
	bid  float64
	ask  float64
}

func (v *fixedVenue) Name() string { return v.name }

func (v *fixedVenue) GetQuote(ctx context.Context, symbol string) (core.VenueQuote, error) {
	return core.VenueQuote{
		Venue:      v.name,
		Symbol:     symbol,
		BidPrice:   v.bid,
		BidSize:    50,
		AskPrice:   v.ask,
		AskSize:    50,
		ObservedAt: time.Now().UTC(),
		Latency:    5 * time.Millisecond,
		TakerFee:   0.001,
	}, nil
}

func (v *fixedVenue) GetDepth(ctx context.Context, symbol string, levels int) (core.Depth, error) {
	return core.Depth{}, nil
}

func (v *fixedVenue) GetFees() core.FeeSchedule {
	return core.FeeSchedule{Taker: 0.001}
}

func (v *fixedVenue) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	price := v.ask
	if req.Side == exchange.SideSell {
		price = v.bid
	}
	return exchange.OrderResult{
		OrderID:     v.name + "-1",
		ClientID:    req.ClientID,
		Status:      exchange.StatusFilled,
		FilledQty:   req.Qty,
		FilledPrice: price,
		Fee:         price * req.Qty * 0.001,
	}, nil
}

func (v *fixedVenue) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func newTestEngine(t *testing.T) (*Engine, *detector.Detector, *stats.Tracker) {
	t.Helper()
	log := zap.NewNop()
	bus := events.NewBus()

	registry := gateway.NewRegistry(gateway.Config{}, log)
	registry.Register(&fixedVenue{name: "alpha", bid: 100.00, ask: 100.10})
	registry.Register(&fixedVenue{name: "beta", bid: 101.50, ask: 101.60})

	agg := market.NewAggregator(registry, "BTCUSDT", time.Second, time.Second, log)
	det := detector.New(detector.Config{
		MinSpreadPct:    0.5,
		MaxSpreadPct:    10.0,
		MaxPositionSize: 1000,
		OpportunityTTL:  10 * time.Second,
		MinConfidence:   0.2,
		QuoteStaleAfter: 5 * time.Second,
	}, agg, bus, "arbitrage", log)

	gate := risk.NewGate(core.DefaultRiskLimits("arbitrage"), bus, nil, log)
	tracker := stats.NewTracker()
	exec := executor.New(registry, gate, nil, tracker, bus, executor.Config{
		Scope:            "arbitrage",
		ExecutionTimeout: time.Second,
		MaxConcurrent:    1,
		AccountBalance:   100000,
	}, log)
	riskMon := risk.NewMonitor(gate, MarketView{Agg: agg}, "arbitrage", time.Second, log)

	eng := New(Config{
		Aggregator:   agg,
		Detector:     det,
		Executor:     exec,
		RiskMonitor:  riskMon,
		Gate:         gate,
		ScanInterval: 10 * time.Millisecond,
	}, log)
	return eng, det, tracker
}

func TestCycleExecutesDetectedOpportunity(t *testing.T) {
	eng, det, tracker := newTestEngine(t)
	ctx := context.Background()

	eng.agg.Refresh(ctx)
	eng.cycle(ctx)

	report := tracker.Report()
	require.Equal(t, 1, report.TotalTrades)
	require.Equal(t, 1, report.Completed)
	require.Greater(t, report.TotalNetProfit, 0.0)

	// executed candidate left the set
	require.Empty(t, det.Candidates())
}

func TestCycleWithoutSnapshotIsNoop(t *testing.T) {
	eng, _, tracker := newTestEngine(t)

	eng.cycle(context.Background())
	require.Equal(t, 0, tracker.Report().TotalTrades)
}

func TestRunStopsOnCancel(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}

func TestMarketViewLastPrice(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.agg.Refresh(context.Background())

	view := MarketView{Agg: eng.agg}
	price, ok := view.LastPrice("alpha", "BTCUSDT")
	require.True(t, ok)
	require.InDelta(t, 100.05, price, 1e-9)

	_, ok = view.LastPrice("gamma", "BTCUSDT")
	require.False(t, ok)
}
