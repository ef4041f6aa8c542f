package risk

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/events"
)

type stubView struct {
	prices     map[string]float64
	volatility float64
}

func (s *stubView) LastPrice(venue, symbol string) (float64, bool) {
	p, ok := s.prices[venue+":"+symbol]
	return p, ok
}

func (s *stubView) MaxVolatilityPct() float64 { return s.volatility }

func newTestMonitor(g *Gate, view *stubView) *Monitor {
	return NewMonitor(g, view, "arbitrage", time.Second, zap.NewNop())
}

func TestMonitorStopLossClosesPosition(t *testing.T) {
	g := newTestGate()
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 45000, Amount: 0.1, StopLoss: 44500,
	})
	view := &stubView{prices: map[string]float64{"alpha:BTCUSDT": 44400}}

	newTestMonitor(g, view).Evaluate()

	if n := countEvents(g, core.RiskStopLoss); n != 1 {
		t.Fatalf("stop_loss events=%d, expected 1", n)
	}
	if n := len(g.OpenPositions("arbitrage")); n != 0 {
		t.Fatalf("open positions=%d, expected 0 after close pass", n)
	}
}

func TestTrailingStopRatchetsUpwardOnly(t *testing.T) {
	g := newTestGate()
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 100, Amount: 1, TrailingPct: 0.05,
	})

	prices := []float64{100, 110, 105, 120, 118, 119}
	var prev float64
	for _, price := range prices {
		g.UpdatePositionPrice("arbitrage", "alpha", "BTCUSDT", price)
		pos := g.OpenPositions("arbitrage")[0]
		if pos.Trailing < prev {
			t.Fatalf("trailing fell from %.2f to %.2f at price %.2f", prev, pos.Trailing, price)
		}
		prev = pos.Trailing
	}

	// Peak was 120, so the level must be 120*(1-0.05).
	if want := 120 * 0.95; prev != want {
		t.Fatalf("trailing=%.2f, expected %.2f", prev, want)
	}
}

func TestTrailingStopTriggersOnFallback(t *testing.T) {
	g := newTestGate()
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 100, Amount: 1, TrailingPct: 0.05,
	})

	g.UpdatePositionPrice("arbitrage", "alpha", "BTCUSDT", 120)
	ev, hit := g.UpdatePositionPrice("arbitrage", "alpha", "BTCUSDT", 113)
	if !hit {
		t.Fatal("expected trailing stop trigger at 113 (level 114)")
	}
	if ev.Kind != core.RiskTrailingStop {
		t.Fatalf("kind=%q, expected trailing_stop", ev.Kind)
	}
}

func TestStopLossTakesPrecedenceOverTakeProfit(t *testing.T) {
	// Both satisfied at once is only possible with stale levels; the stop
	// must win.
	g := newTestGate()
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 100, Amount: 1, StopLoss: 150, TakeProfit: 120,
	})

	ev, hit := g.UpdatePositionPrice("arbitrage", "alpha", "BTCUSDT", 130)
	if !hit {
		t.Fatal("expected a trigger")
	}
	if ev.Kind != core.RiskStopLoss {
		t.Fatalf("kind=%q, expected stop_loss", ev.Kind)
	}
}

func TestZeroEntryPriceYieldsNoSignal(t *testing.T) {
	g := newTestGate()
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 0, Amount: 1, StopLoss: 50,
	})

	if _, hit := g.UpdatePositionPrice("arbitrage", "alpha", "BTCUSDT", 40); hit {
		t.Fatal("expected no signal for zero entry price")
	}
	if _, hit := g.UpdatePositionPrice("arbitrage", "alpha", "BTCUSDT", 0); hit {
		t.Fatal("expected no signal for non-positive price")
	}
}

func TestTakeProfitTriggers(t *testing.T) {
	g := newTestGate()
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 100, Amount: 1, TakeProfit: 110,
	})

	ev, hit := g.UpdatePositionPrice("arbitrage", "alpha", "BTCUSDT", 111)
	if !hit {
		t.Fatal("expected take profit trigger")
	}
	if ev.Kind != core.RiskTakeProfit || ev.Severity != core.SeverityMedium {
		t.Fatalf("got %q/%q, expected take_profit/medium", ev.Kind, ev.Severity)
	}
}

func TestMonitorVolatilityEvent(t *testing.T) {
	g := newTestGate()
	view := &stubView{prices: map[string]float64{}, volatility: 15.0}

	newTestMonitor(g, view).Evaluate()

	if n := countEvents(g, core.RiskMarketVolatility); n != 1 {
		t.Fatalf("market_volatility events=%d, expected 1", n)
	}
}

func TestMonitorValueAtRiskEvent(t *testing.T) {
	g := newTestGate()
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 20000, Amount: 1,
	})
	// Volatility below the 10% pause threshold but enough to push VaR
	// (20000 * 5% = 1000) past the 500 limit.
	view := &stubView{
		prices:     map[string]float64{"alpha:BTCUSDT": 20000},
		volatility: 5.0,
	}

	newTestMonitor(g, view).Evaluate()

	if n := countEvents(g, core.RiskVaRLimit); n != 1 {
		t.Fatalf("var_limit events=%d, expected 1", n)
	}
	if n := countEvents(g, core.RiskMarketVolatility); n != 0 {
		t.Fatalf("market_volatility events=%d, expected 0 below the pause threshold", n)
	}
}

func TestMonitorCorrelationEvent(t *testing.T) {
	g := NewGate(core.DefaultRiskLimits("arbitrage"), events.NewBus(), nil, zap.NewNop())
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 100, Amount: 1,
	})
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "beta", Symbol: "BTCUSDT",
		EntryPrice: 100, Amount: 1,
	})
	view := &stubView{prices: map[string]float64{}}

	newTestMonitor(g, view).Evaluate()

	// Both positions on one symbol: concentration 1.0 > 0.8.
	if n := countEvents(g, core.RiskCorrelation); n != 1 {
		t.Fatalf("correlation_risk events=%d, expected 1", n)
	}
	if !g.Paused("arbitrage") {
		t.Fatal("expected scope paused after high severity event")
	}
}
