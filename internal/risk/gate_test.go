package risk

import (
	"testing"

	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/events"
)

func newTestGate() *Gate {
	return NewGate(core.DefaultRiskLimits("arbitrage"), events.NewBus(), nil, zap.NewNop())
}

func countEvents(g *Gate, kind core.RiskEventKind) int {
	n := 0
	for _, ev := range g.Events(0) {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestCheckPositionSize(t *testing.T) {
	tests := []struct {
		name       string
		limit      float64
		size       float64
		balance    float64
		want       bool
		wantEvents int
	}{
		{
			name:    "within limit and balance",
			limit:   300,
			size:    200,
			balance: 10000,
			want:    true,
		},
		{
			name:       "exceeds limit",
			limit:      300,
			size:       500,
			balance:    10000,
			want:       false,
			wantEvents: 1,
		},
		{
			name:       "exceeds balance regardless of limit",
			limit:      0,
			size:       500,
			balance:    100,
			want:       false,
			wantEvents: 1,
		},
		{
			name:    "zero limit means unset",
			limit:   0,
			size:    50000,
			balance: 100000,
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate()
			limits := core.DefaultRiskLimits("arbitrage")
			limits.PositionSizeLimit = tt.limit
			if err := g.UpdateLimits("arbitrage", limits); err != nil {
				t.Fatalf("UpdateLimits returned error: %v", err)
			}

			got := g.CheckPositionSize("arbitrage", tt.size, tt.balance)
			if got != tt.want {
				t.Fatalf("CheckPositionSize=%v, expected %v", got, tt.want)
			}
			if n := countEvents(g, core.RiskPositionSize); n != tt.wantEvents {
				t.Fatalf("position_size_limit events=%d, expected %d", n, tt.wantEvents)
			}
			if tt.wantEvents > 0 {
				evs := g.Events(1)
				if evs[0].Severity != core.SeverityHigh {
					t.Fatalf("severity=%q, expected high", evs[0].Severity)
				}
			}
		})
	}
}

func TestCheckPositionSizeRejectsWhenOpenPositionsFull(t *testing.T) {
	g := newTestGate()
	limits := core.DefaultRiskLimits("arbitrage")
	limits.MaxOpenPositions = 1
	if err := g.UpdateLimits("arbitrage", limits); err != nil {
		t.Fatalf("UpdateLimits returned error: %v", err)
	}

	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 100, Amount: 1,
	})

	if g.CheckPositionSize("arbitrage", 100, 10000) {
		t.Fatal("expected rejection when open position cap is reached")
	}
}

func TestCheckDailyLimitsSeverities(t *testing.T) {
	tests := []struct {
		name     string
		trade    core.TradeExecution
		wantKind core.RiskEventKind
		wantSev  core.Severity
	}{
		{
			name:     "loss breach is critical",
			trade:    core.TradeExecution{NetProfit: -1500, Status: core.ExecCompleted},
			wantKind: core.RiskDailyLossLimit,
			wantSev:  core.SeverityCritical,
		},
		{
			name:     "profit target is medium",
			trade:    core.TradeExecution{NetProfit: 6000, Status: core.ExecCompleted},
			wantKind: core.RiskDailyProfitLimit,
			wantSev:  core.SeverityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate()
			g.RecordTrade("arbitrage", tt.trade)

			evs := g.CheckDailyLimits("arbitrage")
			if len(evs) != 1 {
				t.Fatalf("events=%d, expected 1", len(evs))
			}
			if evs[0].Kind != tt.wantKind {
				t.Fatalf("kind=%q, expected %q", evs[0].Kind, tt.wantKind)
			}
			if evs[0].Severity != tt.wantSev {
				t.Fatalf("severity=%q, expected %q", evs[0].Severity, tt.wantSev)
			}
		})
	}
}

func TestCriticalBreachTriggersEmergencyStopOnce(t *testing.T) {
	g := newTestGate()
	g.TrackPosition(core.Position{
		Scope: "arbitrage", Venue: "alpha", Symbol: "BTCUSDT",
		EntryPrice: 100, Amount: 1,
	})
	g.RecordTrade("arbitrage", core.TradeExecution{NetProfit: -2000})

	g.CheckDailyLimits("arbitrage")
	if !g.Halted("arbitrage") {
		t.Fatal("expected scope halted after critical breach")
	}
	if n := len(g.OpenPositions("arbitrage")); n != 0 {
		t.Fatalf("open positions=%d, expected 0 after emergency stop", n)
	}

	// Re-evaluating the same standing breach must not fire again.
	g.CheckDailyLimits("arbitrage")
	if n := countEvents(g, core.RiskEmergencyStop); n != 1 {
		t.Fatalf("emergency_stop events=%d, expected exactly 1", n)
	}
}

func TestUpdateLimitsRejectsInvalid(t *testing.T) {
	g := newTestGate()
	before := g.Limits("arbitrage")

	bad := core.DefaultRiskLimits("arbitrage")
	bad.DailyLossLimit = -5
	if err := g.UpdateLimits("arbitrage", bad); err == nil {
		t.Fatal("expected error for negative daily loss limit")
	}

	// Previous limits stay active.
	if got := g.Limits("arbitrage"); got != before {
		t.Fatalf("limits changed after rejected update: %+v", got)
	}
}

func TestUpdateLimitsEmitsEvent(t *testing.T) {
	g := newTestGate()
	limits := core.DefaultRiskLimits("arbitrage")
	limits.DailyLossLimit = 123

	if err := g.UpdateLimits("arbitrage", limits); err != nil {
		t.Fatalf("UpdateLimits returned error: %v", err)
	}
	if g.Limits("arbitrage").DailyLossLimit != 123 {
		t.Fatal("limits not replaced")
	}
	if n := countEvents(g, core.RiskLimitsUpdated); n != 1 {
		t.Fatalf("limits_updated events=%d, expected 1", n)
	}
}

func TestRecordTradeDrawdown(t *testing.T) {
	g := newTestGate()
	g.RecordTrade("arbitrage", core.TradeExecution{NetProfit: 100})
	g.RecordTrade("arbitrage", core.TradeExecution{NetProfit: -50})

	m := g.Metrics("arbitrage")
	if m.PeakEquity != 100 {
		t.Fatalf("PeakEquity=%v, expected 100", m.PeakEquity)
	}
	if m.CurrentDrawdown != 50 {
		t.Fatalf("CurrentDrawdown=%v%%, expected 50", m.CurrentDrawdown)
	}
	if m.DailyLoss != 50 {
		t.Fatalf("DailyLoss=%v, expected 50", m.DailyLoss)
	}
}

func TestResumeDoesNotLiftHalt(t *testing.T) {
	g := newTestGate()
	g.EmergencyStop("arbitrage", "test")
	g.Resume("arbitrage")

	if err := g.AllowTrading("arbitrage"); err != ErrTradingHalted {
		t.Fatalf("AllowTrading=%v, expected ErrTradingHalted", err)
	}
}
