package risk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arbcore/internal/core"
)

// MarketView is the monitor's read-only view of current market state.
type MarketView interface {
	LastPrice(venue, symbol string) (float64, bool)
	MaxVolatilityPct() float64
}

// trigger pairs a position with the event its evaluation produced.
type trigger struct {
	pos core.Position
	ev  core.RiskEvent
}

// Monitor is the background position monitor: it walks the open-position
// set on a fixed cadence, evaluates stop/target/trailing triggers and the
// daily limits, and closes triggered positions in a single pass.
type Monitor struct {
	gate     *Gate
	view     MarketView
	scope    string
	interval time.Duration
	log      *zap.Logger
}

// NewMonitor creates a monitor for one scope.
func NewMonitor(gate *Gate, view MarketView, scope string, interval time.Duration, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		gate:     gate,
		view:     view,
		scope:    scope,
		interval: interval,
		log:      log,
	}
}

// Run evaluates until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("risk monitor started",
		zap.String("scope", m.scope),
		zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.log.Info("risk monitor stopped")
			return
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

// Evaluate runs one monitor cycle.
func (m *Monitor) Evaluate() {
	var triggered []trigger
	for _, pos := range m.gate.OpenPositions(m.scope) {
		price, ok := m.view.LastPrice(pos.Venue, pos.Symbol)
		if !ok {
			continue
		}
		if ev, hit := m.gate.UpdatePositionPrice(m.scope, pos.Venue, pos.Symbol, price); hit {
			triggered = append(triggered, trigger{pos: pos, ev: ev})
		}
	}

	// close pass: every triggered position is unwound, never left open
	for _, t := range triggered {
		m.gate.record(t.ev)
		m.gate.escalate(t.ev)
		m.gate.ClosePosition(m.scope, t.pos.Venue, t.pos.Symbol)
		m.log.Info("position closed by monitor",
			zap.String("venue", t.pos.Venue),
			zap.String("symbol", t.pos.Symbol),
			zap.String("kind", string(t.ev.Kind)))
	}

	m.gate.CheckDailyLimits(m.scope)
	m.checkVolatility()
	m.checkVaR()
	m.checkCorrelation()
}

// checkVaR approximates one-cycle value at risk as open notional times
// realized volatility and compares it against var_limit.
func (m *Monitor) checkVaR() {
	limits := m.gate.Limits(m.scope)
	if limits.VaRLimit <= 0 {
		return
	}
	var notional float64
	for _, p := range m.gate.OpenPositions(m.scope) {
		notional += p.Notional()
	}
	if notional <= 0 {
		return
	}
	vaR := notional * m.view.MaxVolatilityPct() / 100
	if vaR <= limits.VaRLimit {
		return
	}
	ev := m.gate.newEvent(m.scope, core.RiskVaRLimit, core.SeverityMedium,
		fmt.Sprintf("value at risk %.2f above limit %.2f", vaR, limits.VaRLimit),
		map[string]float64{"var": vaR, "var_limit": limits.VaRLimit, "open_notional": notional})
	m.gate.record(ev)
}

func (m *Monitor) checkVolatility() {
	limits := m.gate.Limits(m.scope)
	if limits.VolatilityThreshold <= 0 {
		return
	}
	vol := m.view.MaxVolatilityPct()
	if vol < limits.VolatilityThreshold {
		return
	}
	ev := m.gate.newEvent(m.scope, core.RiskMarketVolatility, core.SeverityMedium,
		fmt.Sprintf("realized volatility %.2f%% above threshold %.2f%%", vol, limits.VolatilityThreshold),
		map[string]float64{"volatility_pct": vol, "threshold": limits.VolatilityThreshold})
	m.gate.record(ev)
}

// checkCorrelation flags concentration: the share of open positions on the
// single most common symbol, compared against max_correlation.
func (m *Monitor) checkCorrelation() {
	limits := m.gate.Limits(m.scope)
	if limits.MaxCorrelation <= 0 || limits.MaxCorrelation >= 1 {
		return
	}
	positions := m.gate.OpenPositions(m.scope)
	if len(positions) < 2 {
		return
	}

	bySymbol := make(map[string]int)
	for _, p := range positions {
		bySymbol[p.Symbol]++
	}
	var peak int
	for _, n := range bySymbol {
		if n > peak {
			peak = n
		}
	}
	ratio := float64(peak) / float64(len(positions))
	if ratio <= limits.MaxCorrelation {
		return
	}

	ev := m.gate.newEvent(m.scope, core.RiskCorrelation, core.SeverityHigh,
		fmt.Sprintf("position concentration %.2f above max correlation %.2f", ratio, limits.MaxCorrelation),
		map[string]float64{"concentration": ratio, "max_correlation": limits.MaxCorrelation})
	m.gate.record(ev)
	m.gate.escalate(ev)
}

// UpdatePositionPrice applies a new price to a tracked position: the
// trailing level is ratcheted first, then triggers are checked, all under
// one lock acquisition so the update and the decision cannot interleave.
// Stop-loss takes precedence over take-profit. A non-positive price or a
// zero entry price yields no signal.
func (g *Gate) UpdatePositionPrice(scope, venue, symbol string, price float64) (core.RiskEvent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[scope][venue+":"+symbol]
	if !ok || price <= 0 || pos.EntryPrice <= 0 {
		return core.RiskEvent{}, false
	}

	pos.CurrentPrice = price

	// trailing ratchets upward only
	if pos.TrailingPct > 0 {
		if next := price * (1 - pos.TrailingPct); next > pos.Trailing {
			pos.Trailing = next
		}
	}

	payload := map[string]float64{
		"entry_price":   pos.EntryPrice,
		"current_price": price,
		"stop_loss":     pos.StopLoss,
		"take_profit":   pos.TakeProfit,
		"trailing":      pos.Trailing,
		"amount":        pos.Amount,
	}

	switch {
	case pos.StopLoss > 0 && price <= pos.StopLoss:
		return g.newEvent(scope, core.RiskStopLoss, core.SeverityHigh,
			fmt.Sprintf("stop loss triggered at %.2f (stop %.2f)", price, pos.StopLoss),
			payload), true
	case pos.Trailing > 0 && pos.TrailingPct > 0 && price <= pos.Trailing:
		return g.newEvent(scope, core.RiskTrailingStop, core.SeverityHigh,
			fmt.Sprintf("trailing stop triggered at %.2f (level %.2f)", price, pos.Trailing),
			payload), true
	case pos.TakeProfit > 0 && price >= pos.TakeProfit:
		return g.newEvent(scope, core.RiskTakeProfit, core.SeverityMedium,
			fmt.Sprintf("take profit triggered at %.2f (target %.2f)", price, pos.TakeProfit),
			payload), true
	}
	return core.RiskEvent{}, false
}
