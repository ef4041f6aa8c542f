// Package risk owns the per-scope limit sets, the open-position table and
// the risk event trail, and answers "may this trade proceed" queries.
package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/events"
	"arbcore/internal/monitor"
	"arbcore/pkg/config"
)

var (
	ErrTradingPaused = errors.New("trading is paused")
	ErrTradingHalted = errors.New("trading is halted")
)

// maxEventLog bounds the in-memory risk event trail.
const maxEventLog = 500

// EventStore persists risk events best-effort. A false return is logged,
// never propagated.
type EventStore interface {
	SaveRiskEvent(ev core.RiskEvent) bool
}

// Metrics tracks one scope's daily risk status.
type Metrics struct {
	DailyPnL        float64 `json:"daily_pnl"`
	DailyLoss       float64 `json:"daily_loss"`
	DailyProfit     float64 `json:"daily_profit"`
	DailyTrades     int     `json:"daily_trades"`
	TotalRealized   float64 `json:"total_realized"`
	PeakEquity      float64 `json:"peak_equity"`
	CurrentDrawdown float64 `json:"current_drawdown_pct"`
	MaxDrawdown     float64 `json:"max_drawdown_pct"`
}

// Gate is the risk gate. Constructed once at start-up and injected into
// every component that needs it; all state lives behind its lock.
type Gate struct {
	mu        sync.RWMutex
	limits    map[string]core.RiskLimits
	metrics   map[string]*Metrics
	positions map[string]map[string]*core.Position // scope -> key -> position
	paused    map[string]bool
	halted    map[string]bool
	fired     map[string]bool // scope+kind escalation latches
	eventLog  []core.RiskEvent

	defaults core.RiskLimits
	bus      *events.Bus
	store    EventStore
	log      *zap.Logger
}

// NewGate creates a risk gate with the given default limits.
func NewGate(defaults core.RiskLimits, bus *events.Bus, store EventStore, log *zap.Logger) *Gate {
	return &Gate{
		limits:    map[string]core.RiskLimits{defaults.Scope: defaults},
		metrics:   make(map[string]*Metrics),
		positions: make(map[string]map[string]*core.Position),
		paused:    make(map[string]bool),
		halted:    make(map[string]bool),
		fired:     make(map[string]bool),
		defaults:  defaults,
		bus:       bus,
		store:     store,
		log:       log,
	}
}

// Limits returns a copy of the active limit set for a scope.
func (g *Gate) Limits(scope string) core.RiskLimits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limitsLocked(scope)
}

func (g *Gate) limitsLocked(scope string) core.RiskLimits {
	if l, ok := g.limits[scope]; ok {
		return l
	}
	l := g.defaults
	l.Scope = scope
	return l
}

// UpdateLimits validates and atomically replaces the active limit set for a
// scope. In-flight evaluations keep the snapshot they already read.
func (g *Gate) UpdateLimits(scope string, limits core.RiskLimits) error {
	if err := config.ValidateLimits(limits); err != nil {
		return fmt.Errorf("update limits: %w", err)
	}
	limits.Scope = scope

	g.mu.Lock()
	g.limits[scope] = limits
	g.mu.Unlock()

	g.log.Info("risk limits updated", zap.String("scope", scope))
	ev := g.newEvent(scope, core.RiskLimitsUpdated, core.SeverityLow,
		"risk limits updated", limits)
	g.record(ev)
	g.bus.Publish(events.NewEnvelope(events.TopicLimitsUpdated, scope,
		string(core.RiskLimitsUpdated), core.SeverityLow, limits))
	return nil
}

// CheckPositionSize reports whether a proposed notional may be opened.
// Rejections emit one position_size_limit event of severity high.
func (g *Gate) CheckPositionSize(scope string, proposedSize, availableBalance float64) bool {
	g.mu.RLock()
	limits := g.limitsLocked(scope)
	openCount := len(g.positions[scope])
	g.mu.RUnlock()

	reject := func(msg string) bool {
		ev := g.newEvent(scope, core.RiskPositionSize, core.SeverityHigh, msg, map[string]float64{
			"proposed_size":     proposedSize,
			"available_balance": availableBalance,
			"limit":             limits.PositionSizeLimit,
		})
		g.record(ev)
		return false
	}

	if proposedSize > availableBalance {
		return reject(fmt.Sprintf("proposed size %.2f exceeds available balance %.2f",
			proposedSize, availableBalance))
	}
	if limits.PositionSizeLimit > 0 && proposedSize > limits.PositionSizeLimit {
		return reject(fmt.Sprintf("proposed size %.2f exceeds limit %.2f",
			proposedSize, limits.PositionSizeLimit))
	}
	if limits.MaxOpenPositions > 0 && openCount >= limits.MaxOpenPositions {
		return reject(fmt.Sprintf("max open positions reached: %d/%d",
			openCount, limits.MaxOpenPositions))
	}
	return true
}

// CheckDailyLimits compares the scope's daily metrics against its limits
// and returns one event per breached limit. Loss and drawdown breaches are
// critical, a reached profit target is medium. Returned events are also
// recorded and escalated.
func (g *Gate) CheckDailyLimits(scope string) []core.RiskEvent {
	g.mu.RLock()
	limits := g.limitsLocked(scope)
	m := g.metricsLocked(scope)
	snapshot := *m
	g.mu.RUnlock()

	var out []core.RiskEvent
	if limits.DailyLossLimit > 0 && snapshot.DailyLoss >= limits.DailyLossLimit {
		out = append(out, g.newEvent(scope, core.RiskDailyLossLimit, core.SeverityCritical,
			fmt.Sprintf("daily loss %.2f breaches limit %.2f", snapshot.DailyLoss, limits.DailyLossLimit),
			snapshot))
	}
	if limits.MaxDrawdownLimit > 0 && snapshot.CurrentDrawdown >= limits.MaxDrawdownLimit {
		out = append(out, g.newEvent(scope, core.RiskDrawdownLimit, core.SeverityCritical,
			fmt.Sprintf("drawdown %.2f%% breaches limit %.2f%%", snapshot.CurrentDrawdown, limits.MaxDrawdownLimit),
			snapshot))
	}
	if limits.DailyProfitLimit > 0 && snapshot.DailyProfit >= limits.DailyProfitLimit {
		out = append(out, g.newEvent(scope, core.RiskDailyProfitLimit, core.SeverityMedium,
			fmt.Sprintf("daily profit %.2f reached target %.2f", snapshot.DailyProfit, limits.DailyProfitLimit),
			snapshot))
	}

	for _, ev := range out {
		g.record(ev)
		g.escalate(ev)
	}
	return out
}

// RecordTrade folds a finalized trade's net result into the scope's daily
// metrics and drawdown tracking.
func (g *Gate) RecordTrade(scope string, trade core.TradeExecution) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.metricsLocked(scope)
	net := trade.NetProfit

	m.DailyTrades++
	m.DailyPnL += net
	if net < 0 {
		m.DailyLoss += -net
	} else {
		m.DailyProfit += net
	}

	m.TotalRealized += net
	if m.TotalRealized > m.PeakEquity {
		m.PeakEquity = m.TotalRealized
	}
	// zero peak means no profit high-water yet: no drawdown signal
	if m.PeakEquity > 0 {
		m.CurrentDrawdown = (m.PeakEquity - m.TotalRealized) / m.PeakEquity * 100
		if m.CurrentDrawdown > m.MaxDrawdown {
			m.MaxDrawdown = m.CurrentDrawdown
		}
	}
}

// Metrics returns a copy of the scope's current metrics.
func (g *Gate) Metrics(scope string) Metrics {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return *g.metricsLocked(scope)
}

func (g *Gate) metricsLocked(scope string) *Metrics {
	m, ok := g.metrics[scope]
	if !ok {
		m = &Metrics{}
		g.metrics[scope] = m
	}
	return m
}

// ResetDaily clears daily counters and escalation latches for all scopes.
// Wired to a midnight cron in the engine.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for scope, m := range g.metrics {
		g.log.Info("daily metrics reset",
			zap.String("scope", scope),
			zap.Float64("daily_pnl", m.DailyPnL),
			zap.Int("daily_trades", m.DailyTrades))
		m.DailyPnL = 0
		m.DailyLoss = 0
		m.DailyProfit = 0
		m.DailyTrades = 0
	}
	g.fired = make(map[string]bool)
}

// --- positions ---

func positionKey(p core.Position) string {
	return p.Venue + ":" + p.Symbol
}

// TrackPosition adds a position to the monitor's open set. The trailing
// level starts at the configured offset below entry.
func (g *Gate) TrackPosition(pos core.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = pos.EntryPrice
	}
	if pos.TrailingPct > 0 && pos.Trailing == 0 && pos.EntryPrice > 0 {
		pos.Trailing = pos.EntryPrice * (1 - pos.TrailingPct)
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}

	byScope, ok := g.positions[pos.Scope]
	if !ok {
		byScope = make(map[string]*core.Position)
		g.positions[pos.Scope] = byScope
	}
	byScope[positionKey(pos)] = &pos

	g.log.Info("position tracked",
		zap.String("scope", pos.Scope),
		zap.String("venue", pos.Venue),
		zap.String("symbol", pos.Symbol),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("amount", pos.Amount))
}

// ClosePosition removes a position from the open set.
func (g *Gate) ClosePosition(scope, venue, symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions[scope], venue+":"+symbol)
}

// OpenPositions returns a copy of the scope's open positions.
func (g *Gate) OpenPositions(scope string) []core.Position {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]core.Position, 0, len(g.positions[scope]))
	for _, p := range g.positions[scope] {
		out = append(out, *p)
	}
	return out
}

// --- pause / halt ---

// AllowTrading reports whether new submissions are allowed for the scope.
func (g *Gate) AllowTrading(scope string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.halted[scope] {
		return ErrTradingHalted
	}
	if g.paused[scope] {
		return ErrTradingPaused
	}
	return nil
}

// Pause halts new trade submission for a scope without touching positions.
func (g *Gate) Pause(scope, reason string) {
	g.mu.Lock()
	already := g.paused[scope]
	g.paused[scope] = true
	g.mu.Unlock()

	if already {
		return
	}
	g.log.Warn("trading paused", zap.String("scope", scope), zap.String("reason", reason))
	g.bus.Publish(events.NewEnvelope(events.TopicEnginePaused, scope, "paused",
		core.SeverityHigh, map[string]string{"reason": reason}))
}

// Resume lifts a pause. A halted scope stays halted.
func (g *Gate) Resume(scope string) {
	g.mu.Lock()
	g.paused[scope] = false
	g.mu.Unlock()
	g.log.Info("trading resumed", zap.String("scope", scope))
}

// Paused reports the pause flag.
func (g *Gate) Paused(scope string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused[scope]
}

// Halted reports the emergency-stop flag.
func (g *Gate) Halted(scope string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.halted[scope]
}

// EmergencyStop halts the scope, closes all open positions and records one
// emergency_stop event. Subsequent calls for the same scope are no-ops.
func (g *Gate) EmergencyStop(scope, reason string) {
	g.mu.Lock()
	if g.halted[scope] {
		g.mu.Unlock()
		return
	}
	g.halted[scope] = true
	closed := len(g.positions[scope])
	delete(g.positions, scope)
	g.mu.Unlock()

	g.log.Error("EMERGENCY STOP",
		zap.String("scope", scope),
		zap.String("reason", reason),
		zap.Int("positions_closed", closed))

	ev := g.newEvent(scope, core.RiskEmergencyStop, core.SeverityCritical,
		fmt.Sprintf("emergency stop: %s (%d positions closed)", reason, closed),
		map[string]any{"reason": reason, "positions_closed": closed})
	g.record(ev)
	g.bus.Publish(events.NewEnvelope(events.TopicEmergencyStop, scope,
		string(core.RiskEmergencyStop), core.SeverityCritical, ev))
}

// --- events ---

func (g *Gate) newEvent(scope string, kind core.RiskEventKind, sev core.Severity, msg string, payload any) core.RiskEvent {
	ev := core.RiskEvent{
		Scope:     scope,
		Kind:      kind,
		Severity:  sev,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// record appends the event to the trail, persists it best-effort and
// publishes it on the bus.
func (g *Gate) record(ev core.RiskEvent) {
	g.mu.Lock()
	g.eventLog = append(g.eventLog, ev)
	if len(g.eventLog) > maxEventLog {
		g.eventLog = g.eventLog[len(g.eventLog)-maxEventLog:]
	}
	g.mu.Unlock()

	monitor.RiskEvents.WithLabelValues(string(ev.Kind)).Inc()
	g.log.Warn("risk event",
		zap.String("scope", ev.Scope),
		zap.String("kind", string(ev.Kind)),
		zap.String("severity", string(ev.Severity)),
		zap.String("message", ev.Message))

	if g.store != nil && !g.store.SaveRiskEvent(ev) {
		g.log.Error("risk event persistence failed", zap.String("kind", string(ev.Kind)))
	}
	g.bus.Publish(events.FromRiskEvent(ev))
}

// escalate applies the escalation policy exactly once per scope and
// condition: critical stops the scope, high pauses it.
func (g *Gate) escalate(ev core.RiskEvent) {
	latch := ev.Scope + "|" + string(ev.Kind)

	g.mu.Lock()
	if g.fired[latch] {
		g.mu.Unlock()
		return
	}
	switch ev.Severity {
	case core.SeverityCritical, core.SeverityHigh:
		g.fired[latch] = true
	default:
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	switch ev.Severity {
	case core.SeverityCritical:
		g.EmergencyStop(ev.Scope, ev.Message)
	case core.SeverityHigh:
		g.Pause(ev.Scope, ev.Message)
	}
}

// Events returns the most recent risk events, newest last.
func (g *Gate) Events(limit int) []core.RiskEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.eventLog)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]core.RiskEvent, n)
	copy(out, g.eventLog[len(g.eventLog)-n:])
	return out
}
