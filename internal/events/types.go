package events

import (
	"encoding/json"
	"time"

	"arbcore/internal/core"
)

// Topic enumerates high-level topics inside the arbitrage core.
type Topic string

const (
	TopicOpportunityDetected Topic = "opportunity.detected"
	TopicTradeCompleted      Topic = "trade.completed"
	TopicTradePartial        Topic = "trade.partial"
	TopicTradeFailed         Topic = "trade.failed"
	TopicRiskEvent           Topic = "risk.event"
	TopicLimitsUpdated       Topic = "risk.limits_updated"
	TopicEnginePaused        Topic = "engine.paused"
	TopicEmergencyStop       Topic = "engine.emergency_stop"
)

// Envelope is the fixed event shape carried on every topic. Subscribers
// switch on Topic and decode the payload they own; no key probing.
type Envelope struct {
	Topic     Topic           `json:"topic"`
	Scope     string          `json:"scope"`
	Kind      string          `json:"kind"`
	Severity  core.Severity   `json:"severity"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope, marshaling the payload. A payload that
// fails to marshal is dropped rather than aborting the publish.
func NewEnvelope(topic Topic, scope, kind string, sev core.Severity, payload any) Envelope {
	env := Envelope{
		Topic:     topic,
		Scope:     scope,
		Kind:      kind,
		Severity:  sev,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			env.Payload = raw
		}
	}
	return env
}

// FromRiskEvent wraps a risk event for the bus.
func FromRiskEvent(ev core.RiskEvent) Envelope {
	return Envelope{
		Topic:     TopicRiskEvent,
		Scope:     ev.Scope,
		Kind:      string(ev.Kind),
		Severity:  ev.Severity,
		Timestamp: ev.Timestamp,
		Payload:   ev.Payload,
	}
}
