// Package core holds the domain types shared by the market, detector,
// risk and execution layers.
package core

import (
	"encoding/json"
	"time"
)

// VenueQuote is one venue's top-of-book observation for a symbol.
// It is immutable: the next poll supersedes it, never mutates it.
type VenueQuote struct {
	Venue      string        `json:"venue"`
	Symbol     string        `json:"symbol"`
	BidPrice   float64       `json:"bid_price"`
	BidSize    float64       `json:"bid_size"`
	AskPrice   float64       `json:"ask_price"`
	AskSize    float64       `json:"ask_size"`
	ObservedAt time.Time     `json:"observed_at"`
	Latency    time.Duration `json:"latency"`
	MakerFee   float64       `json:"maker_fee"`
	TakerFee   float64       `json:"taker_fee"`
}

// Mid returns the mid price, or 0 when either side is missing.
func (q VenueQuote) Mid() float64 {
	if q.BidPrice <= 0 || q.AskPrice <= 0 {
		return 0
	}
	return (q.BidPrice + q.AskPrice) / 2
}

// DepthLevel is one price level of an order book side.
type DepthLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Depth is a bounded order book snapshot.
type Depth struct {
	Bids []DepthLevel `json:"bids"`
	Asks []DepthLevel `json:"asks"`
}

// FeeSchedule holds a venue's fee rates as fractions (0.001 = 0.1%).
type FeeSchedule struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// ArbitrageOpportunity is a detected cross-venue spread. Candidates in the
// detector's set always satisfy SellPrice > BuyPrice and NetProfit > 0.
type ArbitrageOpportunity struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	BuyVenue    string    `json:"buy_venue"`
	SellVenue   string    `json:"sell_venue"`
	BuyPrice    float64   `json:"buy_price"`
	SellPrice   float64   `json:"sell_price"`
	Spread      float64   `json:"spread"`
	SpreadPct   float64   `json:"spread_pct"`
	Volume      float64   `json:"volume"`
	GrossProfit float64   `json:"gross_profit"`
	NetProfit   float64   `json:"net_profit"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the opportunity is past its time-to-live.
func (o ArbitrageOpportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// ExecutionStatus is the terminal state of a two-leg trade.
type ExecutionStatus string

const (
	ExecCompleted ExecutionStatus = "completed"
	ExecPartial   ExecutionStatus = "partial"
	ExecFailed    ExecutionStatus = "failed"
)

// TradeExecution is the finalized record of a two-leg arbitrage trade.
// Append-only once finalized; Statistics only reads it.
type TradeExecution struct {
	OpportunityID string          `json:"opportunity_id"`
	Symbol        string          `json:"symbol"`
	Amount        float64         `json:"amount"`
	BuyVenue      string          `json:"buy_venue"`
	SellVenue     string          `json:"sell_venue"`
	BuyOrderID    string          `json:"buy_order_id"`
	SellOrderID   string          `json:"sell_order_id"`
	BuyPrice      float64         `json:"buy_price"`
	SellPrice     float64         `json:"sell_price"`
	GrossProfit   float64         `json:"gross_profit"`
	Fees          float64         `json:"fees"`
	NetProfit     float64         `json:"net_profit"`
	Duration      time.Duration   `json:"duration"`
	SlippagePct   float64         `json:"slippage_pct"`
	Status        ExecutionStatus `json:"status"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// RiskLimits is the per-scope limit set. One active version per scope,
// replaced atomically on update.
type RiskLimits struct {
	Scope               string  `json:"scope"`
	DailyLossLimit      float64 `json:"daily_loss_limit"`
	DailyProfitLimit    float64 `json:"daily_profit_limit"`
	MaxDrawdownLimit    float64 `json:"max_drawdown_limit"`
	PositionSizeLimit   float64 `json:"position_size_limit"`
	MaxOpenPositions    int     `json:"max_open_positions"`
	MaxCorrelation      float64 `json:"max_correlation"`
	VolatilityThreshold float64 `json:"volatility_threshold"`
	VaRLimit            float64 `json:"var_limit"`
}

// DefaultRiskLimits returns the stock limit set for a scope.
func DefaultRiskLimits(scope string) RiskLimits {
	return RiskLimits{
		Scope:               scope,
		DailyLossLimit:      1000.0,
		DailyProfitLimit:    5000.0,
		MaxDrawdownLimit:    20.0,
		PositionSizeLimit:   10000.0,
		MaxOpenPositions:    10,
		MaxCorrelation:      0.8,
		VolatilityThreshold: 10.0,
		VaRLimit:            500.0,
	}
}

// RiskEventKind enumerates the risk event taxonomy.
type RiskEventKind string

const (
	RiskStopLoss         RiskEventKind = "stop_loss"
	RiskTakeProfit       RiskEventKind = "take_profit"
	RiskTrailingStop     RiskEventKind = "trailing_stop"
	RiskDailyLossLimit   RiskEventKind = "daily_loss_limit"
	RiskDailyProfitLimit RiskEventKind = "daily_profit_limit"
	RiskPositionSize     RiskEventKind = "position_size_limit"
	RiskDrawdownLimit    RiskEventKind = "drawdown_limit"
	RiskMarketVolatility RiskEventKind = "market_volatility"
	RiskVaRLimit         RiskEventKind = "var_limit"
	RiskCorrelation      RiskEventKind = "correlation_risk"
	RiskLimitsUpdated    RiskEventKind = "limits_updated"
	RiskPartialExec      RiskEventKind = "partial_execution"
	RiskEmergencyStop    RiskEventKind = "emergency_stop"
)

// Severity grades a risk event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskEvent is one entry of the append-only risk audit trail.
type RiskEvent struct {
	Scope     string          `json:"scope"`
	Kind      RiskEventKind   `json:"kind"`
	Severity  Severity        `json:"severity"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Position is an open long position tracked by the risk monitor.
type Position struct {
	Scope        string    `json:"scope"`
	Symbol       string    `json:"symbol"`
	Venue        string    `json:"venue"`
	EntryPrice   float64   `json:"entry_price"`
	Amount       float64   `json:"amount"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	TrailingPct  float64   `json:"trailing_pct"`
	Trailing     float64   `json:"trailing"`
	OpenedAt     time.Time `json:"opened_at"`
}

// Notional returns the position's current notional value.
func (p Position) Notional() float64 {
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Amount * price
}
