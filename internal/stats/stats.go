// Package stats derives running performance metrics from the trade ledger.
package stats

import (
	"math"
	"sync"
	"time"

	"arbcore/internal/core"
)

// Report is the aggregate view over all finalized trades.
type Report struct {
	TotalTrades     int           `json:"total_trades"`
	Completed       int           `json:"completed"`
	Partial         int           `json:"partial"`
	Failed          int           `json:"failed"`
	SuccessRate     float64       `json:"success_rate_pct"`
	TotalNetProfit  float64       `json:"total_net_profit"`
	AvgNetProfit    float64       `json:"avg_net_profit"`
	BestTrade       float64       `json:"best_trade"`
	WorstTrade      float64       `json:"worst_trade"`
	ProfitFactor    float64       `json:"profit_factor"`
	AvgSlippagePct  float64       `json:"avg_slippage_pct"`
	AvgDuration     time.Duration `json:"avg_duration"`
	TradesPerHour   float64       `json:"trades_per_hour"`
	TotalFees       float64       `json:"total_fees"`
}

// Tracker folds finalized trades into running aggregates. It never mutates
// ledger entries; it only reads what Record hands it.
type Tracker struct {
	mu      sync.RWMutex
	started time.Time

	total     int
	completed int
	partial   int
	failed    int

	netProfit   float64
	wins        float64
	losses      float64
	best        float64
	worst       float64
	fees        float64
	slippageSum float64
	durationSum time.Duration
}

// NewTracker starts an empty fold.
func NewTracker() *Tracker {
	return &Tracker{
		started: time.Now().UTC(),
		best:    math.Inf(-1),
		worst:   math.Inf(1),
	}
}

// Record folds one finalized trade.
func (t *Tracker) Record(trade core.TradeExecution) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	switch trade.Status {
	case core.ExecCompleted:
		t.completed++
	case core.ExecPartial:
		t.partial++
	case core.ExecFailed:
		t.failed++
	}

	t.netProfit += trade.NetProfit
	t.fees += trade.Fees
	t.slippageSum += trade.SlippagePct
	t.durationSum += trade.Duration

	if trade.NetProfit > 0 {
		t.wins += trade.NetProfit
	} else if trade.NetProfit < 0 {
		t.losses += -trade.NetProfit
	}
	if trade.NetProfit > t.best {
		t.best = trade.NetProfit
	}
	if trade.NetProfit < t.worst {
		t.worst = trade.NetProfit
	}
}

// Report computes the aggregate view on demand.
func (t *Tracker) Report() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r := Report{
		TotalTrades:    t.total,
		Completed:      t.completed,
		Partial:        t.partial,
		Failed:         t.failed,
		TotalNetProfit: t.netProfit,
		TotalFees:      t.fees,
	}
	if t.total == 0 {
		return r
	}

	r.SuccessRate = float64(t.completed) / float64(t.total) * 100
	r.AvgNetProfit = t.netProfit / float64(t.total)
	r.AvgSlippagePct = t.slippageSum / float64(t.total)
	r.AvgDuration = t.durationSum / time.Duration(t.total)
	r.BestTrade = t.best
	r.WorstTrade = t.worst

	// no losses yet: report the win total rather than dividing by zero
	if t.losses > 0 {
		r.ProfitFactor = t.wins / t.losses
	} else {
		r.ProfitFactor = t.wins
	}

	hours := time.Since(t.started).Hours()
	if hours > 0 {
		r.TradesPerHour = float64(t.total) / hours
	}
	return r
}
