// Package detector scans venue snapshots for cross-venue arbitrage
// opportunities.
package detector

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/events"
	"arbcore/internal/market"
	"arbcore/internal/monitor"
)

// dedupeTolerancePct: candidates on the same venue pair whose spread is
// within this many percentage points are considered the same opportunity.
const dedupeTolerancePct = 0.1

// confidence blend weights.
const (
	weightSpread  = 0.5
	weightVolume  = 0.3
	weightLatency = 0.2
)

// LatencyProvider reports the rolling average round-trip latency per venue.
type LatencyProvider interface {
	AvgLatency(venue string) time.Duration
}

// Config holds the detection parameters.
type Config struct {
	MinSpreadPct     float64
	MaxSpreadPct     float64
	MinVolume        float64 // minimum notional per trade
	MaxPositionSize  float64 // notional cap per trade
	MinConfidence    float64
	OpportunityTTL   time.Duration
	LatencyThreshold time.Duration
	QuoteStaleAfter  time.Duration
}

// Detector turns snapshots into a ranked candidate set. It owns the
// candidate list; callers receive copies.
type Detector struct {
	cfg     Config
	latency LatencyProvider
	bus     *events.Bus
	log     *zap.Logger
	scope   string

	mu         sync.Mutex
	candidates map[string]core.ArbitrageOpportunity // keyed by buy|sell venue pair
}

// New creates a detector.
func New(cfg Config, latency LatencyProvider, bus *events.Bus, scope string, log *zap.Logger) *Detector {
	if cfg.OpportunityTTL <= 0 {
		cfg.OpportunityTTL = 10 * time.Second
	}
	if cfg.QuoteStaleAfter <= 0 {
		cfg.QuoteStaleAfter = 5 * time.Second
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = 500 * time.Millisecond
	}
	return &Detector{
		cfg:        cfg,
		latency:    latency,
		bus:        bus,
		log:        log,
		scope:      scope,
		candidates: make(map[string]core.ArbitrageOpportunity),
	}
}

// Scan evaluates every unordered venue pair in the snapshot and returns the
// live candidate set ordered by descending net profit. Expired candidates
// are purged first; near-duplicates keep the earlier entry until it expires.
func (d *Detector) Scan(snap market.Snapshot) []core.ArbitrageOpportunity {
	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	for key, opp := range d.candidates {
		if opp.Expired(now) {
			delete(d.candidates, key)
		}
	}

	venues := make([]string, 0, len(snap.Quotes))
	for venue := range snap.Quotes {
		venues = append(venues, venue)
	}
	sort.Strings(venues)

	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			qa, qb := snap.Quotes[venues[i]], snap.Quotes[venues[j]]
			if now.Sub(qa.ObservedAt) > d.cfg.QuoteStaleAfter ||
				now.Sub(qb.ObservedAt) > d.cfg.QuoteStaleAfter {
				continue
			}
			if qa.Symbol != qb.Symbol {
				continue
			}

			opp, ok := d.evaluatePair(qa, qb, now)
			if !ok {
				continue
			}

			key := opp.BuyVenue + "|" + opp.SellVenue
			if existing, dup := d.candidates[key]; dup &&
				math.Abs(existing.SpreadPct-opp.SpreadPct) < dedupeTolerancePct {
				continue
			}
			d.candidates[key] = opp

			d.log.Info("opportunity detected",
				zap.String("id", opp.ID),
				zap.String("buy_venue", opp.BuyVenue),
				zap.String("sell_venue", opp.SellVenue),
				zap.Float64("spread_pct", opp.SpreadPct),
				zap.Float64("net_profit", opp.NetProfit),
				zap.Float64("confidence", opp.Confidence))
			d.bus.Publish(events.NewEnvelope(
				events.TopicOpportunityDetected, d.scope, "opportunity",
				core.SeverityLow, opp))
			monitor.OpportunitiesFound.Inc()
		}
	}

	return d.rankedLocked(now)
}

// evaluatePair computes both directions and keeps the better fee-adjusted
// one, then applies the acceptance gates.
func (d *Detector) evaluatePair(qa, qb core.VenueQuote, now time.Time) (core.ArbitrageOpportunity, bool) {
	oppAB, okAB := d.buildOpportunity(qa, qb, now) // buy at a, sell at b
	oppBA, okBA := d.buildOpportunity(qb, qa, now) // buy at b, sell at a

	switch {
	case okAB && okBA:
		if oppAB.NetProfit >= oppBA.NetProfit {
			return oppAB, true
		}
		return oppBA, true
	case okAB:
		return oppAB, true
	case okBA:
		return oppBA, true
	default:
		return core.ArbitrageOpportunity{}, false
	}
}

func (d *Detector) buildOpportunity(buy, sell core.VenueQuote, now time.Time) (core.ArbitrageOpportunity, bool) {
	buyPrice := buy.AskPrice
	sellPrice := sell.BidPrice
	if buyPrice <= 0 || sellPrice <= buyPrice {
		return core.ArbitrageOpportunity{}, false
	}

	spread := sellPrice - buyPrice
	spreadPct := spread / buyPrice * 100
	if spreadPct < d.cfg.MinSpreadPct || spreadPct > d.cfg.MaxSpreadPct {
		return core.ArbitrageOpportunity{}, false
	}

	volume := math.Min(buy.AskSize, sell.BidSize)
	if d.cfg.MaxPositionSize > 0 {
		volume = math.Min(volume, d.cfg.MaxPositionSize/buyPrice)
	}
	if volume <= 0 {
		return core.ArbitrageOpportunity{}, false
	}
	if d.cfg.MinVolume > 0 && volume*buyPrice < d.cfg.MinVolume {
		return core.ArbitrageOpportunity{}, false
	}

	gross := spread * volume
	fees := volume*buyPrice*buy.TakerFee + volume*sellPrice*sell.TakerFee
	net := gross - fees
	if net <= 0 {
		return core.ArbitrageOpportunity{}, false
	}

	confidence := d.confidence(spreadPct, volume*buyPrice, buy.Venue, sell.Venue)
	if confidence < d.cfg.MinConfidence {
		return core.ArbitrageOpportunity{}, false
	}

	return core.ArbitrageOpportunity{
		ID:          uuid.NewString(),
		Symbol:      buy.Symbol,
		BuyVenue:    buy.Venue,
		SellVenue:   sell.Venue,
		BuyPrice:    buyPrice,
		SellPrice:   sellPrice,
		Spread:      spread,
		SpreadPct:   spreadPct,
		Volume:      volume,
		GrossProfit: gross,
		NetProfit:   net,
		Confidence:  confidence,
		CreatedAt:   now,
		ExpiresAt:   now.Add(d.cfg.OpportunityTTL),
	}, true
}

// confidence blends normalized spread, volume notional and venue latency.
func (d *Detector) confidence(spreadPct, notional float64, buyVenue, sellVenue string) float64 {
	spreadScore := math.Min(spreadPct/2.0, 1.0)
	volumeScore := math.Min(notional/1000.0, 1.0)

	avg := (d.latency.AvgLatency(buyVenue) + d.latency.AvgLatency(sellVenue)) / 2
	latencyScore := math.Max(0, 1-float64(avg)/float64(d.cfg.LatencyThreshold))

	return weightSpread*spreadScore + weightVolume*volumeScore + weightLatency*latencyScore
}

func (d *Detector) rankedLocked(now time.Time) []core.ArbitrageOpportunity {
	out := make([]core.ArbitrageOpportunity, 0, len(d.candidates))
	for _, opp := range d.candidates {
		if !opp.Expired(now) {
			out = append(out, opp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NetProfit > out[j].NetProfit
	})
	return out
}

// Candidates returns the current unexpired candidate set, ranked.
func (d *Detector) Candidates() []core.ArbitrageOpportunity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rankedLocked(time.Now().UTC())
}

// Remove drops a consumed candidate so it is not executed twice.
func (d *Detector) Remove(opp core.ArbitrageOpportunity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := opp.BuyVenue + "|" + opp.SellVenue
	if existing, ok := d.candidates[key]; ok && existing.ID == opp.ID {
		delete(d.candidates, key)
	}
}
