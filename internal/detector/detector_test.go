package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/events"
	"arbcore/internal/market"
)

type flatLatency time.Duration

func (f flatLatency) AvgLatency(string) time.Duration { return time.Duration(f) }

func testConfig() Config {
	return Config{
		MinSpreadPct:     0.1,
		MaxSpreadPct:     10.0,
		MinVolume:        0,
		MaxPositionSize:  1000.0,
		MinConfidence:    0.2,
		OpportunityTTL:   10 * time.Second,
		LatencyThreshold: 500 * time.Millisecond,
		QuoteStaleAfter:  5 * time.Second,
	}
}

func quote(venue string, bid, ask float64) core.VenueQuote {
	return core.VenueQuote{
		Venue:      venue,
		Symbol:     "BTCUSDT",
		BidPrice:   bid,
		BidSize:    1.0,
		AskPrice:   ask,
		AskSize:    1.0,
		ObservedAt: time.Now().UTC(),
		TakerFee:   0.001,
	}
}

func snapshot(quotes ...core.VenueQuote) market.Snapshot {
	snap := market.Snapshot{Quotes: make(map[string]core.VenueQuote), TakenAt: time.Now().UTC()}
	for _, q := range quotes {
		snap.Quotes[q.Venue] = q
	}
	return snap
}

func newDetector(cfg Config) *Detector {
	return New(cfg, flatLatency(0), events.NewBus(), "arbitrage", zap.NewNop())
}

func TestScanBuysLowSellsHigh(t *testing.T) {
	d := newDetector(testConfig())

	opps := d.Scan(snapshot(
		quote("alpha", 100.00, 100.10),
		quote("beta", 100.50, 100.60),
	))

	require.Len(t, opps, 1)
	opp := opps[0]
	require.Equal(t, "alpha", opp.BuyVenue)
	require.Equal(t, "beta", opp.SellVenue)
	require.InDelta(t, 100.10, opp.BuyPrice, 1e-9)
	require.InDelta(t, 100.50, opp.SellPrice, 1e-9)
	require.Greater(t, opp.NetProfit, 0.0)
	require.Greater(t, opp.SellPrice, opp.BuyPrice)
	require.GreaterOrEqual(t, opp.SpreadPct, 0.1)
}

func TestScanRejectsNonPositiveNetProfit(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpreadPct = 0.0
	d := newDetector(cfg)

	// Spread smaller than the combined taker fees.
	opps := d.Scan(snapshot(
		quote("alpha", 100.00, 100.02),
		quote("beta", 100.05, 100.07),
	))
	require.Empty(t, opps)
}

func TestScanRespectsSpreadBand(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSpreadPct = 1.0
	d := newDetector(cfg)

	// ~15% spread, outside the band: likely bad data.
	opps := d.Scan(snapshot(
		quote("alpha", 100.00, 100.10),
		quote("beta", 115.00, 115.10),
	))
	require.Empty(t, opps)
}

func TestScanOrdersByNetProfitDescending(t *testing.T) {
	d := newDetector(testConfig())

	opps := d.Scan(snapshot(
		quote("alpha", 100.00, 100.10),
		quote("beta", 100.50, 100.60),
		quote("gamma", 102.00, 102.10),
	))

	require.NotEmpty(t, opps)
	for i := 1; i < len(opps); i++ {
		require.GreaterOrEqual(t, opps[i-1].NetProfit, opps[i].NetProfit)
	}
}

func TestScanIsIdempotentOnUnchangedSnapshot(t *testing.T) {
	d := newDetector(testConfig())
	snap := snapshot(
		quote("alpha", 100.00, 100.10),
		quote("beta", 100.50, 100.60),
	)

	first := d.Scan(snap)
	second := d.Scan(snap)

	require.Equal(t, len(first), len(second))
	for i := range first {
		// Dedupe keeps the original candidate; same id, same ranking.
		require.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestScanSkipsStaleQuotes(t *testing.T) {
	d := newDetector(testConfig())

	stale := quote("alpha", 100.00, 100.10)
	stale.ObservedAt = time.Now().Add(-time.Minute)
	opps := d.Scan(snapshot(stale, quote("beta", 100.50, 100.60)))
	require.Empty(t, opps)
}

func TestScanPurgesExpiredCandidates(t *testing.T) {
	cfg := testConfig()
	cfg.OpportunityTTL = time.Millisecond
	d := newDetector(cfg)

	snap := snapshot(
		quote("alpha", 100.00, 100.10),
		quote("beta", 100.50, 100.60),
	)
	require.NotEmpty(t, d.Scan(snap))

	time.Sleep(5 * time.Millisecond)
	require.Empty(t, d.Candidates())
}

func TestRemoveDropsConsumedCandidate(t *testing.T) {
	d := newDetector(testConfig())
	opps := d.Scan(snapshot(
		quote("alpha", 100.00, 100.10),
		quote("beta", 100.50, 100.60),
	))
	require.Len(t, opps, 1)

	d.Remove(opps[0])
	require.Empty(t, d.Candidates())
}

func TestConfidenceDropsWithLatency(t *testing.T) {
	cfg := testConfig()
	fast := New(cfg, flatLatency(0), events.NewBus(), "arbitrage", zap.NewNop())
	slow := New(cfg, flatLatency(500*time.Millisecond), events.NewBus(), "arbitrage", zap.NewNop())

	snap := snapshot(
		quote("alpha", 100.00, 100.10),
		quote("beta", 100.50, 100.60),
	)
	fastOpps := fast.Scan(snap)
	slowOpps := slow.Scan(snap)

	require.Len(t, fastOpps, 1)
	require.Len(t, slowOpps, 1)
	require.Greater(t, fastOpps[0].Confidence, slowOpps[0].Confidence)
}
