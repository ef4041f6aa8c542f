// Package market polls every configured venue and maintains the shared
// quote snapshot the detector scans.
package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/gateway"
	"arbcore/internal/monitor"
)

// Snapshot is one atomically published view of all venues' quotes.
type Snapshot struct {
	Quotes  map[string]core.VenueQuote
	TakenAt time.Time
}

// Aggregator refreshes quotes from all healthy venues in parallel and
// publishes them as one consistent snapshot under a single writer lock.
type Aggregator struct {
	registry    *gateway.Registry
	symbol      string
	pollTimeout time.Duration
	interval    time.Duration
	log         *zap.Logger

	mu        sync.RWMutex
	snapshot  Snapshot
	histories map[string]*history
}

// NewAggregator creates an aggregator over the venue registry.
func NewAggregator(reg *gateway.Registry, symbol string, pollTimeout, interval time.Duration, log *zap.Logger) *Aggregator {
	if pollTimeout <= 0 {
		pollTimeout = 2 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Aggregator{
		registry:    reg,
		symbol:      symbol,
		pollTimeout: pollTimeout,
		interval:    interval,
		log:         log,
		snapshot:    Snapshot{Quotes: make(map[string]core.VenueQuote)},
		histories:   make(map[string]*history),
	}
}

// Refresh polls every healthy venue in parallel with an independent
// per-venue timeout. Venues that error or time out are omitted from the
// result; the refresh itself never fails.
func (a *Aggregator) Refresh(ctx context.Context) map[string]core.VenueQuote {
	venues := a.registry.Healthy()

	type result struct {
		venue string
		quote core.VenueQuote
		err   error
	}

	results := make(chan result, len(venues))
	var wg sync.WaitGroup
	for _, venue := range venues {
		wg.Add(1)
		go func(venue string) {
			defer wg.Done()

			gw, err := a.registry.Get(venue)
			if err != nil {
				results <- result{venue: venue, err: err}
				return
			}

			pollCtx, cancel := context.WithTimeout(ctx, a.pollTimeout)
			defer cancel()

			started := time.Now()
			quote, err := gw.GetQuote(pollCtx, a.symbol)
			if err != nil {
				results <- result{venue: venue, err: err}
				return
			}
			if quote.Latency == 0 {
				quote.Latency = time.Since(started)
			}
			results <- result{venue: venue, quote: quote}
		}(venue)
	}
	wg.Wait()
	close(results)

	quotes := make(map[string]core.VenueQuote, len(venues))
	for res := range results {
		if res.err != nil {
			a.registry.RecordFailure(res.venue)
			monitor.VenueErrors.WithLabelValues(res.venue).Inc()
			a.log.Warn("venue poll failed",
				zap.String("venue", res.venue),
				zap.Error(res.err))
			continue
		}
		a.registry.RecordSuccess(res.venue)
		quotes[res.venue] = res.quote
	}

	a.publish(quotes)
	monitor.SnapshotRefreshes.Inc()
	return quotes
}

// publish swaps in the new snapshot and folds quotes into the per-venue
// history rings. Single writer; readers copy.
func (a *Aggregator) publish(quotes map[string]core.VenueQuote) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for venue, q := range quotes {
		h, ok := a.histories[venue]
		if !ok {
			h = newHistory(60)
			a.histories[venue] = h
		}
		h.add(q)
	}
	a.snapshot = Snapshot{Quotes: quotes, TakenAt: time.Now().UTC()}
}

// Snapshot returns a copy of the latest published snapshot. A reader never
// observes a partially updated table.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	quotes := make(map[string]core.VenueQuote, len(a.snapshot.Quotes))
	for venue, q := range a.snapshot.Quotes {
		quotes[venue] = q
	}
	return Snapshot{Quotes: quotes, TakenAt: a.snapshot.TakenAt}
}

// AvgLatency returns the mean observed latency for a venue.
func (a *Aggregator) AvgLatency(venue string) time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if h, ok := a.histories[venue]; ok {
		return h.avgLatency()
	}
	return 0
}

// VolatilityPct returns realized mid-price volatility for a venue as a
// percentage over the retained window.
func (a *Aggregator) VolatilityPct(venue string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if h, ok := a.histories[venue]; ok {
		return h.volatilityPct()
	}
	return 0
}

// MaxVolatilityPct returns the highest per-venue realized volatility.
func (a *Aggregator) MaxVolatilityPct() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var max float64
	for _, h := range a.histories {
		if v := h.volatilityPct(); v > max {
			max = v
		}
	}
	return max
}

// Run refreshes on the configured cadence until the context is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.log.Info("aggregator started",
		zap.String("symbol", a.symbol),
		zap.Duration("interval", a.interval))

	for {
		select {
		case <-ctx.Done():
			a.log.Info("aggregator stopped")
			return
		case <-ticker.C:
			a.Refresh(ctx)
		}
	}
}
