package market

import (
	"math"
	"time"

	"arbcore/internal/core"
)

// history is a bounded ring of quotes for one venue. Oldest evicted first.
type history struct {
	quotes []core.VenueQuote
	cap    int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 60
	}
	return &history{cap: capacity}
}

func (h *history) add(q core.VenueQuote) {
	h.quotes = append(h.quotes, q)
	if len(h.quotes) > h.cap {
		h.quotes = h.quotes[1:]
	}
}

// avgLatency returns the mean round-trip latency over the retained window.
func (h *history) avgLatency() time.Duration {
	if len(h.quotes) == 0 {
		return 0
	}
	var sum time.Duration
	for _, q := range h.quotes {
		sum += q.Latency
	}
	return sum / time.Duration(len(h.quotes))
}

// volatilityPct returns the stddev of mid-price returns over the window,
// as a percentage. Fewer than two points means no signal.
func (h *history) volatilityPct() float64 {
	if len(h.quotes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(h.quotes)-1)
	for i := 1; i < len(h.quotes); i++ {
		prev := h.quotes[i-1].Mid()
		cur := h.quotes[i].Mid()
		if prev <= 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance) * 100
}
