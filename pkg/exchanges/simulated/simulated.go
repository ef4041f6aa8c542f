// Package simulated provides a synthetic venue for local development and
// tests: a random-walk price process behind the common Gateway contract.
package simulated

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbcore/internal/core"
	"arbcore/pkg/exchanges/common"
)

// ErrOrderNotFound is returned when cancelling an unknown order id.
var ErrOrderNotFound = errors.New("simulated: order not found")

// Venue is a synthetic exchange driven by a random walk.
type Venue struct {
	name string
	fees core.FeeSchedule

	mu        sync.Mutex
	rng       *rand.Rand
	price     float64
	step      float64
	spreadPct float64
	latency   time.Duration
	orders    map[string]common.OrderResult
}

// Option tweaks a simulated venue.
type Option func(*Venue)

// WithLatency injects an artificial round-trip delay per call.
func WithLatency(d time.Duration) Option {
	return func(v *Venue) { v.latency = d }
}

// WithFees overrides the default 0.1%/0.1% fee schedule.
func WithFees(maker, taker float64) Option {
	return func(v *Venue) { v.fees = core.FeeSchedule{Maker: maker, Taker: taker} }
}

// WithSeed makes the walk reproducible.
func WithSeed(seed int64) Option {
	return func(v *Venue) { v.rng = rand.New(rand.NewSource(seed)) }
}

// New creates a simulated venue starting at startPrice with the given walk
// step and quoted spread percentage.
func New(name string, startPrice, step, spreadPct float64, opts ...Option) *Venue {
	if startPrice <= 0 {
		startPrice = 100.0
	}
	if step <= 0 {
		step = 0.5
	}
	if spreadPct <= 0 {
		spreadPct = 0.05
	}
	v := &Venue{
		name:      name,
		fees:      core.FeeSchedule{Maker: 0.001, Taker: 0.001},
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		price:     startPrice,
		step:      step,
		spreadPct: spreadPct,
		orders:    make(map[string]common.OrderResult),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) GetFees() core.FeeSchedule { return v.fees }

// GetQuote advances the random walk and returns top of book around it.
func (v *Venue) GetQuote(ctx context.Context, symbol string) (core.VenueQuote, error) {
	if err := v.sleep(ctx); err != nil {
		return core.VenueQuote{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// simple random walk
	v.price += (v.rng.Float64()*2 - 1) * v.step
	if v.price < v.step {
		v.price = v.step
	}
	half := v.price * v.spreadPct / 100 / 2
	return core.VenueQuote{
		Venue:      v.name,
		Symbol:     symbol,
		BidPrice:   v.price - half,
		BidSize:    10 + v.rng.Float64()*90,
		AskPrice:   v.price + half,
		AskSize:    10 + v.rng.Float64()*90,
		ObservedAt: time.Now().UTC(),
		Latency:    v.latency,
		MakerFee:   v.fees.Maker,
		TakerFee:   v.fees.Taker,
	}, nil
}

// GetDepth synthesizes a few levels each side of the current book.
func (v *Venue) GetDepth(ctx context.Context, symbol string, levels int) (core.Depth, error) {
	quote, err := v.GetQuote(ctx, symbol)
	if err != nil {
		return core.Depth{}, err
	}
	if levels <= 0 {
		levels = 5
	}
	depth := core.Depth{
		Bids: make([]core.DepthLevel, 0, levels),
		Asks: make([]core.DepthLevel, 0, levels),
	}
	tick := quote.Mid() * 0.0001
	for i := 0; i < levels; i++ {
		depth.Bids = append(depth.Bids, core.DepthLevel{
			Price: quote.BidPrice - tick*float64(i),
			Size:  quote.BidSize * (1 + float64(i)*0.5),
		})
		depth.Asks = append(depth.Asks, core.DepthLevel{
			Price: quote.AskPrice + tick*float64(i),
			Size:  quote.AskSize * (1 + float64(i)*0.5),
		})
	}
	return depth, nil
}

// SubmitOrder fills immediately at the current book plus a small random
// slippage component.
func (v *Venue) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := v.sleep(ctx); err != nil {
		return common.OrderResult{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	half := v.price * v.spreadPct / 100 / 2
	fill := v.price + half
	if req.Side == common.SideSell {
		fill = v.price - half
	}
	if req.Type == common.OrderTypeLimit && req.Price > 0 {
		fill = req.Price
	}
	// up to 5bps of adverse slippage
	slip := fill * v.rng.Float64() * 0.0005
	if req.Side == common.SideBuy {
		fill += slip
	} else {
		fill -= slip
	}

	res := common.OrderResult{
		OrderID:     uuid.NewString(),
		ClientID:    req.ClientID,
		Status:      common.StatusFilled,
		FilledQty:   req.Qty,
		FilledPrice: fill,
		Fee:         req.Qty * fill * v.fees.Taker,
	}
	v.orders[res.OrderID] = res
	return res, nil
}

func (v *Venue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := v.sleep(ctx); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	res, ok := v.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if res.Status == common.StatusFilled {
		// already filled, nothing to cancel
		return nil
	}
	res.Status = common.StatusCanceled
	v.orders[orderID] = res
	return nil
}

func (v *Venue) sleep(ctx context.Context) error {
	if v.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(v.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
