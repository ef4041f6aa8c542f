// Package wsfeed implements a Gateway whose quotes arrive over a websocket
// stream. Order placement is delegated to a backend gateway resolved at
// construction time, so callers always see the full Gateway surface.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arbcore/internal/core"
	"arbcore/pkg/cache"
	"arbcore/pkg/exchanges/common"
)

// ErrNoQuote is returned before the first stream message arrives.
var ErrNoQuote = errors.New("wsfeed: no quote received yet")

const (
	maxBackoff    = 16 * time.Second
	sweepInterval = time.Minute
	maxQuoteAge   = 5 * time.Minute
)

// quoteMessage is the wire shape of one streamed top-of-book update.
type quoteMessage struct {
	Symbol   string  `json:"symbol"`
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
}

// Venue streams quotes from a websocket endpoint and caches the latest one
// per symbol. GetQuote serves from the cache; depth and orders go through
// the backend.
type Venue struct {
	name    string
	url     string
	backend common.Gateway
	quotes  *cache.ShardedQuoteCache

	startOnce sync.Once
	cancel    context.CancelFunc
}

// New creates a websocket-fed venue. The backend serves depth and orders.
func New(name, url string, backend common.Gateway) *Venue {
	return &Venue{
		name:    name,
		url:     url,
		backend: backend,
		quotes:  cache.NewShardedQuoteCache(),
	}
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) GetFees() core.FeeSchedule { return v.backend.GetFees() }

// Start begins the stream loop. Safe to call more than once.
func (v *Venue) Start(ctx context.Context) {
	v.startOnce.Do(func() {
		ctx, v.cancel = context.WithCancel(ctx)
		go v.streamLoop(ctx)
		go v.sweepLoop(ctx)
	})
}

// sweepLoop evicts quotes for symbols the stream stopped updating.
func (v *Venue) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.quotes.Cleanup(maxQuoteAge)
		}
	}
}

// streamLoop reconnects with exponential backoff capped at maxBackoff.
func (v *Venue) streamLoop(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := v.readStream(ctx); err != nil && ctx.Err() == nil {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (v *Venue) readStream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, v.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg quoteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		fees := v.backend.GetFees()
		v.quotes.Set(msg.Symbol, core.VenueQuote{
			Venue:      v.name,
			Symbol:     msg.Symbol,
			BidPrice:   msg.BidPrice,
			BidSize:    msg.BidSize,
			AskPrice:   msg.AskPrice,
			AskSize:    msg.AskSize,
			ObservedAt: time.Now().UTC(),
			MakerFee:   fees.Maker,
			TakerFee:   fees.Taker,
		})
	}
}

// GetQuote returns the latest streamed quote for the symbol.
func (v *Venue) GetQuote(ctx context.Context, symbol string) (core.VenueQuote, error) {
	if err := ctx.Err(); err != nil {
		return core.VenueQuote{}, err
	}
	q, ok := v.quotes.Get(symbol)
	if !ok {
		return core.VenueQuote{}, ErrNoQuote
	}
	return q, nil
}

func (v *Venue) GetDepth(ctx context.Context, symbol string, levels int) (core.Depth, error) {
	return v.backend.GetDepth(ctx, symbol, levels)
}

func (v *Venue) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	return v.backend.SubmitOrder(ctx, req)
}

func (v *Venue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return v.backend.CancelOrder(ctx, symbol, orderID)
}

// Close stops the stream loop.
func (v *Venue) Close() error {
	if v.cancel != nil {
		v.cancel()
	}
	return nil
}
