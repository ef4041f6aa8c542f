package common

import (
	"context"

	"golang.org/x/time/rate"

	"arbcore/internal/core"
)

// RateLimited wraps a Gateway so every outbound call waits on a shared
// token bucket first. A context cancelled while waiting aborts the call.
type RateLimited struct {
	gw      Gateway
	limiter *rate.Limiter
}

// NewRateLimited builds a rate-limited gateway allowing rps requests per
// second with the given burst.
func NewRateLimited(gw Gateway, rps float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		gw:      gw,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) Name() string { return r.gw.Name() }

func (r *RateLimited) GetQuote(ctx context.Context, symbol string) (core.VenueQuote, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return core.VenueQuote{}, err
	}
	return r.gw.GetQuote(ctx, symbol)
}

func (r *RateLimited) GetDepth(ctx context.Context, symbol string, levels int) (core.Depth, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return core.Depth{}, err
	}
	return r.gw.GetDepth(ctx, symbol, levels)
}

func (r *RateLimited) GetFees() core.FeeSchedule { return r.gw.GetFees() }

func (r *RateLimited) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return OrderResult{}, err
	}
	return r.gw.SubmitOrder(ctx, req)
}

func (r *RateLimited) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.gw.CancelOrder(ctx, symbol, orderID)
}
