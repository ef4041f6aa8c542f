package common

import (
	"context"

	"arbcore/internal/core"
)

// Gateway abstracts a trading venue. Every call is bounded by its context;
// a venue that does not answer within the deadline returns an error, never
// an indefinite suspension. Adapters that cannot serve a method natively
// resolve a fallback at construction time, not per call.
type Gateway interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (core.VenueQuote, error)
	GetDepth(ctx context.Context, symbol string, levels int) (core.Depth, error)
	GetFees() core.FeeSchedule
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
