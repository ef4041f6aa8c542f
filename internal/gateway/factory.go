package gateway

import (
	"context"
	"fmt"

	"arbcore/pkg/config"
	exchange "arbcore/pkg/exchanges/common"
	"arbcore/pkg/exchanges/simulated"
	"arbcore/pkg/exchanges/wsfeed"
)

// Build creates a Gateway from a venue config entry. Streaming venues are
// started immediately; their feed runs until ctx is cancelled.
func Build(ctx context.Context, vc config.VenueConfig) (exchange.Gateway, error) {
	var gw exchange.Gateway

	switch vc.Kind {
	case "simulated", "":
		gw = simulated.New(vc.Name, vc.StartPrice, vc.Step, vc.SpreadPct,
			simulated.WithFees(vc.MakerFee, vc.TakerFee))

	case "ws":
		// Streaming quotes over websocket; order placement is delegated to a
		// simulated backend resolved here, at construction time.
		backend := simulated.New(vc.Name, vc.StartPrice, vc.Step, vc.SpreadPct,
			simulated.WithFees(vc.MakerFee, vc.TakerFee))
		feed := wsfeed.New(vc.Name, vc.StreamURL, backend)
		feed.Start(ctx)
		gw = feed

	default:
		return nil, fmt.Errorf("unsupported venue kind: %s", vc.Kind)
	}

	if vc.RateLimit > 0 {
		gw = exchange.NewRateLimited(gw, vc.RateLimit, vc.RateBurst)
	}
	return gw, nil
}
