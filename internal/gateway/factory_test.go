package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"arbcore/pkg/config"
)

func TestBuildSimulatedVenue(t *testing.T) {
	gw, err := Build(context.Background(), config.VenueConfig{
		Name: "alpha", Kind: "simulated", StartPrice: 100, Step: 0.5, SpreadPct: 0.05,
	})
	require.NoError(t, err)
	require.Equal(t, "alpha", gw.Name())

	q, err := gw.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Greater(t, q.AskPrice, q.BidPrice)
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	_, err := Build(context.Background(), config.VenueConfig{Name: "x", Kind: "fix"})
	require.Error(t, err)
}

func TestBuildStartsStreamingVenue(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		payload := []byte(`{"symbol":"BTCUSDT","bid_price":100.0,"bid_size":1,"ask_price":100.1,"ask_size":1}`)
		for range ticker.C {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := Build(ctx, config.VenueConfig{
		Name:      "gamma",
		Kind:      "ws",
		StreamURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	require.NoError(t, err)

	// The stream must be running without any further call from the caller.
	require.Eventually(t, func() bool {
		_, err := gw.GetQuote(context.Background(), "BTCUSDT")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	q, err := gw.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, "gamma", q.Venue)
	require.InDelta(t, 100.0, q.BidPrice, 1e-9)
}
