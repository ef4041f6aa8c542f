package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/detector"
	"arbcore/internal/events"
	"arbcore/internal/gateway"
	"arbcore/internal/market"
	"arbcore/internal/persistence"
	"arbcore/internal/risk"
	"arbcore/internal/stats"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *risk.Gate) {
	t.Helper()

	log := zap.NewNop()
	bus := events.NewBus()
	store, err := persistence.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gate := risk.NewGate(core.DefaultRiskLimits("arbitrage"), bus, store, log)
	registry := gateway.NewRegistry(gateway.Config{}, log)
	agg := market.NewAggregator(registry, "BTCUSDT", time.Second, time.Second, log)
	det := detector.New(detector.Config{
		MinSpreadPct:    0.5,
		MaxSpreadPct:    10.0,
		MaxPositionSize: 1000,
		OpportunityTTL:  10 * time.Second,
		MinConfidence:   0.1,
		QuoteStaleAfter: 5 * time.Second,
	}, agg, bus, "arbitrage", log)

	meta := SystemMeta{Version: "test", Scope: "arbitrage", Symbol: "BTCUSDT"}
	return NewServer(gate, det, stats.NewTracker(), store, registry, agg, meta, testSecret, log), gate
}

func authToken(t *testing.T) string {
	t.Helper()
	token, err := GenerateToken("ops", testSecret, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/status", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueToken(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/auth/token", "", map[string]string{"secret": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/auth/token", "", map[string]string{"secret": testSecret})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	w = doJSON(t, s, http.MethodGet, "/api/status", resp.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStatusReflectsState(t *testing.T) {
	s, gate := newTestServer(t)
	token := authToken(t)

	w := doJSON(t, s, http.MethodGet, "/api/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"state":"running"`)
	require.Contains(t, w.Body.String(), `"pending_writes"`)
	require.Contains(t, w.Body.String(), `"total_batches"`)

	gate.Pause("arbitrage", "drill")
	w = doJSON(t, s, http.MethodGet, "/api/status", token, nil)
	require.Contains(t, w.Body.String(), `"state":"paused"`)

	gate.EmergencyStop("arbitrage", "drill")
	w = doJSON(t, s, http.MethodGet, "/api/status", token, nil)
	require.Contains(t, w.Body.String(), `"state":"halted"`)
}

func TestUpdateRiskLimits(t *testing.T) {
	s, gate := newTestServer(t)
	token := authToken(t)

	limits := gate.Limits("arbitrage")
	limits.DailyLossLimit = 250
	w := doJSON(t, s, http.MethodPut, "/api/risk/limits", token, limits)
	require.Equal(t, http.StatusOK, w.Code)
	require.InDelta(t, 250.0, gate.Limits("arbitrage").DailyLossLimit, 1e-9)

	limits.DailyLossLimit = -1
	w = doJSON(t, s, http.MethodPut, "/api/risk/limits", token, limits)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.InDelta(t, 250.0, gate.Limits("arbitrage").DailyLossLimit, 1e-9)
}

func TestPauseAndResume(t *testing.T) {
	s, gate := newTestServer(t)
	token := authToken(t)

	w := doJSON(t, s, http.MethodPost, "/api/engine/pause", token, map[string]string{"reason": "maintenance"})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, gate.Paused("arbitrage"))

	w = doJSON(t, s, http.MethodPost, "/api/engine/resume", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, gate.Paused("arbitrage"))
}

func TestResumeDoesNotLiftHalt(t *testing.T) {
	s, gate := newTestServer(t)
	token := authToken(t)

	gate.EmergencyStop("arbitrage", "drill")
	w := doJSON(t, s, http.MethodPost, "/api/engine/resume", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"halted":true`)
	require.True(t, gate.Halted("arbitrage"))
}

func TestEmptyCollectionsSerializeAsArrays(t *testing.T) {
	s, _ := newTestServer(t)
	token := authToken(t)

	w := doJSON(t, s, http.MethodGet, "/api/opportunities", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"opportunities":[]`)

	w = doJSON(t, s, http.MethodGet, "/api/trades", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"trades":[]`)
}
