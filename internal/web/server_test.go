package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elys-network/lpadvisor/internal/advisor"
	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/state/memory"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdvisor struct {
	healthy   bool
	degraded  bool
	confirmed []byte
	lastUser  string
	lastProf  string
	balance   float64
}

func (f *fakeAdvisor) Recommend(_ context.Context, userID, profile string, balanceUSD float64) advisor.RecommendResult {
	f.lastUser, f.lastProf, f.balance = userID, profile, balanceUSD
	if userID == "" {
		return advisor.RecommendResult{Error: "user id is required"}
	}
	return advisor.RecommendResult{Success: true, UserID: userID, Profile: types.RiskProfile(profile)}
}

func (f *fakeAdvisor) Execute(_ context.Context, userID string, amountUSD float64) advisor.ExecuteResult {
	if amountUSD <= 0 {
		return advisor.ExecuteResult{Error: advisor.ErrInvalidAmount.Error()}
	}
	return advisor.ExecuteResult{Success: true, PositionID: "pos-1"}
}

func (f *fakeAdvisor) Exit(_ context.Context, userID, positionID string) advisor.ExitResult {
	return advisor.ExitResult{Success: true, PositionID: positionID}
}

func (f *fakeAdvisor) Confirm(_ context.Context, positionID string, signedPayload []byte) advisor.ConfirmResult {
	f.confirmed = signedPayload
	return advisor.ConfirmResult{Success: true, PositionID: positionID, Status: types.StatusActive}
}

func (f *fakeAdvisor) GetPositions(_ context.Context, userID string) advisor.PositionsResult {
	f.lastUser = userID
	return advisor.PositionsResult{Success: true, Positions: []types.Position{}}
}

func (f *fakeAdvisor) MonitorPositions(context.Context) []types.ExitAlert {
	return []types.ExitAlert{{PositionID: "pos-1"}}
}

func (f *fakeAdvisor) Rebalance(_ context.Context, userID, profile string, balanceUSD float64) advisor.RebalanceResult {
	return advisor.RebalanceResult{Success: true}
}

func (f *fakeAdvisor) Health(context.Context) advisor.HealthReport {
	return advisor.HealthReport{Healthy: f.healthy, ProviderHealthy: f.healthy, Strategy: "rule", Degraded: f.degraded}
}

func newTestServer(t *testing.T, adv *fakeAdvisor) (*WebServer, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	ws := NewWebServer(Config{
		Advisor: adv,
		Summary: store,
		Tuning:  config.DefaultTuning,
		Metrics: metrics.New(nil),
	})
	return ws, store
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthReflectsAdvisorState(t *testing.T) {
	tests := []struct {
		name   string
		adv    *fakeAdvisor
		code   int
		status string
	}{
		{"healthy", &fakeAdvisor{healthy: true}, http.StatusOK, "healthy"},
		{"degraded", &fakeAdvisor{healthy: true, degraded: true}, http.StatusOK, "degraded"},
		{"provider down", &fakeAdvisor{}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, _ := newTestServer(t, tt.adv)
			for _, path := range []string{"/health", "/api/health"} {
				rec, body := do(t, ws.Handler(), http.MethodGet, path, "")
				assert.Equal(t, tt.code, rec.Code, path)
				assert.Equal(t, tt.status, body["status"], path)
			}
		})
	}
}

func TestRecommendPassesRequestThrough(t *testing.T) {
	adv := &fakeAdvisor{healthy: true}
	ws, _ := newTestServer(t, adv)

	rec, body := do(t, ws.Handler(), http.MethodPost, "/api/recommend",
		`{"user_id":"alice","risk_profile":"aggressive","balance_usd":1000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "alice", adv.lastUser)
	assert.Equal(t, "aggressive", adv.lastProf)
	assert.InDelta(t, 1000, adv.balance, 1e-9)
}

func TestFailedResultIsUnprocessable(t *testing.T) {
	ws, _ := newTestServer(t, &fakeAdvisor{healthy: true})

	rec, body := do(t, ws.Handler(), http.MethodPost, "/api/execute", `{"user_id":"alice","usd_amount":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, advisor.ErrInvalidAmount.Error(), body["error"])
}

func TestMalformedBodies(t *testing.T) {
	ws, _ := newTestServer(t, &fakeAdvisor{healthy: true})

	for _, tc := range []struct{ path, body string }{
		{"/api/recommend", `{"user_id":`},
		{"/api/execute", `{"user_id":"a","amount":5}`},
		{"/api/confirm", `{"position_id":"pos-1"}`},
	} {
		rec, body := do(t, ws.Handler(), http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.path)
		assert.Equal(t, false, body["success"], tc.path)
	}
}

func TestConfirmForwardsRawPayload(t *testing.T) {
	adv := &fakeAdvisor{healthy: true}
	ws, _ := newTestServer(t, adv)

	rec, body := do(t, ws.Handler(), http.MethodPost, "/api/confirm",
		`{"position_id":"pos-1","signed_payload":{"signature":"abc"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ACTIVE", body["status"])
	assert.JSONEq(t, `{"signature":"abc"}`, string(adv.confirmed))
}

func TestPositionsRouteUsesPathUser(t *testing.T) {
	adv := &fakeAdvisor{healthy: true}
	ws, _ := newTestServer(t, adv)

	rec, body := do(t, ws.Handler(), http.MethodGet, "/api/positions/bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", adv.lastUser)
	assert.Equal(t, []interface{}{}, body["positions"])
}

func TestMonitorAndRebalance(t *testing.T) {
	ws, _ := newTestServer(t, &fakeAdvisor{healthy: true})

	rec, body := do(t, ws.Handler(), http.MethodPost, "/api/monitor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = do(t, ws.Handler(), http.MethodPost, "/api/rebalance",
		`{"user_id":"alice","risk_profile":"moderate","balance_usd":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
}

func TestSummaryWindow(t *testing.T) {
	ws, store := newTestServer(t, &fakeAdvisor{healthy: true})
	now := time.Now().UTC()
	require.NoError(t, store.CreatePosition(context.Background(), types.Position{
		ID: "p1", UserID: "alice", PoolID: "1", Status: types.StatusActive,
		InvestedAmountUSD: 100, CurrentValueUSD: 110, CreatedAt: now, UpdatedAt: now,
	}))

	rec, body := do(t, ws.Handler(), http.MethodGet, "/api/summary?window=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["users"])
	assert.InDelta(t, 110, body["open_value_usd"], 1e-9)

	rec, _ = do(t, ws.Handler(), http.MethodGet, "/api/summary?window=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryWithoutReader(t *testing.T) {
	ws := NewWebServer(Config{Advisor: &fakeAdvisor{healthy: true}})
	rec, _ := do(t, ws.Handler(), http.MethodGet, "/api/summary", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec, _ = do(t, ws.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndCORS(t *testing.T) {
	ws, _ := newTestServer(t, &fakeAdvisor{healthy: true})

	rec, _ := do(t, ws.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec, body := do(t, ws.Handler(), http.MethodGet, "/api/tuning", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "parameters")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
