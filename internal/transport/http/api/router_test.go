package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"booner/internal/executor"
	"booner/internal/gateway/venue"
	"booner/internal/monitor"
	"booner/internal/pipeline"
	"booner/internal/store"
	"booner/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine implements only what a test sets; the embedded interface
// panics on anything else.
type fakeEngine struct {
	Engine

	signal    func(SignalRequest) (SignalResult, error)
	lastTrend TrendRequest
	priceErr  error
	decisions []store.DecisionRecord
	lastAsset string
	lastLimit int
	filter    store.PositionFilter
	cooldown  time.Duration
	checks    []monitor.CheckResult
}

func (f *fakeEngine) HandleSignal(_ context.Context, req SignalRequest) (SignalResult, error) {
	return f.signal(req)
}

func (f *fakeEngine) UpdateTrend(_ context.Context, req TrendRequest) (types.Trend, error) {
	f.lastTrend = req
	if req.Trend == "" && len(req.Candles) == 0 {
		return "", fmt.Errorf("%w: trend or candles required", ErrBadRequest)
	}
	return types.ParseTrend(string(req.Trend)), nil
}

func (f *fakeEngine) UpdatePrice(context.Context, PriceRequest) error {
	return f.priceErr
}

func (f *fakeEngine) Decisions(_ context.Context, asset string, limit int) ([]store.DecisionRecord, error) {
	f.lastAsset, f.lastLimit = asset, limit
	return f.decisions, nil
}

func (f *fakeEngine) Positions(_ context.Context, filter store.PositionFilter) ([]types.Position, error) {
	f.filter = filter
	return []types.Position{{ID: "p1", Asset: "GOLD", Status: types.PositionOpen}}, nil
}

func (f *fakeEngine) Weights(_ context.Context, asset, strat string) (types.PillarWeights, error) {
	return types.PillarWeights{"base": 40, "trend": 60}, nil
}

func (f *fakeEngine) Cooldown(context.Context, string) (time.Duration, error) {
	return f.cooldown, nil
}

func (f *fakeEngine) Poll(context.Context) ([]monitor.CheckResult, error) {
	return f.checks, nil
}

func newTestServer(t *testing.T, eng Engine) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{Engine: eng, Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("booner_decisions_total 1\n"))
	})})
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func approvedDecision() pipeline.Decision {
	return pipeline.Decision{ID: "d1", Asset: "GOLD", Outcome: pipeline.StateApproved, Approved: true, FinalScore: 72}
}

func TestNewServerRequiresEngine(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newTestServer(t, &fakeEngine{})

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "booner_decisions_total")
}

func TestSignalApprovedAndOpened(t *testing.T) {
	eng := &fakeEngine{signal: func(req SignalRequest) (SignalResult, error) {
		assert.Equal(t, "GOLD", req.Asset)
		assert.Equal(t, types.DirectionBuy, req.Direction)
		require.NotNil(t, req.Features)
		assert.Equal(t, 80.0, req.Features.Pillars["base"])
		pos := types.Position{ID: "p1", Asset: "GOLD", Status: types.PositionOpen}
		return SignalResult{Decision: approvedDecision(), Execution: ExecutionOpened, Position: &pos}, nil
	}}
	h := newTestServer(t, eng)

	rec := do(t, h, http.MethodPost, "/api/v1/signals", map[string]any{
		"asset":     "GOLD",
		"strategy":  "day_trading",
		"direction": "BUY",
		"features":  map[string]any{"asset": "GOLD", "pillars": map[string]float64{"base": 80}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res SignalResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, ExecutionOpened, res.Execution)
	assert.True(t, res.Decision.Approved)
	require.NotNil(t, res.Position)
	assert.Equal(t, "p1", res.Position.ID)
}

func TestSignalStatusMapping(t *testing.T) {
	cases := []struct {
		name     string
		decision pipeline.Decision
		err      error
		want     int
	}{
		{"invalid signal", pipeline.Decision{}, fmt.Errorf("%w: bad direction", pipeline.ErrInvalidSignal), http.StatusBadRequest},
		{"duplicate", approvedDecision(), fmt.Errorf("open GOLD: %w", executor.ErrDuplicateInProgress), http.StatusConflict},
		{"cooldown", approvedDecision(), executor.ErrCooldownActive, http.StatusConflict},
		{"venue margin", approvedDecision(), venue.NewError(venue.KindMargin, "open", errors.New("insufficient margin")), http.StatusBadGateway},
		{"venue timeout", approvedDecision(), venue.NewError(venue.KindTimeout, "open", nil), http.StatusGatewayTimeout},
		{"store", pipeline.Decision{}, errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{signal: func(SignalRequest) (SignalResult, error) {
				return SignalResult{Decision: tc.decision, Execution: ExecutionRefused}, tc.err
			}}
			rec := do(t, newTestServer(t, eng), http.MethodPost, "/api/v1/signals", map[string]any{"asset": "GOLD"})
			assert.Equal(t, tc.want, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.err.Error())
			if tc.decision.ID != "" {
				assert.Contains(t, rec.Body.String(), `"decision"`)
			}
		})
	}
}

func TestSignalRejectsMalformedJSON(t *testing.T) {
	h := newTestServer(t, &fakeEngine{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrendUpdate(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestServer(t, eng)

	rec := do(t, h, http.MethodPost, "/api/v1/trends", map[string]any{"asset": "dxy", "trend": "up"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"asset":"DXY","trend":"UP"}`, rec.Body.String())
	assert.Equal(t, "dxy", eng.lastTrend.Asset)

	rec = do(t, h, http.MethodPost, "/api/v1/trends", map[string]any{"asset": "DXY"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriceUnsupported(t *testing.T) {
	eng := &fakeEngine{priceErr: ErrUnsupported}
	rec := do(t, newTestServer(t, eng), http.MethodPost, "/api/v1/prices", PriceRequest{Asset: "GOLD", Bid: 1, Ask: 2})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestDecisionsLimitIsClamped(t *testing.T) {
	eng := &fakeEngine{decisions: []store.DecisionRecord{{ID: "d1", Asset: "GOLD", Outcome: "APPROVED"}}}
	h := newTestServer(t, eng)

	rec := do(t, h, http.MethodGet, "/api/v1/decisions?asset=GOLD&limit=9999", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GOLD", eng.lastAsset)
	assert.Equal(t, 500, eng.lastLimit)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	do(t, h, http.MethodGet, "/api/v1/decisions?limit=-3", nil)
	assert.Equal(t, 100, eng.lastLimit)
}

func TestPositionsFilter(t *testing.T) {
	eng := &fakeEngine{}
	rec := do(t, newTestServer(t, eng), http.MethodGet, "/api/v1/positions?status=open&asset=GOLD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.PositionOpen, eng.filter.Status)
	assert.Equal(t, "GOLD", eng.filter.Asset)
	assert.Contains(t, rec.Body.String(), `"p1"`)
}

func TestCooldownAndWeights(t *testing.T) {
	eng := &fakeEngine{cooldown: 90 * time.Second}
	h := newTestServer(t, eng)

	rec := do(t, h, http.MethodGet, "/api/v1/cooldowns/gold", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"asset":"GOLD","active":true,"remaining_seconds":90}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/weights/gold/Day-Trading", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trend":60`)
}

func TestPollReportsErrorsAsText(t *testing.T) {
	eng := &fakeEngine{checks: []monitor.CheckResult{
		{PositionID: "p1", Action: monitor.ActionClosed, Reason: types.CloseStopLoss},
		{PositionID: "p2", Action: monitor.ActionFailed, Err: errors.New("margin")},
	}}
	rec := do(t, newTestServer(t, eng), http.MethodPost, "/api/v1/positions/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []checkView `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, monitor.ActionClosed, body.Results[0].Action)
	assert.Equal(t, "margin", body.Results[1].Error)
}
