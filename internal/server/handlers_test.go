package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-manager/internal/fee"
	"parking-manager/internal/parking"
	"parking-manager/internal/tariff"
	"parking-manager/internal/telemetry"
	"parking-manager/internal/vehicle"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	handler http.Handler
	manager *parking.InstrumentedManager
	clock   *testClock
}

func newTestEnv(t *testing.T, db Pinger) *testEnv {
	t.Helper()

	specs, err := parking.ParseLayout("CAR:2,MOTORCYCLE:1")
	require.NoError(t, err)
	registry, err := parking.NewRegistry(specs)
	require.NoError(t, err)
	tariffs, err := tariff.NewTable(tariff.Tariff{
		Category:         vehicle.Car,
		FirstHour:        decimal.RequireFromString("10.00"),
		AdditionalHour:   decimal.RequireFromString("5.00"),
		ToleranceMinutes: 15,
	})
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	tp := telemetry.Noop()
	im, err := parking.NewInstrumentedManager(
		parking.NewManager(registry, tariffs, parking.WithClock(clock.Now)),
		tp.Tracer(), tp.Meter(), nil)
	require.NoError(t, err)

	srv := NewServer(Options{Port: "0", ServiceName: "parking-test", Manager: im, DB: db})
	return &testEnv{handler: srv.Handler(), manager: im, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func dataAs[T any](t *testing.T, resp Response) T {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, fakePinger{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "parking-test", resp.Service)
	assert.Equal(t, "up", resp.Database)
}

func TestHealthCheckDegraded(t *testing.T) {
	env := newTestEnv(t, fakePinger{err: errors.New("disk gone")})
	w, _ := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEntryAndExitFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	w, resp := env.do(t, http.MethodPost, "/api/sessions/entry", EntryRequest{Plate: "abc-1234", Category: "car"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	entered := dataAs[SessionResponse](t, resp)
	assert.Equal(t, "ABC1234", entered.Plate)
	assert.Equal(t, 1, entered.SpotNumber)
	assert.True(t, entered.Open)
	assert.NotEmpty(t, resp.Meta.RequestID)

	w, _ = env.do(t, http.MethodPost, "/api/sessions/entry", EntryRequest{Plate: "ABC1234", Category: "CAR"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp = env.do(t, http.MethodGet, "/api/sessions/abc1234", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entered.ID, dataAs[SessionResponse](t, resp).ID)

	env.clock.Advance(90 * time.Minute)
	w, resp = env.do(t, http.MethodPost, "/api/sessions/exit", ExitRequest{Plate: "ABC1234"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	exited := dataAs[ExitResponse](t, resp)
	assert.Equal(t, "15.00", exited.Amount)
	assert.Equal(t, "1h 30min", exited.Elapsed)
	assert.Equal(t, int64(90), exited.ElapsedMinutes)
	assert.False(t, exited.Session.Open)
	assert.Equal(t, "10.00", exited.Tariff.FirstHour)

	w, _ = env.do(t, http.MethodPost, "/api/sessions/exit", ExitRequest{Plate: "ABC1234"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = env.do(t, http.MethodGet, "/api/sessions/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := dataAs[[]SessionResponse](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, "15.00", history[0].Amount)

	w, resp = env.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, dataAs[[]SessionResponse](t, resp))
}

func TestEntryValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name string
		body any
		code int
	}{
		{"missing plate", EntryRequest{Category: "CAR"}, http.StatusBadRequest},
		{"unknown category", EntryRequest{Plate: "ABC1234", Category: "TRUCK"}, http.StatusBadRequest},
		{"bad plate", EntryRequest{Plate: "ABC#1234", Category: "CAR"}, http.StatusBadRequest},
		{"unknown spot", EntryRequest{Plate: "ABC1234", Category: "CAR", SpotID: "S999"}, http.StatusNotFound},
		{"wrong category spot", EntryRequest{Plate: "ABC1234", Category: "CAR", SpotID: "S003"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := env.do(t, http.MethodPost, "/api/sessions/entry", tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/entry", strings.NewReader("{"))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEntryWhenFull(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, plate := range []string{"CAR0001", "CAR0002"} {
		w, _ := env.do(t, http.MethodPost, "/api/sessions/entry", EntryRequest{Plate: plate, Category: "CAR"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, _ := env.do(t, http.MethodPost, "/api/sessions/entry", EntryRequest{Plate: "CAR0003", Category: "CAR"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp := env.do(t, http.MethodPost, "/api/sessions/entry", EntryRequest{Plate: "CAR0003", Category: "CAR", AnyCategory: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "S003", dataAs[SessionResponse](t, resp).SpotID)
}

func TestExitWithoutTariff(t *testing.T) {
	env := newTestEnv(t, nil)

	w, _ := env.do(t, http.MethodPost, "/api/sessions/entry", EntryRequest{Plate: "MOTO001", Category: "MOTORCYCLE"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/sessions/exit", ExitRequest{Plate: "MOTO001"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/sessions/MOTO001", nil)
	assert.Equal(t, http.StatusOK, w.Code, "session stays open")
}

func TestExitInconsistentStateStillReportsReceipt(t *testing.T) {
	env := newTestEnv(t, nil)

	w, resp := env.do(t, http.MethodPost, "/api/sessions/entry", EntryRequest{Plate: "ABC1234", Category: "CAR"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, env.manager.Registry().Release(dataAs[SessionResponse](t, resp).SpotID))

	env.clock.Advance(30 * time.Minute)
	w, resp = env.do(t, http.MethodPost, "/api/sessions/exit", ExitRequest{Plate: "ABC1234"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "10.00", dataAs[ExitResponse](t, resp).Amount)
}

func TestSpotsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w, _ := env.do(t, http.MethodPut, "/api/spots/S002/maintenance", map[string]bool{"maintenance": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, resp := env.do(t, http.MethodGet, "/api/spots?category=car&status=maintenance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	spots := dataAs[[]parking.Spot](t, resp)
	require.Len(t, spots, 1)
	assert.Equal(t, "S002", spots[0].ID)

	w, resp = env.do(t, http.MethodGet, "/api/spots/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := dataAs[parking.Stats](t, resp)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Maintenance)

	w, _ = env.do(t, http.MethodGet, "/api/spots?status=parked", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPut, "/api/spots/S404/maintenance", map[string]bool{"maintenance": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodPut, "/api/spots/S001/maintenance", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/sessions/entry", EntryRequest{Plate: "ABC1234", Category: "CAR"})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodPut, "/api/spots/S001/maintenance", map[string]bool{"maintenance": true})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTariffEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w, resp := env.do(t, http.MethodGet, "/api/tariffs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataAs[[]TariffResponse](t, resp), 1)

	w, _ = env.do(t, http.MethodGet, "/api/tariffs/motorcycle", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/tariffs/truck", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = env.do(t, http.MethodPatch, "/api/tariffs/car", map[string]any{"additional_hour": "6.5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := dataAs[TariffResponse](t, resp)
	assert.Equal(t, "10.00", updated.FirstHour)
	assert.Equal(t, "6.50", updated.AdditionalHour)
	assert.Equal(t, 15, updated.ToleranceMinutes)

	w, _ = env.do(t, http.MethodPatch, "/api/tariffs/car", map[string]any{"first_hour": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPatch, "/api/tariffs/car", map[string]any{"tolerance_minutes": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPatch, "/api/tariffs/motorcycle", map[string]any{"tolerance_minutes": 10})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodPatch, "/api/tariffs/motorcycle", map[string]any{
		"first_hour": "5.00", "additional_hour": "2.50", "tolerance_minutes": 10,
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "parking_spots_capacity 3")
	assert.Contains(t, w.Body.String(), `parking_spots{category="CAR",status="FREE"} 2`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(parking.ErrNoAvailableSpot))
	assert.Equal(t, http.StatusNotFound, statusFor(parking.ErrNotParked))
	assert.Equal(t, http.StatusNotFound, statusFor(tariff.ErrTariffNotConfigured))
	assert.Equal(t, http.StatusBadRequest, statusFor(fee.ErrInvalidInterval))
	assert.Equal(t, http.StatusInternalServerError,
		statusFor(errors.Join(parking.ErrInconsistentState, parking.ErrSpotNotOccupied)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/tariffs/car", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}
