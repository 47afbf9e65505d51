package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/scheduler"
)

type fakeStats struct {
	stats scheduler.Stats
}

func (f fakeStats) Stats() scheduler.Stats { return f.stats }

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil, nil, zap.NewNop())
	rec := serve(t, server.Handler(), http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		pinger Pinger
		want   int
	}{
		{name: "store answers", pinger: fakePinger{}, want: http.StatusOK},
		{name: "store down", pinger: fakePinger{err: errors.New("connection refused")}, want: http.StatusServiceUnavailable},
		{name: "no store", pinger: nil, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := NewServer(nil, tt.pinger, nil, zap.NewNop())
			rec := serve(t, server.Handler(), http.MethodGet, "/readyz")
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServerStats(t *testing.T) {
	t.Parallel()

	src := fakeStats{stats: scheduler.Stats{
		RunID:      "run-9",
		State:      scheduler.StateRunning,
		Indexed:    12,
		TotalPages: 40,
	}}
	server := NewServer(src, nil, nil, zap.NewNop())
	rec := serve(t, server.Handler(), http.MethodGet, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stats scheduler.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-9", body.Stats.RunID)
	require.Equal(t, scheduler.StateRunning, body.Stats.State)
	require.Equal(t, 12, body.Stats.Indexed)
	require.Equal(t, int64(40), body.Stats.TotalPages)
}

func TestServerStatsWithoutRun(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil, nil, zap.NewNop())
	rec := serve(t, server.Handler(), http.MethodGet, "/v1/stats")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil, nil, zap.NewNop())
	_ = serve(t, server.Handler(), http.MethodGet, "/healthz")
	rec := serve(t, server.Handler(), http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := serve(t, h, http.MethodGet, "/")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	require.NoError(t, <-done)
}
