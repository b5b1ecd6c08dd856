package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nozemi/rsmod/internal/config"
	"github.com/Nozemi/rsmod/internal/db"
	"github.com/Nozemi/rsmod/internal/metrics"
	"github.com/Nozemi/rsmod/internal/network"
	"github.com/Nozemi/rsmod/internal/packet"
	"github.com/Nozemi/rsmod/internal/protocol"
)

type fakeGateway struct {
	mu       sync.Mutex
	table    *protocol.Table
	sessions []network.ConnectionStats
	closed   []string
	swept    int
}

func (g *fakeGateway) Device() protocol.Device { return protocol.Desktop }
func (g *fakeGateway) Table() *protocol.Table  { return g.table }

func (g *fakeGateway) Sessions() []network.ConnectionStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]network.ConnectionStats(nil), g.sessions...)
}

func (g *fakeGateway) CloseSession(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, s := range g.sessions {
		if s.SessionID == id {
			g.sessions = append(g.sessions[:i], g.sessions[i+1:]...)
			g.closed = append(g.closed, id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", network.ErrSessionNotFound, id)
}

func (g *fakeGateway) SweepStale() int { return g.swept }

type fakeViolations struct {
	rows      []db.Violation
	lastLimit int
}

func (f *fakeViolations) Recent(_ context.Context, limit int) ([]db.Violation, error) {
	f.lastLimit = limit
	if limit > len(f.rows) {
		limit = len(f.rows)
	}
	return f.rows[:limit], nil
}

func (f *fakeViolations) CountByKind(context.Context) (map[string]int, error) {
	out := map[string]int{}
	for _, v := range f.rows {
		out[v.Kind]++
	}
	return out, nil
}

type fixture struct {
	cfg        *config.Config
	gateway    *fakeGateway
	violations *fakeViolations
	metrics    *metrics.Metrics
	handler    http.Handler
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	table, err := packet.NewTable(nil)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), config.DefaultConfigFile))
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		cfg: cfg,
		gateway: &fakeGateway{
			table: table,
			sessions: []network.ConnectionStats{
				{SessionID: "s-1", Remote: "10.0.0.1:5000", Device: "desktop", State: "awaiting_opcode"},
				{SessionID: "s-2", Remote: "10.0.0.2:5000", Device: "desktop", State: "awaiting_payload", Buffered: 2},
			},
			swept: 3,
		},
		violations: &fakeViolations{rows: []db.Violation{
			{ID: 2, SessionID: "s-9", Kind: "unknown_opcode", Opcode: 255},
			{ID: 1, SessionID: "s-8", Kind: "frame_too_large", Opcode: 11},
		}},
		metrics: metrics.New(metrics.WithRegistry(prometheus.NewRegistry())),
	}
	srv := NewServer(cfg, nil, f.gateway,
		WithViolations(f.violations),
		WithMetrics(f.metrics),
		WithVersion("1.2.3"),
	)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestPing(t *testing.T) {
	f := newFixture(t, nil)
	w, body := f.do(t, http.MethodGet, "/api/public/ping", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestOpcodeListing(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.do(t, http.MethodGet, "/api/monitor/devices/desktop/opcodes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 106, body["opcodes"])

	descriptors := body["descriptors"].([]interface{})
	var ifButton map[string]interface{}
	for _, d := range descriptors {
		m := d.(map[string]interface{})
		if m["name"] == packet.KindIfButton {
			ifButton = m
		}
	}
	require.NotNil(t, ifButton)
	assert.Equal(t, "fixed(8)", ifButton["framing"])
	assert.Len(t, ifButton["opcodes"], 10)

	w, _ = f.do(t, http.MethodGet, "/api/monitor/devices/toaster/opcodes", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodGet, "/api/monitor/devices/ios/opcodes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["opcodes"])
}

func TestConnections(t *testing.T) {
	f := newFixture(t, nil)
	w, body := f.do(t, http.MethodGet, "/api/monitor/connections", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total"])
	first := body["connections"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "s-1", first["session_id"])
}

func TestCloseConnection(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.do(t, http.MethodPost, "/api/control/connections/s-2/close", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", body["status"])
	assert.Equal(t, []string{"s-2"}, f.gateway.closed)

	w, _ = f.do(t, http.MethodPost, "/api/control/connections/s-2/close", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = f.do(t, http.MethodPost, "/api/control/connections/sweep", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["closed"])
}

func TestViolations(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.do(t, http.MethodGet, "/api/monitor/violations?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, 1, f.violations.lastLimit)

	f.do(t, http.MethodGet, "/api/monitor/violations", "")
	assert.Equal(t, defaultViolationLimit, f.violations.lastLimit)

	f.do(t, http.MethodGet, "/api/monitor/violations?limit=99999", "")
	assert.Equal(t, maxViolationLimit, f.violations.lastLimit)

	w, _ = f.do(t, http.MethodGet, "/api/monitor/violations?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodGet, "/api/monitor/violations/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total"])
}

func TestViolationsDisabled(t *testing.T) {
	table, err := packet.NewTable(nil)
	require.NoError(t, err)
	srv := NewServer(config.DefaultConfig(), nil, &fakeGateway{table: table})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/monitor/violations", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code, "falls through to the catch-all route")
}

func TestPatchGateway(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.do(t, http.MethodPatch, "/api/configure/gateway", `{"max_frame_bytes": 1024, "idle_timeout_sec": 90}`)
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, true, body["restart_required"])
	assert.Equal(t, 1024, f.cfg.GetGateway().MaxFrameBytes)
	assert.Equal(t, 90, f.cfg.GetGateway().IdleTimeoutSec)

	saved, err := os.ReadFile(f.cfg.Path())
	require.NoError(t, err)
	assert.Contains(t, string(saved), `"max_frame_bytes": 1024`)

	w, body = f.do(t, http.MethodPatch, "/api/configure/gateway", `{"port": 70000, "max_frame_bytes": 10}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, body["errors"])
	assert.Equal(t, config.DefaultGatewayPort, f.cfg.GetGateway().Port, "rejected patch is rolled back")
	assert.Equal(t, 1024, f.cfg.GetGateway().MaxFrameBytes)

	w, body = f.do(t, http.MethodPatch, "/api/configure/gateway", `{"nope": 1}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "nope", body["field"])

	w, _ = f.do(t, http.MethodPatch, "/api/configure/gateway", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIPWhitelist(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		app := cfg.GetApplicationData()
		app.Security.IPWhitelist = []string{"10.0.0.0/8"}
		cfg.SetApplicationData(app)
	})

	// httptest requests come from 192.0.2.1.
	w, _ := f.do(t, http.MethodGet, "/api/monitor/connections", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/public/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.metrics.Violation("unknown_opcode")

	w, _ := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `rsmod_gateway_protocol_violations_total{kind="unknown_opcode"} 1`)
}

func TestLogEntries(t *testing.T) {
	dir := t.TempDir()
	lines := []string{
		`{"level":"info","time":"2026-01-01T00:00:00Z","component":"gateway","message":"gateway listening","addr":"0.0.0.0:43594"}`,
		`not json`,
		`{"level":"warn","time":"2026-01-01T00:00:01Z","component":"connection","message":"protocol violation, closing connection","kind":"unknown_opcode"}`,
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rsmod_2026-01-01_00-00-00.log"), []byte(strings.Join(lines, "\n")+"\n"), 0644))

	f := newFixture(t, func(cfg *config.Config) {
		app := cfg.GetApplicationData()
		app.Logging.Directory = dir
		cfg.SetApplicationData(app)
	})

	w, body := f.do(t, http.MethodGet, "/api/monitor/log_entries?count=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	assert.Equal(t, "not json", entries[0].(map[string]interface{})["message"])
	last := entries[1].(map[string]interface{})
	assert.Equal(t, "connection", last["component"])
	assert.Equal(t, "unknown_opcode", last["fields"].(map[string]interface{})["kind"])
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst of two exhausted")
	assert.True(t, rl.Allow("b"), "buckets are per client")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	assert.True(t, NewRateLimiter(0).Allow("a"))
}
