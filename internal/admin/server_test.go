package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/bladectl/internal/cache"
	"github.com/danmuck/bladectl/internal/protocol/session"
	"github.com/danmuck/bladectl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	state    session.State
	identity session.Identity
	pending  int
	queued   int
	cache    *cache.Cache
}

func (s *stubSource) State() session.State       { return s.state }
func (s *stubSource) Identity() session.Identity { return s.identity }
func (s *stubSource) Pending() int               { return s.pending }
func (s *stubSource) Queued() int                { return s.queued }
func (s *stubSource) Cache() *cache.Cache        { return s.cache }

func newStub() *stubSource {
	c := cache.New()
	c.AddRoute(cache.Route{NodeID: "n2", Identities: []string{"alice"}})
	c.AddRoute(cache.Route{NodeID: "n1"})
	c.AddProvider("blade.echo", cache.AccessDefaults{},
		[]cache.Method{{Name: "ping", ExecuteAccess: cache.ACLPublic}},
		[]cache.Channel{{Name: "events"}},
		cache.Provider{NodeID: "n2", Rank: 3})
	c.AddUncertifiedProtocol("draft")
	c.AddAuthority("n1")
	return &stubSource{
		state:    session.StateRunning,
		identity: session.Identity{SessionID: "s1", NodeID: "n0", MasterNodeID: "m"},
		pending:  2,
		queued:   1,
		cache:    c,
	}
}

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr.Code, body
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	src := newStub()
	s := New("bladectl-test", src)

	code, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "bladectl-test", body["service"])

	code, body = get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])

	src.state = session.StateConnecting
	code, body = get(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, session.StateConnecting.String(), body["state"])
}

func TestSessionView(t *testing.T) {
	testlog.Start(t)
	s := New("bladectl-test", newStub())

	code, body := get(t, s, "/session")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, session.StateRunning.String(), body["state"])
	assert.EqualValues(t, 2, body["pending"])
	assert.EqualValues(t, 1, body["queued"])

	identity := body["identity"].(map[string]any)
	assert.Equal(t, "s1", identity["sessionid"])
	assert.Equal(t, "n0", identity["nodeid"])

	stats := body["cache"].(map[string]any)
	assert.EqualValues(t, 2, stats["routes"])
	assert.EqualValues(t, 1, stats["protocols"])
	assert.EqualValues(t, 1, stats["authorities"])
}

func TestCacheViews(t *testing.T) {
	testlog.Start(t)
	s := New("bladectl-test", newStub())

	code, body := get(t, s, "/cache/routes")
	require.Equal(t, http.StatusOK, code)
	routes := body["routes"].([]any)
	require.Len(t, routes, 2)
	assert.Equal(t, "n1", routes[0].(map[string]any)["nodeid"])
	assert.Equal(t, "n2", routes[1].(map[string]any)["nodeid"])

	code, body = get(t, s, "/cache/protocols")
	require.Equal(t, http.StatusOK, code)
	protocols := body["protocols"].([]any)
	require.Len(t, protocols, 1)
	echo := protocols[0].(map[string]any)
	assert.Equal(t, "blade.echo", echo["name"])
	assert.Len(t, echo["methods"], 1)
	assert.Len(t, echo["providers"], 1)
	assert.Equal(t, []any{"draft"}, body["uncertified"])

	code, body = get(t, s, "/cache/protocols/blade.echo")
	require.Equal(t, http.StatusOK, code)
	provider := body["providers"].([]any)[0].(map[string]any)
	assert.Equal(t, "n2", provider["nodeid"])
	assert.EqualValues(t, 3, provider["rank"])

	code, _ = get(t, s, "/cache/protocols/missing")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, s, "/cache/authorities")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"n1"}, body["authorities"])
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s := New("bladectl-test", newStub())
	get(t, s, "/health")

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "bladectl_http_requests_total")
}

func TestCORSOrigins(t *testing.T) {
	testlog.Start(t)
	s := New("bladectl-test", newStub(), WithCORSOrigins([]string{" http://localhost:3000/ ", ""}))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
