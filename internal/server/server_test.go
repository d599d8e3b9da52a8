package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/config"
	"github.com/mbd888/agentplatform/internal/tenant"
)

const testAdminSecret = "test-admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

const tenantSeed = `
tenants:
  acme:
    name: Acme
    tier: professional
    status: active
  beta:
    name: Beta
    status: active
  tiny:
    name: Tiny
    status: active
    max_api_calls_per_day: 2
  frozen:
    name: Frozen
    status: suspended
`

const agentSeed = `
agents:
  - id: acme_bot
    tenant_id: acme
    agent_type: analyst
  - id: shared_reporter
    agent_type: reporter
    status: active
`

// testConfig returns a minimal config for testing
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	writeSeed(t, filepath.Join(dir, "tenants", "tenants.yaml"), tenantSeed)
	writeSeed(t, filepath.Join(dir, "agents", "agents.yaml"), agentSeed)

	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		LogFormat:            "text",
		JWTSecret:            "test-secret-at-least-thirty-two-chars",
		JWTIssuer:            "agentplatform-test",
		TokenTTL:             time.Hour,
		RefreshTTL:           24 * time.Hour,
		ConfigDir:            dir,
		HeartbeatInterval:    time.Minute,
		HeartbeatTimeout:     5 * time.Minute,
		AvailabilityInterval: time.Minute,
		TenantSweepInterval:  time.Minute,
		BillingSweepInterval: time.Hour,
		AdminSecret:          testAdminSecret,
	}
}

func writeSeed(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(t),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithDrainDelay(0),
	)
	require.NoError(t, err)
	return s
}

type call struct {
	method  string
	path    string
	body    string
	tenant  string
	token   string
	admin   bool
	headers map[string]string
}

func (s *Server) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tenant != "" {
		req.Header.Set(tenant.HeaderTenantID, c.tenant)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.admin {
		req.Header.Set("X-Admin-Secret", testAdminSecret)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestServer_HealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, code)
	// The sweeps only run inside Run.
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, Version, body["version"])

	code, body = s.do(t, call{method: http.MethodGet, path: "/health/live"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	code, _ = s.do(t, call{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = s.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_RequestIDAndSecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)
}

// session creates a user bound to tenantID and returns an access token.
func (s *Server) session(t *testing.T, username, tenantID string) string {
	t.Helper()
	code, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/v1/users",
		admin:  true,
		body:   `{"username":"` + username + `","email":"` + username + `@example.com","password":"correct-horse","tenant_id":"` + tenantID + `"}`,
	})
	require.Equal(t, http.StatusCreated, code, body)

	code, body = s.do(t, call{
		method: http.MethodPost,
		path:   "/v1/auth/login",
		body:   `{"username":"` + username + `","password":"correct-horse"}`,
	})
	require.Equal(t, http.StatusOK, code, body)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestServer_SeedsRegistriesPerTenant(t *testing.T) {
	s := newTestServer(t)
	acme := s.session(t, "alice", "acme")
	beta := s.session(t, "bob", "beta")

	code, body := s.do(t, call{method: http.MethodGet, path: "/v1/agents", token: acme})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["count"])

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/agents", token: beta})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"], "beta only sees the shared agent")

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/agents/acme_bot", token: beta})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body["error"])

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/agents", admin: true})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["count"])
}

func TestServer_TenantHintAloneIsUnauthorized(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "rename tenant", method: http.MethodPatch, path: "/v1/tenants/acme", body: `{"name":"pwned"}`},
		{name: "delete agent", method: http.MethodDelete, path: "/v1/agents/acme_bot"},
		{name: "register agent", method: http.MethodPost, path: "/v1/agents", body: `{"id":"evil"}`},
		{name: "list agents", method: http.MethodGet, path: "/v1/agents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(t, call{method: tt.method, path: tt.path, body: tt.body, tenant: "acme"})
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, "unauthorized", body["error"])
		})
	}

	code, body := s.do(t, call{method: http.MethodGet, path: "/v1/tenants/acme", admin: true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Acme", body["tenant"].(map[string]any)["name"])
	code, _ = s.do(t, call{method: http.MethodGet, path: "/v1/agents/acme_bot", admin: true})
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, call{method: http.MethodGet, path: "/v1/agents/evil", admin: true})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_TenantResolution(t *testing.T) {
	s := newTestServer(t)
	acme := s.session(t, "alice", "acme")

	tests := []struct {
		name     string
		tenantID string
		token    string
		wantCode int
		wantErr  string
	}{
		{name: "unknown tenant", tenantID: "ghost", wantCode: http.StatusForbidden, wantErr: "tenant_access_denied"},
		{name: "suspended tenant", tenantID: "frozen", wantCode: http.StatusForbidden, wantErr: "tenant_access_denied"},
		{name: "malformed tenant", tenantID: "bad tenant!", wantCode: http.StatusForbidden, wantErr: "tenant_access_denied"},
		{name: "active tenant without session", tenantID: "acme", wantCode: http.StatusUnauthorized, wantErr: "unauthorized"},
		{name: "active tenant with session", tenantID: "acme", token: acme, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(t, call{method: http.MethodGet, path: "/v1/tenants/current", tenant: tt.tenantID, token: tt.token})
			assert.Equal(t, tt.wantCode, code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, body["error"])
			}
		})
	}

	code, body := s.do(t, call{method: http.MethodGet, path: "/v1/tenants/current", admin: true})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "tenant_required", body["error"])

	// Admins may narrow to a tenant with the header.
	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/tenants/current", admin: true, tenant: "beta"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "beta", body["tenant"].(map[string]any)["tenant_id"])
}

func TestServer_AdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants", tenant: "acme"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "admin_required", body["error"])

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants", admin: true})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 4, body["count"])

	code, body = s.do(t, call{
		method: http.MethodPost,
		path:   "/v1/admin/tenants",
		admin:  true,
		body:   `{"tenant_id":"gamma","name":"Gamma","status":"active"}`,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "gamma", body["tenant"].(map[string]any)["tenant_id"])

	gamma := s.session(t, "gina", "gamma")
	code, _ = s.do(t, call{method: http.MethodGet, path: "/v1/tenants/current", token: gamma})
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_LoginBindsTenantFromToken(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, call{
		method: http.MethodPost,
		path:   "/v1/users",
		admin:  true,
		body:   `{"username":"alice","email":"alice@acme.example","password":"correct-horse","tenant_id":"acme"}`,
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/v1/auth/login",
		body:   `{"username":"alice","password":"correct-horse"}`,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "acme", body["tenant_id"])
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)

	// No tenant header: the token's tenant scopes the request.
	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/agents", token: token})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["count"])

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/auth/me", token: token})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "acme", body["tenant_id"])

	// A header naming another tenant is rejected against the user's tenant.
	code, _ = s.do(t, call{method: http.MethodGet, path: "/v1/agents", token: token, tenant: "beta"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/agents", token: "not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.NotEmpty(t, body["error"])

	code, _ = s.do(t, call{
		method: http.MethodPost,
		path:   "/v1/auth/login",
		body:   `{"username":"alice","password":"wrong-password"}`,
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestServer_DailyQuota(t *testing.T) {
	s := newTestServer(t)
	tiny := s.session(t, "tim", "tiny")
	acme := s.session(t, "alice", "acme")

	for i := 1; i <= 2; i++ {
		code, _ := s.do(t, call{method: http.MethodGet, path: "/v1/agents", token: tiny})
		require.Equal(t, http.StatusOK, code, "call %d", i)
	}
	code, body := s.do(t, call{method: http.MethodGet, path: "/v1/agents", token: tiny})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "quota_exceeded", body["error"])

	// Other tenants keep their own counters.
	code, _ = s.do(t, call{method: http.MethodGet, path: "/v1/agents", token: acme})
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_InvalidIDParam(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, call{method: http.MethodGet, path: "/v1/agents/bad%20id!", admin: true})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_id", body["error"])
}

func TestServer_InfoScopesStats(t *testing.T) {
	s := newTestServer(t)
	beta := s.session(t, "bob", "beta")

	code, body := s.do(t, call{method: http.MethodGet, path: "/v1/info", token: beta})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "agentplatform", body["name"])
	assert.Equal(t, "beta", body["tenant_id"])
	regs := body["registries"].(map[string]any)
	assert.EqualValues(t, 1, regs["agents"].(map[string]any)["total"])

	// A bare hint shows shared records only.
	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/info", tenant: "acme"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "", body["tenant_id"])
	regs = body["registries"].(map[string]any)
	assert.EqualValues(t, 1, regs["agents"].(map[string]any)["total"])
}

func TestServer_RealtimeRequiresCaller(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, call{method: http.MethodGet, path: "/v1/ws"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["error"])

	code, _ = s.do(t, call{method: http.MethodGet, path: "/v1/ws", tenant: "acme"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = s.do(t, call{method: http.MethodGet, path: "/v1/admin/realtime", admin: true})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["realtime"], "connected_clients")
}

func TestServer_RunAndShutdown(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		code, _ := s.do(t, call{method: http.MethodGet, path: "/health/ready"})
		return code == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, body := s.do(t, call{method: http.MethodGet, path: "/health"})
		return body["status"] == "healthy"
	}, 3*time.Second, 20*time.Millisecond, "sweeps report running once started")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}

	code, _ := s.do(t, call{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
