package agents

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newHandlerRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	m, _, _ := newTestManager(t)
	h := NewHandler(m, func(c *gin.Context) bool { return c.GetHeader("X-Admin-Secret") == "s3cret" })

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		if id := c.GetHeader(tenant.HeaderTenantID); id != "" {
			tenant.Verify(c, id, nil)
		}
		c.Next()
	})
	h.RegisterProtectedRoutes(v1)
	h.RegisterAdminRoutes(v1)
	return r, m
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

var acmeHeaders = map[string]string{tenant.HeaderTenantID: "acme"}

func TestHandler_AgentCatalog(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w, body := doJSON(t, r, http.MethodGet, "/v1/agents?type=analyst", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = doJSON(t, r, http.MethodGet, "/v1/agents", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"], "beta's private agent is hidden")

	w, body = doJSON(t, r, http.MethodPost, "/v1/agents", map[string]any{
		"id": "mine", "agent_type": "researcher", "capabilities": []string{"news"},
	}, acmeHeaders)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	agent := body["agent"].(map[string]any)
	assert.Equal(t, "acme", agent["tenant_id"])
	assert.Equal(t, "researcher", agent["agent_type"])
	assert.Equal(t, "registered", agent["status"])

	_, body = doJSON(t, r, http.MethodGet, "/v1/agents?capability=news", nil, acmeHeaders)
	assert.Equal(t, float64(1), body["count"])
}

func TestHandler_PatchAgent(t *testing.T) {
	r, m := newHandlerRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/v1/agents", map[string]any{
		"id": "mine", "agent_type": "researcher", "capabilities": []string{"news"}, "status": "active",
	}, acmeHeaders)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := doJSON(t, r, http.MethodPatch, "/v1/agents/mine", map[string]any{
		"description": "reads the wires", "capabilities": []string{"news", "sentiment"}, "tenant_id": "beta",
	}, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	agent := body["agent"].(map[string]any)
	assert.Equal(t, "reads the wires", agent["description"])
	assert.Equal(t, "acme", agent["tenant_id"])
	assert.Equal(t, "active", agent["status"])
	assert.Equal(t, "researcher", agent["agent_type"])

	_, body = doJSON(t, r, http.MethodGet, "/v1/agents?capability=sentiment", nil, acmeHeaders)
	assert.Equal(t, float64(1), body["count"])

	w, _ = doJSON(t, r, http.MethodPatch, "/v1/agents/mine", map[string]any{"status": "bogus"}, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = doJSON(t, r, http.MethodPatch, "/v1/agents/mine", map[string]any{"name": "x"}, map[string]string{tenant.HeaderTenantID: "beta"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	got, ok := m.Agents().Registry().Get("mine")
	require.True(t, ok)
	assert.Equal(t, []string{"news", "sentiment"}, got.Capabilities)
	require.NoError(t, m.Agents().Registry().CheckInvariants())
}

func TestHandler_InstanceFlow(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/v1/agents/analyst/instances",
		map[string]any{"config": map[string]any{"symbol": "AAPL"}}, acmeHeaders)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inst := body["instance"].(map[string]any)
	id := inst["instance_id"].(string)
	assert.Equal(t, "running", inst["status"])

	w, body = doJSON(t, r, http.MethodPost, "/v1/agents/analyst/instances", nil, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_config", body["error"])

	w, body = doJSON(t, r, http.MethodPost, "/v1/agents/draft/instances", nil, acmeHeaders)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "agent_not_active", body["error"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/agent-instances/"+id+"/heartbeat",
		map[string]any{"metrics": map[string]any{"queue": 2}}, acmeHeaders)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/v1/agent-instances/"+id, nil, map[string]string{tenant.HeaderTenantID: "beta"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, body = doJSON(t, r, http.MethodGet, "/v1/agent-instances?status=running", nil, acmeHeaders)
	assert.Equal(t, float64(1), body["count"])
	w, _ = doJSON(t, r, http.MethodGet, "/v1/agent-instances?status=zombie", nil, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = doJSON(t, r, http.MethodPost, "/v1/agent-instances/"+id+"/stop", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stopped", body["instance"].(map[string]any)["status"])

	w, body = doJSON(t, r, http.MethodPost, "/v1/agent-instances/"+id+"/heartbeat", nil, acmeHeaders)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", body["error"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/agent-instances/"+id+"/start", nil, acmeHeaders)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodDelete, "/v1/agent-instances/"+id, nil, acmeHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, r, http.MethodGet, "/v1/agent-instances/"+id, nil, acmeHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
