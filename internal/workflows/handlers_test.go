package workflows

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandler_OrderAndRegister(t *testing.T) {
	c := NewCatalog(NewRegistry(), nil)
	_, err := c.Import(context.Background(), []byte(seed), declarative.Options{})
	require.NoError(t, err)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		if id := c.GetHeader(tenant.HeaderTenantID); id != "" {
			tenant.Verify(c, id, nil)
		}
		c.Next()
	})
	NewHandler(c, nil).RegisterProtectedRoutes(v1)

	do := func(method, path, body, tenantID string) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if tenantID != "" {
			req.Header.Set(tenant.HeaderTenantID, tenantID)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		out := map[string]any{}
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w, out
	}

	w, body := do(http.MethodGet, "/v1/workflows/stock_analysis/order", "", "acme")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"fetch_data", "analyze", "report"}, body["order"])

	w, _ = do(http.MethodGet, "/v1/workflows/risk_check/order", "", "beta")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = do(http.MethodPost, "/v1/workflows",
		`{"workflow_id":"loop","nodes":[{"node_id":"a"},{"node_id":"b"}],"edges":[["a","b"],["b","a"]]}`, "acme")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["error"])

	w, body = do(http.MethodPost, "/v1/workflows",
		`{"workflow_id":"pipeline","nodes":[{"node_id":"load"},{"node_id":"score","node_type":"agent","dependencies":["load"]}]}`, "acme")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "acme", body["workflow"].(map[string]any)["tenant_id"])

	w, body = do(http.MethodGet, "/v1/workflows?node_type=agent", "", "acme")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["count"])

	w, body = do(http.MethodGet, "/v1/workflows?node_type=agent", "", "beta")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])
}
