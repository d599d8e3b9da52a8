package billing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminSecret = "s3cret"

func newHandlerRouter(t *testing.T) (*gin.Engine, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	isAdmin := func(c *gin.Context) bool { return c.GetHeader("X-Admin-Secret") == testAdminSecret }
	h := NewHandler(env.svc, isAdmin)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	scoped := v1.Group("")
	scoped.Use(tenant.Middleware(env.tenants, tenant.MiddlewareConfig{}))
	// Stands in for a session bound to the resolved tenant.
	scoped.Use(func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			tenant.Verify(c, tenant.GetTenantID(c), nil)
		}
		c.Next()
	})
	h.RegisterProtectedRoutes(scoped)
	admin := scoped.Group("")
	admin.Use(func(c *gin.Context) {
		if !isAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_required"})
			return
		}
		c.Next()
	})
	h.RegisterAdminRoutes(admin)
	return r, env
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

var (
	adminHeaders = map[string]string{"X-Admin-Secret": testAdminSecret}
	acmeHeaders  = map[string]string{tenant.HeaderTenantID: "acme", "Authorization": "Bearer session"}
	soloHeaders  = map[string]string{tenant.HeaderTenantID: "solo", "Authorization": "Bearer session"}
)

func TestHandler_ListPlans(t *testing.T) {
	r, _ := newHandlerRouter(t)
	w, body := doJSON(t, r, http.MethodGet, "/v1/plans", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), body["count"])
	first := body["plans"].([]any)[0].(map[string]any)
	assert.Equal(t, "free", first["tier"])
}

func TestHandler_BillingFlow(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/billing/acme/usage",
		map[string]any{"usage_type": "api_call", "amount": 5}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = doJSON(t, r, http.MethodPost, "/v1/billing/acme/usage",
		map[string]any{"usage_type": "api_call", "amount": 5}, acmeHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := doJSON(t, r, http.MethodPost, "/v1/billing/acme/calculate", map[string]any{
		"billing_cycle": "monthly",
		"start_date":    windowStart.Format(time.RFC3339),
		"end_date":      windowStart.AddDate(0, 1, 0).Format(time.RFC3339),
	}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := body["billing_record"].(map[string]any)
	assert.Equal(t, float64(5), rec["api_calls"])
	recID := rec["id"].(string)

	w, body = doJSON(t, r, http.MethodPost, "/v1/billing/acme/invoices",
		map[string]any{"billing_record_id": recID}, adminHeaders)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	invID := body["invoice"].(map[string]any)["invoice_id"].(string)

	w, body = doJSON(t, r, http.MethodGet, "/v1/billing/acme/invoices?status=pending", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, _ = doJSON(t, r, http.MethodGet, "/v1/billing/acme/invoices/"+invID, nil, soloHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = doJSON(t, r, http.MethodPost, "/v1/billing/acme/invoices/"+invID+"/pay", nil, adminHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid", body["invoice"].(map[string]any)["status"])

	w, body = doJSON(t, r, http.MethodPost, "/v1/billing/acme/invoices/"+invID+"/pay", nil, adminHeaders)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invoice_not_payable", body["error"])

	w, body = doJSON(t, r, http.MethodGet, "/v1/billing/acme/records", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/billing/acme/invoices/"+invID+"/sync", nil, adminHeaders)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandler_Errors(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/billing/acme/usage",
		map[string]any{"usage_type": "bandwidth", "amount": 1}, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/v1/billing/ghost/usage",
		map[string]any{"usage_type": "api_call", "amount": 1}, adminHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/v1/billing/acme/calculate", map[string]any{"billing_cycle": "monthly"}, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/v1/billing/acme/records/bill_missing", nil, acmeHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/v1/billing/acme/usage?start_date=yesterday", nil, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The tenant header without a session does not prove membership.
	w, _ = doJSON(t, r, http.MethodGet, "/v1/billing/acme/invoices", nil, map[string]string{tenant.HeaderTenantID: "acme"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_UsageSummaryDefaultsWindow(t *testing.T) {
	r, env := newHandlerRouter(t)
	now := env.clock.Now()
	env.record(t, "acme", now.Add(-time.Hour), UsageAPICall, 7)
	env.clock.Set(now)

	w, body := doJSON(t, r, http.MethodGet, "/v1/billing/acme/usage", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(7), body["summary"].(map[string]any)["api_calls"])
}
