package datasources_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mbd888/agentplatform/internal/datasources"
	"github.com/mbd888/agentplatform/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newHandlerRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	f := newFixture(t)
	isAdmin := func(c *gin.Context) bool { return c.GetHeader("X-Admin-Secret") == "s3cret" }
	h := datasources.NewHandler(f.m, isAdmin)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		if id := c.GetHeader(tenant.HeaderTenantID); id != "" {
			tenant.Verify(c, id, nil)
		}
		c.Next()
	})
	h.RegisterProtectedRoutes(v1)
	admin := v1.Group("")
	admin.Use(func(c *gin.Context) {
		if !isAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	})
	h.RegisterAdminRoutes(admin)
	return r, f
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

func TestHandler_Availability(t *testing.T) {
	r, f := newHandlerRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/datasources/check-all", nil, acmeHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)

	for id, a := range f.adapters {
		a.EXPECT().IsAvailable(gomock.Any()).Return(id != "baostock")
	}
	w, body := doJSON(t, r, http.MethodPost, "/v1/datasources/check-all", nil, map[string]string{"X-Admin-Secret": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), body["count"])

	w, body = doJSON(t, r, http.MethodGet, "/v1/datasources/available?market=cn&preferred=akshare", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	list := body["datasources"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "akshare", list[0].(map[string]any)["source_id"])

	f.adapters["baostock"].EXPECT().IsAvailable(gomock.Any()).Return(true)
	w, body = doJSON(t, r, http.MethodPost, "/v1/datasources/baostock/check", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, "available", body["datasource"].(map[string]any)["status"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/datasources/private/check", nil, acmeHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_Fetch(t *testing.T) {
	r, f := newHandlerRouter(t)
	f.checkAll(t)

	q := datasources.Query{Operation: "stock_list"}
	f.adapters["tushare"].EXPECT().Fetch(gomock.Any(), q).Return(nil, errors.New("token expired"))
	f.adapters["akshare"].EXPECT().Fetch(gomock.Any(), q).Return([]string{"600519"}, nil)

	w, body := doJSON(t, r, http.MethodPost, "/v1/datasources/fetch", map[string]any{"operation": "stock_list", "market": "cn"}, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "akshare", body["source_id"])
	assert.Equal(t, []any{"600519"}, body["data"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/datasources/fetch", map[string]any{"market": "cn"}, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = doJSON(t, r, http.MethodPost, "/v1/datasources/fetch", map[string]any{"operation": "stock_list", "market": "jp"}, acmeHeaders)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "no_source_available", body["error"])
}
