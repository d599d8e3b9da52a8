package catalog

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newHandlerRouter(t *testing.T) (*gin.Engine, *Catalog[*note]) {
	t.Helper()
	cat, _ := newNotes(t)
	isAdmin := func(c *gin.Context) bool { return c.GetHeader("X-Admin-Secret") == "s3cret" }
	h := NewHandler(cat, isAdmin)

	r := gin.New()
	v1 := r.Group("/v1")
	// A bearer header stands in for a session bound to the named tenant;
	// without one the header is only a hint.
	v1.Use(func(c *gin.Context) {
		if id := c.GetHeader(tenant.HeaderTenantID); id != "" {
			if c.GetHeader("Authorization") != "" {
				tenant.Verify(c, id, nil)
			} else {
				tenant.Attach(c, id, nil)
			}
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
	return r, cat
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
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
	acmeHeaders  = map[string]string{tenant.HeaderTenantID: "acme", "Authorization": "Bearer session"}
	betaHeaders  = map[string]string{tenant.HeaderTenantID: "beta", "Authorization": "Bearer session"}
	acmeHint     = map[string]string{tenant.HeaderTenantID: "acme"}
	adminHeaders = map[string]string{"X-Admin-Secret": "s3cret"}
)

func TestHandler_RegisterAndGet(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/v1/notes", map[string]any{
		"id": "n1", "kind": "memo", "status": "active", "tenant_id": "beta",
	}, acmeHeaders)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	n := body["note"].(map[string]any)
	assert.Equal(t, "acme", n["tenant_id"])
	assert.Equal(t, "active", n["status"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/notes", map[string]any{"id": "n1"}, acmeHeaders)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = doJSON(t, r, http.MethodPost, "/v1/notes", map[string]any{"kind": "memo"}, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["error"])

	w, body = doJSON(t, r, http.MethodPost, "/v1/notes", map[string]any{"id": "n2"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "tenant_required", body["error"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/notes", "not json", acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/v1/notes/n1", nil, acmeHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, r, http.MethodGet, "/v1/notes/n1", nil, betaHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = doJSON(t, r, http.MethodGet, "/v1/notes/zzz", nil, acmeHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = doJSON(t, r, http.MethodGet, "/v1/notes/n1", nil, adminHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_ListFilters(t *testing.T) {
	r, _ := newHandlerRouter(t)
	seed := []map[string]any{
		{"id": "a1", "kind": "memo", "tags": []string{"x"}},
		{"id": "a2", "kind": "memo", "status": "active", "enabled": false},
		{"id": "a3", "kind": "plain", "status": "active"},
	}
	for _, s := range seed {
		w, _ := doJSON(t, r, http.MethodPost, "/v1/notes", s, acmeHeaders)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w, _ := doJSON(t, r, http.MethodPost, "/v1/notes", map[string]any{"id": "b1", "kind": "memo"}, betaHeaders)
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name  string
		query string
		want  float64
	}{
		{name: "all visible", query: "", want: 3},
		{name: "by kind", query: "?kind=memo", want: 2},
		{name: "kind and status", query: "?kind=memo&status=active", want: 1},
		{name: "by tag", query: "?tag=x", want: 1},
		{name: "enabled only", query: "?enabled=true", want: 2},
		{name: "limit", query: "?limit=1", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := doJSON(t, r, http.MethodGet, "/v1/notes"+tt.query, nil, acmeHeaders)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, body["count"])
		})
	}

	w, body := doJSON(t, r, http.MethodGet, "/v1/notes?status=nope", nil, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_status", body["error"])
	w, _ = doJSON(t, r, http.MethodGet, "/v1/notes?enabled=maybe", nil, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = doJSON(t, r, http.MethodGet, "/v1/notes?limit=-1", nil, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, body = doJSON(t, r, http.MethodGet, "/v1/notes/search?q=MEMO", nil, acmeHeaders)
	assert.Equal(t, float64(2), body["count"])

	_, body = doJSON(t, r, http.MethodGet, "/v1/notes/stats", nil, acmeHeaders)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(3), stats["total"])
}

func TestHandler_StatusAndDelete(t *testing.T) {
	r, cat := newHandlerRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/v1/notes", map[string]any{"id": "n1"}, acmeHeaders)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/v1/notes/n1/status", map[string]any{}, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = doJSON(t, r, http.MethodPost, "/v1/notes/n1/status", map[string]any{"status": "active"}, betaHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, body := doJSON(t, r, http.MethodPost, "/v1/notes/n1/status", map[string]any{"status": "inactive"}, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inactive", body["note"].(map[string]any)["status"])

	w, _ = doJSON(t, r, http.MethodDelete, "/v1/notes/n1", nil, betaHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = doJSON(t, r, http.MethodDelete, "/v1/notes/n1", nil, acmeHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, r, http.MethodDelete, "/v1/notes/n1", nil, acmeHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, cat.Registry().Len())
}

func TestHandler_ImportExport(t *testing.T) {
	r, cat := newHandlerRouter(t)
	doc := "notes:\n  - id: n1\n    status: active\n  - id: n2\n"

	w, _ := doJSON(t, r, http.MethodPost, "/v1/notes/import/yaml", doc, acmeHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := doJSON(t, r, http.MethodPost, "/v1/notes/import/yaml", doc, adminHeaders)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, body["imported"], 2)

	w, body = doJSON(t, r, http.MethodPost, "/v1/notes/import/yaml?update_existing=true", doc, adminHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["updated"], 2)
	n1, _ := cat.Registry().Get("n1")
	assert.Equal(t, "active", n1.Status)

	w, _ = doJSON(t, r, http.MethodPost, "/v1/notes/import/yaml", "", adminHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, body = doJSON(t, r, http.MethodPost, "/v1/notes/import/yaml", "42", adminHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_document", body["error"])

	req := httptest.NewRequest(http.MethodGet, "/v1/notes/export/yaml", nil)
	req.Header.Set("X-Admin-Secret", "s3cret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "notes:"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "notes.yaml")
}

func TestHandler_Patch(t *testing.T) {
	r, cat := newHandlerRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/v1/notes", map[string]any{"id": "n1", "kind": "memo", "tags": []string{"x"}}, acmeHeaders)
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := doJSON(t, r, http.MethodPatch, "/v1/notes/n1", map[string]any{"kind": "todo"}, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	n := body["note"].(map[string]any)
	assert.Equal(t, "todo", n["kind"])
	assert.Equal(t, "acme", n["tenant_id"])
	assert.Equal(t, []any{"x"}, n["tags"])

	w, _ = doJSON(t, r, http.MethodPatch, "/v1/notes/n1", map[string]any{"kind": "stolen"}, betaHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = doJSON(t, r, http.MethodPatch, "/v1/notes/n1", map[string]any{"id": "n9"}, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = doJSON(t, r, http.MethodPatch, "/v1/notes/n1", map[string]any{}, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = doJSON(t, r, http.MethodPatch, "/v1/notes/zzz", map[string]any{"kind": "x"}, acmeHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = doJSON(t, r, http.MethodPatch, "/v1/notes/n1", map[string]any{"kind": "admin"}, adminHeaders)
	assert.Equal(t, http.StatusOK, w.Code)

	got, _ := cat.Registry().Get("n1")
	assert.Equal(t, "admin", got.Kind)
}

func TestHandler_TenantHintGrantsNoOwnership(t *testing.T) {
	r, cat := newHandlerRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/v1/notes", map[string]any{"id": "n1"}, acmeHeaders)
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := doJSON(t, r, http.MethodPost, "/v1/notes", map[string]any{"id": "evil"}, acmeHint)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "tenant_required", body["error"])
	w, _ = doJSON(t, r, http.MethodPatch, "/v1/notes/n1", map[string]any{"kind": "pwned"}, acmeHint)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = doJSON(t, r, http.MethodDelete, "/v1/notes/n1", nil, acmeHint)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = doJSON(t, r, http.MethodGet, "/v1/notes/n1", nil, acmeHint)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.True(t, cat.Registry().Exists("n1"))
	assert.False(t, cat.Registry().Exists("evil"))
}
