package knowledge_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/knowledge"
	"github.com/mbd888/agentplatform/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newHandlerRouter(t *testing.T) *gin.Engine {
	t.Helper()
	f := newFixture(t)
	h := knowledge.NewHandler(f.bases, f.docs, nil)
	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		if id := c.GetHeader(tenant.HeaderTenantID); id != "" {
			tenant.Verify(c, id, nil)
		}
		c.Next()
	})
	h.RegisterProtectedRoutes(v1)
	return r
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

func TestHandler_Documents(t *testing.T) {
	r := newHandlerRouter(t)
	acmeHeaders := map[string]string{tenant.HeaderTenantID: "acme"}

	w, body := doJSON(t, r, http.MethodGet, "/v1/knowledge?vector_store=chromadb", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])

	w, body = doJSON(t, r, http.MethodPost, "/v1/knowledge/research/documents", map[string]any{
		"title": "Rate cut memo", "document_type": "pdf", "content_length": 900,
	}, acmeHeaders)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	docID := body["document"].(map[string]any)["document_id"].(string)

	w, body = doJSON(t, r, http.MethodPost, "/v1/knowledge/research/documents/"+docID+"/indexed", map[string]any{"chunk_count": 3}, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, knowledge.DocumentIndexed, body["document"].(map[string]any)["status"])

	w, body = doJSON(t, r, http.MethodGet, "/v1/knowledge/research/documents?status=indexed", nil, acmeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, _ = doJSON(t, r, http.MethodGet, "/v1/knowledge/research/documents/"+docID, nil, map[string]string{tenant.HeaderTenantID: "beta"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = doJSON(t, r, http.MethodPost, "/v1/knowledge/retired/documents", map[string]any{"title": "late"}, acmeHeaders)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "knowledge_base_inactive", body["error"])

	w, body = doJSON(t, r, http.MethodPost, "/v1/knowledge/research/documents", map[string]any{"title": ""}, acmeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_document", body["error"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/knowledge/research/documents", map[string]any{"title": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodDelete, "/v1/knowledge/research/documents/"+docID, nil, acmeHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, r, http.MethodDelete, "/v1/knowledge/research/documents/"+docID, nil, acmeHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
