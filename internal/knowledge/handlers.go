package knowledge

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/catalog"
)

// Handler serves knowledge base and document endpoints.
type Handler struct {
	*catalog.Handler[*Base]
	docs *Documents
}

// NewHandler creates a new knowledge handler. isAdmin may be nil.
func NewHandler(bases *catalog.Catalog[*Base], docs *Documents, isAdmin func(*gin.Context) bool) *Handler {
	return &Handler{Handler: catalog.NewHandler(bases, isAdmin), docs: docs}
}

// RegisterProtectedRoutes sets up catalog and document routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	h.Handler.RegisterProtectedRoutes(r)
	r.GET("/knowledge/:id/documents", h.ListDocuments)
	r.POST("/knowledge/:id/documents", h.AddDocument)
	r.GET("/knowledge/:id/documents/:docId", h.GetDocument)
	r.POST("/knowledge/:id/documents/:docId/indexed", h.MarkIndexed)
	r.POST("/knowledge/:id/documents/:docId/failed", h.MarkFailed)
	r.DELETE("/knowledge/:id/documents/:docId", h.DeleteDocument)
}

// ListDocuments handles GET /v1/knowledge/:id/documents?status=&limit=
func (h *Handler) ListDocuments(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	docs, err := h.docs.ListDocuments(c.Request.Context(), h.Scope(c), c.Param("id"), c.Query("status"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// AddDocument handles POST /v1/knowledge/:id/documents
func (h *Handler) AddDocument(c *gin.Context) {
	var req NewDocument
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid JSON body"})
		return
	}
	doc, err := h.docs.AddDocument(c.Request.Context(), h.Scope(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document": doc})
}

// GetDocument handles GET /v1/knowledge/:id/documents/:docId
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.docs.GetDocument(c.Request.Context(), h.Scope(c), c.Param("id"), c.Param("docId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

// MarkIndexed handles POST /v1/knowledge/:id/documents/:docId/indexed
func (h *Handler) MarkIndexed(c *gin.Context) {
	var req struct {
		ChunkCount int `json:"chunk_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid JSON body"})
		return
	}
	doc, err := h.docs.MarkIndexed(c.Request.Context(), h.Scope(c), c.Param("id"), c.Param("docId"), req.ChunkCount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

// MarkFailed handles POST /v1/knowledge/:id/documents/:docId/failed
func (h *Handler) MarkFailed(c *gin.Context) {
	var req struct {
		Error string `json:"error"`
	}
	_ = c.ShouldBindJSON(&req)
	doc, err := h.docs.MarkFailed(c.Request.Context(), h.Scope(c), c.Param("id"), c.Param("docId"), req.Error)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

// DeleteDocument handles DELETE /v1/knowledge/:id/documents/:docId
func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.docs.DeleteDocument(c.Request.Context(), h.Scope(c), c.Param("id"), c.Param("docId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("docId")})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document", "message": err.Error()})
	case errors.Is(err, ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrNotWritable):
		c.JSON(http.StatusConflict, gin.H{"error": "knowledge_base_inactive", "message": err.Error()})
	default:
		catalog.WriteError(c, err)
	}
}
