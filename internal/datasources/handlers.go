package datasources

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/catalog"
)

// Handler provides HTTP endpoints for data sources.
type Handler struct {
	*catalog.Handler[*Source]
	manager *Manager
}

// NewHandler creates a new data source handler. isAdmin may be nil.
func NewHandler(manager *Manager, isAdmin func(*gin.Context) bool) *Handler {
	return &Handler{
		Handler: catalog.NewHandler(manager.Sources(), isAdmin),
		manager: manager,
	}
}

// RegisterProtectedRoutes sets up catalog, selection and fetch routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	h.Handler.RegisterProtectedRoutes(r)
	r.GET("/datasources/available", h.Available)
	r.POST("/datasources/fetch", h.Fetch)
	r.POST("/datasources/:id/check", h.Check)
}

// RegisterAdminRoutes sets up import/export and the full availability check.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	h.Handler.RegisterAdminRoutes(r)
	r.POST("/datasources/check-all", h.CheckAll)
}

// Available handles GET /v1/datasources/available?market=&preferred=a,b
func (h *Handler) Available(c *gin.Context) {
	candidates := h.manager.AvailableAdapters(c.Request.Context(), h.Scope(c), c.Query("market"), splitList(c.Query("preferred")))
	sources := make([]*Source, len(candidates))
	for i, cand := range candidates {
		sources[i] = cand.Source
	}
	c.JSON(http.StatusOK, gin.H{"datasources": sources, "count": len(sources)})
}

// Fetch handles POST /v1/datasources/fetch
func (h *Handler) Fetch(c *gin.Context) {
	var req struct {
		Operation string         `json:"operation" binding:"required"`
		Params    map[string]any `json:"params"`
		Market    string         `json:"market"`
		Preferred []string       `json:"preferred"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "operation is required"})
		return
	}
	res, err := h.manager.Fetch(c.Request.Context(), h.Scope(c), Query{Operation: req.Operation, Params: req.Params}, req.Market, req.Preferred)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Check handles POST /v1/datasources/:id/check
func (h *Handler) Check(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.manager.Sources().Get(h.Scope(c), id); err != nil {
		writeError(c, err)
		return
	}
	ok, err := h.manager.CheckAvailability(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	src, _ := h.manager.Sources().Registry().Get(id)
	c.JSON(http.StatusOK, gin.H{"source_id": id, "available": ok, "datasource": src})
}

// CheckAll handles POST /v1/datasources/check-all
func (h *Handler) CheckAll(c *gin.Context) {
	results := h.manager.CheckAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrNoAdapter):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_adapter", "message": err.Error()})
	case errors.Is(err, ErrNoneAvailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no_source_available", "message": err.Error()})
	default:
		catalog.WriteError(c, err)
	}
}
