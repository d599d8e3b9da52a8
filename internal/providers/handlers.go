package providers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/catalog"
)

// Handler serves the provider catalog and credential endpoints.
type Handler struct {
	*catalog.Handler[*Provider]
	store *Store
}

// NewHandler creates a new provider handler. isAdmin may be nil.
func NewHandler(providers *catalog.Catalog[*Provider], store *Store, isAdmin func(*gin.Context) bool) *Handler {
	return &Handler{Handler: catalog.NewHandler(providers, isAdmin), store: store}
}

// RegisterAdminRoutes sets up import/export and credential management.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	h.Handler.RegisterAdminRoutes(r)
	r.PUT("/providers/:id/credentials", h.SetCredentials)
}

// SetCredentials handles PUT /v1/providers/:id/credentials
func (h *Handler) SetCredentials(c *gin.Context) {
	var req Credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "api_key is required"})
		return
	}
	p, err := h.store.SetCredentials(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		if errors.Is(err, ErrNoStore) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable", "message": err.Error()})
			return
		}
		catalog.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": p})
}
