package plugins

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/catalog"
)

// Handler provides HTTP endpoints for plugin metadata and lifecycle.
type Handler struct {
	*catalog.Handler[*Metadata]
	manager *Manager
}

// NewHandler creates a new plugin handler. isAdmin may be nil.
func NewHandler(manager *Manager, isAdmin func(*gin.Context) bool) *Handler {
	return &Handler{
		Handler: catalog.NewHandler(manager.Plugins(), isAdmin),
		manager: manager,
	}
}

// RegisterProtectedRoutes sets up metadata and lifecycle routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	h.Handler.RegisterProtectedRoutes(r)
	r.POST("/plugins/:id/load", h.Load)
	r.GET("/plugin-instances", h.ListInstances)
	r.GET("/plugin-instances/:id", h.GetInstance)
	r.POST("/plugin-instances/:id/activate", h.Activate)
	r.POST("/plugin-instances/:id/deactivate", h.Deactivate)
	r.POST("/plugin-instances/:id/execute", h.Execute)
	r.DELETE("/plugin-instances/:id", h.Unload)
}

// Load handles POST /v1/plugins/:id/load
func (h *Handler) Load(c *gin.Context) {
	var req struct {
		Config map[string]any `json:"config"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
			return
		}
	}
	inst, err := h.manager.Load(c.Request.Context(), h.Scope(c), c.Param("id"), req.Config)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"instance": inst})
}

// ListInstances handles GET /v1/plugin-instances?plugin_id=&status=
func (h *Handler) ListInstances(c *gin.Context) {
	list := h.manager.ListInstances(h.Scope(c), c.Query("plugin_id"), InstanceStatus(c.Query("status")))
	c.JSON(http.StatusOK, gin.H{"instances": list, "count": len(list)})
}

// GetInstance handles GET /v1/plugin-instances/:id
func (h *Handler) GetInstance(c *gin.Context) {
	inst, err := h.manager.GetInstance(h.Scope(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// Activate handles POST /v1/plugin-instances/:id/activate
func (h *Handler) Activate(c *gin.Context) {
	inst, err := h.manager.Activate(c.Request.Context(), h.Scope(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// Deactivate handles POST /v1/plugin-instances/:id/deactivate
func (h *Handler) Deactivate(c *gin.Context) {
	inst, err := h.manager.Deactivate(c.Request.Context(), h.Scope(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// Execute handles POST /v1/plugin-instances/:id/execute
func (h *Handler) Execute(c *gin.Context) {
	var req struct {
		Capability string         `json:"capability" binding:"required"`
		Input      map[string]any `json:"input"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "capability is required"})
		return
	}
	out, err := h.manager.Execute(c.Request.Context(), h.Scope(c), c.Param("id"), Capability(req.Capability), req.Input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": out})
}

// Unload handles DELETE /v1/plugin-instances/:id
func (h *Handler) Unload(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Unload(c.Request.Context(), h.Scope(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "plugin unloaded", "instance_id": id})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDependencyUnavailable):
		c.JSON(http.StatusFailedDependency, gin.H{"error": "dependency_unavailable", "message": err.Error()})
	case errors.Is(err, ErrNoFactory):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_implementation", "message": err.Error()})
	case errors.Is(err, ErrDisabled), errors.Is(err, ErrNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": "plugin_unavailable", "message": err.Error()})
	case errors.Is(err, ErrUnsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_capability", "message": err.Error()})
	case errors.Is(err, ErrLifecycle):
		c.JSON(http.StatusBadGateway, gin.H{"error": "plugin_failed", "message": err.Error()})
	default:
		catalog.WriteError(c, err)
	}
}
