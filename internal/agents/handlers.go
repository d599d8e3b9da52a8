package agents

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/validation"
)

// Handler provides HTTP endpoints for agent definitions and instances.
type Handler struct {
	*catalog.Handler[*Agent]
	manager *Manager
}

// NewHandler creates a new agent handler. isAdmin may be nil.
func NewHandler(manager *Manager, isAdmin func(*gin.Context) bool) *Handler {
	return &Handler{
		Handler: catalog.NewHandler(manager.Agents(), isAdmin),
		manager: manager,
	}
}

// RegisterProtectedRoutes sets up definition and instance routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	h.Handler.RegisterProtectedRoutes(r)
	r.POST("/agents/:id/instances", h.CreateInstance)
	r.GET("/agent-instances", h.ListInstances)
	r.GET("/agent-instances/:id", h.GetInstance)
	r.POST("/agent-instances/:id/start", h.StartInstance)
	r.POST("/agent-instances/:id/stop", h.StopInstance)
	r.POST("/agent-instances/:id/heartbeat", h.Heartbeat)
	r.DELETE("/agent-instances/:id", h.DeleteInstance)
}

// CreateInstance handles POST /v1/agents/:id/instances
func (h *Handler) CreateInstance(c *gin.Context) {
	var req struct {
		Name   string         `json:"name"`
		Config map[string]any `json:"config"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
			return
		}
	}
	inst, err := h.manager.CreateInstance(c.Request.Context(), h.Scope(c), c.Param("id"),
		validation.SanitizeString(req.Name, 200), req.Config)
	if errors.Is(err, ErrRuntimeUnavailable) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "runtime_unavailable", "message": err.Error(), "instance": inst})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"instance": inst})
}

// ListInstances handles GET /v1/agent-instances?agent_id=&status=
func (h *Handler) ListInstances(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !ValidInstanceStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "unknown status"})
		return
	}
	list := h.manager.ListInstances(h.Scope(c), c.Query("agent_id"), InstanceStatus(status))
	c.JSON(http.StatusOK, gin.H{"instances": list, "count": len(list)})
}

// GetInstance handles GET /v1/agent-instances/:id
func (h *Handler) GetInstance(c *gin.Context) {
	inst, err := h.manager.GetInstance(h.Scope(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// StartInstance handles POST /v1/agent-instances/:id/start
func (h *Handler) StartInstance(c *gin.Context) {
	inst, err := h.manager.StartInstance(c.Request.Context(), h.Scope(c), c.Param("id"))
	if errors.Is(err, ErrRuntimeUnavailable) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "runtime_unavailable", "message": err.Error(), "instance": inst})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// StopInstance handles POST /v1/agent-instances/:id/stop
func (h *Handler) StopInstance(c *gin.Context) {
	inst, err := h.manager.StopInstance(c.Request.Context(), h.Scope(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// Heartbeat handles POST /v1/agent-instances/:id/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	var req struct {
		Metrics map[string]any `json:"metrics"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
			return
		}
	}
	inst, err := h.manager.Heartbeat(c.Request.Context(), h.Scope(c), c.Param("id"), req.Metrics)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// DeleteInstance handles DELETE /v1/agent-instances/:id
func (h *Handler) DeleteInstance(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.DeleteInstance(c.Request.Context(), h.Scope(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "instance deleted", "instance_id": id})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAgentNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": "agent_not_active", "message": err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "message": err.Error()})
	default:
		catalog.WriteError(c, err)
	}
}
