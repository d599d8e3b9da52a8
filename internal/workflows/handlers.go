package workflows

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/catalog"
)

// Handler serves workflow definition endpoints.
type Handler struct {
	*catalog.Handler[*Workflow]
	workflows *catalog.Catalog[*Workflow]
}

// NewHandler creates a new workflow handler. isAdmin may be nil.
func NewHandler(workflows *catalog.Catalog[*Workflow], isAdmin func(*gin.Context) bool) *Handler {
	return &Handler{Handler: catalog.NewHandler(workflows, isAdmin), workflows: workflows}
}

// RegisterProtectedRoutes sets up catalog routes and the execution order.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	h.Handler.RegisterProtectedRoutes(r)
	r.GET("/workflows/:id/order", h.Order)
}

// Order handles GET /v1/workflows/:id/order
func (h *Handler) Order(c *gin.Context) {
	w, err := h.workflows.Get(h.Scope(c), c.Param("id"))
	if err != nil {
		catalog.WriteError(c, err)
		return
	}
	order, err := w.Order()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_graph", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow_id": w.ID, "order": order, "count": len(order)})
}
