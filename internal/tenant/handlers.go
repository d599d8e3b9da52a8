package tenant

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/validation"
)

// maxImportBytes bounds YAML import bodies.
const maxImportBytes = 5 << 20

// Handler provides HTTP endpoints for tenant management.
type Handler struct {
	manager *Manager
	isAdmin func(*gin.Context) bool
}

// NewHandler creates a new tenant handler. isAdmin decides whether a caller
// may act on tenants other than its own; nil treats nobody as admin.
func NewHandler(manager *Manager, isAdmin func(*gin.Context) bool) *Handler {
	if isAdmin == nil {
		isAdmin = func(*gin.Context) bool { return false }
	}
	return &Handler{manager: manager, isAdmin: isAdmin}
}

// RegisterAdminRoutes sets up the admin-only tenant routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants", h.ListTenants)
	r.POST("/tenants", h.CreateTenant)
	r.POST("/tenants/:id/status", h.UpdateStatus)
	r.DELETE("/tenants/:id", h.DeleteTenant)
	r.POST("/tenants/import/yaml", h.ImportYAML)
	r.GET("/tenants/export/yaml", h.ExportYAML)
}

// RegisterProtectedRoutes sets up tenant routes open to the tenant's own
// users. Get/Update/Stats check ownership per handler.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/current", RequireTenant(), h.GetCurrent)
	r.GET("/tenants/:id", h.GetTenant)
	r.PATCH("/tenants/:id", h.UpdateTenant)
	r.GET("/tenants/:id/stats", h.GetStatistics)
}

// ---------- Admin endpoints ----------

// ListTenants handles GET /v1/tenants?status=&tier=
func (h *Handler) ListTenants(c *gin.Context) {
	status := Status(c.Query("status"))
	tier := Tier(c.Query("tier"))
	if status != "" && !ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "unknown status"})
		return
	}
	if tier != "" && !ValidTier(tier) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier", "message": "unknown tier"})
		return
	}
	tenants := h.manager.List(status, tier)
	c.JSON(http.StatusOK, gin.H{"tenants": tenants, "count": len(tenants)})
}

// CreateTenant handles POST /v1/tenants
func (h *Handler) CreateTenant(c *gin.Context) {
	var req struct {
		TenantID          string         `json:"tenant_id" binding:"required"`
		Name              string         `json:"name"`
		DisplayName       string         `json:"display_name"`
		Description       string         `json:"description"`
		Domain            string         `json:"domain"`
		Tier              Tier           `json:"tier"`
		Status            Status         `json:"status"`
		MaxUsers          int            `json:"max_users"`
		MaxStorageGB      int            `json:"max_storage_gb"`
		MaxAPICallsPerDay int            `json:"max_api_calls_per_day"`
		Features          []string       `json:"features"`
		Config            map[string]any `json:"config"`
		OwnerID           string         `json:"owner_id"`
		AdminEmails       []string       `json:"admin_emails"`
		ExpiresAt         *time.Time     `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tenant_id is required"})
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.Domain = strings.ToLower(strings.TrimSpace(req.Domain))
	checks := []validation.Check{
		validation.Identifier("tenant_id", req.TenantID),
	}
	if req.Domain != "" {
		checks = append(checks, validation.Domains("domain", []string{req.Domain}))
	}
	for _, email := range req.AdminEmails {
		checks = append(checks, validation.Email("admin_emails", email))
	}
	if errs := validation.Validate(checks...); errs != nil {
		validation.Abort(c, errs)
		return
	}

	t, err := h.manager.CreateTenant(c.Request.Context(), &Tenant{
		ID:                req.TenantID,
		Name:              validation.SanitizeString(req.Name, 200),
		DisplayName:       validation.SanitizeString(req.DisplayName, 200),
		Description:       validation.SanitizeString(req.Description, 1000),
		Domain:            req.Domain,
		Tier:              req.Tier,
		Status:            req.Status,
		MaxUsers:          req.MaxUsers,
		MaxStorageGB:      req.MaxStorageGB,
		MaxAPICallsPerDay: req.MaxAPICallsPerDay,
		Features:          req.Features,
		Config:            req.Config,
		OwnerID:           req.OwnerID,
		AdminEmails:       req.AdminEmails,
		ExpiresAt:         req.ExpiresAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tenant": t})
}

// UpdateStatus handles POST /v1/tenants/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "status is required"})
		return
	}
	t, err := h.manager.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// DeleteTenant handles DELETE /v1/tenants/:id
func (h *Handler) DeleteTenant(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.DeleteTenant(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "tenant deleted", "tenant_id": id})
}

// ImportYAML handles POST /v1/tenants/import/yaml?update_existing=true
// The body is the YAML document.
func (h *Handler) ImportYAML(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "YAML body is required"})
		return
	}
	update, _ := strconv.ParseBool(c.Query("update_existing"))

	res, err := h.manager.Import(c.Request.Context(), data, update)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ExportYAML handles GET /v1/tenants/export/yaml
func (h *Handler) ExportYAML(c *gin.Context) {
	data, err := h.manager.Export()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="tenants.yaml"`)
	c.Data(http.StatusOK, "application/x-yaml", data)
}

// ---------- Tenant-scoped endpoints ----------

// GetCurrent handles GET /v1/tenants/current
func (h *Handler) GetCurrent(c *gin.Context) {
	t, ok := h.manager.Get(OwnerID(c, h.isAdmin(c)))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// GetTenant handles GET /v1/tenants/:id
func (h *Handler) GetTenant(c *gin.Context) {
	t, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return
	}
	if !h.requireTenantOwnership(c, t.ID) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// UpdateTenant handles PATCH /v1/tenants/:id
func (h *Handler) UpdateTenant(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.manager.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return
	}
	if !h.requireTenantOwnership(c, id) {
		return
	}

	var req struct {
		Name              *string        `json:"name"`
		DisplayName       *string        `json:"display_name"`
		Description       *string        `json:"description"`
		Domain            *string        `json:"domain"`
		Tier              *Tier          `json:"tier"`
		MaxUsers          *int           `json:"max_users"`
		MaxStorageGB      *int           `json:"max_storage_gb"`
		MaxAPICallsPerDay *int           `json:"max_api_calls_per_day"`
		Features          []string       `json:"features"`
		Config            map[string]any `json:"config"`
		ExpiresAt         *time.Time     `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	// Plan, limit and expiry changes are commercial decisions.
	commercial := req.Tier != nil || req.MaxUsers != nil || req.MaxStorageGB != nil ||
		req.MaxAPICallsPerDay != nil || req.Features != nil || req.ExpiresAt != nil
	if commercial && !h.isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "plan changes require admin"})
		return
	}

	t, err := h.manager.UpdateTenant(c.Request.Context(), id, func(t *Tenant) error {
		if req.Name != nil {
			t.Name = validation.SanitizeString(*req.Name, 200)
		}
		if req.DisplayName != nil {
			t.DisplayName = validation.SanitizeString(*req.DisplayName, 200)
		}
		if req.Description != nil {
			t.Description = validation.SanitizeString(*req.Description, 1000)
		}
		if req.Domain != nil {
			t.Domain = *req.Domain
		}
		if req.Config != nil {
			t.Config = req.Config
		}
		if req.Tier != nil && *req.Tier != t.Tier {
			plan := PlanFor(*req.Tier)
			t.Tier = *req.Tier
			t.MaxUsers, t.MaxStorageGB, t.MaxAPICallsPerDay = plan.MaxUsers, plan.MaxStorageGB, plan.MaxAPICallsPerDay
			t.Features = append([]string(nil), plan.Features...)
		}
		if req.MaxUsers != nil {
			t.MaxUsers = *req.MaxUsers
		}
		if req.MaxStorageGB != nil {
			t.MaxStorageGB = *req.MaxStorageGB
		}
		if req.MaxAPICallsPerDay != nil {
			t.MaxAPICallsPerDay = *req.MaxAPICallsPerDay
		}
		if req.Features != nil {
			t.Features = req.Features
		}
		if req.ExpiresAt != nil {
			exp := req.ExpiresAt.UTC()
			t.ExpiresAt = &exp
		}
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// GetStatistics handles GET /v1/tenants/:id/stats
func (h *Handler) GetStatistics(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.manager.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return
	}
	if !h.requireTenantOwnership(c, id) {
		return
	}
	stats, err := h.manager.Statistics(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

// ---------- helpers ----------

// requireTenantOwnership checks that the caller's session belongs to
// tenantID or that the caller is an admin. Returns false (and sends the
// error response) if not.
func (h *Handler) requireTenantOwnership(c *gin.Context, tenantID string) bool {
	if h.isAdmin(c) || (tenantID != "" && VerifiedTenantID(c) == tenantID) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your tenant"})
	return false
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
	case errors.Is(err, ErrTenantExists):
		c.JSON(http.StatusConflict, gin.H{"error": "tenant_exists", "message": err.Error()})
	case errors.Is(err, ErrDomainTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "domain_taken", "message": "domain already in use"})
	case errors.Is(err, ErrInvalidTenant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tenant", "message": err.Error()})
	case errors.Is(err, ErrNoTenant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_required", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
