package billing

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/tenant"
)

// Handler provides HTTP endpoints for usage and invoicing.
type Handler struct {
	service *Service
	isAdmin func(*gin.Context) bool
}

// NewHandler creates a billing handler. isAdmin gates cross-tenant reads
// and every write; nil treats nobody as admin.
func NewHandler(service *Service, isAdmin func(*gin.Context) bool) *Handler {
	if isAdmin == nil {
		isAdmin = func(*gin.Context) bool { return false }
	}
	return &Handler{service: service, isAdmin: isAdmin}
}

// RegisterRoutes sets up the public price list.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
}

// RegisterProtectedRoutes sets up read routes open to the tenant's users.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/billing/:tenant_id/usage", h.GetUsageSummary)
	r.GET("/billing/:tenant_id/records", h.ListBillingRecords)
	r.GET("/billing/:tenant_id/records/:id", h.GetBillingRecord)
	r.GET("/billing/:tenant_id/invoices", h.ListInvoices)
	r.GET("/billing/:tenant_id/invoices/:id", h.GetInvoice)
}

// RegisterAdminRoutes sets up the routes that create or settle charges.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/billing/:tenant_id/usage", h.RecordUsage)
	r.POST("/billing/:tenant_id/calculate", h.CalculateBilling)
	r.POST("/billing/:tenant_id/invoices", h.CreateInvoice)
	r.POST("/billing/:tenant_id/invoices/:id/pay", h.MarkPaid)
	r.POST("/billing/:tenant_id/invoices/:id/sync", h.SyncInvoice)
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	plans := make([]Plan, 0, len(Plans))
	for _, tier := range []tenant.Tier{tenant.TierFree, tenant.TierBasic, tenant.TierProfessional, tenant.TierEnterprise} {
		plans = append(plans, PlanFor(tier))
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "count": len(plans)})
}

// RecordUsage handles POST /v1/billing/:tenant_id/usage
func (h *Handler) RecordUsage(c *gin.Context) {
	var req struct {
		UsageType UsageType      `json:"usage_type" binding:"required"`
		Amount    float64        `json:"amount"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "usage_type is required"})
		return
	}
	rec, err := h.service.RecordUsage(c.Request.Context(), c.Param("tenant_id"), req.UsageType, req.Amount, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"usage": rec})
}

// GetUsageSummary handles GET /v1/billing/:tenant_id/usage?start_date=&end_date=
// The window defaults to the last 30 days.
func (h *Handler) GetUsageSummary(c *gin.Context) {
	id := c.Param("tenant_id")
	if !h.requireTenantOwnership(c, id) {
		return
	}
	start, end, ok := parseWindow(c, h.service.now())
	if !ok {
		return
	}
	sum, err := h.service.GetUsageSummary(c.Request.Context(), id, start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}

// CalculateBilling handles POST /v1/billing/:tenant_id/calculate
func (h *Handler) CalculateBilling(c *gin.Context) {
	var req struct {
		Cycle     Cycle     `json:"billing_cycle"`
		StartDate time.Time `json:"start_date" binding:"required"`
		EndDate   time.Time `json:"end_date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "start_date and end_date are required (RFC 3339)"})
		return
	}
	if req.Cycle == "" {
		req.Cycle = CycleMonthly
	}
	rec, err := h.service.CalculateBilling(c.Request.Context(), c.Param("tenant_id"), req.Cycle, req.StartDate, req.EndDate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"billing_record": rec})
}

// ListBillingRecords handles GET /v1/billing/:tenant_id/records?limit=
func (h *Handler) ListBillingRecords(c *gin.Context) {
	id := c.Param("tenant_id")
	if !h.requireTenantOwnership(c, id) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	recs, err := h.service.ListBillingRecords(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"billing_records": recs, "count": len(recs)})
}

// GetBillingRecord handles GET /v1/billing/:tenant_id/records/:id
func (h *Handler) GetBillingRecord(c *gin.Context) {
	id := c.Param("tenant_id")
	if !h.requireTenantOwnership(c, id) {
		return
	}
	rec, err := h.service.GetBillingRecord(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"billing_record": rec})
}

// CreateInvoice handles POST /v1/billing/:tenant_id/invoices
func (h *Handler) CreateInvoice(c *gin.Context) {
	var req struct {
		BillingRecordID string     `json:"billing_record_id" binding:"required"`
		DueDate         *time.Time `json:"due_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "billing_record_id is required"})
		return
	}
	var due time.Time
	if req.DueDate != nil {
		due = *req.DueDate
	}
	inv, err := h.service.CreateInvoice(c.Request.Context(), c.Param("tenant_id"), req.BillingRecordID, due)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice": inv})
}

// ListInvoices handles GET /v1/billing/:tenant_id/invoices?status=
func (h *Handler) ListInvoices(c *gin.Context) {
	id := c.Param("tenant_id")
	if !h.requireTenantOwnership(c, id) {
		return
	}
	invs, err := h.service.ListInvoices(c.Request.Context(), id, InvoiceStatus(c.Query("status")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invs, "count": len(invs)})
}

// GetInvoice handles GET /v1/billing/:tenant_id/invoices/:id
func (h *Handler) GetInvoice(c *gin.Context) {
	id := c.Param("tenant_id")
	if !h.requireTenantOwnership(c, id) {
		return
	}
	inv, err := h.service.GetInvoice(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// MarkPaid handles POST /v1/billing/:tenant_id/invoices/:id/pay
func (h *Handler) MarkPaid(c *gin.Context) {
	inv, err := h.service.MarkInvoicePaid(c.Request.Context(), c.Param("tenant_id"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// SyncInvoice handles POST /v1/billing/:tenant_id/invoices/:id/sync
func (h *Handler) SyncInvoice(c *gin.Context) {
	inv, err := h.service.SyncInvoice(c.Request.Context(), c.Param("tenant_id"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// ---------- helpers ----------

func (h *Handler) requireTenantOwnership(c *gin.Context, tenantID string) bool {
	if h.isAdmin(c) || (tenantID != "" && tenant.VerifiedTenantID(c) == tenantID) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your tenant"})
	return false
}

// parseWindow reads start_date/end_date as RFC 3339. Returns false (and
// sends the error response) on a malformed value.
func parseWindow(c *gin.Context, now time.Time) (time.Time, time.Time, bool) {
	start, end := now.AddDate(0, 0, -30), now
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"start_date", &start}, {"end_date", &end}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		v, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": p.key + " must be RFC 3339"})
			return time.Time{}, time.Time{}, false
		}
		*p.dst = v
	}
	return start, end, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
	case errors.Is(err, ErrBillingRecordNotFound), errors.Is(err, ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrInvalidUsage), errors.Is(err, ErrInvalidWindow), errors.Is(err, ErrInvalidCycle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrInvoiceNotPayable):
		c.JSON(http.StatusConflict, gin.H{"error": "invoice_not_payable", "message": err.Error()})
	case errors.Is(err, ErrNoPaymentGateway), errors.Is(err, ErrNoCustomer):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "payment_unavailable", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
