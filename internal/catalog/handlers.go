package catalog

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/registry"
	"github.com/mbd888/agentplatform/internal/tenant"
)

const (
	maxImportBytes = 5 << 20
	maxListLimit   = 1000
)

// Handler serves the common registry endpoints for one resource.
type Handler[T any] struct {
	catalog *Catalog[T]
	isAdmin func(*gin.Context) bool
}

// NewHandler creates a handler over catalog. nil isAdmin treats nobody
// as admin.
func NewHandler[T any](catalog *Catalog[T], isAdmin func(*gin.Context) bool) *Handler[T] {
	if isAdmin == nil {
		isAdmin = func(*gin.Context) bool { return false }
	}
	return &Handler[T]{catalog: catalog, isAdmin: isAdmin}
}

// RegisterProtectedRoutes sets up the read and tenant-owned write routes.
func (h *Handler[T]) RegisterProtectedRoutes(r *gin.RouterGroup) {
	base := "/" + h.catalog.Name()
	r.GET(base, h.List)
	r.GET(base+"/search", h.Search)
	r.GET(base+"/stats", h.Stats)
	r.GET(base+"/:id", h.Get)
	r.POST(base, h.Register)
	r.DELETE(base+"/:id", h.Unregister)
	r.POST(base+"/:id/status", h.UpdateStatus)
	if h.catalog.res.Apply != nil {
		r.PATCH(base+"/:id", h.Patch)
	}
}

// RegisterAdminRoutes sets up bulk import and export.
func (h *Handler[T]) RegisterAdminRoutes(r *gin.RouterGroup) {
	base := "/" + h.catalog.Name()
	r.POST(base+"/import/yaml", h.ImportYAML)
	r.GET(base+"/export/yaml", h.ExportYAML)
}

// Scope returns the catalog scope of the calling request. The tenant is
// the one proven by the caller's session; admins may narrow to the
// resolved tenant.
func (h *Handler[T]) Scope(c *gin.Context) Scope {
	admin := h.isAdmin(c)
	return Scope{TenantID: tenant.OwnerID(c, admin), Admin: admin}
}

// List handles GET /v1/{resource}?status=&tag=&enabled=&limit= plus the
// resource's index filters.
func (h *Handler[T]) List(c *gin.Context) {
	res := h.catalog.res
	f := registry.Filter{Status: c.Query("status"), Tags: c.QueryArray("tag")}
	if f.Status != "" && res.ValidStatus != nil && !res.ValidStatus(f.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "unknown status"})
		return
	}
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "enabled must be a boolean"})
			return
		}
		f.Enabled = &enabled
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be a non-negative integer"})
			return
		}
		f.Limit = min(limit, maxListLimit)
	}

	// The first index filter picks the starting bucket; the rest narrow it.
	var extra []registry.Filter
	for _, param := range h.filterParams() {
		value := c.Query(param)
		if value == "" {
			continue
		}
		if f.Index == "" {
			f.Index, f.Value = res.Filters[param], value
			continue
		}
		extra = append(extra, registry.Filter{Index: res.Filters[param], Value: value})
	}

	scope := h.Scope(c)
	limit := f.Limit
	if len(extra) > 0 {
		f.Limit = 0
	}
	records := h.catalog.List(scope, f)
	for _, ef := range extra {
		records = h.intersect(records, res.Registry.List(ef))
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	c.JSON(http.StatusOK, gin.H{res.Name: records, "count": len(records)})
}

// Search handles GET /v1/{resource}/search?q=
func (h *Handler[T]) Search(c *gin.Context) {
	records := h.catalog.Search(h.Scope(c), c.Query("q"))
	c.JSON(http.StatusOK, gin.H{h.catalog.res.Name: records, "count": len(records)})
}

// Stats handles GET /v1/{resource}/stats
func (h *Handler[T]) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": h.catalog.Stats(h.Scope(c))})
}

// Get handles GET /v1/{resource}/:id
func (h *Handler[T]) Get(c *gin.Context) {
	rec, err := h.catalog.Get(h.Scope(c), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{h.catalog.res.Singular: rec})
}

// Register handles POST /v1/{resource}. The body uses the same field names
// as the YAML documents.
func (h *Handler[T]) Register(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "a JSON object is required"})
		return
	}
	rec, err := h.catalog.res.Loader.Parse(declarative.Fields(body))
	if err != nil {
		WriteError(c, err)
		return
	}
	stored, err := h.catalog.Create(c.Request.Context(), h.Scope(c), rec)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{h.catalog.res.Singular: stored})
}

// Unregister handles DELETE /v1/{resource}/:id
func (h *Handler[T]) Unregister(c *gin.Context) {
	id := c.Param("id")
	if err := h.catalog.Delete(c.Request.Context(), h.Scope(c), id); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": h.catalog.res.Singular + " unregistered", "id": id})
}

// UpdateStatus handles POST /v1/{resource}/:id/status
func (h *Handler[T]) UpdateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "status is required"})
		return
	}
	rec, err := h.catalog.SetStatus(c.Request.Context(), h.Scope(c), c.Param("id"), req.Status)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{h.catalog.res.Singular: rec})
}

// Patch handles PATCH /v1/{resource}/:id. Only the keys present in the
// body change.
func (h *Handler[T]) Patch(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "a JSON object is required"})
		return
	}
	rec, err := h.catalog.Patch(c.Request.Context(), h.Scope(c), c.Param("id"), declarative.Fields(body))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{h.catalog.res.Singular: rec})
}

// ImportYAML handles POST /v1/{resource}/import/yaml?update_existing=true
func (h *Handler[T]) ImportYAML(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "YAML body is required"})
		return
	}
	update, _ := strconv.ParseBool(c.Query("update_existing"))

	res, err := h.catalog.Import(c.Request.Context(), data, declarative.Options{UpdateExisting: update})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ExportYAML handles GET /v1/{resource}/export/yaml
func (h *Handler[T]) ExportYAML(c *gin.Context) {
	data, err := h.catalog.Export()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+h.catalog.res.Name+`.yaml"`)
	c.Data(http.StatusOK, "application/x-yaml", data)
}

func (h *Handler[T]) filterParams() []string {
	params := make([]string, 0, len(h.catalog.res.Filters))
	for p := range h.catalog.res.Filters {
		params = append(params, p)
	}
	sort.Strings(params)
	return params
}

func (h *Handler[T]) intersect(records, allowed []T) []T {
	id := h.catalog.res.Binding.ID
	keep := make(map[string]struct{}, len(allowed))
	for _, rec := range allowed {
		keep[id(rec)] = struct{}{}
	}
	out := records[:0]
	for _, rec := range records {
		if _, ok := keep[id(rec)]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// WriteError maps catalog, registry and validation errors to responses.
// Domain handlers reuse it for their own routes.
func WriteError(c *gin.Context, err error) {
	var verr *declarative.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, ErrNotFound), errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your tenant"})
	case errors.Is(err, ErrTenantRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_required", "message": err.Error()})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": err.Error()})
	case errors.Is(err, registry.ErrDuplicateID), errors.Is(err, registry.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "message": err.Error()})
	case errors.Is(err, registry.ErrIDChanged), errors.Is(err, ErrNotPatchable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
