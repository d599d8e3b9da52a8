package auth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/tenant"
	"github.com/mbd888/agentplatform/internal/validation"
)

// Handler provides HTTP endpoints for sessions and user accounts.
type Handler struct {
	svc         *Service
	adminSecret string
}

// NewHandler creates a new auth handler.
func NewHandler(svc *Service, adminSecret string) *Handler {
	return &Handler{svc: svc, adminSecret: adminSecret}
}

// RegisterRoutes sets up the public session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
}

// RegisterProtectedRoutes sets up routes that need an authenticated caller.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/me", h.Me)
	r.POST("/auth/change-password", h.ChangePassword)
	r.GET("/users", h.ListUsers)
	r.POST("/users", h.CreateUser)
}

// RegisterAdminRoutes sets up administrator-only account routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/users/:id/reset-password", h.ResetPassword)
	r.POST("/users/:id/active", h.SetActive)
}

// Login handles POST /v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "username and password are required"})
		return
	}
	req.Username = validation.SanitizeString(req.Username, 100)
	req.HeaderTenant = c.GetHeader(tenant.HeaderTenantID)
	req.ResolvedTenant = tenant.GetTenantID(c)

	session, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		abortAuth(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Refresh handles POST /v1/auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "refresh_token is required"})
		return
	}
	session, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		abortAuth(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Logout handles POST /v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	p := GetPrincipal(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "not logged in"})
		return
	}
	h.svc.Logout(c.Request.Context(), p)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me handles GET /v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	p := GetPrincipal(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "not logged in"})
		return
	}
	user, err := h.svc.Me(c.Request.Context(), p)
	if err != nil {
		abortAuth(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "tenant_id": p.TenantID})
}

// ChangePassword handles POST /v1/auth/change-password
func (h *Handler) ChangePassword(c *gin.Context) {
	p := GetPrincipal(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "not logged in"})
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "current_password and new_password are required"})
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		abortAuth(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// ListUsers handles GET /v1/users. Tenant users see their tenant only.
func (h *Handler) ListUsers(c *gin.Context) {
	admin := IsAdmin(c, h.adminSecret)
	tenantID := tenant.OwnerID(c, admin)
	if admin {
		tenantID = c.DefaultQuery("tenant_id", tenantID)
	} else if tenantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "tenant or admin access required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	users, err := h.svc.ListUsers(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		abortAuth(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// CreateUser handles POST /v1/users. Admins may create users anywhere;
// tenant admins only inside their own tenant and without the admin role.
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	req.Username = validation.SanitizeString(req.Username, 100)
	req.Email = validation.SanitizeString(req.Email, 254)
	if errs := validation.Validate(
		validation.Required("username", req.Username),
		validation.Email("email", req.Email),
		validation.Identifier("tenant_id", req.TenantID),
	); errs != nil {
		validation.Abort(c, errs)
		return
	}

	if !IsAdmin(c, h.adminSecret) {
		p := GetPrincipal(c)
		caller, err := h.callerUser(c, p)
		if err != nil || !caller.IsTenantAdmin || caller.TenantID == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "tenant admin access required"})
			return
		}
		if req.TenantID != "" && req.TenantID != caller.TenantID {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your tenant"})
			return
		}
		for _, r := range req.Roles {
			if r == RoleAdmin {
				c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "cannot grant admin role"})
				return
			}
		}
		req.TenantID = caller.TenantID
	}

	if req.TenantID != "" && !h.svc.tenantUsable(c.Request.Context(), req.TenantID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "tenant_access_denied", "message": "tenant is not active or has expired"})
		return
	}

	user, err := h.svc.CreateUser(c.Request.Context(), req)
	if err != nil {
		abortAuth(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// ResetPassword handles POST /v1/users/:id/reset-password (admin)
func (h *Handler) ResetPassword(c *gin.Context) {
	var req struct {
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "new_password is required"})
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), c.Param("id"), req.NewPassword); err != nil {
		abortAuth(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset"})
}

// SetActive handles POST /v1/users/:id/active (admin)
func (h *Handler) SetActive(c *gin.Context) {
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "active is required"})
		return
	}
	user, err := h.svc.SetActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "user not found"})
			return
		}
		abortAuth(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) callerUser(c *gin.Context, p *Principal) (*User, error) {
	if p == nil {
		return nil, ErrUserNotFound
	}
	return h.svc.Me(c.Request.Context(), p)
}
