package tenant

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/logging"
)

const (
	// HeaderTenantID is the explicit tenant hint.
	HeaderTenantID = "X-Tenant-ID"
	// QueryTenantID is the development-only query parameter hint.
	QueryTenantID = "tenant_id"

	// ContextKeyTenantID is the gin context key holding the resolved tenant id.
	ContextKeyTenantID = "tenantID"
	// ContextKeyTenant is the gin context key holding a copy of the tenant.
	ContextKeyTenant = "tenant"
	// ContextKeyVerifiedTenantID holds the tenant bound by an authenticated
	// session. Only it proves membership; the resolved tenant is a hint.
	ContextKeyVerifiedTenantID = "verifiedTenantID"
)

// Source identifies where a tenant id was resolved from.
type Source string

const (
	SourceNone   Source = ""
	SourceHeader Source = "header"
	SourceHost   Source = "host"
	SourceQuery  Source = "query"
)

type ctxKey struct{}

// MiddlewareConfig controls tenant resolution.
type MiddlewareConfig struct {
	// AllowQueryTenant trusts ?tenant_id=. It must stay off in production.
	AllowQueryTenant bool
}

// Resolve determines the tenant hint of a request. The first match wins:
// the X-Tenant-ID header, then the Host header matched against registered
// domains, then the tenant_id query parameter when allowed.
func (m *Manager) Resolve(r *http.Request, cfg MiddlewareConfig) (string, Source) {
	if id := strings.TrimSpace(r.Header.Get(HeaderTenantID)); id != "" {
		return id, SourceHeader
	}
	if id := m.resolveHost(r.Host); id != "" {
		return id, SourceHost
	}
	if cfg.AllowQueryTenant {
		if id := strings.TrimSpace(r.URL.Query().Get(QueryTenantID)); id != "" {
			return id, SourceQuery
		}
	}
	return "", SourceNone
}

// resolveHost maps a host with at least three labels to a tenant, trying
// the full host first and then its leftmost label (the subdomain).
func (m *Manager) resolveHost(hostport string) string {
	host := strings.ToLower(strings.TrimSpace(hostport))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	if t, ok := m.GetByDomain(host); ok {
		return t.ID
	}
	if t, ok := m.GetByDomain(labels[0]); ok {
		return t.ID
	}
	return ""
}

// Middleware resolves the request's tenant and rejects requests for
// tenants that fail CheckTenantAccess with 403. Requests without a tenant
// hint continue anonymously.
func Middleware(m *Manager, cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, source := m.Resolve(c.Request, cfg)
		if tenantID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		if !m.CheckTenantAccess(ctx, tenantID) {
			logging.L(ctx).Warn("tenant access denied", "tenant_id", tenantID, "source", string(source))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "tenant_access_denied",
				"message": fmt.Sprintf("Tenant %s is not active or has expired", tenantID),
			})
			return
		}

		t, _ := m.Get(tenantID)
		Attach(c, tenantID, t)
		c.Next()
	}
}

// Attach binds tenantID (and t, which may be nil) to the request. Callers
// must have checked access first.
func Attach(c *gin.Context, tenantID string, t *Tenant) {
	c.Set(ContextKeyTenantID, tenantID)
	c.Set(ContextKeyTenant, t)
	ctx := logging.WithTenantID(context.WithValue(c.Request.Context(), ctxKey{}, tenantID), tenantID)
	c.Request = c.Request.WithContext(ctx)
}

// Verify records tenantID as the tenant an authenticated session belongs
// to, and binds it as the request's tenant.
func Verify(c *gin.Context, tenantID string, t *Tenant) {
	c.Set(ContextKeyVerifiedTenantID, tenantID)
	if GetTenantID(c) != tenantID {
		Attach(c, tenantID, t)
	}
}

// VerifiedTenantID returns the tenant proven by the request's session, or "".
func VerifiedTenantID(c *gin.Context) string {
	id, _ := c.Get(ContextKeyVerifiedTenantID)
	s, _ := id.(string)
	return s
}

// OwnerID returns the tenant whose data the caller may act on. Sessions
// own their verified tenant only. Admins may narrow to the resolved tenant;
// a header alone never grants ownership.
func OwnerID(c *gin.Context, admin bool) string {
	if id := VerifiedTenantID(c); id != "" {
		return id
	}
	if admin {
		return GetTenantID(c)
	}
	return ""
}

// RequireTenant rejects requests that did not resolve a tenant.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetTenantID(c) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "tenant_required",
				"message": "Tenant ID is required. Send the X-Tenant-ID header.",
			})
			return
		}
		c.Next()
	}
}

// GetTenantID returns the tenant resolved for the request, or "".
func GetTenantID(c *gin.Context) string {
	if id, ok := c.Get(ContextKeyTenantID); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// GetTenant returns the tenant resolved for the request.
func GetTenant(c *gin.Context) (*Tenant, bool) {
	v, ok := c.Get(ContextKeyTenant)
	if !ok {
		return nil, false
	}
	t, ok := v.(*Tenant)
	return t, ok && t != nil
}

// FromContext returns the tenant id the middleware attached to ctx.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
