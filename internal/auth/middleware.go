package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/logging"
	"github.com/mbd888/agentplatform/internal/tenant"
)

// Context keys
const (
	ContextKeyPrincipal = "principal"
	HeaderAdminSecret   = "X-Admin-Secret"
)

// Middleware verifies a bearer token when one is present and binds the
// principal to the request. It must run after tenant.Middleware so the
// resolved tenant can be checked against the user's. A tenant named only
// by the token claim is access-checked and attached here. The principal's
// tenant is recorded as verified. Requests without an Authorization header
// continue anonymously.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, present := bearerToken(c.GetHeader("Authorization"))
		if !present {
			c.Next()
			return
		}
		if raw == "" {
			abortAuth(c, ErrTokenMalformed)
			return
		}

		ctx := c.Request.Context()
		resolved := tenant.GetTenantID(c)
		p, err := svc.Authenticate(ctx, raw, resolved)
		if err != nil {
			logging.L(ctx).Warn("authentication failed", "error", err)
			abortAuth(c, err)
			return
		}

		if resolved == "" && p.TenantID != "" {
			if !svc.tenantUsable(ctx, p.TenantID) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "tenant_access_denied",
					"message": "Tenant " + p.TenantID + " is not active or has expired",
				})
				return
			}
		}
		tenant.Verify(c, p.TenantID, nil)

		c.Set(ContextKeyPrincipal, p)
		c.Request = c.Request.WithContext(logging.WithSubject(c.Request.Context(), p.UserID))
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetPrincipal(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required. Send Authorization: Bearer <token>.",
			})
			return
		}
		c.Next()
	}
}

// RequireCaller rejects requests that carry neither a session nor the
// admin secret. Tenant-scoped routes use it so that X-Tenant-ID alone
// never reaches a handler.
func RequireCaller(adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetPrincipal(c) == nil && !IsAdmin(c, adminSecret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required. Send Authorization: Bearer <token>.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin admits callers holding the admin role or presenting the
// admin secret.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c, secret) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_required",
				"message": "This endpoint requires administrator access",
			})
			return
		}
		c.Next()
	}
}

// IsAdmin reports whether the caller is an administrator. An empty secret
// disables the header check.
func IsAdmin(c *gin.Context, secret string) bool {
	if GetPrincipal(c).IsAdmin() {
		return true
	}
	if secret == "" {
		return false
	}
	given := c.GetHeader(HeaderAdminSecret)
	return given != "" && subtle.ConstantTimeCompare([]byte(given), []byte(secret)) == 1
}

// GetPrincipal returns the authenticated principal, or nil.
func GetPrincipal(c *gin.Context) *Principal {
	v, ok := c.Get(ContextKeyPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

func abortAuth(c *gin.Context, err error) {
	status, code := authErrorStatus(err)
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": authErrorMessage(err)})
}

func authErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired"
	case errors.Is(err, ErrSignatureInvalid):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, ErrTokenMalformed):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, ErrWrongTokenType):
		return http.StatusUnauthorized, "wrong_token_type"
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, ErrUserNotFound):
		return http.StatusUnauthorized, "unknown_user"
	case errors.Is(err, ErrUserInactive):
		return http.StatusForbidden, "user_inactive"
	case errors.Is(err, ErrTenantMismatch):
		return http.StatusForbidden, "tenant_mismatch"
	case errors.Is(err, ErrTenantUnavailable):
		return http.StatusForbidden, "tenant_access_denied"
	case errors.Is(err, ErrUserLimit):
		return http.StatusForbidden, "user_limit_exceeded"
	case errors.Is(err, ErrUserExists):
		return http.StatusConflict, "user_exists"
	case errors.Is(err, ErrInvalidUser):
		return http.StatusBadRequest, "invalid_user"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func authErrorMessage(err error) string {
	if _, code := authErrorStatus(err); code == "internal_error" {
		return "internal error"
	}
	return strings.TrimPrefix(err.Error(), "auth: ")
}
