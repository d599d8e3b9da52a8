package quota

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentplatform/internal/tenant"
)

// Middleware enforces the daily API quota of the request's tenant. It must
// run after tenant resolution; anonymous requests are not counted.
func Middleware(e *Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := tenant.GetTenantID(c)
		if tenantID == "" {
			c.Next()
			return
		}

		d := e.Allow(c.Request.Context(), tenantID)
		c.Header("X-Quota-Used", strconv.FormatInt(d.Used, 10))
		if t, ok := tenant.GetTenant(c); ok {
			c.Header("X-Quota-Limit", strconv.Itoa(t.MaxAPICallsPerDay))
		}
		if !d.Allowed {
			retryAfter := int(d.ResetAt.Sub(e.now()).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "quota_exceeded",
				"message":     fmt.Sprintf("Daily API call quota exceeded for tenant %s", tenantID),
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}
