// Package validation holds request sanitizing helpers shared by the HTTP
// handlers.
package validation

import (
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size. Declarative imports
// posted over HTTP are the largest bodies the API accepts.
const MaxRequestSize = 4 << 20

var (
	identifierRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)
	domainRe     = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims s, strips NUL bytes and truncates it to maxLen bytes
// without splitting a UTF-8 sequence.
func SanitizeString(s string, maxLen int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\x00", "")
	if len(s) <= maxLen {
		return s
	}
	s = s[:maxLen]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// IsIdentifier reports whether s is usable as a registry id: 1-128
// characters of letters, digits and _ . : - starting with a letter or digit.
func IsIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// IsDomain reports whether s is a lowercase host name or a single label.
func IsDomain(s string) bool {
	return len(s) <= 253 && domainRe.MatchString(s)
}

// IsEmail reports whether s is a bare address such as "ops@acme.test".
func IsEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && addr.Name == ""
}

// FieldError names the offending request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is a collection of field errors.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Check is a single deferred field check.
type Check func() *FieldError

// Validate runs every check and collects the failures. It returns nil when
// all checks pass.
func Validate(checks ...Check) Errors {
	var errs Errors
	for _, check := range checks {
		if fe := check(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// Required rejects blank values.
func Required(field, value string) Check {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength rejects values longer than limit bytes.
func MaxLength(field, value string, limit int) Check {
	return func() *FieldError {
		if len(value) > limit {
			return &FieldError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Email rejects malformed addresses. Empty values pass; pair with Required.
func Email(field, value string) Check {
	return func() *FieldError {
		if value != "" && !IsEmail(value) {
			return &FieldError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// Domains rejects any malformed entry.
func Domains(field string, values []string) Check {
	return func() *FieldError {
		for _, d := range values {
			if !IsDomain(d) {
				return &FieldError{Field: field, Message: "invalid domain " + d}
			}
		}
		return nil
	}
}

// Identifier rejects ids outside the IsIdentifier alphabet. Empty values
// pass; pair with Required.
func Identifier(field, value string) Check {
	return func() *FieldError {
		if value != "" && !IsIdentifier(value) {
			return &FieldError{Field: field, Message: "must be 1-128 letters, digits or _ . : -"}
		}
		return nil
	}
}

// IDParamMiddleware rejects requests whose named path parameters are not
// identifiers. Parameters absent from the matched route are ignored.
func IDParamMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range params {
			if v := c.Param(p); v != "" && !IsIdentifier(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_id",
					"message": p + " must be 1-128 letters, digits or _ . : -",
				})
				return
			}
		}
		c.Next()
	}
}

// Abort writes errs as a 400 validation_error response.
func Abort(c *gin.Context, errs Errors) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": errs.Error(),
		"fields":  errs,
	})
}
