// Package middleware holds the gin middleware shared by all routes.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fosten-shop/fosten-orders-service/internal/logging"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"

	RoleAdmin = "admin"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	identityKey  contextKey = "identity"
)

// Identity is the caller as asserted by the upstream API gateway.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// RequestID propagates or generates a request id and stores it on the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(string(requestIDKey), requestID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey, requestID))
		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}

// RequestIDFromContext returns the request id, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Identify reads identity headers. Authentication happens upstream.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Identity{
			UserID: strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Role:   strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))),
		}
		c.Set(string(identityKey), identity)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Identify.
func IdentityFrom(c *gin.Context) Identity {
	if v, ok := c.Get(string(identityKey)); ok {
		if identity, ok := v.(Identity); ok {
			return identity
		}
	}
	return Identity{}
}

// RequireUser rejects requests without a user id.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdentityFrom(c).UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects non-admin callers. It implies RequireUser.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := IdentityFrom(c)
		if identity.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !identity.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// AccessLog writes one structured entry per request.
func AccessLog(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := logging.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": RequestIDFromContext(c.Request.Context()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("HTTP request", fields)
			return
		}
		logger.Info("HTTP request", fields)
	}
}
