package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskhub/internal/auth"
	"taskhub/internal/config"
	"taskhub/pkg/logger"
)

// RequestID tags every request with an identifier that rides along in the
// request context for log correlation, and echoes it back in a header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestLog emits one line per request with method, path, status and
// duration. Streaming endpoints log when the client disconnects and the
// handler returns.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Probes poll every few seconds; keep them out of the logs.
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/ready" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		logger.Info(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// SessionAuth authenticates requests from the session cookie, falling back
// to an Authorization bearer token. On success the user id is stored in the
// gin context under "user_id".
func SessionAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		token := sessionToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			logger.Debug(ctx, "Missing session token")
			c.Abort()
			return
		}
		secret := config.GetSecretKey(ctx)
		if secret == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server misconfiguration"})
			c.Abort()
			return
		}
		userID, err := auth.VerifySession(secret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			logger.Debug(ctx, "Session verify failed", "error", err)
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(auth.SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	const prefix = "Bearer "
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
