package http

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bank-auth/internal/access"
	"bank-auth/internal/domain"
)

const authContextKey = "auth"

// accessLog records one line per request. Headers, bodies and query strings
// stay out of the log since they can carry credentials.
func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		h.logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      path,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		}).Info("request")
	}
}

// rateLimit runs before any authentication so throttled requests never reach
// the credential store or the token service.
func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}
		client := c.ClientIP()
		now := h.now()
		if !h.limiter.Admit(client, now) {
			secs := int(math.Ceil(h.limiter.RetryAfter(client, now).Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			h.abortWithError(c, domain.ErrRateLimited)
			return
		}
		c.Next()
	}
}

// enforce applies a route's access policy.
func (h *Handler) enforce(policy access.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch policy.Mode {
		case access.Public:
		case access.APIKey:
			if h.gate == nil || !h.gate.Check(c.GetHeader(h.apiKeyHeader)) {
				h.abortWithError(c, domain.ErrInvalidAPIKey)
				return
			}
		case access.Bearer:
			auth, err := h.guard.Authorize(c.Request.Context(), bearerToken(c), policy.Roles)
			if err != nil {
				h.abortWithError(c, err)
				return
			}
			c.Set(authContextKey, auth)
		default:
			h.abortWithError(c, domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(raw)
}

func authContext(c *gin.Context) *access.AuthContext {
	v, ok := c.Get(authContextKey)
	if !ok {
		return nil
	}
	auth, _ := v.(*access.AuthContext)
	return auth
}
