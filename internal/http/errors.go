package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bank-auth/internal/domain"
)

type errorMapping struct {
	status int
	code   string
}

var errorTable = map[domain.Kind]errorMapping{
	domain.KindValidation:      {http.StatusBadRequest, "ValidationError"},
	domain.KindInactive:        {http.StatusBadRequest, "ValidationError"},
	domain.KindConflict:        {http.StatusConflict, "Conflict"},
	domain.KindUnauthenticated: {http.StatusUnauthorized, "Unauthenticated"},
	domain.KindExpired:         {http.StatusUnauthorized, "Unauthenticated"},
	domain.KindMalformed:       {http.StatusUnauthorized, "Unauthenticated"},
	domain.KindWrongType:       {http.StatusUnauthorized, "Unauthenticated"},
	domain.KindRevoked:         {http.StatusUnauthorized, "Unauthenticated"},
	domain.KindSubjectInactive: {http.StatusUnauthorized, "Unauthenticated"},
	domain.KindSubjectNotFound: {http.StatusNotFound, "SubjectNotFound"},
	domain.KindNotFound:        {http.StatusNotFound, "NotFound"},
	domain.KindForbidden:       {http.StatusForbidden, "Forbidden"},
	domain.KindInvalidAPIKey:   {http.StatusForbidden, "Invalid API Key"},
	domain.KindRateLimited:     {http.StatusTooManyRequests, "RateLimited"},
	domain.KindInternal:        {http.StatusInternalServerError, "Internal"},
}

func statusFor(err error) (int, string) {
	m, ok := errorTable[domain.KindOf(err)]
	if !ok {
		m = errorTable[domain.KindInternal]
	}
	return m.status, m.code
}

// abortWithError renders err and stops the handler chain. Internal causes are
// logged, never returned.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "detail": domain.MessageOf(err)})
}
