package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cashbook-auth/internal/auth"
	"cashbook-auth/internal/domain"
)

const bearerPrefix = "Bearer "

// ErrMissingCredential is logged when a protected request has no Authorization header.
var ErrMissingCredential = errors.New("missing credential")

// TokenValidator turns a bearer token into the identity it asserts.
type TokenValidator interface {
	Validate(token string) (domain.Identity, error)
}

// AuthMiddleware rejects requests without a valid bearer token and attaches
// the token's identity to the request context. Callers only ever see a
// generic 401; the reason is logged.
func AuthMiddleware(tokens TokenValidator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			logger.WithError(ErrMissingCredential).WithField("path", c.Request.URL.Path).Debug("request rejected")
			abortUnauthorized(c)
			return
		}

		identity, err := tokens.Validate(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			logger.WithError(err).WithField("path", c.Request.URL.Path).Debug("token rejected")
			abortUnauthorized(c)
			return
		}

		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// RequireRole lets the request through only when the authenticated identity
// holds one of roles. It must run after AuthMiddleware.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFromContext(c.Request.Context())
		if !ok {
			abortUnauthorized(c)
			return
		}
		for _, role := range roles {
			if identity.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Message: "forbidden"})
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "unauthorized"})
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
		}).Info("request")
	}
}
