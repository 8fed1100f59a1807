package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abduss/dedupdrive/internal/logger"
	"github.com/abduss/dedupdrive/internal/metrics"
)

type contextKey string

const userContextKey contextKey = "dedupdriveUser"

// ContextUser is the caller an access token identified.
type ContextUser struct {
	ID      uuid.UUID
	IsAdmin bool
}

type tokenVerifier interface {
	ValidateAccessToken(token string) (UserClaims, error)
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller for RequireUser.
func AuthMiddleware(verifier tokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, reason := bearerToken(c.GetHeader("Authorization"))
		if reason == "" {
			claims, err := verifier.ValidateAccessToken(token)
			if err == nil {
				SetUser(c, ContextUser{ID: claims.UserID, IsAdmin: claims.IsAdmin})
				c.Next()
				return
			}
			reason = "invalid token"
			if errors.Is(err, ErrTokenExpired) {
				reason = "token expired"
			}
		}

		metrics.RecordAuthFailure(reason)
		logger.FromContext(c).Debug("request rejected", zap.String("reason", reason), zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
	}
}

// SetUser stores the principal on the request context.
func SetUser(c *gin.Context, user ContextUser) {
	c.Set(string(userContextKey), user)
}

// CurrentUser extracts the authenticated user from the context.
func CurrentUser(c *gin.Context) (ContextUser, bool) {
	value, exists := c.Get(string(userContextKey))
	if !exists {
		return ContextUser{}, false
	}
	user, ok := value.(ContextUser)
	return user, ok
}

// RequireUser returns the authenticated caller; ok is false on routes the
// middleware did not guard.
func RequireUser(c *gin.Context) (uuid.UUID, ContextUser, bool) {
	user, ok := CurrentUser(c)
	if !ok || user.ID == uuid.Nil {
		return uuid.Nil, ContextUser{}, false
	}
	return user.ID, user, true
}

// bearerToken returns the token, or a rejection reason when the header does
// not carry one.
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", "invalid authorization header"
	}
	return token, ""
}
