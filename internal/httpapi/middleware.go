package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/domain"
)

// TokenVerifier decodes a bearer token into the caller's identity and the
// instant the token expires. Auth itself is owned by an external identity
// subsystem; this is the only surface this service has onto it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID domain.UserID, expiresAt time.Time, err error)
}

const userIDKey = "chatcore.userID"

// AuthMiddleware verifies the bearer token on every request and stashes the
// caller's id in the gin context for handlers to read via requireUserID.
func AuthMiddleware(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing bearer token"})
			return
		}
		userID, expiresAt, err := tokens.Verify(c.Request.Context(), auth[len(prefix):])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
			return
		}
		if time.Now().After(expiresAt) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "token expired"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// requireUserID reads the authenticated caller set by AuthMiddleware.
func requireUserID(c *gin.Context) (domain.UserID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := v.(domain.UserID)
	return userID, ok
}

// parseLimit reads a "limit" query param, defaulting and clamping the way
// every surface's List endpoint does.
func parseLimit(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func parseInt64Param(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
