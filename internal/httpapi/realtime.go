package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/wsrelay"
)

// registerRealtimeRoutes mounts the SSE stream and the optional websocket
// rooms directly on the engine rather than under the authenticated api
// group: both transports authenticate themselves. The SSE stream reads a
// Bearer Authorization header, or a token query parameter when that is
// enabled in config; the websocket rooms read the token query parameter.
func registerRealtimeRoutes(r *gin.Engine, api *gin.RouterGroup, deps Dependencies) {
	r.GET("/api/v1/stream", func(c *gin.Context) {
		deps.SSE.ServeHTTP(c.Writer, c.Request)
	})

	if deps.WSHub == nil {
		return
	}

	r.GET("/ws/global", func(c *gin.Context) {
		userID, ok := authenticateQueryToken(c, deps.Tokens)
		if !ok {
			return
		}
		wsrelay.ServeRoom(c.Writer, c.Request, deps.WSHub, deps.Bus, string(domain.SurfaceGlobal), "room", int64(userID), nil, deps.Logger)
	})

	r.GET("/ws/trivia", func(c *gin.Context) {
		userID, ok := authenticateQueryToken(c, deps.Tokens)
		if !ok {
			return
		}
		drawDate := c.Query("drawDate")
		wsrelay.ServeRoom(c.Writer, c.Request, deps.WSHub, deps.Bus, string(domain.SurfaceTrivia), drawDate, int64(userID), nil, deps.Logger)
	})
}

func authenticateQueryToken(c *gin.Context, tokens TokenVerifier) (domain.UserID, bool) {
	token := c.Query("token")
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing token"})
		return 0, false
	}
	userID, expiresAt, err := tokens.Verify(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
		return 0, false
	}
	if expiresAt.Before(time.Now()) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "token expired"})
		return 0, false
	}
	return userID, true
}
