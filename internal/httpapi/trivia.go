package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/apierr"
	"github.com/shopmindai/chatcore/internal/chatsurfaces/trivia"
	"github.com/shopmindai/chatcore/internal/domain"
)

type postTriviaMessageRequest struct {
	Text            string            `json:"text" binding:"required"`
	ClientMessageID *string           `json:"clientMessageId"`
	ReplyToID       *domain.MessageID `json:"replyToId"`
}

// registerTriviaRoutes mounts the trivia-live routes. enabled is the
// deployment-level feature gate (cfg.EnableTriviaLive) — the surface
// itself has no on/off switch of its own, only the draw-time activity
// window, so a disabled deployment is rejected here before it ever
// reaches the surface.
func registerTriviaRoutes(api *gin.RouterGroup, surface *trivia.Surface, enabled bool) {
	g := api.Group("/trivia")
	g.Use(func(c *gin.Context) {
		if !enabled {
			apierr.Write(c, domain.ErrFeatureDisabled)
			c.Abort()
			return
		}
		c.Next()
	})

	g.POST("/messages", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req postTriviaMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		result, err := surface.Post(c.Request.Context(), userID, req.Text, req.ClientMessageID, req.ReplyToID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	g.GET("/messages", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		page, err := surface.List(c.Request.Context(), userID, c.Query("cursor"), parseLimit(c, 50, 200))
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	})

	// status reports the activity window and live counts regardless of
	// whether the live window is currently open — only the deployment-level
	// feature gate above can reject this route, never the window itself.
	g.GET("/status", func(c *gin.Context) {
		status, err := surface.Status(c.Request.Context())
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	g.POST("/likes", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var messageID *domain.MessageID
		if raw := c.Query("messageId"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid messageId"})
				return
			}
			id := domain.MessageID(v)
			messageID = &id
		}
		liked, err := surface.Like(c.Request.Context(), userID, messageID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"liked": liked})
	})

	g.GET("/likes/count", func(c *gin.Context) {
		count, err := surface.LikeCount(c.Request.Context())
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	})
}
