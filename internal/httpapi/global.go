package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/apierr"
	"github.com/shopmindai/chatcore/internal/chatsurfaces/global"
	"github.com/shopmindai/chatcore/internal/domain"
)

type postGlobalMessageRequest struct {
	Text            string            `json:"text" binding:"required"`
	ClientMessageID *string           `json:"clientMessageId"`
	ReplyToID       *domain.MessageID `json:"replyToId"`
}

func registerGlobalRoutes(api *gin.RouterGroup, surface *global.Surface, admins AdminLookup) {
	g := api.Group("/global")

	g.POST("/messages", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req postGlobalMessageRequest
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
		page, err := surface.List(c.Request.Context(), c.Query("cursor"), parseLimit(c, 50, 200))
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	})

	g.GET("/online-count", func(c *gin.Context) {
		count, err := surface.OnlineCount(c.Request.Context())
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"onlineCount": count})
	})

	// cleanup deletes messages past the configured retention window.
	// Operator-only: the caller must be the designated admin account.
	g.POST("/cleanup", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		if admins == nil {
			apierr.Write(c, domain.ErrForbidden)
			return
		}
		isAdmin, err := admins.IsAdmin(c.Request.Context(), userID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		if !isAdmin {
			apierr.Write(c, domain.ErrForbidden)
			return
		}
		result, err := surface.Cleanup(c.Request.Context())
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}
