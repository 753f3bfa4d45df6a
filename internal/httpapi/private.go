package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/apierr"
	"github.com/shopmindai/chatcore/internal/chatsurfaces/private"
	"github.com/shopmindai/chatcore/internal/domain"
)

type sendPrivateMessageRequest struct {
	RecipientID     domain.UserID `json:"recipientId" binding:"required"`
	Text            string        `json:"text" binding:"required"`
	ClientMessageID *string       `json:"clientMessageId"`
}

type markReadRequest struct {
	MessageID domain.MessageID `json:"messageId" binding:"required"`
}

type markDeliveredRequest struct {
	MessageID domain.MessageID `json:"messageId" binding:"required"`
}

func registerPrivateRoutes(api *gin.RouterGroup, surface *private.Surface) {
	g := api.Group("/private")

	g.POST("/messages", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req sendPrivateMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		result, err := surface.Send(c.Request.Context(), userID, req.RecipientID, req.Text, req.ClientMessageID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	g.POST("/conversations/:conversationId/accept", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		id, err := parseInt64Param(c, "conversationId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := surface.Accept(c.Request.Context(), domain.ConversationID(id), userID); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/conversations/:conversationId/reject", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		id, err := parseInt64Param(c, "conversationId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := surface.Reject(c.Request.Context(), domain.ConversationID(id), userID); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.GET("/conversations/:conversationId/messages", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		id, err := parseInt64Param(c, "conversationId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		page, err := surface.ListMessages(c.Request.Context(), domain.ConversationID(id), userID, c.Query("cursor"), parseLimit(c, 50, 200))
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	})

	g.POST("/conversations/:conversationId/read", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		id, err := parseInt64Param(c, "conversationId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		var req markReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := surface.MarkRead(c.Request.Context(), domain.ConversationID(id), userID, req.MessageID); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/messages/delivered", func(c *gin.Context) {
		var req markDeliveredRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := surface.MarkDelivered(c.Request.Context(), req.MessageID); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/conversations/:conversationId/typing", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		id, err := parseInt64Param(c, "conversationId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		surface.Typing(c.Request.Context(), domain.ConversationID(id), userID)
		c.Status(http.StatusNoContent)
	})

	g.POST("/conversations/:conversationId/typing/stop", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		id, err := parseInt64Param(c, "conversationId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		surface.TypingStop(c.Request.Context(), domain.ConversationID(id), userID)
		c.Status(http.StatusNoContent)
	})
}
