package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/apierr"
	"github.com/shopmindai/chatcore/internal/dm"
	"github.com/shopmindai/chatcore/internal/domain"
)

type sendDMRequest struct {
	RecipientID     domain.UserID `json:"recipientId" binding:"required"`
	SenderDeviceID  string        `json:"senderDeviceId" binding:"required"`
	Ciphertext      string        `json:"ciphertext" binding:"required"`
	Proto           string        `json:"proto"`
	ClientMessageID string        `json:"clientMessageId" binding:"required"`
}

type createDMConversationRequest struct {
	PeerID domain.UserID `json:"peerId" binding:"required"`
}

type markDMDeliveredRequest struct {
	MessageID string `json:"messageId" binding:"required"`
}

type markDMReadRequest struct {
	MessageID string `json:"messageId" binding:"required"`
}

func registerDMRoutes(api *gin.RouterGroup, pipeline *dm.Pipeline) {
	g := api.Group("/dm")

	g.POST("/messages", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req sendDMRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		deviceID, err := domain.ParseDeviceID(req.SenderDeviceID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid senderDeviceId"})
			return
		}
		result, err := pipeline.Send(c.Request.Context(), userID, req.RecipientID, deviceID, req.Ciphertext, req.Proto, req.ClientMessageID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	g.POST("/conversations", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req createDMConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		conv, err := pipeline.CreateConversation(c.Request.Context(), userID, req.PeerID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	})

	g.GET("/conversations", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		convs, err := pipeline.ListConversations(c.Request.Context(), userID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})
	})

	g.GET("/conversations/:conversationId", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		conversationID, err := domain.ParseDMConversationID(c.Param("conversationId"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid conversationId"})
			return
		}
		conv, err := pipeline.GetConversation(c.Request.Context(), conversationID, userID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	})

	g.GET("/conversations/:conversationId/messages", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		conversationID, err := domain.ParseDMConversationID(c.Param("conversationId"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid conversationId"})
			return
		}
		page, err := pipeline.ListMessages(c.Request.Context(), conversationID, userID, c.Query("cursor"), parseLimit(c, 50, 200))
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	})

	g.POST("/messages/delivered", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req markDMDeliveredRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		messageID, err := domain.ParseDMMessageID(req.MessageID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid messageId"})
			return
		}
		if err := pipeline.MarkDelivered(c.Request.Context(), messageID, userID); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/messages/read", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req markDMReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		messageID, err := domain.ParseDMMessageID(req.MessageID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid messageId"})
			return
		}
		if err := pipeline.MarkRead(c.Request.Context(), messageID, userID); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
