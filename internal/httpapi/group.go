package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/apierr"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/group"
)

type createGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

type updateGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

type memberRequest struct {
	UserID domain.UserID `json:"userId" binding:"required"`
}

type createInviteRequest struct {
	TargetUserID *domain.UserID `json:"targetUserId"`
	MaxUses      int            `json:"maxUses"`
	ExpiresAt    *time.Time     `json:"expiresAt"`
}

type joinGroupRequest struct {
	Code string `json:"code" binding:"required"`
}

type sendGroupMessageRequest struct {
	SenderDeviceID  string                 `json:"senderDeviceId" binding:"required"`
	ClaimedEpoch    int64                  `json:"claimedEpoch"`
	Ciphertext      string                 `json:"ciphertext" binding:"required"`
	Proto           string                 `json:"proto"`
	ClientMessageID string                 `json:"clientMessageId" binding:"required"`
	ReplyToID       *domain.GroupMessageID `json:"replyToId"`
}

type markGroupReadRequest struct {
	MessageID string `json:"messageId" binding:"required"`
}

func registerGroupRoutes(api *gin.RouterGroup, pipeline *group.Pipeline) {
	g := api.Group("/groups")

	g.POST("", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req createGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		grp, err := pipeline.CreateGroup(c.Request.Context(), userID, req.Name)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, grp)
	})

	g.PATCH("/:groupId", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		var req updateGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := pipeline.UpdateGroup(c.Request.Context(), groupID, userID, req.Name); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:groupId/close", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		if err := pipeline.CloseGroup(c.Request.Context(), groupID, userID); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:groupId/members", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		var req memberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := pipeline.AddMember(c.Request.Context(), groupID, userID, req.UserID); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.DELETE("/:groupId/members/:userId", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		targetID, err := parseInt64Param(c, "userId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := pipeline.RemoveMember(c.Request.Context(), groupID, userID, domain.UserID(targetID)); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:groupId/members/:userId/promote", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		targetID, err := parseInt64Param(c, "userId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := pipeline.Promote(c.Request.Context(), groupID, userID, domain.UserID(targetID)); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:groupId/members/:userId/demote", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		targetID, err := parseInt64Param(c, "userId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := pipeline.Demote(c.Request.Context(), groupID, userID, domain.UserID(targetID)); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:groupId/members/:userId/ban", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		targetID, err := parseInt64Param(c, "userId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := pipeline.Ban(c.Request.Context(), groupID, userID, domain.UserID(targetID)); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:groupId/members/:userId/unban", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		targetID, err := parseInt64Param(c, "userId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := pipeline.Unban(c.Request.Context(), groupID, userID, domain.UserID(targetID)); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:groupId/invites", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		var req createInviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		inv, err := pipeline.CreateInvite(c.Request.Context(), group.CreateInviteRequest{
			GroupID:    groupID,
			CreatedBy:  userID,
			TargetUser: req.TargetUserID,
			MaxUses:    req.MaxUses,
			ExpiresAt:  req.ExpiresAt,
		})
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	})

	g.POST("/invites/join", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req joinGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		grp, err := pipeline.JoinGroup(c.Request.Context(), req.Code, userID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, grp)
	})

	g.POST("/:groupId/messages", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		var req sendGroupMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		deviceID, err := domain.ParseDeviceID(req.SenderDeviceID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid senderDeviceId"})
			return
		}
		result, err := pipeline.Send(c.Request.Context(), group.SendRequest{
			GroupID:         groupID,
			SenderID:        userID,
			SenderDeviceID:  deviceID,
			ClaimedEpoch:    req.ClaimedEpoch,
			CiphertextB64:   req.Ciphertext,
			Proto:           req.Proto,
			ClientMessageID: req.ClientMessageID,
			ReplyToID:       req.ReplyToID,
		})
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	g.GET("/:groupId/messages", func(c *gin.Context) {
		userID, groupID, ok := groupCaller(c)
		if !ok {
			return
		}
		page, err := pipeline.ListMessages(c.Request.Context(), groupID, userID, c.Query("cursor"), parseLimit(c, 50, 200))
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	})

	g.POST("/:groupId/messages/read", func(c *gin.Context) {
		userID, _, ok := groupCaller(c)
		if !ok {
			return
		}
		var req markGroupReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		messageID, err := domain.ParseGroupMessageID(req.MessageID)
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

// groupCaller resolves the authenticated caller and the :groupId path
// param shared by every group route, writing a response and returning
// ok=false on either failure.
func groupCaller(c *gin.Context) (domain.UserID, domain.GroupID, bool) {
	userID, ok := requireUserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
		return 0, domain.GroupID{}, false
	}
	groupID, err := domain.ParseGroupID(c.Param("groupId"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid groupId"})
		return 0, domain.GroupID{}, false
	}
	return userID, groupID, true
}
