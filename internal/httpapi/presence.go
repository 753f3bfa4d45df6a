package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/apierr"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/presence"
)

type setSharingPolicyRequest struct {
	ShareLastSeen domain.SharePolicy `json:"shareLastSeen" binding:"required"`
	ShareOnline   bool               `json:"shareOnline"`
	ReadReceipts  bool               `json:"readReceipts"`
}

func registerPresenceRoutes(api *gin.RouterGroup, tracker *presence.Tracker) {
	g := api.Group("/presence")

	g.GET("/:userId", func(c *gin.Context) {
		viewerID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		subjectID, err := parseInt64Param(c, "userId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		var fallback *time.Time
		view, err := tracker.ViewFor(c.Request.Context(), viewerID, domain.UserID(subjectID), fallback)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	g.PUT("/sharing-policy", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req setSharingPolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := tracker.SetSharingPolicy(c.Request.Context(), userID, req.ShareLastSeen, req.ShareOnline, req.ReadReceipts); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
