package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/apierr"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/mute"
)

type setSurfaceMutedRequest struct {
	Surface domain.Surface `json:"surface" binding:"required"`
	Muted   bool           `json:"muted"`
}

type mutedUserRequest struct {
	UserID domain.UserID `json:"userId" binding:"required"`
}

func registerMuteRoutes(api *gin.RouterGroup, store *mute.Store) {
	g := api.Group("/mutes")

	g.PUT("/surface", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req setSurfaceMutedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := store.SetSurfaceMuted(c.Request.Context(), userID, req.Surface, req.Muted); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/users", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req mutedUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := store.AddMutedUser(c.Request.Context(), userID, req.UserID); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.DELETE("/users/:userId", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		targetID, err := parseInt64Param(c, "userId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err := store.RemoveMutedUser(c.Request.Context(), userID, domain.UserID(targetID)); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.GET("/users", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		ids, err := store.MutedUsers(c.Request.Context(), userID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"mutedUserIds": ids})
	})
}
