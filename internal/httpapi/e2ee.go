package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/apierr"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/e2ee"
)

type oneTimePrekeyInput struct {
	KeyID     int32  `json:"keyId"`
	PublicKey string `json:"publicKey"`
}

type uploadBundleRequest struct {
	DeviceID              string               `json:"deviceId" binding:"required"`
	IdentityKey           string               `json:"identityKey" binding:"required"`
	RegistrationID        int32                `json:"registrationId"`
	SignedPrekeyID        int32                `json:"signedPrekeyId"`
	SignedPrekeyPublic    string               `json:"signedPrekeyPublic" binding:"required"`
	SignedPrekeySignature string               `json:"signedPrekeySignature" binding:"required"`
	OneTimePrekeys        []oneTimePrekeyInput `json:"oneTimePrekeys"`
	SealedSender          bool                 `json:"sealedSender"`
}

type revokeDeviceRequest struct {
	Reason string `json:"reason"`
}

func registerE2EERoutes(api *gin.RouterGroup, registry *e2ee.Registry) {
	g := api.Group("/e2ee")

	g.POST("/devices/bundle", func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		var req uploadBundleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		deviceID, err := domain.ParseDeviceID(req.DeviceID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid deviceId"})
			return
		}
		prekeys := make([]e2ee.OneTimePrekeyInput, len(req.OneTimePrekeys))
		for i, p := range req.OneTimePrekeys {
			prekeys[i] = e2ee.OneTimePrekeyInput{KeyID: p.KeyID, PublicKey: p.PublicKey}
		}
		device, err := registry.UploadBundle(c.Request.Context(), e2ee.UploadBundleRequest{
			DeviceID:              deviceID,
			UserID:                userID,
			IdentityKey:           req.IdentityKey,
			RegistrationID:        req.RegistrationID,
			SignedPrekeyID:        req.SignedPrekeyID,
			SignedPrekeyPublic:    req.SignedPrekeyPublic,
			SignedPrekeySignature: req.SignedPrekeySignature,
			OneTimePrekeys:        prekeys,
			SealedSender:          req.SealedSender,
		})
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, device)
	})

	g.GET("/devices/:userId/bundle", func(c *gin.Context) {
		callerID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		targetID, err := parseInt64Param(c, "userId")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		var callerVersion *int64
		if raw := c.Query("bundleVersion"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid bundleVersion"})
				return
			}
			callerVersion = &v
		}
		summaries, err := registry.FetchBundle(c.Request.Context(), callerID, domain.UserID(targetID), callerVersion)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, summaries)
	})

	g.POST("/devices/:deviceId/prekeys/claim", func(c *gin.Context) {
		callerID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		deviceID, err := domain.ParseDeviceID(c.Param("deviceId"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid deviceId"})
			return
		}
		claim, err := registry.ClaimOneTimePrekey(c.Request.Context(), callerID, deviceID)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, claim)
	})

	g.POST("/devices/:deviceId/revoke", func(c *gin.Context) {
		callerID, ok := requireUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthenticated"})
			return
		}
		deviceID, err := domain.ParseDeviceID(c.Param("deviceId"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid deviceId"})
			return
		}
		var req revokeDeviceRequest
		_ = c.ShouldBindJSON(&req)
		if err := registry.RevokeDevice(c.Request.Context(), callerID, deviceID, req.Reason); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
