// Package apierr maps domain errors onto the HTTP error contract shared by
// every chat surface: a {"detail": "..."} body plus an X-Error-Code header,
// and Retry-After for rate limiting.
package apierr

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shopmindai/chatcore/internal/domain"
)

// Code is the machine-readable value sent in X-Error-Code.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeForbidden           Code = "FORBIDDEN"
	CodeBlocked             Code = "BLOCKED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeConversationPending Code = "CONVERSATION_PENDING"
	CodeConversationRejected Code = "CONVERSATION_REJECTED"
	CodeDeviceRevoked       Code = "DEVICE_REVOKED"
	CodeEpochStale          Code = "EPOCH_STALE"
	CodeBundleStale         Code = "BUNDLE_STALE"
	CodePrekeysExhausted    Code = "PREKEYS_EXHAUSTED"
	CodeIdentityChangeBlocked Code = "IDENTITY_CHANGE_BLOCKED"
	CodeRelationshipRequired Code = "RELATIONSHIP_REQUIRED"
	CodeGroupFull           Code = "GROUP_FULL"
	CodeGroupClosed         Code = "GROUP_CLOSED"
	CodeFeatureDisabled     Code = "FEATURE_DISABLED"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// mapping associates a sentinel/typed error with a status and code. Order
// matters only in that errors.As checks run before the errors.Is table.
type mapping struct {
	status int
	code   Code
}

var sentinelTable = map[error]mapping{
	domain.ErrEmptyMessage:          {http.StatusBadRequest, CodeValidation},
	domain.ErrMessageTooLong:        {http.StatusBadRequest, CodeValidation},
	domain.ErrReplyNotFound:         {http.StatusBadRequest, CodeValidation},
	domain.ErrInvalidBase64:         {http.StatusBadRequest, CodeValidation},
	domain.ErrCiphertextTooLarge:    {http.StatusBadRequest, CodeValidation},
	domain.ErrConversationNotFound:  {http.StatusNotFound, CodeNotFound},
	domain.ErrGroupNotFound:         {http.StatusNotFound, CodeNotFound},
	domain.ErrMessageNotFound:       {http.StatusNotFound, CodeNotFound},
	domain.ErrDeviceNotFound:        {http.StatusNotFound, CodeNotFound},
	domain.ErrNotParticipant:        {http.StatusForbidden, CodeForbidden},
	domain.ErrNotOwnerOrAdmin:       {http.StatusForbidden, CodeForbidden},
	domain.ErrNotOwner:              {http.StatusForbidden, CodeForbidden},
	domain.ErrSelfConversation:      {http.StatusBadRequest, CodeValidation},
	domain.ErrBlocked:               {http.StatusForbidden, CodeBlocked},
	domain.ErrRateLimited:           {http.StatusTooManyRequests, CodeRateLimited},
	domain.ErrConversationPending:   {http.StatusConflict, CodeConversationPending},
	domain.ErrConversationRejected:  {http.StatusConflict, CodeConversationRejected},
	domain.ErrDeviceRevoked:         {http.StatusForbidden, CodeDeviceRevoked},
	domain.ErrEpochStale:            {http.StatusConflict, CodeEpochStale},
	domain.ErrBundleStale:           {http.StatusConflict, CodeBundleStale},
	domain.ErrPrekeysExhausted:      {http.StatusConflict, CodePrekeysExhausted},
	domain.ErrIdentityChangeBlocked: {http.StatusForbidden, CodeIdentityChangeBlocked},
	domain.ErrRelationshipRequired:  {http.StatusForbidden, CodeRelationshipRequired},
	domain.ErrGroupFull:             {http.StatusConflict, CodeGroupFull},
	domain.ErrGroupClosed:           {http.StatusConflict, CodeGroupClosed},
	domain.ErrParticipantBanned:     {http.StatusForbidden, CodeForbidden},
	domain.ErrInviteExpired:         {http.StatusGone, CodeNotFound},
	domain.ErrInviteExhausted:       {http.StatusGone, CodeNotFound},
	domain.ErrInviteWrongTarget:     {http.StatusForbidden, CodeForbidden},
	domain.ErrFeatureDisabled:       {http.StatusForbidden, CodeFeatureDisabled},
	domain.ErrForbidden:             {http.StatusForbidden, CodeForbidden},
}

// Write renders err onto the gin response using the shared error contract.
// Unrecognized errors fall back to 500/INTERNAL_ERROR and are never echoed
// back verbatim to the client.
func Write(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var epochStale *domain.EpochStaleError
	if errors.As(err, &epochStale) {
		c.Header("X-Current-Epoch", strconv.FormatInt(epochStale.CurrentEpoch, 10))
		c.Header("X-Error-Code", string(CodeEpochStale))
		c.JSON(http.StatusConflict, gin.H{"detail": domain.ErrEpochStale.Error()})
		return
	}

	var bundleStale *domain.BundleStaleError
	if errors.As(err, &bundleStale) {
		c.Header("X-Current-Bundle-Version", strconv.FormatInt(bundleStale.CurrentVersion, 10))
		c.Header("X-Error-Code", string(CodeBundleStale))
		c.JSON(http.StatusConflict, gin.H{"detail": domain.ErrBundleStale.Error()})
		return
	}

	var prekeysExhausted *domain.PrekeysExhaustedError
	if errors.As(err, &prekeysExhausted) {
		c.Header("X-Current-Bundle-Version", strconv.FormatInt(prekeysExhausted.BundleVersion, 10))
		c.Header("X-Error-Code", string(CodePrekeysExhausted))
		c.JSON(http.StatusConflict, gin.H{"detail": domain.ErrPrekeysExhausted.Error()})
		return
	}

	for sentinel, m := range sentinelTable {
		if errors.Is(err, sentinel) {
			c.Header("X-Error-Code", string(m.code))
			c.JSON(m.status, gin.H{"detail": sentinel.Error()})
			return
		}
	}

	c.Header("X-Error-Code", string(CodeInternal))
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
}

// WriteRateLimited writes a 429 with Retry-After, used by the rate limiter
// middleware directly (it has no domain error wrapping to unwrap).
func WriteRateLimited(c *gin.Context, retryAfterSeconds int) {
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	c.Header("X-Error-Code", string(CodeRateLimited))
	c.JSON(http.StatusTooManyRequests, gin.H{"detail": domain.ErrRateLimited.Error()})
}
