package e2ee

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/domain"
)

// DeviceSummary is one device's publishable bundle state, returned by
// FetchBundle. PublicKey fields are opaque base64 blobs the client decodes.
type DeviceSummary struct {
	DeviceID              domain.DeviceID
	IdentityKey           string
	RegistrationID        int32
	SignedPrekeyID        int32
	SignedPrekeyPublic    string
	SignedPrekeySignature string
	BundleVersion         int64
	AvailablePrekeys      int64
}

// FetchBundle returns per-device summaries for target's active devices.
// Self-reads skip the relationship check; all other callers must share a
// conversation relationship with target and must not be blocked by them.
// If callerBundleVersion is non-nil and any device's stored version is
// newer, it returns a *domain.BundleStaleError carrying the current
// (highest) version so the caller can refresh before retrying.
func (r *Registry) FetchBundle(ctx context.Context, callerID, targetID domain.UserID, callerBundleVersion *int64) ([]DeviceSummary, error) {
	if callerID != targetID {
		blocked, err := r.relationships.IsBlocked(ctx, callerID, targetID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, domain.ErrBlocked
		}
		related, err := r.relationships.HasRelationship(ctx, callerID, targetID)
		if err != nil {
			return nil, err
		}
		if !related {
			return nil, domain.ErrRelationshipRequired
		}
	}

	var devices []domain.E2EEDevice
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", targetID, domain.DeviceActive).
		Find(&devices).Error; err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, domain.ErrDeviceNotFound
	}

	summaries := make([]DeviceSummary, 0, len(devices))
	var highestVersion int64
	for _, device := range devices {
		if device.BundleVersion > highestVersion {
			highestVersion = device.BundleVersion
		}

		var bundle domain.KeyBundle
		if err := r.db.WithContext(ctx).Where("device_id = ?", device.ID).First(&bundle).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}

		var available int64
		if err := r.db.WithContext(ctx).Model(&domain.OneTimePrekey{}).
			Where("device_id = ? AND claimed = ?", device.ID, false).
			Count(&available).Error; err != nil {
			return nil, err
		}

		summaries = append(summaries, DeviceSummary{
			DeviceID:              device.ID,
			IdentityKey:           device.IdentityKey,
			RegistrationID:        device.RegistrationID,
			SignedPrekeyID:        bundle.SignedPrekeyID,
			SignedPrekeyPublic:    bundle.SignedPrekeyPublic,
			SignedPrekeySignature: bundle.SignedPrekeySignature,
			BundleVersion:         device.BundleVersion,
			AvailablePrekeys:      available,
		})
	}

	if callerBundleVersion != nil && highestVersion > *callerBundleVersion {
		return nil, &domain.BundleStaleError{CurrentVersion: highestVersion}
	}
	return summaries, nil
}

// ClaimOneTimePrekey atomically claims a single unclaimed prekey for
// device. Revoked devices are rejected regardless of pool state. An empty
// pool, or losing the chosen prekey to a concurrent claimer, reports
// *domain.PrekeysExhaustedError with the device's current bundle version;
// an unknown device is domain.ErrDeviceNotFound.
func (r *Registry) ClaimOneTimePrekey(ctx context.Context, claimerID domain.UserID, deviceID domain.DeviceID) (*OneTimePrekeyClaim, error) {
	var device domain.E2EEDevice
	if err := r.db.WithContext(ctx).Where("id = ?", deviceID).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDeviceNotFound
		}
		return nil, err
	}
	if device.Status == domain.DeviceRevoked {
		return nil, domain.ErrDeviceRevoked
	}

	var prekey domain.OneTimePrekey
	if err := r.db.WithContext(ctx).
		Where("device_id = ? AND claimed = ?", deviceID, false).
		Order("id ASC").
		First(&prekey).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, &domain.PrekeysExhaustedError{BundleVersion: device.BundleVersion}
	}

	now := time.Now()
	result := r.db.WithContext(ctx).Model(&domain.OneTimePrekey{}).
		Where("id = ? AND claimed = ?", prekey.ID, false).
		Updates(map[string]interface{}{
			"claimed":    true,
			"claimed_by": claimerID,
			"claimed_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Lost the race to another claimer; the caller can retry and pick
		// up the next unclaimed row.
		return nil, &domain.PrekeysExhaustedError{BundleVersion: device.BundleVersion}
	}

	return &OneTimePrekeyClaim{
		DeviceID:  deviceID,
		KeyID:     prekey.KeyID,
		PublicKey: prekey.PublicKey,
	}, nil
}

// OneTimePrekeyClaim is the claimed key handed back to the caller to seed
// a new session with device.
type OneTimePrekeyClaim struct {
	DeviceID  domain.DeviceID
	KeyID     int32
	PublicKey string
}
