package e2ee

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/domain"
)

const (
	reasonIdentityChange      = "identity_change"
	reasonIdentityChangeBlock = "identity_change_block"
)

// applyIdentityChangePolicy implements the identity-change abuse policy:
// count prior identity-change revocations for this device, let N =
// count+1, and block/alert/accept depending on threshold. Must run inside
// the same transaction/row-lock as the caller's device update.
//
// The block path revokes the device and records the block reason, and
// that write must survive even though the triggering bundle upload is
// rejected — so it reports the block via the returned bool rather than an
// error, leaving the caller free to commit the transaction and surface
// domain.ErrIdentityChangeBlocked afterward instead of rolling everything
// back.
func (r *Registry) applyIdentityChangePolicy(ctx context.Context, tx *gorm.DB, device *domain.E2EEDevice, newIdentityKey string) (blocked bool, err error) {
	var countBefore int64
	if err := tx.WithContext(ctx).Model(&domain.DeviceRevocation{}).
		Where("device_id = ? AND reason = ?", device.ID, reasonIdentityChange).
		Count(&countBefore).Error; err != nil {
		return false, err
	}
	n := countBefore + 1

	if n >= r.identityBlockN {
		now := time.Now()
		reason := reasonIdentityChangeBlock
		device.Status = domain.DeviceRevoked
		device.RevokedAt = &now
		device.RevokedReason = &reason
		device.IdentityChanges = n
		if err := tx.WithContext(ctx).Save(device).Error; err != nil {
			return false, err
		}
		revocation := domain.DeviceRevocation{DeviceID: device.ID, Reason: reasonIdentityChangeBlock, CreatedAt: now}
		if err := tx.WithContext(ctx).Create(&revocation).Error; err != nil {
			return false, err
		}
		return true, nil
	}

	if n >= r.identityAlertN {
		r.logger.WithFields(map[string]interface{}{
			"deviceId": device.ID.String(),
			"userId":   device.UserID,
			"count":    n,
		}).Warn("e2ee: identity change alert threshold reached")
	}

	device.IdentityKey = newIdentityKey
	device.IdentityChanges = n
	revocation := domain.DeviceRevocation{DeviceID: device.ID, Reason: reasonIdentityChange, CreatedAt: time.Now()}
	return false, tx.WithContext(ctx).Create(&revocation).Error
}
