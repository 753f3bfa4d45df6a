// Package e2ee implements E2EEKeyRegistry: per-device key bundle
// management, the identity-change abuse policy, one-time prekey
// claiming, and device revocation. The server never sees plaintext or
// private key material — every value here is opaque public-key bytes.
package e2ee

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

// RelationshipChecker reports whether caller has an established
// conversation relationship with target (required to fetch their bundle)
// and whether either side has blocked the other.
type RelationshipChecker interface {
	HasRelationship(ctx context.Context, caller, target domain.UserID) (bool, error)
	IsBlocked(ctx context.Context, a, b domain.UserID) (bool, error)
}

// Registry implements C9.
type Registry struct {
	db          *gorm.DB
	bus         *eventbus.Bus
	relationships RelationshipChecker
	logger      *logrus.Logger

	prekeyPoolSize    int
	identityAlertN    int64
	identityBlockN    int64
}

// Config bundles the registry's tunables.
type Config struct {
	PrekeyPoolSize   int
	AlertThreshold   int64
	BlockThreshold   int64
}

// New builds a Registry.
func New(db *gorm.DB, bus *eventbus.Bus, relationships RelationshipChecker, logger *logrus.Logger, cfg Config) *Registry {
	poolSize := cfg.PrekeyPoolSize
	if poolSize <= 0 {
		poolSize = 100
	}
	alertN := cfg.AlertThreshold
	if alertN <= 0 {
		alertN = 3
	}
	blockN := cfg.BlockThreshold
	if blockN <= 0 {
		blockN = 6
	}
	return &Registry{
		db:             db,
		bus:            bus,
		relationships:  relationships,
		logger:         logger,
		prekeyPoolSize: poolSize,
		identityAlertN: alertN,
		identityBlockN: blockN,
	}
}

// UploadBundleRequest is the payload for UploadBundle.
type UploadBundleRequest struct {
	DeviceID              domain.DeviceID
	UserID                domain.UserID
	IdentityKey           string
	RegistrationID        int32
	SignedPrekeyID        int32
	SignedPrekeyPublic    string
	SignedPrekeySignature string
	OneTimePrekeys        []OneTimePrekeyInput
	SealedSender          bool
}

// OneTimePrekeyInput is one entry in a freshly generated prekey pool.
type OneTimePrekeyInput struct {
	KeyID     int32
	PublicKey string
}

// UploadBundle upserts a device's key bundle. Requires at least one
// one-time prekey and caps the pool at PrekeyPoolSize. Deletes any
// unclaimed prekeys before inserting the new batch — clients are expected
// to regenerate their full pool on every upload.
func (r *Registry) UploadBundle(ctx context.Context, req UploadBundleRequest) (*domain.E2EEDevice, error) {
	if len(req.OneTimePrekeys) == 0 {
		return nil, errors.New("e2ee: at least one one-time prekey is required")
	}
	if len(req.OneTimePrekeys) > r.prekeyPoolSize {
		req.OneTimePrekeys = req.OneTimePrekeys[:r.prekeyPoolSize]
	}

	var result domain.E2EEDevice
	var identityBlocked bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var device domain.E2EEDevice
		err := tx.WithContext(ctx).Clauses(lockingClause()).Where("id = ?", req.DeviceID).First(&device).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			device = domain.E2EEDevice{
				ID:             req.DeviceID,
				UserID:         req.UserID,
				IdentityKey:    req.IdentityKey,
				RegistrationID: req.RegistrationID,
				Status:         domain.DeviceActive,
				BundleVersion:  1,
				SealedSender:   req.SealedSender,
				CreatedAt:      time.Now(),
			}
			if err := tx.WithContext(ctx).Create(&device).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if device.Status == domain.DeviceRevoked {
				return domain.ErrDeviceRevoked
			}
			if device.IdentityKey != req.IdentityKey {
				blocked, err := r.applyIdentityChangePolicy(ctx, tx, &device, req.IdentityKey)
				if err != nil {
					return err
				}
				if blocked {
					// Commit the revoke/audit write; the rejection is
					// reported to the caller after the transaction lands.
					identityBlocked = true
					return nil
				}
			}
			device.RegistrationID = req.RegistrationID
			device.BundleVersion++
			device.SealedSender = req.SealedSender
			if err := tx.WithContext(ctx).Save(&device).Error; err != nil {
				return err
			}
		}

		bundle := domain.KeyBundle{
			DeviceID:              device.ID,
			SignedPrekeyID:        req.SignedPrekeyID,
			SignedPrekeyPublic:    req.SignedPrekeyPublic,
			SignedPrekeySignature: req.SignedPrekeySignature,
			Version:               device.BundleVersion,
			UpdatedAt:             time.Now(),
		}
		if err := tx.WithContext(ctx).Save(&bundle).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Where("device_id = ? AND claimed = ?", device.ID, false).Delete(&domain.OneTimePrekey{}).Error; err != nil {
			return err
		}
		now := time.Now()
		prekeys := make([]domain.OneTimePrekey, len(req.OneTimePrekeys))
		for i, p := range req.OneTimePrekeys {
			prekeys[i] = domain.OneTimePrekey{
				DeviceID:  device.ID,
				KeyID:     p.KeyID,
				PublicKey: p.PublicKey,
				Claimed:   false,
				CreatedAt: now,
			}
		}
		if err := tx.WithContext(ctx).Create(&prekeys).Error; err != nil {
			return err
		}

		result = device
		return nil
	})
	if err != nil {
		return nil, err
	}
	if identityBlocked {
		return nil, domain.ErrIdentityChangeBlocked
	}
	return &result, nil
}

// RevokeDevice sets status=revoked and records an audit revocation.
// Owner-only: callerID must equal the device's UserID.
func (r *Registry) RevokeDevice(ctx context.Context, callerID domain.UserID, deviceID domain.DeviceID, reason string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var device domain.E2EEDevice
		if err := tx.WithContext(ctx).Clauses(lockingClause()).Where("id = ?", deviceID).First(&device).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrDeviceNotFound
			}
			return err
		}
		if device.UserID != callerID {
			return domain.ErrNotOwner
		}

		now := time.Now()
		device.Status = domain.DeviceRevoked
		device.RevokedAt = &now
		device.RevokedReason = &reason
		if err := tx.WithContext(ctx).Save(&device).Error; err != nil {
			return err
		}

		revocation := domain.DeviceRevocation{DeviceID: deviceID, Reason: reason, CreatedAt: now}
		return tx.WithContext(ctx).Create(&revocation).Error
	})
	if err != nil {
		return err
	}

	env := chatevents.NewEnvelope(chatevents.KindDeviceRevoked, "e2ee", chatevents.DeviceRevokedPayload{
		UserID: int64(callerID), DeviceID: deviceID.String(), Reason: reason,
	})
	r.bus.Publish(ctx, "e2ee", deviceID.String(), env)
	return nil
}
