// Package group implements GroupPipeline: group membership, the
// monotonic epoch invariant that drives client sender-key rotation,
// sender-keyed group messages, invite codes, and bans.
package group

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/internal/notify"
	"github.com/shopmindai/chatcore/internal/ratelimit"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

// DeviceLookup resolves a user's current active device, used to reject
// senders with no active device.
type DeviceLookup interface {
	ActiveDeviceID(ctx context.Context, userID domain.UserID) (domain.DeviceID, bool, error)
}

// Pipeline implements C11.
type Pipeline struct {
	db         *gorm.DB
	devices    DeviceLookup
	limiter    *ratelimit.Limiter
	bus        *eventbus.Bus
	dispatcher *notify.Dispatcher
	enabled    bool

	defaultMaxMembers  int
	maxCiphertextBytes int
	burstLimit, sustainedLimit   int
	burstWindow, sustainedWindow time.Duration
}

// Config bundles the pipeline's tunables.
type Config struct {
	Enabled            bool
	DefaultMaxMembers  int
	MaxCiphertextBytes int
	BurstLimit         int
	BurstWindow        time.Duration
	SustainedLimit     int
	SustainedWindow    time.Duration
}

// New builds a group Pipeline.
func New(db *gorm.DB, devices DeviceLookup, limiter *ratelimit.Limiter, bus *eventbus.Bus, dispatcher *notify.Dispatcher, cfg Config) *Pipeline {
	maxMembers := cfg.DefaultMaxMembers
	if maxMembers <= 0 {
		maxMembers = 256
	}
	return &Pipeline{
		db:                 db,
		devices:            devices,
		limiter:            limiter,
		bus:                bus,
		dispatcher:         dispatcher,
		enabled:            cfg.Enabled,
		defaultMaxMembers:  maxMembers,
		maxCiphertextBytes: cfg.MaxCiphertextBytes,
		burstLimit:         cfg.BurstLimit,
		burstWindow:        cfg.BurstWindow,
		sustainedLimit:     cfg.SustainedLimit,
		sustainedWindow:    cfg.SustainedWindow,
	}
}

// CreateGroup creates a group with the caller as owner, epoch=0.
func (p *Pipeline) CreateGroup(ctx context.Context, ownerID domain.UserID, name string) (*domain.Group, error) {
	if !p.enabled {
		return nil, domain.ErrFeatureDisabled
	}
	grp := domain.Group{
		ID:         domain.NewGroupID(),
		OwnerID:    ownerID,
		Name:       name,
		Epoch:      0,
		MaxMembers: p.defaultMaxMembers,
		Status:     domain.GroupActive,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(&grp).Error; err != nil {
			return err
		}
		participant := domain.GroupParticipant{
			GroupID:       grp.ID,
			UserID:        ownerID,
			Role:          domain.GroupRoleOwner,
			JoinedAtEpoch: 0,
			JoinedAt:      time.Now(),
		}
		return tx.WithContext(ctx).Create(&participant).Error
	})
	if err != nil {
		return nil, err
	}
	return &grp, nil
}

// UpdateGroup renames a group. Owner or admin only.
func (p *Pipeline) UpdateGroup(ctx context.Context, groupID domain.GroupID, callerID domain.UserID, name string) error {
	role, err := p.roleOf(ctx, groupID, callerID)
	if err != nil {
		return err
	}
	if role != domain.GroupRoleOwner && role != domain.GroupRoleAdmin {
		return domain.ErrNotOwnerOrAdmin
	}
	return p.db.WithContext(ctx).Model(&domain.Group{}).Where("id = ?", groupID).
		Updates(map[string]interface{}{"name": name, "updated_at": time.Now()}).Error
}

// CloseGroup marks a group closed (terminal). Owner only.
func (p *Pipeline) CloseGroup(ctx context.Context, groupID domain.GroupID, callerID domain.UserID) error {
	role, err := p.roleOf(ctx, groupID, callerID)
	if err != nil {
		return err
	}
	if role != domain.GroupRoleOwner {
		return domain.ErrNotOwner
	}
	return p.db.WithContext(ctx).Model(&domain.Group{}).Where("id = ?", groupID).
		Updates(map[string]interface{}{"status": domain.GroupClosed, "updated_at": time.Now()}).Error
}

func (p *Pipeline) roleOf(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (domain.GroupParticipantRole, error) {
	var participant domain.GroupParticipant
	err := p.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).First(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotParticipant
	}
	if err != nil {
		return "", err
	}
	if participant.BannedAt != nil {
		return "", domain.ErrParticipantBanned
	}
	return participant.Role, nil
}

// bumpEpoch increments group.Epoch by one inside tx and publishes
// group.epoch_changed; callers must already hold the row lock on group.
func (p *Pipeline) bumpEpoch(ctx context.Context, tx *gorm.DB, grp *domain.Group, reason string) error {
	grp.Epoch++
	grp.UpdatedAt = time.Now()
	if err := tx.WithContext(ctx).Model(&domain.Group{}).Where("id = ?", grp.ID).
		Updates(map[string]interface{}{"epoch": grp.Epoch, "updated_at": grp.UpdatedAt}).Error; err != nil {
		return err
	}
	env := chatevents.NewEnvelope(chatevents.KindEpochChanged, string(domain.SurfaceGroup), chatevents.EpochChangedPayload{
		GroupID: grp.ID.String(), Epoch: grp.Epoch, Reason: reason,
	})
	p.bus.Publish(ctx, string(domain.SurfaceGroup), grp.ID.String(), env)
	return nil
}

// lockGroup row-locks and returns the group, or domain.ErrConversationNotFound
// semantics via a dedicated group-not-found error.
func (p *Pipeline) lockGroup(ctx context.Context, tx *gorm.DB, groupID domain.GroupID) (*domain.Group, error) {
	var grp domain.Group
	err := tx.WithContext(ctx).Clauses(lockingClause()).Where("id = ?", groupID).First(&grp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &grp, nil
}

// AddMember adds targetID as a member, bumping the epoch on success.
// Caller must be owner or admin.
func (p *Pipeline) AddMember(ctx context.Context, groupID domain.GroupID, callerID, targetID domain.UserID) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		grp, err := p.lockGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		role, err := p.roleOfTx(ctx, tx, groupID, callerID)
		if err != nil {
			return err
		}
		if role != domain.GroupRoleOwner && role != domain.GroupRoleAdmin {
			return domain.ErrNotOwnerOrAdmin
		}
		if grp.Status == domain.GroupClosed {
			return domain.ErrGroupClosed
		}

		var banned domain.GroupBan
		if err := tx.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, targetID).First(&banned).Error; err == nil {
			return domain.ErrParticipantBanned
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var count int64
		if err := tx.WithContext(ctx).Model(&domain.GroupParticipant{}).
			Where("group_id = ? AND banned_at IS NULL", groupID).Count(&count).Error; err != nil {
			return err
		}
		if int(count) >= grp.MaxMembers {
			return domain.ErrGroupFull
		}

		if err := p.bumpEpoch(ctx, tx, grp, "member_added"); err != nil {
			return err
		}

		participant := domain.GroupParticipant{
			GroupID:       groupID,
			UserID:        targetID,
			Role:          domain.GroupRoleMember,
			JoinedAtEpoch: grp.Epoch,
			JoinedAt:      time.Now(),
		}
		return tx.WithContext(ctx).Create(&participant).Error
	})
}

// RemoveMember removes targetID from the group, bumping the epoch.
// Caller must be owner or admin; the owner cannot be removed this way.
func (p *Pipeline) RemoveMember(ctx context.Context, groupID domain.GroupID, callerID, targetID domain.UserID) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		grp, err := p.lockGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		role, err := p.roleOfTx(ctx, tx, groupID, callerID)
		if err != nil {
			return err
		}
		if role != domain.GroupRoleOwner && role != domain.GroupRoleAdmin {
			return domain.ErrNotOwnerOrAdmin
		}
		if targetID == grp.OwnerID {
			return domain.ErrNotOwner
		}

		if err := tx.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, targetID).Delete(&domain.GroupParticipant{}).Error; err != nil {
			return err
		}
		return p.bumpEpoch(ctx, tx, grp, "member_removed")
	})
}

// Promote sets targetID's role to admin. Owner only. Does not bump the
// epoch — a role change doesn't affect who can decrypt the sender key.
func (p *Pipeline) Promote(ctx context.Context, groupID domain.GroupID, callerID, targetID domain.UserID) error {
	return p.setRole(ctx, groupID, callerID, targetID, domain.GroupRoleAdmin)
}

// Demote sets targetID's role to member. Owner only.
func (p *Pipeline) Demote(ctx context.Context, groupID domain.GroupID, callerID, targetID domain.UserID) error {
	return p.setRole(ctx, groupID, callerID, targetID, domain.GroupRoleMember)
}

func (p *Pipeline) setRole(ctx context.Context, groupID domain.GroupID, callerID, targetID domain.UserID, role domain.GroupParticipantRole) error {
	var grp domain.Group
	err := p.db.WithContext(ctx).Where("id = ?", groupID).First(&grp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrGroupNotFound
	}
	if err != nil {
		return err
	}
	if callerID != grp.OwnerID {
		return domain.ErrNotOwner
	}
	if targetID == grp.OwnerID {
		return domain.ErrNotOwner
	}
	res := p.db.WithContext(ctx).Model(&domain.GroupParticipant{}).
		Where("group_id = ? AND user_id = ? AND banned_at IS NULL", groupID, targetID).
		Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotParticipant
	}
	return nil
}

// Ban transitions a participant to banned, inserts an audit GroupBan row,
// and bumps the epoch. Caller must be owner or admin.
func (p *Pipeline) Ban(ctx context.Context, groupID domain.GroupID, callerID, targetID domain.UserID) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		grp, err := p.lockGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		role, err := p.roleOfTx(ctx, tx, groupID, callerID)
		if err != nil {
			return err
		}
		if role != domain.GroupRoleOwner && role != domain.GroupRoleAdmin {
			return domain.ErrNotOwnerOrAdmin
		}
		if targetID == grp.OwnerID {
			return domain.ErrNotOwner
		}

		now := time.Now()
		res := tx.WithContext(ctx).Model(&domain.GroupParticipant{}).
			Where("group_id = ? AND user_id = ?", groupID, targetID).
			Update("banned_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotParticipant
		}

		ban := domain.GroupBan{GroupID: groupID, UserID: targetID, BannedBy: callerID, CreatedAt: now}
		if err := tx.WithContext(ctx).Create(&ban).Error; err != nil {
			return err
		}
		return p.bumpEpoch(ctx, tx, grp, "member_banned")
	})
}

// Unban clears a ban, restoring the participant to member, and bumps the
// epoch. Caller must be owner or admin.
func (p *Pipeline) Unban(ctx context.Context, groupID domain.GroupID, callerID, targetID domain.UserID) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		grp, err := p.lockGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		role, err := p.roleOfTx(ctx, tx, groupID, callerID)
		if err != nil {
			return err
		}
		if role != domain.GroupRoleOwner && role != domain.GroupRoleAdmin {
			return domain.ErrNotOwnerOrAdmin
		}

		if err := tx.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, targetID).Delete(&domain.GroupBan{}).Error; err != nil {
			return err
		}
		res := tx.WithContext(ctx).Model(&domain.GroupParticipant{}).
			Where("group_id = ? AND user_id = ?", groupID, targetID).
			Updates(map[string]interface{}{"banned_at": nil, "role": domain.GroupRoleMember})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotParticipant
		}
		return p.bumpEpoch(ctx, tx, grp, "member_unbanned")
	})
}

// roleOfTx is roleOf run against an in-flight transaction, used by the
// membership operations above that already hold the group row lock.
func (p *Pipeline) roleOfTx(ctx context.Context, tx *gorm.DB, groupID domain.GroupID, userID domain.UserID) (domain.GroupParticipantRole, error) {
	var participant domain.GroupParticipant
	err := tx.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).First(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotParticipant
	}
	if err != nil {
		return "", err
	}
	if participant.BannedAt != nil {
		return "", domain.ErrParticipantBanned
	}
	return participant.Role, nil
}
