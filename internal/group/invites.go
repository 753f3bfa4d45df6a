package group

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/domain"
)

// inviteCodeAlphabet avoids visually ambiguous characters (0/O, 1/I/L).
const inviteCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// generateInviteCode returns a random 12-character base32-ish code.
func generateInviteCode() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, 12)
	for i, b := range buf {
		code[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(code), nil
}

// CreateInviteRequest is the payload for CreateInvite.
type CreateInviteRequest struct {
	GroupID    domain.GroupID
	CreatedBy  domain.UserID
	TargetUser *domain.UserID // non-nil: direct invite addressed to one user
	MaxUses    int            // 0 = unlimited until ExpiresAt
	ExpiresAt  *time.Time
}

// CreateInvite creates an invite and returns it along with its shareable
// join code. Caller must be owner or admin.
func (p *Pipeline) CreateInvite(ctx context.Context, req CreateInviteRequest) (*domain.GroupInvite, error) {
	role, err := p.roleOf(ctx, req.GroupID, req.CreatedBy)
	if err != nil {
		return nil, err
	}
	if role != domain.GroupRoleOwner && role != domain.GroupRoleAdmin {
		return nil, domain.ErrNotOwnerOrAdmin
	}

	code, err := generateInviteCode()
	if err != nil {
		return nil, err
	}

	inv := domain.GroupInvite{
		ID:         domain.NewGroupInviteID(),
		Code:       code,
		GroupID:    req.GroupID,
		CreatedBy:  req.CreatedBy,
		TargetUser: req.TargetUser,
		MaxUses:    req.MaxUses,
		ExpiresAt:  req.ExpiresAt,
		CreatedAt:  time.Now(),
	}
	if err := p.db.WithContext(ctx).Create(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// JoinGroup consumes an invite code: a SELECT...FOR UPDATE on the invite
// and group rows, rejecting expired/exhausted/banned/full/wrong-target
// invites, then adding (or unbanning) the joiner and bumping the epoch.
func (p *Pipeline) JoinGroup(ctx context.Context, code string, joinerID domain.UserID) (*domain.Group, error) {
	var result domain.Group
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var inv domain.GroupInvite
		if err := tx.WithContext(ctx).Clauses(lockingClause()).Where("code = ?", code).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrInviteExpired
			}
			return err
		}
		if inv.ExpiresAt != nil && time.Now().After(*inv.ExpiresAt) {
			return domain.ErrInviteExpired
		}
		if inv.MaxUses > 0 && inv.UseCount >= inv.MaxUses {
			return domain.ErrInviteExhausted
		}
		if inv.TargetUser != nil && *inv.TargetUser != joinerID {
			return domain.ErrInviteWrongTarget
		}

		grp, err := p.lockGroup(ctx, tx, inv.GroupID)
		if err != nil {
			return err
		}
		if grp.Status == domain.GroupClosed {
			return domain.ErrGroupClosed
		}

		var banned domain.GroupBan
		banErr := tx.WithContext(ctx).Where("group_id = ? AND user_id = ?", grp.ID, joinerID).First(&banned).Error
		isBanned := banErr == nil
		if banErr != nil && !errors.Is(banErr, gorm.ErrRecordNotFound) {
			return banErr
		}

		var existing domain.GroupParticipant
		partErr := tx.WithContext(ctx).Where("group_id = ? AND user_id = ?", grp.ID, joinerID).First(&existing).Error
		alreadyMember := partErr == nil
		if partErr != nil && !errors.Is(partErr, gorm.ErrRecordNotFound) {
			return partErr
		}

		if alreadyMember && !isBanned {
			// Already an active member; the invite link is a no-op for
			// them, neither consuming a use nor bumping the epoch.
			result = *grp
			return nil
		}

		if !alreadyMember {
			var count int64
			if err := tx.WithContext(ctx).Model(&domain.GroupParticipant{}).
				Where("group_id = ? AND banned_at IS NULL", grp.ID).Count(&count).Error; err != nil {
				return err
			}
			if int(count) >= grp.MaxMembers {
				return domain.ErrGroupFull
			}
		}

		if err := p.bumpEpoch(ctx, tx, grp, "invite_joined"); err != nil {
			return err
		}

		if alreadyMember {
			if err := tx.WithContext(ctx).Where("group_id = ? AND user_id = ?", grp.ID, joinerID).Delete(&domain.GroupBan{}).Error; err != nil {
				return err
			}
			if err := tx.WithContext(ctx).Model(&domain.GroupParticipant{}).
				Where("group_id = ? AND user_id = ?", grp.ID, joinerID).
				Updates(map[string]interface{}{"banned_at": nil, "joined_at_epoch": grp.Epoch}).Error; err != nil {
				return err
			}
		} else {
			part := domain.GroupParticipant{
				GroupID:       grp.ID,
				UserID:        joinerID,
				Role:          domain.GroupRoleMember,
				JoinedAtEpoch: grp.Epoch,
				JoinedAt:      time.Now(),
			}
			if err := tx.WithContext(ctx).Create(&part).Error; err != nil {
				return err
			}
		}

		inv.UseCount++
		if err := tx.WithContext(ctx).Model(&domain.GroupInvite{}).Where("id = ?", inv.ID).Update("use_count", inv.UseCount).Error; err != nil {
			return err
		}

		result = *grp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
