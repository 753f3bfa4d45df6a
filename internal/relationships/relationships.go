// Package relationships answers the cross-surface questions every other
// component needs but none of them owns outright: is this pair blocked,
// does this user count as an admin, do two users already share a
// conversation anywhere, and which device is a user's current active one.
// Centralizing these here keeps private, dm, group, e2ee, and presence
// free of a direct dependency on each other's tables.
package relationships

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/domain"
)

// Store answers relationship questions straight off the shared tables.
type Store struct {
	db *gorm.DB
}

// New builds a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// IsBlocked reports whether either of a/b has blocked the other.
func (s *Store) IsBlocked(ctx context.Context, a, b domain.UserID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&count).Error
	return count > 0, err
}

// IsAdmin reports whether userID is the designated admin_chat_users
// singleton account, whose private conversations auto-skip the pending
// state.
func (s *Store) IsAdmin(ctx context.Context, userID domain.UserID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.AdminChatUser{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count > 0, err
}

// AreContacts reports whether a and b share an accepted private
// conversation, a DM conversation, or a common non-banned group.
func (s *Store) AreContacts(ctx context.Context, a, b domain.UserID) (bool, error) {
	ua, ub := domain.OrderedPair(a, b)

	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.PrivateConversation{}).
		Where("user_a = ? AND user_b = ? AND status = ?", ua, ub, domain.PrivateStatusAccepted).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	if err := s.db.WithContext(ctx).Model(&domain.DMConversation{}).
		Where("user_a = ? AND user_b = ?", ua, ub).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	err := s.db.WithContext(ctx).
		Table("group_participants AS gp_a").
		Joins("JOIN group_participants AS gp_b ON gp_a.group_id = gp_b.group_id").
		Where("gp_a.user_id = ? AND gp_b.user_id = ? AND gp_a.banned_at IS NULL AND gp_b.banned_at IS NULL", a, b).
		Count(&count).Error
	return count > 0, err
}

// HasRelationship is the name the E2EE registry uses for the same
// contacts check, required before a caller may fetch a target's bundle.
func (s *Store) HasRelationship(ctx context.Context, caller, target domain.UserID) (bool, error) {
	return s.AreContacts(ctx, caller, target)
}

// ActiveDeviceID resolves userID's most recently registered active
// device, used both to reject senders with no active device and to
// snapshot a DM participant's device when the conversation is created.
func (s *Store) ActiveDeviceID(ctx context.Context, userID domain.UserID) (domain.DeviceID, bool, error) {
	var device domain.E2EEDevice
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.DeviceActive).
		Order("created_at DESC").
		First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DeviceID{}, false, nil
	}
	if err != nil {
		return domain.DeviceID{}, false, err
	}
	return device.ID, true, nil
}

// MemberGroupIDs lists the groups userID currently belongs to (excluding
// groups they've been banned from), for lazy per-connection subscription
// to each group's event channel.
func (s *Store) MemberGroupIDs(ctx context.Context, userID domain.UserID) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&domain.GroupParticipant{}).
		Where("user_id = ? AND banned_at IS NULL", userID).
		Pluck("group_id", &ids).Error
	return ids, err
}
