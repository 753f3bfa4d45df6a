// Package mute manages per-user surface mutes and the private-chat muted
// user list, backed by a single preferences row per user.
package mute

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/domain"
)

// Store reads and writes MutePreferences rows.
type Store struct {
	db *gorm.DB
}

// New builds a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// get returns the preferences row, creating a zero-value one if missing.
// Tolerates a unique-constraint race by re-reading on conflict, the same
// pattern the rest of the fleet uses for first-write-wins rows.
func (s *Store) get(ctx context.Context, tx *gorm.DB, userID domain.UserID) (*domain.MutePreferences, error) {
	var prefs domain.MutePreferences
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&prefs).Error
	if err == nil {
		return &prefs, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	prefs = domain.MutePreferences{UserID: userID}
	if err := tx.WithContext(ctx).Create(&prefs).Error; err != nil {
		var again domain.MutePreferences
		if readErr := tx.WithContext(ctx).Where("user_id = ?", userID).First(&again).Error; readErr == nil {
			return &again, nil
		}
		return nil, err
	}
	return &prefs, nil
}

// getForUpdate is the row-locked variant used before a read-modify-write.
func (s *Store) getForUpdate(ctx context.Context, tx *gorm.DB, userID domain.UserID) (*domain.MutePreferences, error) {
	locked := tx.Clauses(gormLockingClause())
	return s.get(ctx, locked, userID)
}

// IsChatMuted reports whether userID has muted the given broadcast surface.
// Only SurfaceGlobal and SurfaceTrivia are meaningful here.
func (s *Store) IsChatMuted(ctx context.Context, userID domain.UserID, surface domain.Surface) (bool, error) {
	var prefs domain.MutePreferences
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&prefs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch surface {
	case domain.SurfaceGlobal:
		return prefs.GlobalMuted, nil
	case domain.SurfaceTrivia:
		return prefs.TriviaLiveMuted, nil
	default:
		return false, nil
	}
}

// MutedUserIDs does a bulk lookup across candidateIDs for the given
// surface, never creating missing rows.
func (s *Store) MutedUserIDs(ctx context.Context, candidateIDs []domain.UserID, surface domain.Surface) (map[domain.UserID]bool, error) {
	result := make(map[domain.UserID]bool)
	if len(candidateIDs) == 0 {
		return result, nil
	}

	column := ""
	switch surface {
	case domain.SurfaceGlobal:
		column = "global_muted"
	case domain.SurfaceTrivia:
		column = "trivia_live_muted"
	default:
		return result, nil
	}

	var rows []domain.MutePreferences
	err := s.db.WithContext(ctx).
		Select("user_id").
		Where("user_id IN ?", candidateIDs).
		Where(column+" = ?", true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		result[r.UserID] = true
	}
	return result, nil
}

// IsMutedForPrivateChat reports whether mutedBy has muted target in their
// private-chat mute list.
func (s *Store) IsMutedForPrivateChat(ctx context.Context, mutedBy, target domain.UserID) (bool, error) {
	var prefs domain.MutePreferences
	err := s.db.WithContext(ctx).Where("user_id = ?", mutedBy).First(&prefs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, id := range prefs.PrivateChatMutedUserIDs {
		if id == target {
			return true, nil
		}
	}
	return false, nil
}

// SetSurfaceMuted flips the global or trivia-live mute flag.
func (s *Store) SetSurfaceMuted(ctx context.Context, userID domain.UserID, surface domain.Surface, muted bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		prefs, err := s.getForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		switch surface {
		case domain.SurfaceGlobal:
			prefs.GlobalMuted = muted
		case domain.SurfaceTrivia:
			prefs.TriviaLiveMuted = muted
		default:
			return nil
		}
		return tx.WithContext(ctx).Save(prefs).Error
	})
}

// AddMutedUser appends target to userID's private-chat mute list if absent.
func (s *Store) AddMutedUser(ctx context.Context, userID, target domain.UserID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		prefs, err := s.getForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, id := range prefs.PrivateChatMutedUserIDs {
			if id == target {
				return nil
			}
		}
		prefs.PrivateChatMutedUserIDs = append(prefs.PrivateChatMutedUserIDs, target)
		return tx.WithContext(ctx).Save(prefs).Error
	})
}

// RemoveMutedUser removes target from userID's private-chat mute list.
func (s *Store) RemoveMutedUser(ctx context.Context, userID, target domain.UserID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		prefs, err := s.getForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		out := prefs.PrivateChatMutedUserIDs[:0]
		for _, id := range prefs.PrivateChatMutedUserIDs {
			if id != target {
				out = append(out, id)
			}
		}
		prefs.PrivateChatMutedUserIDs = out
		return tx.WithContext(ctx).Save(prefs).Error
	})
}

// MutedUsers returns userID's full private-chat mute list.
func (s *Store) MutedUsers(ctx context.Context, userID domain.UserID) ([]domain.UserID, error) {
	var prefs domain.MutePreferences
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&prefs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return prefs.PrivateChatMutedUserIDs, nil
}
