// Package presence tracks last-seen/online state and applies each user's
// sharing policy before disclosing it to a viewer.
package presence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/domain"
)

// ContactChecker reports whether two users share an established
// conversation relationship (accepted private chat, DM, or common group),
// the definition of "contact" used by the shareLastSeen=contacts tier.
type ContactChecker interface {
	AreContacts(ctx context.Context, a, b domain.UserID) (bool, error)
}

// Tracker reads and writes UserPresence rows.
type Tracker struct {
	db       *gorm.DB
	contacts ContactChecker
}

// New builds a Tracker.
func New(db *gorm.DB, contacts ContactChecker) *Tracker {
	return &Tracker{db: db, contacts: contacts}
}

// View is the disclosure-filtered presence shown to a specific viewer.
type View struct {
	DeviceOnline *bool      `json:"deviceOnline,omitempty"`
	LastSeenAt   *time.Time `json:"lastSeenAt,omitempty"`
}

// OnConnect marks a device as connected.
func (t *Tracker) OnConnect(ctx context.Context, userID domain.UserID) error {
	return t.upsert(ctx, userID, func(p *domain.UserPresence) {
		now := time.Now()
		p.LastSeenAt = &now
		p.DeviceOnline = true
	})
}

// OnHeartbeat refreshes lastSeenAt. Callers are expected to throttle calls
// to at most once per PresenceUpdateInterval; the tracker does not
// re-debounce internally.
func (t *Tracker) OnHeartbeat(ctx context.Context, userID domain.UserID) error {
	return t.upsert(ctx, userID, func(p *domain.UserPresence) {
		now := time.Now()
		p.LastSeenAt = &now
		p.DeviceOnline = true
	})
}

// OnDisconnect marks a user's device as offline; lastSeenAt is left as the
// moment of disconnect so "last seen" stays meaningful.
func (t *Tracker) OnDisconnect(ctx context.Context, userID domain.UserID) error {
	return t.upsert(ctx, userID, func(p *domain.UserPresence) {
		now := time.Now()
		p.LastSeenAt = &now
		p.DeviceOnline = false
	})
}

// SetSharingPolicy updates the disclosure preferences for userID.
func (t *Tracker) SetSharingPolicy(ctx context.Context, userID domain.UserID, shareLastSeen domain.SharePolicy, shareOnline, readReceipts bool) error {
	return t.upsert(ctx, userID, func(p *domain.UserPresence) {
		p.ShareLastSeen = shareLastSeen
		p.ShareOnline = shareOnline
		p.ReadReceipts = readReceipts
	})
}

func (t *Tracker) upsert(ctx context.Context, userID domain.UserID, mutate func(*domain.UserPresence)) error {
	return t.db.Transaction(func(tx *gorm.DB) error {
		var p domain.UserPresence
		err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			p = domain.UserPresence{
				UserID:        userID,
				ShareLastSeen: domain.ShareEveryone,
				ShareOnline:   true,
				ReadReceipts:  true,
			}
		case err != nil:
			return err
		}
		mutate(&p)
		p.UpdatedAt = time.Now()
		return tx.WithContext(ctx).Save(&p).Error
	})
}

// ViewFor returns what viewerID is allowed to see of subjectID's presence.
// fallbackLastSeen, if non-nil, is used when disclosure is permitted but
// lastSeenAt is null — the most recent message time from subjectID in the
// viewed context.
func (t *Tracker) ViewFor(ctx context.Context, viewerID, subjectID domain.UserID, fallbackLastSeen *time.Time) (View, error) {
	var p domain.UserPresence
	err := t.db.WithContext(ctx).Where("user_id = ?", subjectID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return View{}, nil
	}
	if err != nil {
		return View{}, err
	}

	if viewerID == subjectID {
		return t.rawView(p, fallbackLastSeen, true), nil
	}

	tier := p.ShareLastSeen
	allowed := tier == domain.ShareEveryone
	if tier == domain.ShareContacts && t.contacts != nil {
		isContact, cErr := t.contacts.AreContacts(ctx, viewerID, subjectID)
		if cErr != nil {
			return View{}, cErr
		}
		allowed = isContact
	}

	if !allowed {
		return View{}, nil
	}
	return t.rawView(p, fallbackLastSeen, false), nil
}

func (t *Tracker) rawView(p domain.UserPresence, fallbackLastSeen *time.Time, isSelf bool) View {
	v := View{}
	if isSelf || p.ShareOnline {
		online := p.DeviceOnline
		v.DeviceOnline = &online
	}
	if p.LastSeenAt != nil {
		v.LastSeenAt = p.LastSeenAt
	} else {
		v.LastSeenAt = fallbackLastSeen
	}
	return v
}
