package domain

import "time"

// GroupStatus is the lifecycle of a group conversation.
type GroupStatus string

const (
	GroupActive GroupStatus = "active"
	GroupClosed GroupStatus = "closed"
)

// Group holds the monotonically increasing epoch that gates sends: every
// membership change (join/leave/kick) increments Epoch, and senders must
// present the epoch they last observed.
type Group struct {
	ID          GroupID `gorm:"primaryKey;type:uuid"`
	OwnerID     UserID
	Name        string
	Epoch       int64
	MaxMembers  int
	Status      GroupStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Group) TableName() string { return "groups" }

// GroupParticipantRole distinguishes the owner/admins from regular members.
type GroupParticipantRole string

const (
	GroupRoleOwner  GroupParticipantRole = "owner"
	GroupRoleAdmin  GroupParticipantRole = "admin"
	GroupRoleMember GroupParticipantRole = "member"
)

type GroupParticipant struct {
	GroupID           GroupID `gorm:"primaryKey;type:uuid"`
	UserID            UserID  `gorm:"primaryKey"`
	Role              GroupParticipantRole
	JoinedAtEpoch     int64 // epoch value at join time; messages before it are invisible
	LastReadMessageID *GroupMessageID
	JoinedAt          time.Time
	BannedAt          *time.Time // non-nil: banned, excluded from sends/fan-out until unban
}

func (GroupParticipant) TableName() string { return "group_participants" }

// GroupBan records a kick/ban so a banned user cannot rejoin via a stale
// invite link.
type GroupBan struct {
	GroupID   GroupID `gorm:"primaryKey;type:uuid"`
	UserID    UserID  `gorm:"primaryKey"`
	BannedBy  UserID
	CreatedAt time.Time
}

func (GroupBan) TableName() string { return "group_bans" }

// GroupInvite is a shareable, optionally single-target, optionally
// single-use join token.
type GroupInvite struct {
	ID         GroupInviteID `gorm:"primaryKey;type:uuid"`
	Code       string        `gorm:"uniqueIndex"` // random 12-char join code shared out-of-band
	GroupID    GroupID       `gorm:"index;type:uuid"`
	CreatedBy  UserID
	TargetUser *UserID // non-nil: invite addressed to one specific user
	MaxUses    int     // 0 = unlimited until ExpiresAt
	UseCount   int
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

func (GroupInvite) TableName() string { return "group_invites" }

// GroupMessage carries opaque ciphertext addressed to all members as of
// SentAtEpoch.
type GroupMessage struct {
	ID              GroupMessageID `gorm:"primaryKey;type:uuid"`
	GroupID         GroupID        `gorm:"index:idx_group_msg_group_created;type:uuid"`
	SenderID        UserID
	SenderDeviceID  DeviceID `gorm:"type:uuid"`
	Ciphertext      []byte
	Proto           string
	SentAtEpoch     int64
	ReplyToID       *GroupMessageID `gorm:"type:uuid"`
	ClientMessageID string          `gorm:"index:idx_group_msg_dedup"`
	CreatedAt       time.Time       `gorm:"index:idx_group_msg_group_created"`
}

func (GroupMessage) TableName() string { return "group_messages" }

// GroupDelivery tracks per-member read state for a group message.
type GroupDelivery struct {
	MessageID GroupMessageID `gorm:"primaryKey;type:uuid"`
	UserID    UserID         `gorm:"primaryKey"`
	ReadAt    *time.Time
}

func (GroupDelivery) TableName() string { return "group_deliveries" }
