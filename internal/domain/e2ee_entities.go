package domain

import "time"

// DeviceStatus is the E2EE device lifecycle state.
type DeviceStatus string

const (
	DeviceActive  DeviceStatus = "active"
	DeviceRevoked DeviceStatus = "revoked"
)

// E2EEDevice is one registered client keypair for a user. A user may have
// several active devices; each carries its own identity key and bundle.
type E2EEDevice struct {
	ID              DeviceID `gorm:"primaryKey;type:uuid"`
	UserID          UserID   `gorm:"index"`
	IdentityKey     string   // base64, the long-term public identity key
	RegistrationID  int32
	Status          DeviceStatus
	BundleVersion   int64 // bumped on every prekey upload
	IdentityChanges int64 // count_before+1 on every accepted identity-key change
	SealedSender    bool  // stored but inert; server never inspects ciphertext
	CreatedAt       time.Time
	RevokedAt       *time.Time
	RevokedReason   *string
}

func (E2EEDevice) TableName() string { return "e2ee_devices" }

// KeyBundle is the current signed-prekey set published for a device.
type KeyBundle struct {
	DeviceID             DeviceID `gorm:"primaryKey;type:uuid"`
	SignedPrekeyID       int32
	SignedPrekeyPublic   string
	SignedPrekeySignature string
	Version              int64
	UpdatedAt            time.Time
}

func (KeyBundle) TableName() string { return "e2ee_key_bundles" }

// OneTimePrekey is single-use. Claim is a transition from unclaimed to
// claimed that must be atomic under concurrent fetch-bundle calls.
type OneTimePrekey struct {
	ID         int64    `gorm:"primaryKey;autoIncrement"`
	DeviceID   DeviceID `gorm:"index:idx_otpk_device_unclaimed"`
	KeyID      int32
	PublicKey  string
	Claimed    bool `gorm:"index:idx_otpk_device_unclaimed"`
	ClaimedBy  *UserID
	ClaimedAt  *time.Time
	CreatedAt  time.Time
}

func (OneTimePrekey) TableName() string { return "e2ee_one_time_prekeys" }

// DeviceRevocation is an append-only audit trail of every revocation,
// whether operator-initiated or triggered by the identity-change policy.
type DeviceRevocation struct {
	ID        int64    `gorm:"primaryKey;autoIncrement"`
	DeviceID  DeviceID `gorm:"index;type:uuid"`
	Reason    string
	CreatedAt time.Time
}

func (DeviceRevocation) TableName() string { return "e2ee_device_revocations" }
