package model

import "time"

// BiometricStatus is the enrollment state of one biometric on a terminal.
type BiometricStatus string

const (
	BiometricNone     BiometricStatus = "none"
	BiometricEnrolled BiometricStatus = "enrolled"
	BiometricFailed   BiometricStatus = "failed"
)

// DeviceUser links a platform user to the terminal-local user id.
type DeviceUser struct {
	ID                int64           `gorm:"primaryKey" json:"id"`
	DeviceID          int64           `gorm:"uniqueIndex:idx_device_user;not null" json:"device_id"`
	DeviceUserID      uint32          `gorm:"uniqueIndex:idx_device_user;not null" json:"device_user_id"`
	UserID            int64           `gorm:"index;not null" json:"user_id"`
	FaceStatus        BiometricStatus `gorm:"size:16;not null;default:none" json:"face_status"`
	FingerprintStatus BiometricStatus `gorm:"size:16;not null;default:none" json:"fingerprint_status"`
	CardNumber        *string         `gorm:"size:32" json:"card_number"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// Associations
	Device Device `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
