package model

import "time"

// Device is a physical biometric terminal installed at a restaurant.
type Device struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	RestaurantID    int64      `gorm:"index;not null" json:"restaurant_id"`
	SerialNumber    string     `gorm:"uniqueIndex;size:64;not null" json:"serial_number"`
	Name            string     `gorm:"size:128" json:"name"`
	IPAddress       string     `gorm:"size:64" json:"ip_address"`
	Port            int        `gorm:"not null;default:5010" json:"port"`
	DeviceCode      uint32     `gorm:"not null;default:1" json:"device_code"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
