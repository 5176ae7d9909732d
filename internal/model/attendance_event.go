package model

import "time"

// EventType is the resolved direction of a scan.
type EventType string

const (
	ClockIn  EventType = "clock_in"
	ClockOut EventType = "clock_out"
)

// EventSource identifies where a scan came from.
type EventSource string

const (
	SourceDevice EventSource = "device"
	SourceQRCode EventSource = "qr_code"
	SourceManual EventSource = "manual"
)

// VerificationMethod is how the user proved identity.
type VerificationMethod string

const (
	MethodFace        VerificationMethod = "face"
	MethodFingerprint VerificationMethod = "fingerprint"
	MethodCard        VerificationMethod = "card"
	MethodPIN         VerificationMethod = "pin"
	MethodQR          VerificationMethod = "qr"
)

// AttendanceEvent is one accepted scan. Rows are never changed after insert
// except to attach the resolved work session.
type AttendanceEvent struct {
	ID                 int64              `gorm:"primaryKey" json:"id"`
	RestaurantID       int64              `gorm:"index;not null" json:"restaurant_id"`
	UserID             int64              `gorm:"index;not null" json:"user_id"`
	DeviceID           *int64             `gorm:"uniqueIndex:idx_device_event" json:"device_id"`
	DeviceEventID      *string            `gorm:"uniqueIndex:idx_device_event;size:64" json:"device_event_id"`
	EventType          EventType          `gorm:"size:16;not null" json:"event_type"`
	Source             EventSource        `gorm:"size:16;not null" json:"source"`
	VerificationMethod VerificationMethod `gorm:"size:16;not null" json:"verification_method"`
	Confidence         *float64           `json:"confidence"`
	EventTime          time.Time          `gorm:"index;not null" json:"event_time"`
	WorkSessionID      *int64             `gorm:"index" json:"work_session_id"`
	CreatedAt          time.Time          `json:"created_at"`
}
