package model

import "time"

// SessionStatus is the lifecycle state of a work session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionAutoClosed SessionStatus = "auto_closed"
)

// WorkSession is one attendance interval. At most one non-manual session per
// user and restaurant has a nil ClockOut.
type WorkSession struct {
	ID           int64         `gorm:"primaryKey" json:"id"`
	RestaurantID int64         `gorm:"index:idx_session_owner;not null" json:"restaurant_id"`
	UserID       int64         `gorm:"index:idx_session_owner;not null" json:"user_id"`
	ClockIn      time.Time     `gorm:"not null" json:"clock_in"`
	ClockOut     *time.Time    `json:"clock_out"`
	Status       SessionStatus `gorm:"size:16;not null" json:"status"`
	IsManual     bool          `gorm:"not null;default:false" json:"is_manual"`
	BreakMinutes int           `gorm:"not null;default:0" json:"break_minutes"`
	HoursWorked  float64       `gorm:"not null;default:0" json:"hours_worked"`
	Notes        string        `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Open reports whether the session has not been clocked out.
func (s *WorkSession) Open() bool { return s.ClockOut == nil }
