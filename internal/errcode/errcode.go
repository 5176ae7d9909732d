package errcode

// Code is a stable, client-facing outcome identifier. It implements error.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK Code = "ok"

	// Ingestion.
	MissingUserID      Code = "missing_user_id"
	DeviceNotFound     Code = "device_not_found"
	UserNotProvisioned Code = "user_not_provisioned"
	UnknownEnrollType  Code = "unknown_enroll_type"
	NoOpenSession      Code = "no_open_session"
	ClockNotAllowed    Code = "clock_not_allowed"
	InvalidEvent       Code = "invalid_event"

	// HTTP surface.
	InvalidRequest Code = "invalid_request"
	Unauthorized   Code = "unauthorized"

	// Terminal.
	DeviceRejected   Code = "device_rejected"
	InsufficientData Code = "insufficient_data"
	ConnectionFailed Code = "connection_failed"

	Error Code = "error" // generic fallback
)
