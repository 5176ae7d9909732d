package attendance

import (
	"attendance-gateway/internal/errcode"
	"attendance-gateway/internal/model"
)

// Action is what an ingested event ended up doing.
type Action string

const (
	ActionClockIn    Action = "clock_in"
	ActionClockOut   Action = "clock_out"
	ActionEnrollment Action = "enrollment"
)

// Result is the outcome of one Ingest call. Domain failures set Code and leave Success false.
type Result struct {
	Success    bool                   `json:"success"`
	Code       errcode.Code           `json:"code"`
	Message    string                 `json:"message,omitempty"`
	Action     Action                 `json:"action,omitempty"`
	Duplicate  bool                   `json:"duplicate"`
	Event      *model.AttendanceEvent `json:"event,omitempty"`
	Session    *model.WorkSession     `json:"session,omitempty"`
	AutoClosed []model.WorkSession    `json:"auto_closed,omitempty"`
}

func failure(code errcode.Code, msg string) Result {
	return Result{Code: code, Message: msg}
}

func actionOf(t model.EventType) Action {
	if t == model.ClockIn {
		return ActionClockIn
	}
	return ActionClockOut
}
