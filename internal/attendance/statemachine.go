package attendance

import (
	"fmt"
	"math"
	"strings"
	"time"

	"attendance-gateway/internal/errcode"
	"attendance-gateway/internal/model"
	"attendance-gateway/internal/store"
)

// Transition is the outcome of one scan applied to a user's sessions.
type Transition struct {
	Type       model.EventType
	Session    *model.WorkSession // opened or closed by the scan
	AutoClosed []model.WorkSession
}

// StateMachine toggles a user's work session between open and closed.
type StateMachine struct {
	staleAfter   time.Duration
	breakMinutes int
	now          func() time.Time
}

// NewStateMachine creates a state machine. An open session older than staleAfter no
// longer absorbs an auto-detected scan as its clock-out; zero disables the check.
func NewStateMachine(staleAfter time.Duration, breakMinutes int) *StateMachine {
	return &StateMachine{
		staleAfter:   staleAfter,
		breakMinutes: breakMinutes,
		now:          time.Now,
	}
}

// Scan is one scan to resolve for a user at a restaurant.
type Scan struct {
	UserID       int64
	RestaurantID int64
	At           time.Time
	// Requested is honored only when AutoDetect is false.
	Requested  model.EventType
	AutoDetect bool
}

// Apply locks the user's open sessions and performs the transition inside tx.
// A non-OK code is a domain outcome and leaves tx unchanged.
func (m *StateMachine) Apply(tx store.Tx, scan Scan) (Transition, errcode.Code, error) {
	open, err := tx.LockOpenSessions(scan.UserID, scan.RestaurantID)
	if err != nil {
		return Transition{}, errcode.Error, err
	}

	typ := m.resolve(open, scan)
	switch typ {
	case model.ClockOut:
		if len(open) == 0 {
			return Transition{Type: typ}, errcode.NoOpenSession, nil
		}
		latest := open[len(open)-1]
		tr := Transition{Type: typ}
		// More than one open session means the invariant was broken before; close the extras.
		for _, s := range open[:len(open)-1] {
			if err := m.autoClose(tx, &s, scan.At); err != nil {
				return Transition{}, errcode.Error, err
			}
			tr.AutoClosed = append(tr.AutoClosed, s)
		}
		if err := m.close(tx, &latest, scan.At); err != nil {
			return Transition{}, errcode.Error, err
		}
		tr.Session = &latest
		return tr, errcode.OK, nil

	default:
		tr := Transition{Type: model.ClockIn}
		for _, s := range open {
			if err := m.autoClose(tx, &s, scan.At); err != nil {
				return Transition{}, errcode.Error, err
			}
			tr.AutoClosed = append(tr.AutoClosed, s)
		}
		ws := &model.WorkSession{
			UserID:       scan.UserID,
			RestaurantID: scan.RestaurantID,
			ClockIn:      scan.At,
			Status:       model.SessionActive,
			BreakMinutes: m.breakMinutes,
		}
		if err := tx.CreateSession(ws); err != nil {
			return Transition{}, errcode.Error, err
		}
		tr.Session = ws
		return tr, errcode.OK, nil
	}
}

// resolve picks the direction. Auto-detected scans close a fresh open session
// and otherwise open a new one.
func (m *StateMachine) resolve(open []model.WorkSession, scan Scan) model.EventType {
	if !scan.AutoDetect && scan.Requested != "" {
		return scan.Requested
	}
	if len(open) == 0 || m.stale(open[len(open)-1], scan.At) {
		return model.ClockIn
	}
	return model.ClockOut
}

func (m *StateMachine) stale(s model.WorkSession, at time.Time) bool {
	return m.staleAfter > 0 && at.Sub(s.ClockIn) > m.staleAfter
}

func (m *StateMachine) close(tx store.Tx, s *model.WorkSession, at time.Time) error {
	out := at
	s.ClockOut = &out
	s.HoursWorked = HoursWorked(s.ClockIn, out, s.BreakMinutes)
	s.Status = model.SessionCompleted
	return tx.SaveSession(s)
}

// autoClose ends a session the user never scanned out of. Hours stay at zero for manual correction.
func (m *StateMachine) autoClose(tx store.Tx, s *model.WorkSession, reason time.Time) error {
	now := m.now()
	s.ClockOut = &now
	s.HoursWorked = 0
	s.Status = model.SessionAutoClosed
	s.Notes = appendNote(s.Notes, fmt.Sprintf("Auto-closed at %s: new clock-in at %s without a clock-out.",
		now.Format(time.RFC3339), reason.Format(time.RFC3339)))
	return tx.SaveSession(s)
}

// HoursWorked is whole elapsed minutes minus the break, in hours, never negative.
func HoursWorked(clockIn, clockOut time.Time, breakMinutes int) float64 {
	minutes := math.Floor(clockOut.Sub(clockIn).Minutes())
	hours := minutes/60 - float64(breakMinutes)/60
	if hours < 0 {
		return 0
	}
	return hours
}

func appendNote(notes, line string) string {
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return notes + "\n" + line
}
