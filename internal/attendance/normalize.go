package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"attendance-gateway/internal/errcode"
	"attendance-gateway/internal/model"
	"attendance-gateway/internal/parse"
	"attendance-gateway/internal/protocol"
)

// Accepted webhook field aliases.
var (
	serialKeys       = []string{"device_sn", "sn", "serial"}
	userKeys         = []string{"user_id", "employee_id", "uid"}
	timeKeys         = []string{"event_time", "time", "record_time", "timestamp"}
	directionKeys    = []string{"event_type", "type", "in_out"}
	methodKeys       = []string{"verify_mode", "mode", "method"}
	eventIDKeys      = []string{"event_id", "record_id"}
	enrollMarkerKeys = []string{"event", "event_type"}
	enrollOnlyKeys   = []string{"enroll_type", "templates_count", "face_count"}
	resultKeys       = []string{"result", "success", "status"}
	cardKeys         = []string{"card_number", "card_no", "card"}
)

// Category separates attendance scans from enrollment notifications.
type Category string

const (
	CategoryAttendance Category = "attendance"
	CategoryEnrollment Category = "enrollment"
)

// EnrollType is the credential an enrollment notification reports on.
type EnrollType string

const (
	EnrollFace        EnrollType = "face"
	EnrollFingerprint EnrollType = "fingerprint"
	EnrollCard        EnrollType = "card"
	EnrollUnknown     EnrollType = ""
)

// Event is the canonical form of a scan or enrollment notification.
type Event struct {
	Category Category
	Source   model.EventSource

	// Device-origin identity.
	DeviceID     int64
	DeviceSerial string
	DeviceUserID string

	// Non-device identity.
	UserID       int64
	RestaurantID int64

	EventTime     time.Time
	Method        model.VerificationMethod
	Confidence    *float64
	DeviceEventID string
	// RequestedType is the direction reported by the source, empty when absent.
	// Device scans ignore it.
	RequestedType model.EventType

	EnrollType    EnrollType
	EnrollSuccess bool
	CardNumber    string
}

// Normalize converts a loosely typed webhook payload into an Event.
// now is used when the payload carries no usable timestamp; loc reads offset-less datetimes.
func Normalize(raw map[string]any, now time.Time, loc *time.Location) (Event, errcode.Code) {
	ev := Event{
		Category:  CategoryAttendance,
		Source:    model.SourceDevice,
		EventTime: now,
		Method:    model.MethodFace,
	}

	if v, ok := parse.First(raw, "source"); ok {
		s, _ := parse.String(v)
		switch model.EventSource(strings.ToLower(s)) {
		case model.SourceQRCode:
			ev.Source = model.SourceQRCode
		case model.SourceManual:
			ev.Source = model.SourceManual
		}
	}

	if v, ok := parse.First(raw, serialKeys...); ok {
		ev.DeviceSerial, _ = parse.String(v)
	}

	v, ok := parse.First(raw, userKeys...)
	if !ok {
		return ev, errcode.MissingUserID
	}
	uid, ok := parse.String(v)
	if !ok {
		return ev, errcode.MissingUserID
	}
	if ev.Source == model.SourceDevice {
		ev.DeviceUserID = uid
	} else {
		id, err := strconv.ParseInt(uid, 10, 64)
		if err != nil || id <= 0 {
			return ev, errcode.InvalidEvent
		}
		ev.UserID = id
		if v, ok := parse.First(raw, "restaurant_id"); ok {
			if f, ok := parse.Number(v, true); ok {
				ev.RestaurantID = int64(f)
			}
		}
		if ev.RestaurantID <= 0 {
			return ev, errcode.InvalidEvent
		}
	}

	if v, ok := parse.First(raw, timeKeys...); ok {
		if t, ok := parse.Time(v, loc); ok {
			ev.EventTime = t
		}
	}

	if v, ok := parse.First(raw, methodKeys...); ok {
		ev.Method = methodFromValue(v)
	} else if ev.Source == model.SourceQRCode {
		ev.Method = model.MethodQR
	}

	if v, ok := parse.First(raw, "confidence", "score"); ok {
		if f, ok := parse.Number(v, true); ok {
			ev.Confidence = &f
		}
	}

	if v, ok := parse.First(raw, eventIDKeys...); ok {
		ev.DeviceEventID, _ = parse.String(v)
	}

	if isEnrollment(raw) {
		ev.Category = CategoryEnrollment
		ev.EnrollType = enrollTypeOf(raw)
		ev.EnrollSuccess = true
		if v, ok := parse.First(raw, resultKeys...); ok {
			if b, ok := parse.Bool(v); ok {
				ev.EnrollSuccess = b
			}
		}
		if v, ok := parse.First(raw, cardKeys...); ok {
			ev.CardNumber, _ = parse.String(v)
		}
		return ev, errcode.OK
	}

	if v, ok := parse.First(raw, directionKeys...); ok {
		ev.RequestedType = directionFromValue(v)
	}
	return ev, errcode.OK
}

func isEnrollment(raw map[string]any) bool {
	for _, k := range enrollMarkerKeys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			s = strings.ToLower(s)
			if strings.Contains(s, "enroll") || strings.Contains(s, "register") {
				return true
			}
		}
	}
	return parse.Has(raw, enrollOnlyKeys...)
}

// directionFromValue: numeric 0 or 1 is a clock-in, other numbers a clock-out;
// "in" and "clock_in" are clock-ins, other text a clock-out.
func directionFromValue(v any) model.EventType {
	if f, ok := parse.Number(v, true); ok {
		if f == 0 || f == 1 {
			return model.ClockIn
		}
		return model.ClockOut
	}
	s, _ := parse.String(v)
	switch strings.ToLower(s) {
	case "in", "clock_in":
		return model.ClockIn
	}
	return model.ClockOut
}

// methodFromValue maps a numeric verify mode or a textual alias to a method.
func methodFromValue(v any) model.VerificationMethod {
	if f, ok := parse.Number(v, true); ok {
		return methodFromMode(int(f))
	}
	s, _ := parse.String(v)
	switch strings.ToLower(s) {
	case "face":
		return model.MethodFace
	case "fingerprint", "finger", "fp":
		return model.MethodFingerprint
	case "card", "rfid", "ic":
		return model.MethodCard
	case "pin", "password", "pwd":
		return model.MethodPIN
	case "qr", "qr_code", "qrcode":
		return model.MethodQR
	}
	return model.MethodFace
}

func methodFromMode(mode int) model.VerificationMethod {
	switch {
	case mode >= 8:
		return model.MethodFace
	case mode >= 4:
		return model.MethodCard
	case mode >= 2:
		return model.MethodFingerprint
	}
	return model.MethodPIN
}

func enrollTypeOf(raw map[string]any) EnrollType {
	if v, ok := parse.First(raw, "enroll_type"); ok {
		if f, ok := parse.Number(v, true); ok {
			switch n := int(f); {
			case n >= 8:
				return EnrollFace
			case n == 1:
				return EnrollFingerprint
			case n == 2:
				return EnrollCard
			}
			return EnrollUnknown
		}
		s, _ := parse.String(v)
		switch strings.ToLower(s) {
		case "face":
			return EnrollFace
		case "fingerprint", "finger", "fp":
			return EnrollFingerprint
		case "card", "rfid":
			return EnrollCard
		}
		return EnrollUnknown
	}
	if parse.Has(raw, "face_count") {
		return EnrollFace
	}
	if parse.Has(raw, "templates_count") {
		return EnrollFingerprint
	}
	return EnrollUnknown
}

// FromRecord converts a punch downloaded from a terminal into an Event.
func FromRecord(deviceID int64, rec protocol.AttendanceRecord) Event {
	requested := model.ClockOut
	if rec.Type == protocol.RecordClockIn {
		requested = model.ClockIn
	}
	return Event{
		Category:      CategoryAttendance,
		Source:        model.SourceDevice,
		DeviceID:      deviceID,
		DeviceUserID:  strconv.FormatUint(rec.UserID, 10),
		EventTime:     rec.Timestamp,
		Method:        methodFromVendor(rec.Method()),
		DeviceEventID: fmt.Sprintf("%d-%d", rec.UserID, rec.Timestamp.Unix()),
		RequestedType: requested,
	}
}

func methodFromVendor(m protocol.VerificationMethod) model.VerificationMethod {
	switch m {
	case protocol.VerifyPassword:
		return model.MethodPIN
	case protocol.VerifyFingerprint, protocol.VerifyPasswordFingerprint,
		protocol.VerifyFingerprintCard, protocol.VerifyAll:
		return model.MethodFingerprint
	case protocol.VerifyCard, protocol.VerifyPasswordCard:
		return model.MethodCard
	}
	return model.MethodFace
}
