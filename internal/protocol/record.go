package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// Fixed record layouts.
const (
	ReplyHeaderSize      = 10 // frame header plus status byte
	ListHeaderSize       = 11 // reply header plus record count
	RecordInfoMinSize    = 18
	AttendanceRecordSize = 14
	UserRecordSize       = 65
)

// ErrInsufficientData is matched by every InsufficientDataError.
var ErrInsufficientData = errors.New("protocol: insufficient data")

// InsufficientDataError reports a payload shorter than its layout requires.
type InsufficientDataError struct {
	What string
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("protocol: insufficient data for %s: need %d bytes, got %d", e.What, e.Need, e.Got)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

func insufficient(what string, need, got int) error {
	return &InsufficientDataError{What: what, Need: need, Got: got}
}

// RecordInfo holds the counters returned by CmdRecordInfo.
type RecordInfo struct {
	UserCount      int
	FPCount        int
	RecordCount    int
	NewRecordCount int
}

// DecodeRecordInfo reads the four 3-byte counters that follow the reply header.
// Counters past the end of a short reply decode from whatever bytes remain.
func DecodeRecordInfo(payload []byte) (RecordInfo, error) {
	if len(payload) < RecordInfoMinSize {
		return RecordInfo{}, insufficient("record info", RecordInfoMinSize, len(payload))
	}
	counter := func(i int) int {
		start := ReplyHeaderSize + 3*i
		end := start + 3
		if start >= len(payload) {
			return 0
		}
		if end > len(payload) {
			end = len(payload)
		}
		return int(BytesToUint(payload[start:end]))
	}
	return RecordInfo{
		UserCount:      counter(0),
		FPCount:        counter(1),
		RecordCount:    counter(2),
		NewRecordCount: counter(3),
	}, nil
}

// RecordType is the in/out flag of a device record.
type RecordType string

const (
	RecordClockIn  RecordType = "clock_in"
	RecordClockOut RecordType = "clock_out"
)

// AttendanceRecord is one 14-byte punch read from the terminal.
type AttendanceRecord struct {
	UserID     uint64
	Timestamp  time.Time
	BackupCode byte
	Type       RecordType
	WorkCode   uint32
}

// Method returns the verification method encoded in the backup code.
func (r AttendanceRecord) Method() VerificationMethod {
	return VerificationMethodFromCode(r.BackupCode)
}

// Epoch returns the terminal clock origin, 2000-01-02 00:00:00 in loc.
func Epoch(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(2000, time.January, 2, 0, 0, 0, 0, loc)
}

// DecodeAttendanceRecord decodes exactly one 14-byte record. loc is the terminal's timezone.
func DecodeAttendanceRecord(b []byte, loc *time.Location) (AttendanceRecord, error) {
	if len(b) < AttendanceRecordSize {
		return AttendanceRecord{}, insufficient("attendance record", AttendanceRecordSize, len(b))
	}
	if len(b) > AttendanceRecordSize {
		return AttendanceRecord{}, fmt.Errorf("protocol: attendance record must be %d bytes, got %d", AttendanceRecordSize, len(b))
	}

	secs := BytesToUint(b[5:9])
	rt := RecordClockOut
	if b[10] == 0 {
		rt = RecordClockIn
	}
	return AttendanceRecord{
		UserID:     BytesToUint(b[0:5]),
		Timestamp:  Epoch(loc).Add(time.Duration(secs) * time.Second),
		BackupCode: b[9],
		Type:       rt,
		WorkCode:   uint32(BytesToUint(b[11:14])),
	}, nil
}

// DecodeAttendanceRecords splits a records reply into 14-byte records after the list header.
// A trailing partial record (usually the CRC) is ignored.
func DecodeAttendanceRecords(resp []byte, loc *time.Location) ([]AttendanceRecord, error) {
	if len(resp) < ListHeaderSize {
		return nil, insufficient("attendance records", ListHeaderSize, len(resp))
	}
	body := resp[ListHeaderSize:]
	n := len(body) / AttendanceRecordSize
	records := make([]AttendanceRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := DecodeAttendanceRecord(body[i*AttendanceRecordSize:(i+1)*AttendanceRecordSize], loc)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// UserRecord is a staff entry stored on the terminal.
type UserRecord struct {
	UserID       uint64
	Password     string
	CardID       string
	Name         string
	HasBiometric bool
}

// DecodeUserRecord decodes a 65-byte staff record; extra bytes are template data.
func DecodeUserRecord(b []byte) (UserRecord, error) {
	if len(b) < UserRecordSize {
		return UserRecord{}, insufficient("user record", UserRecordSize, len(b))
	}
	return UserRecord{
		UserID:       BytesToUint(b[0:5]),
		Password:     string(trimNUL(b[5:15])),
		CardID:       string(trimNUL(b[15:25])),
		Name:         DecodeName(b[25:65]),
		HasBiometric: len(b) > UserRecordSize,
	}, nil
}

func trimNUL(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}

// VerificationMethod is the vendor's verify mode.
type VerificationMethod string

const (
	VerifyPassword            VerificationMethod = "password"
	VerifyFingerprint         VerificationMethod = "fingerprint"
	VerifyCard                VerificationMethod = "card"
	VerifyPasswordFingerprint VerificationMethod = "password+fingerprint"
	VerifyPasswordCard        VerificationMethod = "password+card"
	VerifyFingerprintCard     VerificationMethod = "fingerprint+card"
	VerifyAll                 VerificationMethod = "all"
	VerifyFace                VerificationMethod = "face"
	VerifyUnknown             VerificationMethod = "unknown"
)

// VerificationMethodFromCode maps a backup code to its vendor verification method.
func VerificationMethodFromCode(code byte) VerificationMethod {
	switch code {
	case 0:
		return VerifyPassword
	case 1:
		return VerifyFingerprint
	case 2:
		return VerifyCard
	case 3:
		return VerifyPasswordFingerprint
	case 4:
		return VerifyPasswordCard
	case 5:
		return VerifyFingerprintCard
	case 6:
		return VerifyAll
	case 15, 16, 17, 18:
		return VerifyFace
	}
	return VerifyUnknown
}
