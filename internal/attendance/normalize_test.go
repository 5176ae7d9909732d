package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-gateway/internal/errcode"
	"attendance-gateway/internal/model"
	"attendance-gateway/internal/protocol"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNormalize_DeviceScan(t *testing.T) {
	ev, code := Normalize(map[string]any{
		"event_type":  float64(1),
		"user_id":     "7",
		"event_time":  float64(1700000000),
		"verify_mode": float64(15),
		"sn":          "SN-1",
		"event_id":    "abc",
	}, testNow, time.UTC)
	require.Equal(t, errcode.OK, code)
	assert.Equal(t, CategoryAttendance, ev.Category)
	assert.Equal(t, model.SourceDevice, ev.Source)
	assert.Equal(t, "SN-1", ev.DeviceSerial)
	assert.Equal(t, "7", ev.DeviceUserID)
	assert.Equal(t, int64(1700000000), ev.EventTime.Unix())
	assert.Equal(t, model.MethodFace, ev.Method)
	assert.Equal(t, model.ClockIn, ev.RequestedType)
	assert.Equal(t, "abc", ev.DeviceEventID)
}

func TestNormalize_Aliases(t *testing.T) {
	ev, code := Normalize(map[string]any{
		"employee_id": float64(12),
		"serial":      "X",
		"record_time": "2024-02-29 18:30:00",
		"mode":        "RFID",
		"in_out":      "out",
		"record_id":   "r-9",
		"score":       "0.93",
	}, testNow, time.UTC)
	require.Equal(t, errcode.OK, code)
	assert.Equal(t, "12", ev.DeviceUserID)
	assert.Equal(t, "X", ev.DeviceSerial)
	assert.Equal(t, time.Date(2024, 2, 29, 18, 30, 0, 0, time.UTC), ev.EventTime)
	assert.Equal(t, model.MethodCard, ev.Method)
	assert.Equal(t, model.ClockOut, ev.RequestedType)
	assert.Equal(t, "r-9", ev.DeviceEventID)
	require.NotNil(t, ev.Confidence)
	assert.InDelta(t, 0.93, *ev.Confidence, 1e-9)
}

func TestNormalize_Defaults(t *testing.T) {
	ev, code := Normalize(map[string]any{"uid": "3", "time": "not a time"}, testNow, time.UTC)
	require.Equal(t, errcode.OK, code)
	assert.Equal(t, testNow, ev.EventTime)
	assert.Equal(t, model.MethodFace, ev.Method)
	assert.Empty(t, ev.RequestedType, "no direction key leaves the direction to the session state")
	assert.Nil(t, ev.Confidence)
}

func TestNormalize_MissingUserID(t *testing.T) {
	_, code := Normalize(map[string]any{"device_sn": "SN-1", "user_id": "  "}, testNow, time.UTC)
	assert.Equal(t, errcode.MissingUserID, code)

	_, code = Normalize(map[string]any{"device_sn": "SN-1"}, testNow, time.UTC)
	assert.Equal(t, errcode.MissingUserID, code)
}

func TestNormalize_NonDeviceSource(t *testing.T) {
	ev, code := Normalize(map[string]any{
		"source":        "qr_code",
		"user_id":       "42",
		"restaurant_id": float64(3),
		"type":          "clock_in",
	}, testNow, time.UTC)
	require.Equal(t, errcode.OK, code)
	assert.Equal(t, model.SourceQRCode, ev.Source)
	assert.Equal(t, int64(42), ev.UserID)
	assert.Equal(t, int64(3), ev.RestaurantID)
	assert.Equal(t, model.MethodQR, ev.Method)
	assert.Equal(t, model.ClockIn, ev.RequestedType)

	_, code = Normalize(map[string]any{"source": "manual", "user_id": "42"}, testNow, time.UTC)
	assert.Equal(t, errcode.InvalidEvent, code, "restaurant required")

	_, code = Normalize(map[string]any{"source": "manual", "user_id": "abc", "restaurant_id": 1}, testNow, time.UTC)
	assert.Equal(t, errcode.InvalidEvent, code)
}

func TestNormalize_Direction(t *testing.T) {
	testCases := []struct {
		in       any
		expected model.EventType
	}{
		{float64(0), model.ClockIn},
		{float64(1), model.ClockIn},
		{float64(2), model.ClockOut},
		{"0", model.ClockIn},
		{"in", model.ClockIn},
		{"CLOCK_IN", model.ClockIn},
		{"out", model.ClockOut},
		{"whatever", model.ClockOut},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, directionFromValue(tc.in), "%v", tc.in)
	}
}

func TestNormalize_VerifyModes(t *testing.T) {
	testCases := []struct {
		in       any
		expected model.VerificationMethod
	}{
		{float64(15), model.MethodFace},
		{float64(8), model.MethodFace},
		{float64(4), model.MethodCard},
		{float64(7), model.MethodCard},
		{float64(2), model.MethodFingerprint},
		{float64(1), model.MethodPIN},
		{float64(0), model.MethodPIN},
		{"Fingerprint", model.MethodFingerprint},
		{"password", model.MethodPIN},
		{"qrcode", model.MethodQR},
		{"palm", model.MethodFace},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, methodFromValue(tc.in), "%v", tc.in)
	}
}

func TestNormalize_Enrollment(t *testing.T) {
	testCases := []struct {
		name    string
		raw     map[string]any
		typ     EnrollType
		success bool
	}{
		{"Marker and type", map[string]any{"event": "user_enroll", "enroll_type": "FP"}, EnrollFingerprint, true},
		{"Register marker", map[string]any{"event_type": "register", "enroll_type": "face", "result": "failed"}, EnrollFace, false},
		{"Numeric face", map[string]any{"enroll_type": float64(9), "success": true}, EnrollFace, true},
		{"Numeric card", map[string]any{"enroll_type": "2", "card_no": "00123"}, EnrollCard, true},
		{"Face count only", map[string]any{"face_count": float64(1), "status": float64(0)}, EnrollFace, false},
		{"Template count only", map[string]any{"templates_count": float64(2)}, EnrollFingerprint, true},
		{"Unknown type", map[string]any{"enroll_type": "iris"}, EnrollUnknown, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.raw["user_id"] = "7"
			ev, code := Normalize(tc.raw, testNow, time.UTC)
			require.Equal(t, errcode.OK, code)
			assert.Equal(t, CategoryEnrollment, ev.Category)
			assert.Equal(t, tc.typ, ev.EnrollType)
			assert.Equal(t, tc.success, ev.EnrollSuccess)
		})
	}

	ev, _ := Normalize(map[string]any{"user_id": "7", "enroll_type": "card", "card_number": "00123"}, testNow, time.UTC)
	assert.Equal(t, "00123", ev.CardNumber)
}

func TestFromRecord(t *testing.T) {
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	ev := FromRecord(4, protocol.AttendanceRecord{
		UserID:     12345,
		Timestamp:  ts,
		BackupCode: 2,
		Type:       protocol.RecordClockOut,
	})
	assert.Equal(t, int64(4), ev.DeviceID)
	assert.Equal(t, "12345", ev.DeviceUserID)
	assert.Equal(t, model.SourceDevice, ev.Source)
	assert.Equal(t, model.ClockOut, ev.RequestedType)
	assert.Equal(t, ts, ev.EventTime)
	assert.Equal(t, "12345-1709280000", ev.DeviceEventID)
}

func TestMethodFromVendor(t *testing.T) {
	assert.Equal(t, model.MethodPIN, methodFromVendor(protocol.VerifyPassword))
	assert.Equal(t, model.MethodFingerprint, methodFromVendor(protocol.VerifyFingerprint))
	assert.Equal(t, model.MethodFingerprint, methodFromVendor(protocol.VerifyAll))
	assert.Equal(t, model.MethodCard, methodFromVendor(protocol.VerifyPasswordCard))
	assert.Equal(t, model.MethodFace, methodFromVendor(protocol.VerifyFace))
	assert.Equal(t, model.MethodFace, methodFromVendor(protocol.VerifyUnknown))
}
