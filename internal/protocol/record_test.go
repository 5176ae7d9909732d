package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attendanceBytes(userID uint64, secs uint32, backup, typ byte, workCode uint32) []byte {
	b := make([]byte, AttendanceRecordSize)
	PutUint(b[0:5], userID)
	PutUint(b[5:9], uint64(secs))
	b[9] = backup
	b[10] = typ
	PutUint(b[11:14], uint64(workCode))
	return b
}

func TestDecodeAttendanceRecord(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	rec, err := DecodeAttendanceRecord(attendanceBytes(12345, 0, 15, 0, 0), loc)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), rec.UserID)
	assert.Equal(t, RecordClockIn, rec.Type)
	assert.True(t, rec.Timestamp.Equal(time.Date(2000, 1, 2, 0, 0, 0, 0, loc)))
	assert.Equal(t, VerifyFace, rec.Method())

	rec, err = DecodeAttendanceRecord(attendanceBytes(7, 3600, 1, 1, 42), loc)
	require.NoError(t, err)
	assert.Equal(t, RecordClockOut, rec.Type)
	assert.True(t, rec.Timestamp.Equal(time.Date(2000, 1, 2, 1, 0, 0, 0, loc)))
	assert.Equal(t, uint32(42), rec.WorkCode)
	assert.Equal(t, VerifyFingerprint, rec.Method())
}

func TestDecodeAttendanceRecord_Length(t *testing.T) {
	_, err := DecodeAttendanceRecord(make([]byte, 13), time.UTC)
	assert.ErrorIs(t, err, ErrInsufficientData)

	var ide *InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 14, ide.Need)
	assert.Equal(t, 13, ide.Got)

	_, err = DecodeAttendanceRecord(make([]byte, 15), time.UTC)
	assert.Error(t, err)
}

func TestDecodeAttendanceRecords(t *testing.T) {
	resp := make([]byte, ListHeaderSize)
	resp = append(resp, attendanceBytes(1, 10, 0, 0, 0)...)
	resp = append(resp, attendanceBytes(2, 20, 2, 1, 0)...)
	resp = append(resp, 0xAB, 0xCD) // crc

	recs, err := DecodeAttendanceRecords(resp, time.UTC)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[1].UserID)
	assert.Equal(t, VerifyCard, recs[1].Method())

	_, err = DecodeAttendanceRecords(nil, time.UTC)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDecodeRecordInfo(t *testing.T) {
	payload := make([]byte, 24)
	PutUint(payload[10:13], 30)
	PutUint(payload[13:16], 45)
	PutUint(payload[16:19], 1000)
	PutUint(payload[19:22], 3)

	info, err := DecodeRecordInfo(payload)
	require.NoError(t, err)
	assert.Equal(t, RecordInfo{UserCount: 30, FPCount: 45, RecordCount: 1000, NewRecordCount: 3}, info)

	_, err = DecodeRecordInfo(make([]byte, 17))
	assert.ErrorIs(t, err, ErrInsufficientData)

	info, err = DecodeRecordInfo(payload[:18])
	require.NoError(t, err)
	assert.Equal(t, 30, info.UserCount)
	assert.Equal(t, 45, info.FPCount)
	assert.Equal(t, 0, info.NewRecordCount)
}

func userBytes(userID uint64, password, card string, name []byte) []byte {
	b := make([]byte, UserRecordSize)
	PutUint(b[0:5], userID)
	copy(b[5:15], password)
	copy(b[15:25], card)
	copy(b[25:65], name)
	return b
}

func TestDecodeUserRecord(t *testing.T) {
	rec, err := DecodeUserRecord(userBytes(7, "1234", "998877", []byte("Alice")))
	require.NoError(t, err)
	assert.Equal(t, UserRecord{UserID: 7, Password: "1234", CardID: "998877", Name: "Alice"}, rec)

	withTemplate := append(userBytes(8, "", "", []byte("Bob")), 0x01, 0x02)
	rec, err = DecodeUserRecord(withTemplate)
	require.NoError(t, err)
	assert.True(t, rec.HasBiometric)
	assert.Equal(t, "", rec.Password)

	_, err = DecodeUserRecord(make([]byte, 64))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDecodeName(t *testing.T) {
	utf8Name := make([]byte, 40)
	copy(utf8Name, "张三")
	assert.Equal(t, "张三", DecodeName(utf8Name))

	gbkName := make([]byte, 40)
	copy(gbkName, []byte{0xD5, 0xC5, 0xC8, 0xFD})
	assert.Equal(t, "张三", DecodeName(gbkName))

	spaced := make([]byte, 40)
	copy(spaced, "Li Wei  ")
	assert.Equal(t, "Li Wei  ", DecodeName(spaced), "only NUL padding is trimmed")
}

func TestEncodeName(t *testing.T) {
	field := EncodeName("Alice", 20, 40)
	require.Len(t, field, 40)
	assert.Equal(t, "Alice", DecodeName(field))
	assert.Equal(t, "Bo ", DecodeName(EncodeName("Bo ", 20, 40)))

	field = EncodeName("abcdefghijklmnopqrstuvwxyz", 20, 40)
	assert.Equal(t, "abcdefghijklmnopqrst", DecodeName(field))

	// 20 three-byte runes do not fit in 40 bytes; only whole characters are kept.
	field = EncodeName("一二三四五六七八九十一二三四五六七八九十", 20, 40)
	assert.Equal(t, "一二三四五六七八九十一二三", DecodeName(field))
}

func TestVerificationMethodFromCode(t *testing.T) {
	testCases := map[byte]VerificationMethod{
		0: VerifyPassword, 1: VerifyFingerprint, 2: VerifyCard,
		3: VerifyPasswordFingerprint, 4: VerifyPasswordCard, 5: VerifyFingerprintCard,
		6: VerifyAll, 15: VerifyFace, 16: VerifyFace, 17: VerifyFace, 18: VerifyFace,
		7: VerifyUnknown, 14: VerifyUnknown, 19: VerifyUnknown,
	}
	for code, want := range testCases {
		assert.Equal(t, want, VerificationMethodFromCode(code), "code %d", code)
	}
}
