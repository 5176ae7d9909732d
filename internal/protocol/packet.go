package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame constants.
const (
	STX     byte = 0xA5
	Channel byte = 0x00

	// HeaderSize covers STX, channel, device code, command and length.
	HeaderSize = 9
	// CRCSize is the trailing checksum.
	CRCSize = 2

	// StatusOffset is the position of the reply status byte.
	StatusOffset = 9
	StatusOK     byte = 0x00
	StatusFail   byte = 0x01
)

// Command is a terminal opcode.
type Command byte

const (
	CmdDeviceInfo     Command = 0x30
	CmdSerialNumber   Command = 0x32
	CmdRecordInfo     Command = 0x3C
	CmdAllRecords     Command = 0x40
	CmdNewRecords     Command = 0x42
	CmdDeleteUser     Command = 0x4C
	CmdDeleteAllUsers Command = 0x4D
	CmdGetAllStaff    Command = 0x74
	CmdUploadStaff    Command = 0x76
)

func (c Command) String() string {
	switch c {
	case CmdDeviceInfo:
		return "device_info"
	case CmdSerialNumber:
		return "serial_number"
	case CmdRecordInfo:
		return "record_info"
	case CmdAllRecords:
		return "all_records"
	case CmdNewRecords:
		return "new_records"
	case CmdDeleteUser:
		return "delete_user"
	case CmdDeleteAllUsers:
		return "delete_all_users"
	case CmdGetAllStaff:
		return "get_all_staff"
	case CmdUploadStaff:
		return "upload_staff"
	}
	return fmt.Sprintf("0x%02X", byte(c))
}

var (
	// ErrBadStart is returned when a frame does not begin with STX.
	ErrBadStart = errors.New("protocol: frame does not start with STX")
	// ErrChecksum is returned when the trailing CRC does not match.
	ErrChecksum = errors.New("protocol: checksum mismatch")
)

// Frame is a decoded packet.
type Frame struct {
	DeviceCode uint32
	Command    Command
	Data       []byte
}

// Encode builds a complete frame for the given device code, command and payload.
func Encode(deviceCode uint32, cmd Command, data []byte) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(data)+CRCSize)
	buf[0] = STX
	buf[1] = Channel
	binary.LittleEndian.PutUint32(buf[2:6], deviceCode)
	buf[6] = byte(cmd)
	binary.BigEndian.PutUint16(buf[7:9], uint16(len(data)))
	buf = append(buf, data...)
	return binary.BigEndian.AppendUint16(buf, CRC16(buf))
}

// Decode parses and validates a frame produced by Encode or sent by a terminal.
func Decode(frame []byte) (Frame, error) {
	if len(frame) < HeaderSize+CRCSize {
		return Frame{}, insufficient("frame", HeaderSize+CRCSize, len(frame))
	}
	if frame[0] != STX {
		return Frame{}, ErrBadStart
	}
	total, _ := ExpectedLength(frame)
	if len(frame) < total {
		return Frame{}, insufficient("frame", total, len(frame))
	}
	body := frame[:total-CRCSize]
	if got := binary.BigEndian.Uint16(frame[total-CRCSize : total]); got != CRC16(body) {
		return Frame{}, ErrChecksum
	}

	data := make([]byte, total-CRCSize-HeaderSize)
	copy(data, frame[HeaderSize:total-CRCSize])
	return Frame{
		DeviceCode: binary.LittleEndian.Uint32(frame[2:6]),
		Command:    Command(frame[6]),
		Data:       data,
	}, nil
}

// ExpectedLength reports the full frame length announced by the header in buf.
// It returns false until a header starting with STX is available.
func ExpectedLength(buf []byte) (int, bool) {
	if len(buf) < HeaderSize || buf[0] != STX {
		return 0, false
	}
	return HeaderSize + int(binary.BigEndian.Uint16(buf[7:9])) + CRCSize, true
}

// Status returns the reply status byte, or StatusFail when resp is too short to carry one.
func Status(resp []byte) byte {
	if len(resp) <= StatusOffset {
		return StatusFail
	}
	return resp[StatusOffset]
}

// BytesToUint unpacks a big-endian unsigned integer of arbitrary width.
func BytesToUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// PutUint writes v big-endian into dst, using all of dst's width.
func PutUint(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
