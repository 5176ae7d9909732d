package terminal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"attendance-gateway/internal/protocol"
)

// RecordBatchSize is the page size used for attendance record downloads.
const RecordBatchSize = 25

// Client bundles a link with the device-level commands.
type Client struct {
	*Registry

	link *Link
	loc  *time.Location
}

// NewClient creates a client for one terminal. loc is the terminal clock's timezone.
func NewClient(cfg Config, loc *time.Location, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	link := NewLink(cfg, logger)
	return &Client{
		Registry: NewRegistry(link, logger),
		link:     link,
		loc:      loc,
	}
}

// Close disconnects from the terminal.
func (c *Client) Close() error { return c.link.Close() }

// DeviceInfo returns the device info payload that follows the reply header.
func (c *Client) DeviceInfo(ctx context.Context) ([]byte, error) {
	resp, err := c.link.SendCommand(ctx, protocol.CmdDeviceInfo, nil)
	if err != nil {
		return nil, err
	}
	return payload(resp, "device info")
}

// SerialNumber reads the terminal serial number.
func (c *Client) SerialNumber(ctx context.Context) (string, error) {
	resp, err := c.link.SendCommand(ctx, protocol.CmdSerialNumber, nil)
	if err != nil {
		return "", err
	}
	body, err := payload(resp, "serial number")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(body), "\x00 "), nil
}

// payload strips the reply header and, for a complete frame, the CRC.
func payload(resp []byte, what string) ([]byte, error) {
	end := len(resp)
	if want, ok := protocol.ExpectedLength(resp); ok && want <= len(resp) {
		end = want - protocol.CRCSize
	}
	if end <= protocol.ReplyHeaderSize {
		return nil, &protocol.InsufficientDataError{What: what, Need: protocol.ReplyHeaderSize + 1, Got: len(resp)}
	}
	return resp[protocol.ReplyHeaderSize:end], nil
}

// AllRecords downloads every attendance record stored on the terminal.
func (c *Client) AllRecords(ctx context.Context) ([]protocol.AttendanceRecord, error) {
	info, err := c.RecordInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("read record count: %w", err)
	}
	return c.fetchRecords(ctx, protocol.CmdAllRecords, info.RecordCount)
}

// NewRecords downloads the attendance records not yet read.
func (c *Client) NewRecords(ctx context.Context) ([]protocol.AttendanceRecord, error) {
	info, err := c.RecordInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("read record count: %w", err)
	}
	return c.fetchRecords(ctx, protocol.CmdNewRecords, info.NewRecordCount)
}

func (c *Client) fetchRecords(ctx context.Context, cmd protocol.Command, total int) ([]protocol.AttendanceRecord, error) {
	if total == 0 {
		return nil, nil
	}
	records := make([]protocol.AttendanceRecord, 0, total)
	offset := 0
	for offset < total {
		batch := min(RecordBatchSize, total-offset)
		payload := make([]byte, 5)
		protocol.PutUint(payload[0:4], uint64(offset))
		payload[4] = byte(batch)

		resp, err := c.link.SendCommand(ctx, cmd, payload)
		if err != nil {
			return records, fmt.Errorf("%s at offset %d: %w", cmd, offset, err)
		}
		page, err := protocol.DecodeAttendanceRecords(resp, c.loc)
		if err != nil {
			return records, fmt.Errorf("decode %s at offset %d: %w", cmd, offset, err)
		}
		if len(page) > batch {
			page = page[:batch]
		}
		records = append(records, page...)
		offset += len(page)
		if len(page) < batch {
			break
		}
	}
	return records, nil
}

// Dialer builds clients that share timeout, chunk size and clock timezone.
type Dialer struct {
	Defaults Config
	Location *time.Location
	Logger   *zap.Logger
}

// Client returns an unconnected client for the terminal at host:port.
// Zero port and device code fall back to Defaults.
func (d *Dialer) Client(host string, port int, deviceCode uint32) *Client {
	cfg := d.Defaults
	cfg.Host = host
	if port > 0 {
		cfg.Port = port
	}
	if deviceCode != 0 {
		cfg.DeviceCode = deviceCode
	}
	return NewClient(cfg, d.Location, d.Logger)
}
