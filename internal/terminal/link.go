package terminal

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"attendance-gateway/internal/protocol"
)

const (
	DefaultPort       = 5010
	DefaultDeviceCode = 1
	DefaultTimeout    = 5 * time.Second
	DefaultChunkSize  = 1024
)

// Config addresses one terminal.
type Config struct {
	Host       string
	Port       int
	DeviceCode uint32
	Timeout    time.Duration
	ChunkSize  int
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.DeviceCode == 0 {
		c.DeviceCode = DefaultDeviceCode
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
}

// Commander sends one command and returns the raw reply.
type Commander interface {
	SendCommand(ctx context.Context, cmd protocol.Command, data []byte) ([]byte, error)
}

// Link owns a single TCP connection to one terminal. One command is in flight at a time.
type Link struct {
	cfg    Config
	addr   string
	logger *zap.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewLink creates an unconnected link.
func NewLink(cfg Config, logger *zap.Logger) *Link {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return &Link{
		cfg:    cfg,
		addr:   addr,
		logger: logger.With(zap.String("terminal", addr)),
	}
}

// Addr returns host:port of the terminal.
func (l *Link) Addr() string { return l.addr }

// Connect opens the TCP stream, replacing any existing connection.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	return l.connectLocked(ctx)
}

func (l *Link) connectLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: l.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return &ConnectionError{Op: "connect", Addr: l.addr, Err: err}
	}
	l.conn = conn
	l.logger.Debug("terminal connected")
	return nil
}

// Connected reports whether a connection is currently open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// EnsureConnected dials only when no connection is open.
func (l *Link) EnsureConnected(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensureLocked(ctx)
}

func (l *Link) ensureLocked(ctx context.Context) error {
	if l.conn != nil {
		return nil
	}
	return l.connectLocked(ctx)
}

// SendCommand frames and writes cmd, then collects the reply. The reply may be partial
// when the terminal stops sending before the announced frame length.
func (l *Link) SendCommand(ctx context.Context, cmd protocol.Command, data []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.ensureLocked(ctx); err != nil {
		return nil, err
	}

	frame := protocol.Encode(l.cfg.DeviceCode, cmd, data)
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.cfg.Timeout)); err != nil {
		return nil, l.fail("write", err)
	}
	if _, err := l.conn.Write(frame); err != nil {
		return nil, l.fail("write", err)
	}

	resp, err := l.readReply()
	if err != nil {
		return nil, err
	}
	l.logger.Debug("terminal reply",
		zap.Stringer("command", cmd),
		zap.Int("request_bytes", len(frame)),
		zap.Int("reply_bytes", len(resp)),
	)
	return resp, nil
}

// readReply reads until the announced frame length arrived. Before the header is
// complete a read shorter than the chunk size ends the reply.
func (l *Link) readReply() ([]byte, error) {
	var buf []byte
	chunk := make([]byte, l.cfg.ChunkSize)
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(l.cfg.Timeout)); err != nil {
			return nil, l.fail("read", err)
		}
		n, err := l.conn.Read(chunk)
		buf = append(buf, chunk[:n]...)

		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				// The rest of a late reply would prefix the next one, so redial.
				if len(buf) == 0 {
					return nil, l.fail("read", ErrTimeout)
				}
				l.closeLocked()
				return buf, nil
			case errors.Is(err, io.EOF):
				l.closeLocked()
				return buf, nil
			default:
				return nil, l.fail("read", err)
			}
		}

		if want, ok := protocol.ExpectedLength(buf); ok {
			if len(buf) >= want {
				return buf, nil
			}
			continue
		}
		if n < len(chunk) {
			return buf, nil
		}
	}
}

// fail drops the connection so the next command redials.
func (l *Link) fail(op string, err error) error {
	l.closeLocked()
	return &ConnectionError{Op: op, Addr: l.addr, Err: err}
}

// Close closes the connection. It is safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Link) closeLocked() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
