package terminal

import (
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"attendance-gateway/internal/protocol"
)

// fakeTerminal answers framed commands on a loopback listener.
type fakeTerminal struct {
	t        *testing.T
	ln       net.Listener
	handler  func(protocol.Frame) [][]byte
	pause    time.Duration
	mu       sync.Mutex
	commands []protocol.Frame
	accepts  int
}

func newFakeTerminal(t *testing.T, handler func(protocol.Frame) [][]byte) *fakeTerminal {
	return newPacedTerminal(t, 20*time.Millisecond, handler)
}

// newPacedTerminal waits pause between the chunks of one reply.
func newPacedTerminal(t *testing.T, pause time.Duration, handler func(protocol.Frame) [][]byte) *fakeTerminal {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ft := &fakeTerminal{t: t, ln: ln, handler: handler, pause: pause}
	go ft.serve()
	t.Cleanup(func() { ln.Close() })
	return ft
}

func (ft *fakeTerminal) config() Config {
	host, portStr, _ := net.SplitHostPort(ft.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return Config{Host: host, Port: port, Timeout: 300 * time.Millisecond}
}

func (ft *fakeTerminal) serve() {
	for {
		conn, err := ft.ln.Accept()
		if err != nil {
			return
		}
		ft.mu.Lock()
		ft.accepts++
		ft.mu.Unlock()
		go ft.handle(conn)
	}
}

func (ft *fakeTerminal) handle(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, protocol.HeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		want, _ := protocol.ExpectedLength(header)
		rest := make([]byte, want-protocol.HeaderSize)
		if _, err := io.ReadFull(conn, rest); err != nil {
			return
		}
		frame, err := protocol.Decode(append(header, rest...))
		if err != nil {
			return
		}
		ft.mu.Lock()
		ft.commands = append(ft.commands, frame)
		ft.mu.Unlock()

		for i, chunk := range ft.handler(frame) {
			if i > 0 {
				time.Sleep(ft.pause)
			}
			if _, err := conn.Write(chunk); err != nil {
				return
			}
		}
	}
}

func (ft *fakeTerminal) received() []protocol.Frame {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]protocol.Frame(nil), ft.commands...)
}

func (ft *fakeTerminal) acceptCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.accepts
}

// reply builds a reply frame whose data begins with the status byte.
func reply(f protocol.Frame, status byte, body []byte) []byte {
	return protocol.Encode(f.DeviceCode, f.Command, append([]byte{status}, body...))
}

func recordInfoBody(users, fps, records, newRecords int) []byte {
	b := make([]byte, 12)
	protocol.PutUint(b[0:3], uint64(users))
	protocol.PutUint(b[3:6], uint64(fps))
	protocol.PutUint(b[6:9], uint64(records))
	protocol.PutUint(b[9:12], uint64(newRecords))
	return b
}

func staffRecord(id uint64, name string) []byte {
	b := make([]byte, protocol.UserRecordSize)
	protocol.PutUint(b[0:5], id)
	copy(b[25:65], name)
	return b
}

// staffDevice simulates a terminal holding users 1..n.
func staffDevice(n int) func(protocol.Frame) [][]byte {
	return func(f protocol.Frame) [][]byte {
		switch f.Command {
		case protocol.CmdRecordInfo:
			return [][]byte{reply(f, protocol.StatusOK, recordInfoBody(n, 0, 0, 0))}
		case protocol.CmdGetAllStaff:
			offset := int(protocol.BytesToUint(f.Data[0:4]))
			batch := int(f.Data[4])
			end := min(offset+batch, n)
			body := []byte{byte(end - offset)}
			for id := offset + 1; id <= end; id++ {
				body = append(body, staffRecord(uint64(id), "user"+strconv.Itoa(id))...)
			}
			return [][]byte{reply(f, protocol.StatusOK, body)}
		}
		return [][]byte{reply(f, protocol.StatusFail, nil)}
	}
}
