package terminal

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-gateway/internal/protocol"
)

func TestLink_SendCommand(t *testing.T) {
	ft := newFakeTerminal(t, func(f protocol.Frame) [][]byte {
		return [][]byte{reply(f, protocol.StatusOK, []byte("hello"))}
	})
	link := NewLink(ft.config(), nil)
	defer link.Close()

	assert.False(t, link.Connected())
	resp, err := link.SendCommand(context.Background(), protocol.CmdDeviceInfo, []byte{0x01})
	require.NoError(t, err)
	assert.True(t, link.Connected(), "connects lazily")

	frame, err := protocol.Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdDeviceInfo, frame.Command)
	assert.Equal(t, append([]byte{protocol.StatusOK}, "hello"...), frame.Data)

	got := ft.received()
	require.Len(t, got, 1)
	assert.Equal(t, uint32(DefaultDeviceCode), got[0].DeviceCode)
	assert.Equal(t, []byte{0x01}, got[0].Data)
}

func TestLink_TrustsFrameLengthAcrossReads(t *testing.T) {
	ft := newFakeTerminal(t, func(f protocol.Frame) [][]byte {
		full := reply(f, protocol.StatusOK, make([]byte, 200))
		return [][]byte{full[:50], full[50:120], full[120:]}
	})
	link := NewLink(ft.config(), nil)
	defer link.Close()

	resp, err := link.SendCommand(context.Background(), protocol.CmdGetAllStaff, nil)
	require.NoError(t, err)
	assert.Len(t, resp, protocol.HeaderSize+201+protocol.CRCSize)
	_, err = protocol.Decode(resp)
	assert.NoError(t, err)
}

func TestLink_ShortReadBeforeHeader(t *testing.T) {
	ft := newFakeTerminal(t, func(f protocol.Frame) [][]byte {
		return [][]byte{{0x01, 0x02, 0x03}}
	})
	link := NewLink(ft.config(), nil)
	defer link.Close()

	resp, err := link.SendCommand(context.Background(), protocol.CmdDeviceInfo, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, resp)
}

func TestLink_TimeoutReturnsPartialReply(t *testing.T) {
	ft := newFakeTerminal(t, func(f protocol.Frame) [][]byte {
		full := reply(f, protocol.StatusOK, make([]byte, 64))
		return [][]byte{full[:20]}
	})
	link := NewLink(ft.config(), nil)
	defer link.Close()

	resp, err := link.SendCommand(context.Background(), protocol.CmdDeviceInfo, nil)
	require.NoError(t, err)
	assert.Len(t, resp, 20)
	assert.False(t, link.Connected(), "a timed-out connection is dropped")
}

func TestLink_LateTailDoesNotLeakIntoNextReply(t *testing.T) {
	ft := newPacedTerminal(t, 450*time.Millisecond, func(f protocol.Frame) [][]byte {
		if f.Command == protocol.CmdRecordInfo {
			full := reply(f, protocol.StatusFail, make([]byte, 12))
			return [][]byte{full[:12], full[12:]}
		}
		return [][]byte{reply(f, protocol.StatusOK, nil)}
	})
	link := NewLink(ft.config(), nil)
	defer link.Close()

	resp, err := link.SendCommand(context.Background(), protocol.CmdRecordInfo, nil)
	require.NoError(t, err)
	assert.Len(t, resp, 12)

	resp, err = link.SendCommand(context.Background(), protocol.CmdDeleteUser, []byte{1, 0, 0, 0, 0, 7})
	require.NoError(t, err)
	frame, err := protocol.Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdDeleteUser, frame.Command)
	assert.Equal(t, protocol.StatusOK, protocol.Status(resp))
	assert.Equal(t, 2, ft.acceptCount())
}

func TestLink_TimeoutWithoutReply(t *testing.T) {
	ft := newFakeTerminal(t, func(f protocol.Frame) [][]byte { return nil })
	link := NewLink(ft.config(), nil)
	defer link.Close()

	_, err := link.SendCommand(context.Background(), protocol.CmdDeviceInfo, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var ce *ConnectionError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "read", ce.Op)
	assert.False(t, link.Connected())
}

func TestLink_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	link := NewLink(Config{Host: "127.0.0.1", Port: addr.Port, Timeout: 200 * time.Millisecond}, nil)
	err = link.Connect(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "connect", ce.Op)
	assert.False(t, link.Connected())
}

func TestLink_CloseIsIdempotentAndReconnects(t *testing.T) {
	ft := newFakeTerminal(t, func(f protocol.Frame) [][]byte {
		return [][]byte{reply(f, protocol.StatusOK, nil)}
	})
	link := NewLink(ft.config(), nil)

	require.NoError(t, link.EnsureConnected(context.Background()))
	require.NoError(t, link.EnsureConnected(context.Background()))
	assert.NoError(t, link.Close())
	assert.NoError(t, link.Close())

	_, err := link.SendCommand(context.Background(), protocol.CmdDeviceInfo, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ft.acceptCount())
	assert.NoError(t, link.Close())
}
