package terminal

import (
	"errors"
	"fmt"

	"attendance-gateway/internal/errcode"
	"attendance-gateway/internal/protocol"
)

var (
	// ErrTimeout is returned when a read deadline expires before any reply byte arrived.
	ErrTimeout = errors.New("terminal: read timed out")
	// ErrRejected is returned when the terminal answers with a non-success status byte.
	ErrRejected = errors.New("terminal: device rejected the request")
)

// ConnectionError is a transport-level failure talking to a terminal.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("terminal %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Code maps a terminal error to its stable outcome code.
func Code(err error) errcode.Code {
	var ce *ConnectionError
	switch {
	case err == nil:
		return errcode.OK
	case errors.Is(err, ErrRejected):
		return errcode.DeviceRejected
	case errors.Is(err, protocol.ErrInsufficientData):
		return errcode.InsufficientData
	case errors.As(err, &ce):
		return errcode.ConnectionFailed
	}
	return errcode.Error
}
