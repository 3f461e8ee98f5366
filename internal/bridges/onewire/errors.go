package onewire

import (
	"errors"
	"fmt"
	"syscall"
)

// Domain errors for the onewire package.
var (
	// ErrConnectionFailed is returned when owserver cannot be reached.
	ErrConnectionFailed = errors.New("onewire: connection to owserver failed")

	// ErrConnectionLost is returned when an established connection breaks.
	// The owning Server drops itself when it sees this error.
	ErrConnectionLost = errors.New("onewire: connection to owserver lost")

	// ErrNotConnected is returned when a server is used before Start or
	// after Drop.
	ErrNotConnected = errors.New("onewire: not connected")

	// ErrProtocolDesync is returned when a reply cannot be framed.
	ErrProtocolDesync = errors.New("onewire: protocol desync")

	// ErrNotFound matches ServerError values for missing paths.
	ErrNotFound = errors.New("onewire: path not found")
)

// ServerError is a negative return code from owserver.
type ServerError struct {
	Code int32 // positive errno
	Op   MessageType
	Path string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("onewire: %s %s: %s (errno %d)", e.Op, e.Path, syscall.Errno(e.Code).Error(), e.Code)
}

// Is lets errors.Is(err, ErrNotFound) match ENOENT replies.
func (e *ServerError) Is(target error) bool {
	return target == ErrNotFound && e.Code == int32(syscall.ENOENT)
}
