package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Sentinel errors
// --------------------------------------------------------------------------

var (
	// ErrQueueOverflow is returned by a send call when the bounded outbound
	// queue is at capacity. The frame is not enqueued; the caller decides
	// whether to drop, retry or block.
	ErrQueueOverflow = errors.New("tx queue overflow")

	// ErrResolve is wrapped by resolution failures (no candidates, or the
	// resolver itself errored).
	ErrResolve = errors.New("address resolve failed")
)

// --------------------------------------------------------------------------
// DeviceError
// --------------------------------------------------------------------------

// DeviceError is raised by connection constructors when resolving, opening,
// connecting, binding or listening fails. The connection object is not
// usable afterwards.
type DeviceError struct {
	// Op names the failed setup step, e.g. "tcp: connect" or "tcp-l: bind"
	Op    string
	Cause error
}

func NewDeviceError(op string, cause error) *DeviceError {
	return &DeviceError{Op: op, Cause: cause}
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("DeviceError:%s: %v", e.Op, e.Cause)
}

func (e *DeviceError) Unwrap() error { return e.Cause }
