// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. CaptureError matches the capture sentinels through errors.Is.
var (
	// Frame source results
	ErrTimeout = errors.New("flowlens: read timeout")
	ErrClosed  = errors.New("flowlens: source closed")

	// Capture errors
	ErrDeviceNotFound    = errors.New("flowlens: device not found")
	ErrPermissionDenied  = errors.New("flowlens: permission denied")
	ErrUnsupportedFilter = errors.New("flowlens: unsupported filter")
	ErrDeviceRemoved     = errors.New("flowlens: device removed")

	// Engine errors
	ErrAlreadyRunning = errors.New("flowlens: capture already running")
	ErrNotRunning     = errors.New("flowlens: capture not running")
	ErrEngineClosed   = errors.New("flowlens: engine closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("flowlens: invalid configuration")
)

// CaptureErrorKind classifies a fatal capture failure.
type CaptureErrorKind uint8

const (
	DeviceNotFound CaptureErrorKind = iota + 1
	PermissionDenied
	UnsupportedFilter
	DeviceRemoved
)

func (k CaptureErrorKind) String() string {
	switch k {
	case DeviceNotFound:
		return "device_not_found"
	case PermissionDenied:
		return "permission_denied"
	case UnsupportedFilter:
		return "unsupported_filter"
	case DeviceRemoved:
		return "device_removed"
	default:
		return "unknown"
	}
}

func (k CaptureErrorKind) sentinel() error {
	switch k {
	case DeviceNotFound:
		return ErrDeviceNotFound
	case PermissionDenied:
		return ErrPermissionDenied
	case UnsupportedFilter:
		return ErrUnsupportedFilter
	case DeviceRemoved:
		return ErrDeviceRemoved
	default:
		return nil
	}
}

// CaptureError is fatal to the capture session that produced it.
type CaptureError struct {
	Kind   CaptureErrorKind
	Device string // interface name or file path
	Err    error  // underlying OS / libpcap error, may be nil
}

// NewCaptureError builds a CaptureError of the given kind.
func NewCaptureError(kind CaptureErrorKind, device string, err error) *CaptureError {
	return &CaptureError{Kind: kind, Device: device, Err: err}
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture %s: %s", e.Device, e.Kind)
	}
	return fmt.Sprintf("capture %s: %s: %v", e.Device, e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *CaptureError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}
