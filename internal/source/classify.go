package source

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"

	"firestige.xyz/flowlens/internal/core"
)

// classifyOpen maps an open failure to a capture error kind. libpcap
// reports a missing device in many wordings, so anything that is not a
// permission problem counts as not found.
func classifyOpen(device string, err error) *core.CaptureError {
	if isPermission(err) {
		return core.NewCaptureError(core.PermissionDenied, device, err)
	}
	return core.NewCaptureError(core.DeviceNotFound, device, err)
}

// classifyRead maps a read failure on an open session to a capture error
// kind. Anything but a permission problem means the device is gone.
func classifyRead(device string, err error) *core.CaptureError {
	if isPermission(err) {
		return core.NewCaptureError(core.PermissionDenied, device, err)
	}
	return core.NewCaptureError(core.DeviceRemoved, device, err)
}

var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"don't have permission",
	"not permitted",
}

func isPermission(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) {
		return true
	}
	return containsAny(err.Error(), permissionMarkers)
}

// libpcap reports most failures as plain strings.
func containsAny(msg string, markers []string) bool {
	msg = strings.ToLower(msg)
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
