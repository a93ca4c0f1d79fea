//go:build !linux

package source

import (
	"errors"

	"firestige.xyz/flowlens/internal/core"
)

func openAFPacket(opts Options) (Source, error) {
	return nil, core.NewCaptureError(core.DeviceNotFound, opts.Interface,
		errors.New("afpacket capture is only available on linux"))
}
