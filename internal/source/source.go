// Package source provides frame sources: live libpcap capture, Linux
// AF_PACKET (TPACKET_V3) capture and paced offline replay of pcap/pcapng
// recordings.
//
// A Source is owned by one goroutine. Next never blocks longer than the
// read timeout armed at open time, and the frame it returns may reference
// a reused buffer that is only valid until the following call.
package source

import (
	"fmt"
	"time"

	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/log"
)

// Source is a capture session.
type Source interface {
	// Next returns the next frame, core.ErrTimeout when none arrived within
	// the read timeout, core.ErrClosed once the source is exhausted or
	// closed, or a *core.CaptureError that ends the session.
	Next() (core.RawFrame, error)
	// Stats returns counters accumulated since Open.
	Stats() core.FrameSourceStats
	// SetFilter replaces the capture filter. On failure the previous filter
	// stays in effect.
	SetFilter(expr string) error
	Close() error
}

// Kind selects the capture backend.
type Kind string

const (
	KindPcap     Kind = "pcap"
	KindAFPacket Kind = "afpacket"
	KindFile     Kind = "file"
)

// Options configures Open.
type Options struct {
	Kind         Kind
	Interface    string
	File         string
	Filter       string // libpcap syntax, empty = everything
	SnapLen      int
	Promiscuous  bool
	ReadTimeout  time.Duration
	BufferSizeMB int
	Speed        float64        // file replay multiplier, 0 = as fast as possible
	Extra        map[string]any // backend-specific tunables
}

const (
	defaultSnapLen     = 262144
	defaultReadTimeout = 100 * time.Millisecond
	defaultBufferMB    = 64
)

func (o *Options) applyDefaults() {
	if o.Kind == "" {
		o.Kind = KindPcap
	}
	if o.SnapLen <= 0 {
		o.SnapLen = defaultSnapLen
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.BufferSizeMB <= 0 {
		o.BufferSizeMB = defaultBufferMB
	}
}

// device names the capture target for errors and logs.
func (o *Options) device() string {
	if o.Kind == KindFile {
		return o.File
	}
	return o.Interface
}

// Open opens a capture session. Every failure is a *core.CaptureError and
// leaves no handle behind.
func Open(opts Options) (Source, error) {
	opts.applyDefaults()

	var (
		src Source
		err error
	)
	switch opts.Kind {
	case KindPcap:
		src, err = openPcap(opts)
	case KindAFPacket:
		src, err = openAFPacket(opts)
	case KindFile:
		src, err = openFile(opts)
	default:
		return nil, core.NewCaptureError(core.DeviceNotFound, opts.device(),
			fmt.Errorf("unknown source kind %q", opts.Kind))
	}
	if err != nil {
		return nil, err
	}

	log.GetLogger().WithFields(log.Fields{
		"kind":   opts.Kind,
		"device": opts.device(),
		"filter": opts.Filter,
	}).Info("capture source opened")
	return src, nil
}
