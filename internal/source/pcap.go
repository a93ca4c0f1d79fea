package source

import (
	"errors"
	"io"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/log"
)

// pcapSource captures from a live interface through libpcap.
type pcapSource struct {
	handle *pcap.Handle
	device string
	link   core.LinkType
	stats  core.FrameSourceStats
	closed bool
}

func openPcap(opts Options) (*pcapSource, error) {
	var tun pcapTunables
	if err := decodeExtra(opts.Extra, &tun); err != nil {
		return nil, core.NewCaptureError(core.DeviceNotFound, opts.Interface, err)
	}

	inactive, err := pcap.NewInactiveHandle(opts.Interface)
	if err != nil {
		return nil, classifyOpen(opts.Interface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(opts.SnapLen); err != nil {
		return nil, classifyOpen(opts.Interface, err)
	}
	if err := inactive.SetPromisc(opts.Promiscuous); err != nil {
		return nil, classifyOpen(opts.Interface, err)
	}
	if err := inactive.SetTimeout(opts.ReadTimeout); err != nil {
		return nil, classifyOpen(opts.Interface, err)
	}
	if err := inactive.SetBufferSize(opts.BufferSizeMB * 1024 * 1024); err != nil {
		return nil, classifyOpen(opts.Interface, err)
	}
	if tun.ImmediateMode {
		if err := inactive.SetImmediateMode(true); err != nil {
			return nil, classifyOpen(opts.Interface, err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, classifyOpen(opts.Interface, err)
	}

	s := &pcapSource{
		handle: handle,
		device: opts.Interface,
		link:   mapLinkType(handle.LinkType()),
	}
	if opts.Filter != "" {
		if err := s.SetFilter(opts.Filter); err != nil {
			handle.Close()
			return nil, err
		}
	}
	if s.link == core.LinkTypeUnknown {
		log.GetLogger().WithField("link_type", handle.LinkType().String()).
			Warn("unsupported link type, frames will not be attributed")
	}
	return s, nil
}

func (s *pcapSource) Next() (core.RawFrame, error) {
	if s.closed {
		return core.RawFrame{}, core.ErrClosed
	}
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	switch {
	case err == nil:
	case errors.Is(err, pcap.NextErrorTimeoutExpired):
		return core.RawFrame{}, core.ErrTimeout
	case errors.Is(err, io.EOF):
		return core.RawFrame{}, core.ErrClosed
	default:
		return core.RawFrame{}, classifyRead(s.device, err)
	}

	s.stats.FramesSeen++
	return core.RawFrame{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		WireLen:    uint32(ci.Length),
		LinkType:   s.link,
	}, nil
}

// Stats merges libpcap's drop counters into the local tally. A failed
// stats query keeps the last known values.
func (s *pcapSource) Stats() core.FrameSourceStats {
	if !s.closed {
		if ps, err := s.handle.Stats(); err == nil {
			s.stats.FramesDropped = uint64(ps.PacketsDropped)
			s.stats.FramesIfDropped = uint64(ps.PacketsIfDropped)
		}
	}
	return s.stats
}

func (s *pcapSource) SetFilter(expr string) error {
	if s.closed {
		return core.ErrClosed
	}
	if err := s.handle.SetBPFFilter(expr); err != nil {
		return core.NewCaptureError(core.UnsupportedFilter, s.device, err)
	}
	return nil
}

func (s *pcapSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.handle.Close()
	return nil
}
