//go:build linux

package source

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/log"
)

// afpacketSource captures through a TPACKET_V3 memory-mapped ring.
type afpacketSource struct {
	handle *afpacket.TPacket
	device string
	link   core.LinkType
	ring   ringLayout
	stats  core.FrameSourceStats
	closed bool
}

func openAFPacket(opts Options) (Source, error) {
	iface, err := net.InterfaceByName(opts.Interface)
	if err != nil {
		return nil, core.NewCaptureError(core.DeviceNotFound, opts.Interface, err)
	}

	var tun afpacketTunables
	if err := decodeExtra(opts.Extra, &tun); err != nil {
		return nil, core.NewCaptureError(core.DeviceNotFound, opts.Interface, err)
	}
	fanoutType, err := parseFanoutType(tun.FanoutType)
	if err != nil {
		return nil, core.NewCaptureError(core.DeviceNotFound, opts.Interface, err)
	}

	pageSize := os.Getpagesize()
	ring, err := computeRing(opts.BufferSizeMB, opts.SnapLen, pageSize)
	if err == nil {
		ring, err = ring.withOverrides(tun, pageSize)
	}
	if err != nil {
		return nil, core.NewCaptureError(core.DeviceNotFound, opts.Interface, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(opts.Interface),
		afpacket.OptFrameSize(ring.FrameSize),
		afpacket.OptBlockSize(ring.BlockSize),
		afpacket.OptNumBlocks(ring.NumBlocks),
		afpacket.OptPollTimeout(opts.ReadTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, classifyOpen(opts.Interface, err)
	}

	s := &afpacketSource{
		handle: tp,
		device: opts.Interface,
		link:   ifaceLinkType(iface),
		ring:   ring,
	}
	if tun.FanoutID > 0 {
		if err := tp.SetFanout(fanoutType, tun.FanoutID); err != nil {
			tp.Close()
			return nil, classifyOpen(opts.Interface, fmt.Errorf("failed to set fanout: %w", err))
		}
	}
	if opts.Filter != "" {
		if err := s.SetFilter(opts.Filter); err != nil {
			tp.Close()
			return nil, err
		}
	}
	if err := tp.InitSocketStats(); err != nil {
		log.GetLogger().WithError(err).Warn("failed to init socket stats")
	}

	log.GetLogger().WithFields(log.Fields{
		"interface":  opts.Interface,
		"frame_size": ring.FrameSize,
		"block_size": ring.BlockSize,
		"num_blocks": ring.NumBlocks,
	}).Debug("afpacket ring configured")
	return s, nil
}

func (s *afpacketSource) Next() (core.RawFrame, error) {
	if s.closed {
		return core.RawFrame{}, core.ErrClosed
	}
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	switch {
	case err == nil:
	case errors.Is(err, afpacket.ErrTimeout):
		return core.RawFrame{}, core.ErrTimeout
	case errors.Is(err, afpacket.ErrPoll):
		// POLLERR on the socket; usually the interface went away.
		if ifaceGone(s.device) {
			return core.RawFrame{}, core.NewCaptureError(core.DeviceRemoved, s.device, err)
		}
		return core.RawFrame{}, core.ErrTimeout
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

func (s *afpacketSource) Stats() core.FrameSourceStats {
	if !s.closed {
		if _, v3, err := s.handle.SocketStats(); err == nil {
			s.stats.FramesDropped = uint64(v3.Drops())
		}
	}
	return s.stats
}

func (s *afpacketSource) SetFilter(expr string) error {
	if s.closed {
		return core.ErrClosed
	}
	if expr == "" {
		// Attach an accept-all program in place of the old one.
		expr = "len >= 0"
	}
	lt := layers.LinkTypeEthernet
	if s.link == core.LinkTypeRaw {
		lt = layers.LinkTypeRaw
	}
	raw, err := compileBPF(lt, s.ring.FrameSize, expr)
	if err != nil {
		return core.NewCaptureError(core.UnsupportedFilter, s.device, err)
	}
	if err := s.handle.SetBPF(raw); err != nil {
		return core.NewCaptureError(core.UnsupportedFilter, s.device, err)
	}
	return nil
}

func (s *afpacketSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.handle.Close()
	return nil
}

// parseFanoutType maps the fanout_type tunable to a kernel fanout mode.
func parseFanoutType(ft string) (afpacket.FanoutType, error) {
	switch ft {
	case "", "hash":
		return afpacket.FanoutHash, nil
	case "lb":
		return afpacket.FanoutLoadBalance, nil
	case "cpu":
		return afpacket.FanoutCPU, nil
	default:
		return 0, fmt.Errorf("unknown fanout type: %q (must be hash/lb/cpu)", ft)
	}
}

// ifaceLinkType guesses the SocketRaw framing: interfaces without a
// hardware address (tun, wireguard) deliver bare IP packets.
func ifaceLinkType(iface *net.Interface) core.LinkType {
	if len(iface.HardwareAddr) == 0 && iface.Flags&net.FlagLoopback == 0 {
		return core.LinkTypeRaw
	}
	return core.LinkTypeEthernet
}

func ifaceGone(name string) bool {
	iface, err := net.InterfaceByName(name)
	return err != nil || iface.Flags&net.FlagUp == 0
}
