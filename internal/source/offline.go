package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"

	"firestige.xyz/flowlens/internal/core"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// clock abstracts wall time so replay pacing can be tested.
type clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type wallClock struct{}

func (wallClock) Now() time.Time        { return time.Now() }
func (wallClock) Sleep(d time.Duration) { time.Sleep(d) }

// replaySource plays a recording back as if it were live: frames are
// released when their recorded offset, scaled by speed, has elapsed on the
// wall clock, and their timestamps are rebased onto wall time.
type replaySource struct {
	file    io.Closer
	reader  packetReader
	path    string
	link    core.LinkType
	rawLink layers.LinkType
	snapLen int
	vm      *bpf.VM
	speed   float64
	timeout time.Duration
	clock   clock

	started  bool
	origin   time.Time // timestamp of the first frame
	wallBase time.Time // wall time the first frame was released
	pending  *core.RawFrame

	stats  core.FrameSourceStats
	closed bool
}

func openFile(opts Options) (*replaySource, error) {
	f, err := os.Open(opts.File)
	if err != nil {
		return nil, classifyOpen(opts.File, err)
	}
	s, err := newReplay(f, opts, wallClock{})
	if err != nil {
		f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// newReplay reads a pcap or pcapng stream from r.
func newReplay(r io.Reader, opts Options, clk clock) (*replaySource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return nil, core.NewCaptureError(core.DeviceNotFound, opts.File, fmt.Errorf("not a capture file: %w", err))
	}

	var pr packetReader
	if bytes.Equal(magic, pcapngMagic) {
		pr, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		pr, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, core.NewCaptureError(core.DeviceNotFound, opts.File, fmt.Errorf("not a capture file: %w", err))
	}

	s := &replaySource{
		reader:  pr,
		path:    opts.File,
		link:    mapLinkType(pr.LinkType()),
		rawLink: pr.LinkType(),
		snapLen: opts.SnapLen,
		speed:   opts.Speed,
		timeout: opts.ReadTimeout,
		clock:   clk,
	}
	if err := s.SetFilter(opts.Filter); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *replaySource) Next() (core.RawFrame, error) {
	if s.closed {
		return core.RawFrame{}, core.ErrClosed
	}
	if s.pending == nil {
		f, err := s.read()
		if err != nil {
			return core.RawFrame{}, err
		}
		s.pending = &f
	}

	frame := *s.pending
	now := s.clock.Now()
	if s.speed <= 0 {
		frame.Timestamp = now
	} else {
		if !s.started {
			s.started = true
			s.origin = frame.Timestamp
			s.wallBase = now
		}
		due := s.wallBase.Add(time.Duration(float64(frame.Timestamp.Sub(s.origin)) / s.speed))
		wait := due.Sub(now)
		if wait > s.timeout {
			s.clock.Sleep(s.timeout)
			return core.RawFrame{}, core.ErrTimeout
		}
		if wait > 0 {
			s.clock.Sleep(wait)
		}
		frame.Timestamp = due
	}

	s.pending = nil
	s.stats.FramesSeen++
	return frame, nil
}

// read returns the next frame accepted by the filter.
func (s *replaySource) read() (core.RawFrame, error) {
	for {
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			// A recording cut short mid-record ends like a complete one.
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.Close()
				return core.RawFrame{}, core.ErrClosed
			}
			return core.RawFrame{}, classifyRead(s.path, err)
		}
		if !matches(s.vm, data) {
			continue
		}
		return core.RawFrame{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			WireLen:    uint32(ci.Length),
			LinkType:   s.link,
		}, nil
	}
}

func (s *replaySource) Stats() core.FrameSourceStats { return s.stats }

func (s *replaySource) SetFilter(expr string) error {
	vm, err := filterVM(s.rawLink, s.snapLen, expr)
	if err != nil {
		return core.NewCaptureError(core.UnsupportedFilter, s.path, err)
	}
	s.vm = vm
	return nil
}

func (s *replaySource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
