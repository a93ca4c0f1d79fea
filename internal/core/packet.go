// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawFrame is one captured link-layer frame.
// Data may reference a zero-copy ring buffer: it is only valid until the next
// call to Next on the source that produced it.
type RawFrame struct {
	Data       []byte
	Timestamp  time.Time
	CaptureLen uint32 // bytes actually captured (≤ snaplen)
	WireLen    uint32 // original frame length on the wire
	LinkType   LinkType
}

// DecodedPacket is the result of L2-L4 decoding. Layers that were not parsed
// keep their unknown zero value; Failure tells why decoding stopped early.
type DecodedPacket struct {
	Timestamp  time.Time
	WireLen    uint32
	CaptureLen uint32

	Link      LinkHeader
	Network   NetworkHeader
	Transport TransportHeader

	Failure     DecodeFailure
	FailedLayer Layer
}

// DecodeFailure classifies why a layer could not be decoded.
type DecodeFailure uint8

const (
	FailureNone DecodeFailure = iota
	FailureTruncated
	FailureUnknownProtocol
	FailureMalformedLength
	FailureFragment

	numFailures
)

func (f DecodeFailure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTruncated:
		return "truncated"
	case FailureUnknownProtocol:
		return "unknown_protocol"
	case FailureMalformedLength:
		return "malformed_length"
	case FailureFragment:
		return "fragment"
	default:
		return "invalid"
	}
}

// DecodeFailures lists every reportable failure category.
func DecodeFailures() []DecodeFailure {
	return []DecodeFailure{FailureTruncated, FailureUnknownProtocol, FailureMalformedLength, FailureFragment}
}

// FailureCounts tallies decode failures by category.
type FailureCounts [numFailures]uint64

// Get returns the tally for f.
func (c FailureCounts) Get(f DecodeFailure) uint64 {
	if f >= numFailures {
		return 0
	}
	return c[f]
}

// Total sums all failure categories.
func (c FailureCounts) Total() uint64 {
	var n uint64
	for _, f := range DecodeFailures() {
		n += c[f]
	}
	return n
}

// Map renders the tally keyed by category name.
func (c FailureCounts) Map() map[string]uint64 {
	m := make(map[string]uint64, numFailures-1)
	for _, f := range DecodeFailures() {
		m[f.String()] = c[f]
	}
	return m
}

// FrameSourceStats are monotonically non-decreasing counters for one capture session.
type FrameSourceStats struct {
	FramesSeen      uint64        `json:"frames_seen"`
	FramesDropped   uint64        `json:"frames_dropped"`
	FramesIfDropped uint64        `json:"frames_if_dropped"`
	DecodeFailures  FailureCounts `json:"-"`
	Unattributable  uint64        `json:"unattributable"`
}
