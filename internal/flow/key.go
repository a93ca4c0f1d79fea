// Package flow aggregates decoded packets into direction-independent flows
// with exponentially decayed rates.
package flow

import (
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"firestige.xyz/flowlens/internal/core"
)

// Endpoint is one side of a flow.
type Endpoint struct {
	Addr netip.Addr `json:"addr"`
	Port uint16     `json:"port"`
}

// Compare orders endpoints by address, then port.
func (e Endpoint) Compare(o Endpoint) int {
	if c := e.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	switch {
	case e.Port < o.Port:
		return -1
	case e.Port > o.Port:
		return 1
	default:
		return 0
	}
}

func (e Endpoint) String() string {
	if e.Port == 0 {
		return e.Addr.String()
	}
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

// Key identifies a flow regardless of packet direction. Lo always compares
// lower than or equal to Hi, so both directions of a conversation map to the
// same Key. Key is comparable and is used directly as a map key.
type Key struct {
	Lo    Endpoint `json:"lo"`
	Hi    Endpoint `json:"hi"`
	Proto uint8    `json:"proto"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s <-> %s %s", k.Lo, k.Hi, core.ProtocolName(k.Proto))
}

// Direction tells which endpoint of a Key sent a packet.
type Direction uint8

const (
	FromLo Direction = iota
	FromHi
)

func (d Direction) String() string {
	if d == FromHi {
		return "hi->lo"
	}
	return "lo->hi"
}

// KeyMode selects how much of the packet goes into the flow key.
type KeyMode uint8

const (
	// KeyEndpoints keys on address, port and IP protocol.
	KeyEndpoints KeyMode = iota
	// KeyHosts keys on the address pair only. Ports and protocol are zeroed
	// so a single entry carries a mixed-protocol histogram.
	KeyHosts
)

// ParseKeyMode parses "endpoints" or "hosts".
func ParseKeyMode(s string) (KeyMode, error) {
	switch s {
	case "", "endpoints":
		return KeyEndpoints, nil
	case "hosts":
		return KeyHosts, nil
	default:
		return 0, fmt.Errorf("unknown key mode %q", s)
	}
}

func (m KeyMode) String() string {
	switch m {
	case KeyEndpoints:
		return "endpoints"
	case KeyHosts:
		return "hosts"
	default:
		return "mode-" + strconv.Itoa(int(m))
	}
}

// Observation is one packet attributed to a flow.
type Observation struct {
	Key       Key
	Dir       Direction
	Bytes     uint32 // wire length credited to the flow
	Proto     uint8  // IP protocol, for the histogram
	Timestamp time.Time
}

// Normalize maps a decoded packet onto its canonical flow key. It reports
// false when the packet has no usable network layer.
//
// Packets whose transport layer is unknown or carries no ports (ICMP, a
// truncated TCP header) still form a flow with both ports zero.
func Normalize(p *core.DecodedPacket, mode KeyMode) (Observation, bool) {
	if !p.Network.Known() || !p.Network.SrcIP.IsValid() || !p.Network.DstIP.IsValid() {
		return Observation{}, false
	}

	src := Endpoint{Addr: p.Network.SrcIP}
	dst := Endpoint{Addr: p.Network.DstIP}
	if p.Transport.HasPorts() {
		src.Port = p.Transport.SrcPort
		dst.Port = p.Transport.DstPort
	}

	proto := p.Network.Protocol
	keyProto := proto
	if mode == KeyHosts {
		src.Port, dst.Port = 0, 0
		keyProto = 0
	}

	o := Observation{
		Dir:       FromLo,
		Bytes:     p.WireLen,
		Proto:     proto,
		Timestamp: p.Timestamp,
	}
	if o.Bytes == 0 {
		o.Bytes = p.CaptureLen
	}

	if src.Compare(dst) <= 0 {
		o.Key = Key{Lo: src, Hi: dst, Proto: keyProto}
	} else {
		o.Key = Key{Lo: dst, Hi: src, Proto: keyProto}
		o.Dir = FromHi
	}
	return o, true
}
