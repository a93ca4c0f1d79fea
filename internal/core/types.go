// Package core defines core types with zero external dependencies.
package core

import (
	"net/netip"
	"strconv"
)

// LinkType identifies the link-layer framing of a captured frame.
type LinkType uint8

const (
	LinkTypeUnknown  LinkType = iota
	LinkTypeEthernet          // DLT_EN10MB
	LinkTypeRaw               // DLT_RAW, DLT_IPV4, DLT_IPV6: no link header
	LinkTypeLinuxSLL          // DLT_LINUX_SLL, "any" device on Linux
)

func (l LinkType) String() string {
	switch l {
	case LinkTypeEthernet:
		return "ethernet"
	case LinkTypeRaw:
		return "raw"
	case LinkTypeLinuxSLL:
		return "linux_sll"
	default:
		return "unknown"
	}
}

// Layer names a decoding layer.
type Layer uint8

const (
	LayerNone Layer = iota
	LayerLink
	LayerNetwork
	LayerTransport
)

func (l Layer) String() string {
	switch l {
	case LayerLink:
		return "link"
	case LayerNetwork:
		return "network"
	case LayerTransport:
		return "transport"
	default:
		return "none"
	}
}

// LinkKind is the decoded link-layer variant. The zero value is unknown.
type LinkKind uint8

const (
	LinkUnknown LinkKind = iota
	LinkEthernet
	LinkSLL
	LinkRaw
)

// MaxStoredVLANs is how many VLAN IDs a LinkHeader keeps inline (QinQ has 2).
const MaxStoredVLANs = 2

// LinkHeader represents the L2 header.
type LinkHeader struct {
	Kind      LinkKind
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16 // innermost EtherType (or SLL protocol type)
	VLANs     [MaxStoredVLANs]uint16
	NumVLANs  uint8
}

// Known reports whether the link layer was decoded.
func (h LinkHeader) Known() bool { return h.Kind != LinkUnknown }

// NetworkKind is the decoded network-layer variant. The zero value is unknown.
type NetworkKind uint8

const (
	NetworkUnknown NetworkKind = iota
	NetworkIPv4
	NetworkIPv6
)

func (k NetworkKind) String() string {
	switch k {
	case NetworkIPv4:
		return "ipv4"
	case NetworkIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// NetworkHeader represents the L3 IP header (IPv4/IPv6).
type NetworkHeader struct {
	Kind     NetworkKind
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8  // IPv6: upper-layer protocol after extension headers
	TTL      uint8  // IPv6 hop limit
	TotalLen uint16 // declared length including the IP header
	Fragment bool   // non-first fragment, no transport header follows
}

// Known reports whether the network layer was decoded.
func (h NetworkHeader) Known() bool { return h.Kind != NetworkUnknown }

// TransportKind is the decoded transport-layer variant. The zero value is unknown.
type TransportKind uint8

const (
	TransportUnknown TransportKind = iota
	TransportTCP
	TransportUDP
	TransportSCTP
	TransportICMPv4
	TransportICMPv6
)

func (k TransportKind) String() string {
	switch k {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	case TransportSCTP:
		return "sctp"
	case TransportICMPv4:
		return "icmp"
	case TransportICMPv6:
		return "icmpv6"
	default:
		return "unknown"
	}
}

// TransportHeader represents the L4 header.
type TransportHeader struct {
	Kind    TransportKind
	SrcPort uint16
	DstPort uint16
	// TCP-specific
	TCPFlags  uint8
	SeqNum    uint32
	AckNum    uint32
	HeaderLen uint16
	// UDP length field
	Length uint16
	// ICMP type/code
	ICMPType uint8
	ICMPCode uint8
}

// Known reports whether the transport layer was decoded.
func (h TransportHeader) Known() bool { return h.Kind != TransportUnknown }

// HasPorts reports whether SrcPort/DstPort carry meaning.
func (h TransportHeader) HasPorts() bool {
	return h.Kind == TransportTCP || h.Kind == TransportUDP || h.Kind == TransportSCTP
}

// IP protocol numbers used across packages.
const (
	ProtoICMPv4 uint8 = 1
	ProtoTCP    uint8 = 6
	ProtoUDP    uint8 = 17
	ProtoICMPv6 uint8 = 58
	ProtoSCTP   uint8 = 132
)

// ProtocolName returns a short name for an IP protocol number.
func ProtocolName(p uint8) string {
	switch p {
	case ProtoICMPv4:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMPv6:
		return "icmpv6"
	case ProtoSCTP:
		return "sctp"
	case 47:
		return "gre"
	case 50:
		return "esp"
	case 0:
		return "any"
	default:
		return "ip-" + strconv.Itoa(int(p))
	}
}

