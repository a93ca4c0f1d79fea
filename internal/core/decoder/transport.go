package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowlens/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
	sctpHeaderLen   = 12
	icmpHeaderLen   = 4
)

// decodeTransport decodes the transport layer header.
func decodeTransport(data []byte, protocol uint8) (core.TransportHeader, core.DecodeFailure) {
	switch protocol {
	case core.ProtoTCP:
		return decodeTCP(data)
	case core.ProtoUDP:
		return decodeUDP(data)
	case core.ProtoSCTP:
		return decodeSCTP(data)
	case core.ProtoICMPv4:
		return decodeICMP(data, core.TransportICMPv4)
	case core.ProtoICMPv6:
		return decodeICMP(data, core.TransportICMPv6)
	default:
		// GRE, ESP, ... stay unknown; the network layer still names them.
		return core.TransportHeader{}, core.FailureUnknownProtocol
	}
}

// decodeUDP decodes UDP header.
func decodeUDP(data []byte) (core.TransportHeader, core.DecodeFailure) {
	if len(data) < udpHeaderLen {
		return core.TransportHeader{}, core.FailureTruncated
	}

	// Length (2 bytes at offset 4) - includes header and data.
	// Zero is legal for IPv6 jumbograms.
	length := binary.BigEndian.Uint16(data[4:6])
	if length != 0 && length < udpHeaderLen {
		return core.TransportHeader{}, core.FailureMalformedLength
	}

	return core.TransportHeader{
		Kind:    core.TransportUDP,
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Length:  length,
	}, core.FailureNone
}

// decodeTCP decodes TCP header.
func decodeTCP(data []byte) (core.TransportHeader, core.DecodeFailure) {
	if len(data) < tcpHeaderMinLen {
		return core.TransportHeader{}, core.FailureTruncated
	}

	// Data Offset (upper 4 bits of byte 12), in 32-bit words
	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen {
		return core.TransportHeader{}, core.FailureMalformedLength
	}
	if len(data) < headerLen {
		return core.TransportHeader{}, core.FailureTruncated
	}

	return core.TransportHeader{
		Kind:      core.TransportTCP,
		SrcPort:   binary.BigEndian.Uint16(data[0:2]),
		DstPort:   binary.BigEndian.Uint16(data[2:4]),
		SeqNum:    binary.BigEndian.Uint32(data[4:8]),
		AckNum:    binary.BigEndian.Uint32(data[8:12]),
		HeaderLen: uint16(headerLen),
		// Byte 13: CWR ECE URG ACK PSH RST SYN FIN
		TCPFlags: data[13],
	}, core.FailureNone
}

// decodeSCTP decodes the SCTP common header.
func decodeSCTP(data []byte) (core.TransportHeader, core.DecodeFailure) {
	if len(data) < sctpHeaderLen {
		return core.TransportHeader{}, core.FailureTruncated
	}
	return core.TransportHeader{
		Kind:    core.TransportSCTP,
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
	}, core.FailureNone
}

// decodeICMP decodes ICMP and ICMPv6 type and code. ICMP has no ports.
func decodeICMP(data []byte, kind core.TransportKind) (core.TransportHeader, core.DecodeFailure) {
	if len(data) < icmpHeaderLen {
		return core.TransportHeader{}, core.FailureTruncated
	}
	return core.TransportHeader{
		Kind:     kind,
		ICMPType: data[0],
		ICMPCode: data[1],
	}, core.FailureNone
}
