package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/flowlens/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40

	// IPv6 extension headers walked to reach the upper-layer protocol
	ipv6HopByHop    = 0
	ipv6Routing     = 43
	ipv6Fragment    = 44
	ipv6AuthHeader  = 51
	ipv6DestOptions = 60
	ipv6NoNext      = 59

	maxIPv6ExtHeaders = 8
)

// decodeIPv4 decodes IPv4 header.
// The payload is clipped to the declared total length so link padding is not
// mistaken for transport bytes.
func decodeIPv4(data []byte) (core.NetworkHeader, []byte, core.DecodeFailure) {
	if len(data) < ipv4HeaderMinLen {
		return core.NetworkHeader{}, nil, core.FailureTruncated
	}
	if data[0]>>4 != 4 {
		return core.NetworkHeader{}, nil, core.FailureUnknownProtocol
	}

	// IHL (Internet Header Length) - lower 4 bits of first byte, in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen {
		return core.NetworkHeader{}, nil, core.FailureMalformedLength
	}
	if len(data) < headerLen {
		return core.NetworkHeader{}, nil, core.FailureTruncated
	}

	// Total Length (2 bytes at offset 2)
	totalLen := binary.BigEndian.Uint16(data[2:4])

	// Zero total length is what TSO-offloaded segments look like when captured
	// on the sending host; fall back to the captured length.
	end := len(data)
	if totalLen != 0 {
		if int(totalLen) < headerLen {
			return core.NetworkHeader{}, nil, core.FailureMalformedLength
		}
		end = min(end, int(totalLen))
	}

	ip := core.NetworkHeader{
		Kind:     core.NetworkIPv4,
		TotalLen: totalLen,
		TTL:      data[8],
		Protocol: data[9],
		SrcIP:    netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:    netip.AddrFrom4([4]byte(data[16:20])),
	}

	// Flags and Fragment Offset (2 bytes at offset 6). The first fragment
	// still carries the transport header; later ones do not.
	if binary.BigEndian.Uint16(data[6:8])&0x1FFF != 0 {
		ip.Fragment = true
		return ip, nil, core.FailureFragment
	}

	return ip, data[headerLen:end], core.FailureNone
}

// decodeIPv6 decodes IPv6 header and walks the extension header chain.
// Extension chain problems keep the fixed header: the returned header is
// known and only the transport layer is lost.
func decodeIPv6(data []byte) (core.NetworkHeader, []byte, core.DecodeFailure) {
	if len(data) < ipv6HeaderLen {
		return core.NetworkHeader{}, nil, core.FailureTruncated
	}
	if data[0]>>4 != 6 {
		return core.NetworkHeader{}, nil, core.FailureUnknownProtocol
	}

	// Payload Length (2 bytes at offset 4). Zero means a jumbogram or a
	// TSO segment; use what was captured.
	payloadLen := binary.BigEndian.Uint16(data[4:6])
	end := len(data)
	if payloadLen != 0 {
		end = min(end, ipv6HeaderLen+int(payloadLen))
	}

	ip := core.NetworkHeader{
		Kind:     core.NetworkIPv6,
		TotalLen: uint16(min(int(payloadLen)+ipv6HeaderLen, 0xFFFF)),
		Protocol: data[6], // Next Header
		TTL:      data[7], // Hop Limit
		SrcIP:    netip.AddrFrom16([16]byte(data[8:24])),
		DstIP:    netip.AddrFrom16([16]byte(data[24:40])),
	}

	rest := data[ipv6HeaderLen:end]
	for n := 0; ; n++ {
		var hdrLen int
		switch ip.Protocol {
		case ipv6HopByHop, ipv6Routing, ipv6DestOptions:
			if len(rest) < 2 {
				return ip, nil, core.FailureTruncated
			}
			hdrLen = (int(rest[1]) + 1) * 8
		case ipv6Fragment:
			if len(rest) < 8 {
				return ip, nil, core.FailureTruncated
			}
			if binary.BigEndian.Uint16(rest[2:4])>>3 != 0 {
				ip.Protocol = rest[0]
				ip.Fragment = true
				return ip, nil, core.FailureFragment
			}
			hdrLen = 8
		case ipv6AuthHeader:
			if len(rest) < 2 {
				return ip, nil, core.FailureTruncated
			}
			hdrLen = (int(rest[1]) + 2) * 4
		default:
			return ip, rest, core.FailureNone
		}

		if n == maxIPv6ExtHeaders {
			return ip, nil, core.FailureMalformedLength
		}
		if len(rest) < hdrLen {
			return ip, nil, core.FailureTruncated
		}
		ip.Protocol = rest[0]
		rest = rest[hdrLen:]
	}
}
