// Package decoder implements L2-L4 protocol stack decoding.
//
// Decoding is total: malformed, truncated or unrecognized input never panics
// and never returns an error. The first layer that cannot be parsed is left
// in its unknown variant, the reason is recorded on the packet, and decoding
// stops there. Every length taken from the wire is range-checked before use
// and no slice of the input outlives the call.
package decoder

import (
	"firestige.xyz/flowlens/internal/core"
)

// Decode decodes one frame of the given link type. At most captureLen bytes
// of data are read; wireLen is carried through for byte attribution.
func Decode(data []byte, wireLen, captureLen uint32, link core.LinkType) core.DecodedPacket {
	if uint64(captureLen) < uint64(len(data)) {
		data = data[:captureLen]
	}

	pkt := core.DecodedPacket{
		WireLen:    wireLen,
		CaptureLen: uint32(len(data)),
	}
	if len(data) == 0 {
		fail(&pkt, core.FailureTruncated, core.LayerLink)
		return pkt
	}

	var (
		payload   []byte
		etherType uint16
		failure   core.DecodeFailure
	)

	switch link {
	case core.LinkTypeEthernet:
		pkt.Link, payload, failure = decodeEthernet(data)
		etherType = pkt.Link.EtherType
	case core.LinkTypeLinuxSLL:
		pkt.Link, payload, failure = decodeSLL(data)
		etherType = pkt.Link.EtherType
	case core.LinkTypeRaw:
		pkt.Link = core.LinkHeader{Kind: core.LinkRaw}
		payload = data
		etherType = etherTypeFromVersion(data)
	default:
		failure = core.FailureUnknownProtocol
	}
	if failure != core.FailureNone {
		fail(&pkt, failure, core.LayerLink)
		return pkt
	}

	var ipPayload []byte
	switch etherType {
	case etherTypeIPv4:
		pkt.Network, ipPayload, failure = decodeIPv4(payload)
	case etherTypeIPv6:
		pkt.Network, ipPayload, failure = decodeIPv6(payload)
	default:
		failure = core.FailureUnknownProtocol
	}
	if failure != core.FailureNone {
		// Fragments and IPv6 extension-chain problems leave the IP header
		// intact; only the transport layer is lost.
		if pkt.Network.Known() {
			fail(&pkt, failure, core.LayerTransport)
		} else {
			fail(&pkt, failure, core.LayerNetwork)
		}
		return pkt
	}

	pkt.Transport, failure = decodeTransport(ipPayload, pkt.Network.Protocol)
	if failure != core.FailureNone {
		fail(&pkt, failure, core.LayerTransport)
	}
	return pkt
}

// DecodeFrame decodes a captured frame and stamps its capture time.
func DecodeFrame(f core.RawFrame) core.DecodedPacket {
	pkt := Decode(f.Data, f.WireLen, f.CaptureLen, f.LinkType)
	pkt.Timestamp = f.Timestamp
	return pkt
}

func fail(pkt *core.DecodedPacket, f core.DecodeFailure, layer core.Layer) {
	pkt.Failure = f
	pkt.FailedLayer = layer
}

// etherTypeFromVersion maps the IP version nibble of a raw-IP frame to the
// matching EtherType so raw and framed packets share one dispatch.
func etherTypeFromVersion(data []byte) uint16 {
	switch data[0] >> 4 {
	case 4:
		return etherTypeIPv4
	case 6:
		return etherTypeIPv6
	default:
		return 0
	}
}
