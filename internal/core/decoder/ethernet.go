package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowlens/internal/core"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	maxVLANDepth      = 4

	// Linux cooked capture (SLL v1)
	sllHeaderLen = 16

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// decodeEthernet decodes Ethernet frame header (including VLAN tags).
// Returns the link header and remaining payload.
func decodeEthernet(data []byte) (core.LinkHeader, []byte, core.DecodeFailure) {
	if len(data) < ethernetHeaderLen {
		return core.LinkHeader{}, nil, core.FailureTruncated
	}

	eth := core.LinkHeader{Kind: core.LinkEthernet}

	// Destination MAC (6 bytes)
	copy(eth.DstMAC[:], data[0:6])

	// Source MAC (6 bytes)
	copy(eth.SrcMAC[:], data[6:12])

	// EtherType (2 bytes)
	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	// Handle VLAN tags (can be nested: QinQ)
	depth := 0
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if depth == maxVLANDepth {
			return core.LinkHeader{}, nil, core.FailureMalformedLength
		}
		if len(data) < offset+vlanHeaderLen {
			return core.LinkHeader{}, nil, core.FailureTruncated
		}

		// VLAN header: 2 bytes TCI + 2 bytes EtherType
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		if depth < core.MaxStoredVLANs {
			eth.VLANs[depth] = tci & 0x0FFF // Lower 12 bits are VLAN ID
			eth.NumVLANs++
		}
		depth++

		// Next EtherType
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	// Non-IP EtherTypes (ARP, LLDP, ...) are still a valid link layer;
	// the network dispatch classifies them.
	eth.EtherType = etherType
	return eth, data[offset:], core.FailureNone
}

// decodeSLL decodes a Linux cooked capture header, as produced by the
// "any" pseudo-device.
//
//	0-1   packet type
//	2-3   ARPHRD type
//	4-5   link-layer address length
//	6-13  link-layer address (padded)
//	14-15 protocol (EtherType)
func decodeSLL(data []byte) (core.LinkHeader, []byte, core.DecodeFailure) {
	if len(data) < sllHeaderLen {
		return core.LinkHeader{}, nil, core.FailureTruncated
	}

	sll := core.LinkHeader{Kind: core.LinkSLL}
	if binary.BigEndian.Uint16(data[4:6]) == 6 {
		copy(sll.SrcMAC[:], data[6:12])
	}
	sll.EtherType = binary.BigEndian.Uint16(data[14:16])
	return sll, data[sllHeaderLen:], core.FailureNone
}
