package source

import (
	"github.com/google/gopacket/layers"

	"firestige.xyz/flowlens/internal/core"
)

// Raw IP link types that are not named in layers: DLT_RAW as numbered on
// some BSDs (12) and OpenBSD (14).
const (
	linkTypeRawBSD     layers.LinkType = 12
	linkTypeRawOpenBSD layers.LinkType = 14
)

// mapLinkType converts a capture link type to the decoder's link type.
// Unsupported types map to core.LinkTypeUnknown; their frames still flow
// and decode as all-unknown packets.
func mapLinkType(lt layers.LinkType) core.LinkType {
	switch lt {
	case layers.LinkTypeEthernet:
		return core.LinkTypeEthernet
	case layers.LinkTypeLinuxSLL:
		return core.LinkTypeLinuxSLL
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6, linkTypeRawBSD, linkTypeRawOpenBSD:
		return core.LinkTypeRaw
	default:
		return core.LinkTypeUnknown
	}
}
