package decoder

import (
	"net/netip"
	"testing"
	"time"

	"firestige.xyz/flowlens/internal/core"
)

var (
	ip4A = [4]byte{192, 168, 1, 1}
	ip4B = [4]byte{192, 168, 1, 2}
)

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ethHeader builds a 14-byte Ethernet header.
func ethHeader(etherType uint16) []byte {
	return []byte{
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, // Dst MAC
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, // Src MAC
		byte(etherType >> 8), byte(etherType), // EtherType
	}
}

// ipv4Header builds a 20-byte IPv4 header without options.
func ipv4Header(proto uint8, payloadLen int, src, dst [4]byte) []byte {
	total := ipv4HeaderMinLen + payloadLen
	h := []byte{
		0x45, 0x00, // Version 4, IHL 5, DSCP/ECN
		byte(total >> 8), byte(total), // Total Length
		0x12, 0x34, // Identification
		0x00, 0x00, // Flags, Fragment Offset
		0x40,       // TTL: 64
		proto,      // Protocol
		0x00, 0x00, // Checksum (not calculated)
	}
	h = append(h, src[:]...)
	return append(h, dst[:]...)
}

// ipv6Header builds a 40-byte IPv6 fixed header.
func ipv6Header(next uint8, payloadLen int, src, dst string) []byte {
	h := []byte{
		0x60, 0x00, 0x00, 0x00, // Version 6, traffic class, flow label
		byte(payloadLen >> 8), byte(payloadLen), // Payload Length
		next, // Next Header
		0x40, // Hop Limit: 64
	}
	s := netip.MustParseAddr(src).As16()
	d := netip.MustParseAddr(dst).As16()
	h = append(h, s[:]...)
	return append(h, d[:]...)
}

// udpHeader builds an 8-byte UDP header.
func udpHeader(src, dst uint16, payloadLen int) []byte {
	l := udpHeaderLen + payloadLen
	return []byte{
		byte(src >> 8), byte(src), // Src Port
		byte(dst >> 8), byte(dst), // Dst Port
		byte(l >> 8), byte(l), // Length
		0x00, 0x00, // Checksum (not calculated)
	}
}

// tcpHeader builds a 20-byte TCP header without options.
func tcpHeader(src, dst uint16, flags uint8) []byte {
	return []byte{
		byte(src >> 8), byte(src), // Src Port
		byte(dst >> 8), byte(dst), // Dst Port
		0x00, 0x00, 0x00, 0x01, // Sequence Number: 1
		0x00, 0x00, 0x00, 0x02, // Acknowledgment Number: 2
		0x50,       // Data Offset: 5 (20 bytes)
		flags,      // Flags
		0xFF, 0xFF, // Window
		0x00, 0x00, // Checksum
		0x00, 0x00, // Urgent Pointer
	}
}

// makeSimpleUDPPacket returns Ethernet + IPv4 + UDP, 192.168.1.1:5000 -> 192.168.1.2:5001.
func makeSimpleUDPPacket() []byte {
	return concat(ethHeader(etherTypeIPv4), ipv4Header(core.ProtoUDP, udpHeaderLen, ip4A, ip4B), udpHeader(5000, 5001, 0))
}

func makeSimpleTCPPacket() []byte {
	return concat(ethHeader(etherTypeIPv4), ipv4Header(core.ProtoTCP, tcpHeaderMinLen, ip4A, ip4B), tcpHeader(40000, 443, 0x12))
}

func decodeEth(frame []byte) core.DecodedPacket {
	return Decode(frame, uint32(len(frame)), uint32(len(frame)), core.LinkTypeEthernet)
}

func TestDecodeUDP(t *testing.T) {
	decoded := decodeEth(makeSimpleUDPPacket())

	if decoded.Failure != core.FailureNone {
		t.Fatalf("Expected no failure, got %s at %s", decoded.Failure, decoded.FailedLayer)
	}

	// Verify Ethernet header
	if decoded.Link.Kind != core.LinkEthernet {
		t.Errorf("Expected ethernet link, got %d", decoded.Link.Kind)
	}
	if decoded.Link.EtherType != 0x0800 {
		t.Errorf("Expected EtherType 0x0800, got 0x%04x", decoded.Link.EtherType)
	}
	expectedSrcMAC := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	if decoded.Link.SrcMAC != expectedSrcMAC {
		t.Errorf("Expected SrcMAC %v, got %v", expectedSrcMAC, decoded.Link.SrcMAC)
	}

	// Verify IP header
	if decoded.Network.Kind != core.NetworkIPv4 {
		t.Errorf("Expected IPv4, got %s", decoded.Network.Kind)
	}
	if decoded.Network.Protocol != core.ProtoUDP {
		t.Errorf("Expected protocol 17 (UDP), got %d", decoded.Network.Protocol)
	}
	if decoded.Network.SrcIP != netip.MustParseAddr("192.168.1.1") {
		t.Errorf("Expected SrcIP 192.168.1.1, got %v", decoded.Network.SrcIP)
	}
	if decoded.Network.DstIP != netip.MustParseAddr("192.168.1.2") {
		t.Errorf("Expected DstIP 192.168.1.2, got %v", decoded.Network.DstIP)
	}

	// Verify Transport header
	if decoded.Transport.Kind != core.TransportUDP {
		t.Errorf("Expected UDP, got %s", decoded.Transport.Kind)
	}
	if decoded.Transport.SrcPort != 5000 {
		t.Errorf("Expected SrcPort 5000, got %d", decoded.Transport.SrcPort)
	}
	if decoded.Transport.DstPort != 5001 {
		t.Errorf("Expected DstPort 5001, got %d", decoded.Transport.DstPort)
	}
	if decoded.WireLen != 42 || decoded.CaptureLen != 42 {
		t.Errorf("Expected lengths 42/42, got %d/%d", decoded.WireLen, decoded.CaptureLen)
	}
}

// A TCP segment captured one byte short of its header keeps the IP layer.
func TestDecodeTruncatedTCPHeader(t *testing.T) {
	full := makeSimpleTCPPacket()
	frame := full[:len(full)-1]

	decoded := Decode(frame, uint32(len(full)), uint32(len(frame)), core.LinkTypeEthernet)

	if !decoded.Network.Known() {
		t.Fatal("Expected network layer to be decoded")
	}
	if decoded.Network.SrcIP != netip.AddrFrom4(ip4A) {
		t.Errorf("Expected SrcIP %v, got %v", netip.AddrFrom4(ip4A), decoded.Network.SrcIP)
	}
	if decoded.Transport.Known() {
		t.Errorf("Expected transport unknown, got %s", decoded.Transport.Kind)
	}
	if decoded.Failure != core.FailureTruncated || decoded.FailedLayer != core.LayerTransport {
		t.Errorf("Expected truncated at transport, got %s at %s", decoded.Failure, decoded.FailedLayer)
	}
	if decoded.WireLen != uint32(len(full)) {
		t.Errorf("Expected WireLen %d, got %d", len(full), decoded.WireLen)
	}
}

func TestDecodeZeroLength(t *testing.T) {
	for _, link := range []core.LinkType{core.LinkTypeEthernet, core.LinkTypeRaw, core.LinkTypeLinuxSLL, core.LinkTypeUnknown} {
		decoded := Decode(nil, 0, 0, link)

		if decoded.Link.Known() || decoded.Network.Known() || decoded.Transport.Known() {
			t.Errorf("%s: expected all layers unknown, got %+v", link, decoded)
		}
		if decoded.Failure != core.FailureTruncated {
			t.Errorf("%s: expected truncated, got %s", link, decoded.Failure)
		}
	}
}

func TestDecodeRespectsCaptureLen(t *testing.T) {
	frame := makeSimpleTCPPacket()

	// Buffer holds the whole frame but only 44 bytes were captured.
	decoded := Decode(frame, uint32(len(frame)), 44, core.LinkTypeEthernet)

	if decoded.CaptureLen != 44 {
		t.Errorf("Expected CaptureLen 44, got %d", decoded.CaptureLen)
	}
	if decoded.Transport.Known() || decoded.Failure != core.FailureTruncated {
		t.Errorf("Expected truncated transport, got %s/%s", decoded.Transport.Kind, decoded.Failure)
	}

	// A capture length beyond the buffer is clipped to the buffer.
	decoded = Decode(frame, uint32(len(frame)), 9000, core.LinkTypeEthernet)
	if decoded.CaptureLen != uint32(len(frame)) || decoded.Failure != core.FailureNone {
		t.Errorf("Expected clean decode of %d bytes, got %d/%s", len(frame), decoded.CaptureLen, decoded.Failure)
	}
}

func TestDecodeRawIP(t *testing.T) {
	packet := concat(ipv4Header(core.ProtoUDP, udpHeaderLen, ip4A, ip4B), udpHeader(53, 33000, 0))

	decoded := Decode(packet, uint32(len(packet)), uint32(len(packet)), core.LinkTypeRaw)
	if decoded.Link.Kind != core.LinkRaw {
		t.Errorf("Expected raw link, got %d", decoded.Link.Kind)
	}
	if decoded.Transport.Kind != core.TransportUDP || decoded.Transport.SrcPort != 53 {
		t.Errorf("Expected UDP from port 53, got %s:%d", decoded.Transport.Kind, decoded.Transport.SrcPort)
	}

	v6 := concat(ipv6Header(core.ProtoUDP, udpHeaderLen, "2001:db8::1", "2001:db8::2"), udpHeader(53, 33000, 0))
	decoded = Decode(v6, uint32(len(v6)), uint32(len(v6)), core.LinkTypeRaw)
	if decoded.Network.Kind != core.NetworkIPv6 || decoded.Transport.Kind != core.TransportUDP {
		t.Errorf("Expected IPv6/UDP, got %s/%s", decoded.Network.Kind, decoded.Transport.Kind)
	}

	// Version nibble 5 is not IP.
	bogus := []byte{0x50, 0x00, 0x00, 0x14}
	decoded = Decode(bogus, 4, 4, core.LinkTypeRaw)
	if decoded.Network.Known() || decoded.Failure != core.FailureUnknownProtocol || decoded.FailedLayer != core.LayerNetwork {
		t.Errorf("Expected unknown_protocol at network, got %s at %s", decoded.Failure, decoded.FailedLayer)
	}
}

func TestDecodeLinuxSLL(t *testing.T) {
	sll := []byte{
		0x00, 0x00, // Packet type: to us
		0x00, 0x01, // ARPHRD_ETHER
		0x00, 0x06, // Address length
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x00, // Address (padded)
		0x86, 0xDD, // Protocol: IPv6
	}
	frame := concat(sll, ipv6Header(core.ProtoTCP, tcpHeaderMinLen, "fe80::1", "fe80::2"), tcpHeader(22, 50000, 0x10))

	decoded := Decode(frame, uint32(len(frame)), uint32(len(frame)), core.LinkTypeLinuxSLL)
	if decoded.Link.Kind != core.LinkSLL {
		t.Errorf("Expected SLL link, got %d", decoded.Link.Kind)
	}
	if decoded.Link.SrcMAC != [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF} {
		t.Errorf("Unexpected SrcMAC %v", decoded.Link.SrcMAC)
	}
	if decoded.Transport.Kind != core.TransportTCP || decoded.Transport.SrcPort != 22 {
		t.Errorf("Expected TCP from port 22, got %s:%d", decoded.Transport.Kind, decoded.Transport.SrcPort)
	}
}

func TestDecodeNonIPEtherType(t *testing.T) {
	// ARP request, 28 bytes of payload
	frame := concat(ethHeader(0x0806), make([]byte, 28))

	decoded := decodeEth(frame)
	if !decoded.Link.Known() {
		t.Error("Expected link layer to be decoded")
	}
	if decoded.Network.Known() {
		t.Error("Expected network layer unknown")
	}
	if decoded.Failure != core.FailureUnknownProtocol || decoded.FailedLayer != core.LayerNetwork {
		t.Errorf("Expected unknown_protocol at network, got %s at %s", decoded.Failure, decoded.FailedLayer)
	}
}

func TestDecodeUnknownLinkType(t *testing.T) {
	frame := makeSimpleUDPPacket()
	decoded := Decode(frame, uint32(len(frame)), uint32(len(frame)), core.LinkTypeUnknown)

	if decoded.Link.Known() || decoded.Failure != core.FailureUnknownProtocol || decoded.FailedLayer != core.LayerLink {
		t.Errorf("Expected unknown_protocol at link, got %s at %s", decoded.Failure, decoded.FailedLayer)
	}
}

func TestDecodeFrame(t *testing.T) {
	data := makeSimpleUDPPacket()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	decoded := DecodeFrame(core.RawFrame{
		Data:       data,
		Timestamp:  ts,
		CaptureLen: uint32(len(data)),
		WireLen:    1514,
		LinkType:   core.LinkTypeEthernet,
	})

	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %v, got %v", ts, decoded.Timestamp)
	}
	if decoded.WireLen != 1514 {
		t.Errorf("Expected WireLen 1514, got %d", decoded.WireLen)
	}

	// The decoded packet must not alias the frame buffer.
	for i := range data {
		data[i] = 0
	}
	if decoded.Network.SrcIP != netip.AddrFrom4(ip4A) || decoded.Transport.SrcPort != 5000 {
		t.Errorf("Decoded values changed after buffer reuse: %v:%d", decoded.Network.SrcIP, decoded.Transport.SrcPort)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(makeSimpleUDPPacket(), uint8(core.LinkTypeEthernet))
	f.Add(makeSimpleTCPPacket(), uint8(core.LinkTypeEthernet))
	f.Add(concat(ipv6Header(ipv6HopByHop, 8, "::1", "::2"), []byte{6, 0, 0, 0, 0, 0, 0, 0}), uint8(core.LinkTypeRaw))
	f.Add([]byte{}, uint8(core.LinkTypeLinuxSLL))

	f.Fuzz(func(t *testing.T, data []byte, link uint8) {
		decoded := Decode(data, uint32(len(data)), uint32(len(data)), core.LinkType(link%4))

		if decoded.Transport.Known() && !decoded.Network.Known() {
			t.Fatal("transport decoded without network layer")
		}
		if decoded.Network.Known() && !decoded.Link.Known() {
			t.Fatal("network decoded without link layer")
		}
		if decoded.Failure == core.FailureNone && !decoded.Transport.Known() {
			t.Fatal("clean decode left transport unknown")
		}
		if decoded.Failure != core.FailureNone && decoded.FailedLayer == core.LayerNone {
			t.Fatal("failure without a layer")
		}
	})
}

func BenchmarkDecode(b *testing.B) {
	packet := makeSimpleTCPPacket()
	n := uint32(len(packet))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pkt := Decode(packet, n, n, core.LinkTypeEthernet)
		if pkt.Failure != core.FailureNone {
			b.Fatal(pkt.Failure)
		}
	}
}
