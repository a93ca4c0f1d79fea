package decoder

import (
	"testing"

	"firestige.xyz/flowlens/internal/core"
)

func TestDecodeTCP(t *testing.T) {
	data := tcpHeader(12345, 80, 0x12) // SYN+ACK

	transport, failure := decodeTCP(data)
	if failure != core.FailureNone {
		t.Fatalf("decodeTCP failed: %s", failure)
	}
	if transport.Kind != core.TransportTCP {
		t.Errorf("Expected TCP, got %s", transport.Kind)
	}
	if transport.SrcPort != 12345 {
		t.Errorf("Expected SrcPort 12345, got %d", transport.SrcPort)
	}
	if transport.DstPort != 80 {
		t.Errorf("Expected DstPort 80, got %d", transport.DstPort)
	}
	if transport.SeqNum != 1 || transport.AckNum != 2 {
		t.Errorf("Expected Seq 1 Ack 2, got %d/%d", transport.SeqNum, transport.AckNum)
	}
	if transport.TCPFlags != 0x12 {
		t.Errorf("Expected flags 0x12, got 0x%02x", transport.TCPFlags)
	}
	if transport.HeaderLen != 20 {
		t.Errorf("Expected HeaderLen 20, got %d", transport.HeaderLen)
	}
}

func TestDecodeTransportFailures(t *testing.T) {
	withByte := func(b []byte, off int, v byte) []byte {
		b[off] = v
		return b
	}

	tests := []struct {
		name    string
		data    []byte
		proto   uint8
		failure core.DecodeFailure
	}{
		{"tcp too short", make([]byte, 19), core.ProtoTCP, core.FailureTruncated},
		{"tcp data offset below minimum", withByte(tcpHeader(1, 2, 0), 12, 0x40), core.ProtoTCP, core.FailureMalformedLength},
		{"tcp options beyond buffer", withByte(tcpHeader(1, 2, 0), 12, 0x80), core.ProtoTCP, core.FailureTruncated},
		{"udp too short", make([]byte, 7), core.ProtoUDP, core.FailureTruncated},
		{"udp length below header", withByte(udpHeader(1, 2, 0), 5, 4), core.ProtoUDP, core.FailureMalformedLength},
		{"sctp too short", make([]byte, 11), core.ProtoSCTP, core.FailureTruncated},
		{"icmp too short", []byte{8, 0, 0}, core.ProtoICMPv4, core.FailureTruncated},
		{"gre", make([]byte, 16), 47, core.FailureUnknownProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, failure := decodeTransport(tt.data, tt.proto)
			if failure != tt.failure {
				t.Errorf("Expected failure %s, got %s", tt.failure, failure)
			}
			if transport.Known() {
				t.Errorf("Expected unknown transport, got %s", transport.Kind)
			}
		})
	}
}

func TestDecodeUDPZeroLength(t *testing.T) {
	// Jumbogram payloads carry a zero UDP length.
	data := udpHeader(5000, 5001, 0)
	data[4], data[5] = 0, 0

	transport, failure := decodeUDP(data)
	if failure != core.FailureNone {
		t.Fatalf("Expected clean decode, got %s", failure)
	}
	if transport.Length != 0 || transport.SrcPort != 5000 {
		t.Errorf("Unexpected header %+v", transport)
	}
}

func TestDecodeSCTP(t *testing.T) {
	data := []byte{
		0x0B, 0x59, // Src Port: 2905
		0x0B, 0x59, // Dst Port: 2905
		0x00, 0x00, 0x00, 0x01, // Verification Tag
		0x00, 0x00, 0x00, 0x00, // Checksum
	}

	transport, failure := decodeTransport(data, core.ProtoSCTP)
	if failure != core.FailureNone {
		t.Fatalf("decodeSCTP failed: %s", failure)
	}
	if transport.Kind != core.TransportSCTP || transport.SrcPort != 2905 || !transport.HasPorts() {
		t.Errorf("Unexpected header %+v", transport)
	}
}

func TestDecodeICMP(t *testing.T) {
	tests := []struct {
		proto uint8
		kind  core.TransportKind
		data  []byte
	}{
		{core.ProtoICMPv4, core.TransportICMPv4, []byte{8, 0, 0xF7, 0xFF}},    // Echo request
		{core.ProtoICMPv6, core.TransportICMPv6, []byte{135, 0, 0x00, 0x00}}, // Neighbor solicitation
	}

	for _, tt := range tests {
		transport, failure := decodeTransport(tt.data, tt.proto)
		if failure != core.FailureNone {
			t.Fatalf("Expected clean decode, got %s", failure)
		}
		if transport.Kind != tt.kind {
			t.Errorf("Expected %s, got %s", tt.kind, transport.Kind)
		}
		if transport.ICMPType != tt.data[0] {
			t.Errorf("Expected type %d, got %d", tt.data[0], transport.ICMPType)
		}
		if transport.HasPorts() || transport.SrcPort != 0 {
			t.Error("ICMP must not carry ports")
		}
	}
}

func BenchmarkDecodeTCP(b *testing.B) {
	data := tcpHeader(12345, 80, 0x18)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = decodeTCP(data)
	}
}
