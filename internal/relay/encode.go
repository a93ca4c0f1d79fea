package relay

import (
	"encoding/json"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"firestige.xyz/flowlens/internal/flow"
)

// Message is the JSON wire form of a snapshot.
type Message struct {
	Seq        uint64       `json:"seq"`
	At         time.Time    `json:"at"`
	IntervalMS int64        `json:"interval_ms"`
	Evicted    int          `json:"evicted"`
	TotalFlows int          `json:"total_flows"`
	ByteRate   float64      `json:"byte_rate"`
	Flows      []flow.Entry `json:"flows"`
}

func encodeJSON(s *flow.Snapshot, top int) ([]byte, error) {
	return json.Marshal(Message{
		Seq:        s.Seq,
		At:         s.At,
		IntervalMS: s.Interval.Milliseconds(),
		Evicted:    s.Evicted,
		TotalFlows: len(s.Flows),
		ByteRate:   s.ByteRate(),
		Flows:      s.Top(top),
	})
}

// Protobuf field numbers.
//
//	message Snapshot {
//	  uint64 seq = 1;
//	  google.protobuf.Timestamp at = 2;
//	  uint64 interval_ms = 3;
//	  uint64 evicted = 4;
//	  repeated Flow flows = 5;
//	  uint64 total_flows = 6;
//	}
//	message Flow {
//	  bytes lo_addr = 1;  uint32 lo_port = 2;
//	  bytes hi_addr = 3;  uint32 hi_port = 4;
//	  uint32 proto = 5;
//	  uint64 bytes_lo_hi = 6;   uint64 bytes_hi_lo = 7;
//	  uint64 packets_lo_hi = 8; uint64 packets_hi_lo = 9;
//	  double rate_lo_hi = 10;   double rate_hi_lo = 11;
//	  google.protobuf.Timestamp last_seen = 12;
//	}
const (
	fSnapSeq        protowire.Number = 1
	fSnapAt         protowire.Number = 2
	fSnapIntervalMS protowire.Number = 3
	fSnapEvicted    protowire.Number = 4
	fSnapFlows      protowire.Number = 5
	fSnapTotalFlows protowire.Number = 6

	fFlowLoAddr      protowire.Number = 1
	fFlowLoPort      protowire.Number = 2
	fFlowHiAddr      protowire.Number = 3
	fFlowHiPort      protowire.Number = 4
	fFlowProto       protowire.Number = 5
	fFlowBytesLoHi   protowire.Number = 6
	fFlowBytesHiLo   protowire.Number = 7
	fFlowPacketsLoHi protowire.Number = 8
	fFlowPacketsHiLo protowire.Number = 9
	fFlowRateLoHi    protowire.Number = 10
	fFlowRateHiLo    protowire.Number = 11
	fFlowLastSeen    protowire.Number = 12
)

func encodeProto(s *flow.Snapshot, top int) ([]byte, error) {
	var b []byte
	b = appendVarint(b, fSnapSeq, s.Seq)
	var err error
	if b, err = appendTimestamp(b, fSnapAt, s.At); err != nil {
		return nil, err
	}
	b = appendVarint(b, fSnapIntervalMS, uint64(s.Interval.Milliseconds()))
	b = appendVarint(b, fSnapEvicted, uint64(s.Evicted))
	b = appendVarint(b, fSnapTotalFlows, uint64(len(s.Flows)))

	flows := s.Top(top)
	for i := range flows {
		fb, err := encodeFlow(&flows[i])
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fSnapFlows, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	return b, nil
}

func encodeFlow(e *flow.Entry) ([]byte, error) {
	var b []byte
	b = appendBytes(b, fFlowLoAddr, e.Key.Lo.Addr.AsSlice())
	b = appendVarint(b, fFlowLoPort, uint64(e.Key.Lo.Port))
	b = appendBytes(b, fFlowHiAddr, e.Key.Hi.Addr.AsSlice())
	b = appendVarint(b, fFlowHiPort, uint64(e.Key.Hi.Port))
	b = appendVarint(b, fFlowProto, uint64(e.Key.Proto))
	b = appendVarint(b, fFlowBytesLoHi, e.Total[flow.FromLo].Bytes)
	b = appendVarint(b, fFlowBytesHiLo, e.Total[flow.FromHi].Bytes)
	b = appendVarint(b, fFlowPacketsLoHi, e.Total[flow.FromLo].Packets)
	b = appendVarint(b, fFlowPacketsHiLo, e.Total[flow.FromHi].Packets)
	b = appendDouble(b, fFlowRateLoHi, e.Rate[flow.FromLo].BytesPerSec)
	b = appendDouble(b, fFlowRateHiLo, e.Rate[flow.FromHi].BytesPerSec)
	return appendTimestamp(b, fFlowLastSeen, e.LastSeen)
}

func appendVarint(b []byte, n protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, n protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendDouble(b []byte, n protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendTimestamp(b []byte, n protowire.Number, t time.Time) ([]byte, error) {
	if t.IsZero() {
		return b, nil
	}
	ts, err := proto.Marshal(timestamppb.New(t))
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, n, protowire.BytesType)
	return protowire.AppendBytes(b, ts), nil
}
