package flow

import (
	"cmp"
	"slices"
	"time"
)

// ProtoCount is one histogram bucket.
type ProtoCount struct {
	Proto   uint8  `json:"proto"`
	Packets uint64 `json:"packets"`
}

// Entry is an immutable copy of one flow at snapshot time. Total and Rate
// are indexed by Direction: [lo->hi, hi->lo].
type Entry struct {
	Key       Key          `json:"key"`
	Total     [2]Counters  `json:"total"`
	Rate      [2]Rate      `json:"rate"`
	FirstSeen time.Time    `json:"first_seen"`
	LastSeen  time.Time    `json:"last_seen"`
	Protocols []ProtoCount `json:"protocols"`
}

// TotalBytes sums both directions.
func (e *Entry) TotalBytes() uint64 {
	return e.Total[FromLo].Bytes + e.Total[FromHi].Bytes
}

// TotalPackets sums both directions.
func (e *Entry) TotalPackets() uint64 {
	return e.Total[FromLo].Packets + e.Total[FromHi].Packets
}

// ByteRate sums the decayed byte rate of both directions.
func (e *Entry) ByteRate() float64 {
	return e.Rate[FromLo].BytesPerSec + e.Rate[FromHi].BytesPerSec
}

// Snapshot is a point-in-time copy of the flow table, ordered by decayed
// byte rate, highest first. It is never modified after it is built.
type Snapshot struct {
	Seq      uint64        `json:"seq"`
	At       time.Time     `json:"at"`
	Interval time.Duration `json:"interval"`
	Evicted  int           `json:"evicted"`
	Flows    []Entry       `json:"flows"`
}

// Top returns at most n of the busiest flows. n <= 0 returns all.
func (s *Snapshot) Top(n int) []Entry {
	if n <= 0 || n >= len(s.Flows) {
		return s.Flows
	}
	return s.Flows[:n]
}

// Find returns the entry for k.
func (s *Snapshot) Find(k Key) (Entry, bool) {
	for _, e := range s.Flows {
		if e.Key == k {
			return e, true
		}
	}
	return Entry{}, false
}

// ByteRate sums the decayed byte rate of every flow.
func (s *Snapshot) ByteRate() float64 {
	var r float64
	for i := range s.Flows {
		r += s.Flows[i].ByteRate()
	}
	return r
}

func (t *Table) snapshot(now time.Time, evicted int) *Snapshot {
	snap := &Snapshot{
		Seq:      t.seq,
		At:       now,
		Interval: t.policy.TickInterval,
		Evicted:  evicted,
		Flows:    make([]Entry, 0, len(t.flows)),
	}
	for k, s := range t.flows {
		e := Entry{
			Key:       k,
			Total:     s.Total,
			Rate:      s.Rate,
			FirstSeen: s.FirstSeen,
			LastSeen:  s.LastSeen,
			Protocols: make([]ProtoCount, 0, len(s.Protocols)),
		}
		for p, n := range s.Protocols {
			e.Protocols = append(e.Protocols, ProtoCount{Proto: p, Packets: n})
		}
		slices.SortFunc(e.Protocols, func(a, b ProtoCount) int { return cmp.Compare(a.Proto, b.Proto) })
		snap.Flows = append(snap.Flows, e)
	}

	slices.SortFunc(snap.Flows, func(a, b Entry) int {
		if c := cmp.Compare(b.ByteRate(), a.ByteRate()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.TotalBytes(), a.TotalBytes()); c != 0 {
			return c
		}
		return compareKeys(a.Key, b.Key)
	})
	return snap
}
