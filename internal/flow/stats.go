package flow

import "time"

// Counters are cumulative totals for one direction.
type Counters struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// Rate is a decayed per-second rate for one direction.
type Rate struct {
	BytesPerSec   float64 `json:"bytes_per_sec"`
	PacketsPerSec float64 `json:"packets_per_sec"`
}

// Stats is the live record of one flow. It is owned by the Table.
type Stats struct {
	Total     [2]Counters // indexed by Direction
	Rate      [2]Rate
	FirstSeen time.Time
	LastSeen  time.Time
	Protocols map[uint8]uint64 // packets by IP protocol

	tick [2]Counters // accumulated since the last decay pass
}

func newStats(ts time.Time) *Stats {
	return &Stats{
		FirstSeen: ts,
		LastSeen:  ts,
		Protocols: make(map[uint8]uint64, 1),
	}
}

func (s *Stats) observe(o Observation) {
	s.Total[o.Dir].Packets++
	s.Total[o.Dir].Bytes += uint64(o.Bytes)
	s.tick[o.Dir].Packets++
	s.tick[o.Dir].Bytes += uint64(o.Bytes)
	s.Protocols[o.Proto]++
	if o.Timestamp.After(s.LastSeen) {
		s.LastSeen = o.Timestamp
	}
	if o.Timestamp.Before(s.FirstSeen) {
		s.FirstSeen = o.Timestamp
	}
}

// decay applies one EMA step using the traffic accumulated this tick.
func (s *Stats) decay(factor, seconds float64) {
	for d := range s.Rate {
		s.Rate[d].BytesPerSec = decay(s.Rate[d].BytesPerSec, float64(s.tick[d].Bytes)/seconds, factor)
		s.Rate[d].PacketsPerSec = decay(s.Rate[d].PacketsPerSec, float64(s.tick[d].Packets)/seconds, factor)
		s.tick[d] = Counters{}
	}
}

// TotalBytes sums both directions.
func (s *Stats) TotalBytes() uint64 {
	return s.Total[FromLo].Bytes + s.Total[FromHi].Bytes
}

// ByteRate sums the decayed byte rate of both directions.
func (s *Stats) ByteRate() float64 {
	return s.Rate[FromLo].BytesPerSec + s.Rate[FromHi].BytesPerSec
}
