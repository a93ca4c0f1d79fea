package flow

import (
	"cmp"
	"slices"
	"time"
)

// Table is the flow table. It is not safe for concurrent use: one goroutine
// owns it and hands out Snapshots.
type Table struct {
	policy Policy
	factor float64
	flows  map[Key]*Stats
	seq    uint64
}

// NewTable creates an empty table. The policy is expected to be valid.
func NewTable(p Policy) *Table {
	return &Table{
		policy: p,
		factor: p.DecayFactor(),
		flows:  make(map[Key]*Stats),
	}
}

// Policy returns the table's decay and eviction parameters.
func (t *Table) Policy() Policy { return t.policy }

// Len returns the number of live flows.
func (t *Table) Len() int { return len(t.flows) }

// Lookup returns the live record for k. The record must not be retained
// past the next Observe or Tick.
func (t *Table) Lookup(k Key) (*Stats, bool) {
	s, ok := t.flows[k]
	return s, ok
}

// Observe credits one packet to its flow, creating the flow if needed.
func (t *Table) Observe(o Observation) {
	s, ok := t.flows[o.Key]
	if !ok {
		s = newStats(o.Timestamp)
		t.flows[o.Key] = s
	}
	s.observe(o)
}

// Tick runs one decay pass over every flow, evicts idle flows and returns a
// snapshot of the survivors. Decay and eviction complete before the snapshot
// is built.
func (t *Table) Tick(now time.Time) *Snapshot {
	seconds := t.policy.TickInterval.Seconds()
	for _, s := range t.flows {
		s.decay(t.factor, seconds)
	}

	evicted := t.evictIdle(now)
	evicted += t.evictOverflow()

	t.seq++
	return t.snapshot(now, evicted)
}

// ContinueFrom makes the next snapshot follow seq. It never moves the
// sequence backwards.
func (t *Table) ContinueFrom(seq uint64) {
	t.seq = max(t.seq, seq)
}

// Reset drops every flow. The snapshot sequence keeps counting.
func (t *Table) Reset() {
	clear(t.flows)
}

func (t *Table) evictIdle(now time.Time) int {
	n := 0
	for k, s := range t.flows {
		if now.Sub(s.LastSeen) > t.policy.IdleThreshold {
			delete(t.flows, k)
			n++
		}
	}
	return n
}

// evictOverflow drops the least recently seen flows beyond MaxFlows.
func (t *Table) evictOverflow() int {
	excess := len(t.flows) - t.policy.MaxFlows
	if t.policy.MaxFlows <= 0 || excess <= 0 {
		return 0
	}

	type aged struct {
		key      Key
		lastSeen time.Time
	}
	all := make([]aged, 0, len(t.flows))
	for k, s := range t.flows {
		all = append(all, aged{k, s.LastSeen})
	}
	slices.SortFunc(all, func(a, b aged) int {
		if c := a.lastSeen.Compare(b.lastSeen); c != 0 {
			return c
		}
		return compareKeys(a.key, b.key)
	})
	for _, a := range all[:excess] {
		delete(t.flows, a.key)
	}
	return excess
}

func compareKeys(a, b Key) int {
	if c := a.Lo.Compare(b.Lo); c != 0 {
		return c
	}
	if c := a.Hi.Compare(b.Hi); c != 0 {
		return c
	}
	return cmp.Compare(a.Proto, b.Proto)
}
