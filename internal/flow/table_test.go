package flow

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowlens/internal/core"
)

func testPolicy() Policy {
	return Policy{
		TickInterval:  time.Second,
		HalfLife:      time.Second,
		IdleThreshold: 3 * time.Second,
	}
}

func at(o Observation, ts time.Time) Observation {
	o.Timestamp = ts
	return o
}

// Two packets in opposite directions within one tick land on one flow.
func TestTableBidirectionalTick(t *testing.T) {
	table := NewTable(testPolicy())
	x := packet("10.0.0.1", 40000, "10.0.0.2", 80, core.TransportTCP, 100)
	y := reversed(x)
	y.WireLen = 50

	table.Observe(observation(t, x))
	table.Observe(observation(t, y))
	snap := table.Tick(t0.Add(time.Second))

	require.Len(t, snap.Flows, 1)
	e := snap.Flows[0]
	assert.Equal(t, uint64(150), e.TotalBytes())
	assert.Equal(t, uint64(2), e.TotalPackets())
	assert.Equal(t, Counters{Packets: 1, Bytes: 100}, e.Total[FromLo])
	assert.Equal(t, Counters{Packets: 1, Bytes: 50}, e.Total[FromHi])
	assert.Greater(t, e.ByteRate(), 0.0)
	// factor 0.5, 150 B over 1s
	assert.InDelta(t, 75.0, e.ByteRate(), 1e-9)
	assert.Equal(t, []ProtoCount{{Proto: core.ProtoTCP, Packets: 2}}, e.Protocols)
	assert.Equal(t, uint64(1), snap.Seq)
}

// An idle flow decays strictly each tick and is evicted once
// now - LastSeen exceeds the idle threshold.
func TestTableIdleDecayAndEviction(t *testing.T) {
	table := NewTable(testPolicy())
	o := observation(t, packet("10.0.0.1", 1, "10.0.0.2", 2, core.TransportUDP, 1000))
	table.Observe(o)

	prev := -1.0
	for i := 1; i <= 3; i++ {
		snap := table.Tick(t0.Add(time.Duration(i) * time.Second))
		e, ok := snap.Find(o.Key)
		require.True(t, ok, "tick %d", i)
		if prev >= 0 {
			assert.Less(t, e.ByteRate(), prev, "tick %d", i)
		}
		prev = e.ByteRate()
	}

	// now - LastSeen == 3s is not yet idle; 4s is.
	snap := table.Tick(t0.Add(4 * time.Second))
	_, ok := snap.Find(o.Key)
	assert.False(t, ok)
	assert.Equal(t, 1, snap.Evicted)

	snap = table.Tick(t0.Add(5 * time.Second))
	assert.Empty(t, snap.Flows)
	assert.Zero(t, snap.Evicted)
	assert.Zero(t, table.Len())
}

func TestTableRateReachesFloor(t *testing.T) {
	p := testPolicy()
	p.IdleThreshold = time.Hour
	table := NewTable(p)
	o := observation(t, packet("10.0.0.1", 1, "10.0.0.2", 2, core.TransportUDP, 1))
	table.Observe(o)

	s, ok := table.Lookup(o.Key)
	require.True(t, ok)
	table.Tick(t0.Add(time.Second))
	rate := s.ByteRate()
	require.Greater(t, rate, 0.0)

	for i := 2; i <= 20; i++ {
		before := rate
		table.Tick(t0.Add(time.Duration(i) * time.Second))
		rate = s.ByteRate()
		if before > 0 {
			assert.Less(t, rate, before, "tick %d", i)
		} else {
			assert.Zero(t, rate, "tick %d", i)
		}
	}
	assert.Zero(t, rate)
}

// Steady traffic under a long half-life builds up a rate even though each
// tick's contribution stays below RateFloor.
func TestTableSteadyTrafficLongHalfLife(t *testing.T) {
	p := Policy{TickInterval: 100 * time.Millisecond, HalfLife: 30 * time.Minute, IdleThreshold: 90 * time.Minute}
	require.NoError(t, p.Validate())
	table := NewTable(p)
	o := observation(t, packet("10.0.0.1", 1, "10.0.0.2", 2, core.TransportUDP, 60))

	const ticks = 100
	prev := 0.0
	var e Entry
	for i := 0; i < ticks; i++ {
		table.Observe(at(o, t0.Add(time.Duration(i)*p.TickInterval)))
		snap := table.Tick(t0.Add(time.Duration(i+1) * p.TickInterval))
		var ok bool
		e, ok = snap.Find(o.Key)
		require.True(t, ok)
		pps := e.Rate[FromLo].PacketsPerSec
		assert.Greater(t, pps, prev, "tick %d", i+1)
		prev = pps
	}

	// Constant input I converges as I * (1 - f^n).
	grown := 1 - math.Pow(p.DecayFactor(), ticks)
	assert.Equal(t, uint64(ticks), e.TotalPackets())
	assert.InDelta(t, 10*grown, e.Rate[FromLo].PacketsPerSec, 1e-9)
	assert.InDelta(t, 600*grown, e.Rate[FromLo].BytesPerSec, 1e-7)
}

func TestTableCountersMonotonic(t *testing.T) {
	table := NewTable(Policy{TickInterval: time.Second, HalfLife: 2 * time.Second, IdleThreshold: time.Hour})
	o := observation(t, packet("10.0.0.1", 1, "10.0.0.2", 2, core.TransportUDP, 64))

	var last Counters
	for i := 0; i < 10; i++ {
		for j := 0; j < i%3; j++ {
			table.Observe(at(o, t0.Add(time.Duration(i)*time.Second)))
		}
		snap := table.Tick(t0.Add(time.Duration(i+1) * time.Second))
		e, ok := snap.Find(o.Key)
		if !ok {
			continue
		}
		assert.GreaterOrEqual(t, e.Total[FromLo].Bytes, last.Bytes)
		assert.GreaterOrEqual(t, e.Total[FromLo].Packets, last.Packets)
		last = e.Total[FromLo]
	}
	assert.Equal(t, uint64(9*64), last.Bytes)
}

func TestTableLastSeenNeverMovesBack(t *testing.T) {
	table := NewTable(testPolicy())
	o := observation(t, packet("10.0.0.1", 1, "10.0.0.2", 2, core.TransportUDP, 64))

	table.Observe(at(o, t0.Add(2*time.Second)))
	table.Observe(at(o, t0)) // reordered by the capture path

	s, ok := table.Lookup(o.Key)
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Second), s.LastSeen)
	assert.Equal(t, t0, s.FirstSeen)
}

func TestTableMaxFlows(t *testing.T) {
	p := testPolicy()
	p.IdleThreshold = time.Hour
	p.MaxFlows = 2
	table := NewTable(p)

	oldest := observation(t, packet("10.0.0.1", 1, "10.0.0.2", 2, core.TransportUDP, 64))
	middle := observation(t, packet("10.0.0.3", 1, "10.0.0.4", 2, core.TransportUDP, 64))
	newest := observation(t, packet("10.0.0.5", 1, "10.0.0.6", 2, core.TransportUDP, 64))
	table.Observe(at(oldest, t0))
	table.Observe(at(middle, t0.Add(time.Second)))
	table.Observe(at(newest, t0.Add(2*time.Second)))

	snap := table.Tick(t0.Add(3 * time.Second))
	assert.Equal(t, 1, snap.Evicted)
	assert.Equal(t, 2, table.Len())
	_, ok := snap.Find(oldest.Key)
	assert.False(t, ok)
	_, ok = snap.Find(newest.Key)
	assert.True(t, ok)
}

func TestSnapshotOrderAndIsolation(t *testing.T) {
	table := NewTable(testPolicy())
	small := observation(t, packet("10.0.0.1", 1, "10.0.0.2", 2, core.TransportUDP, 100))
	large := observation(t, packet("10.0.0.3", 1, "10.0.0.4", 2, core.TransportTCP, 9000))
	table.Observe(small)
	table.Observe(large)

	snap := table.Tick(t0.Add(time.Second))
	require.Len(t, snap.Flows, 2)
	assert.Equal(t, large.Key, snap.Flows[0].Key)
	assert.Equal(t, small.Key, snap.Flows[1].Key)
	assert.Len(t, snap.Top(1), 1)
	assert.Len(t, snap.Top(0), 2)
	assert.InDelta(t, 4550.0, snap.ByteRate(), 1e-9)

	// Later table mutation does not leak into a published snapshot.
	for i := 0; i < 5; i++ {
		table.Observe(at(small, t0.Add(time.Second)))
	}
	table.Tick(t0.Add(2 * time.Second))
	e, _ := snap.Find(small.Key)
	assert.Equal(t, uint64(1), e.TotalPackets())
	assert.Equal(t, []ProtoCount{{Proto: core.ProtoUDP, Packets: 1}}, e.Protocols)
}

func TestTableReset(t *testing.T) {
	table := NewTable(testPolicy())
	table.Observe(observation(t, packet("10.0.0.1", 1, "10.0.0.2", 2, core.TransportUDP, 64)))
	table.Tick(t0.Add(time.Second))

	table.Reset()
	assert.Zero(t, table.Len())
	assert.Equal(t, uint64(2), table.Tick(t0.Add(2*time.Second)).Seq)
}

func TestTableContinueFrom(t *testing.T) {
	table := NewTable(testPolicy())
	table.ContinueFrom(41)
	assert.Equal(t, uint64(42), table.Tick(t0.Add(time.Second)).Seq)

	table.ContinueFrom(7)
	assert.Equal(t, uint64(43), table.Tick(t0.Add(2*time.Second)).Seq)
}

func BenchmarkTableObserve(b *testing.B) {
	table := NewTable(DefaultPolicy())
	p := packet("10.0.0.1", 40000, "10.0.0.2", 443, core.TransportTCP, 1500)
	o, _ := Normalize(&p, KeyEndpoints)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o.Key.Lo.Port = uint16(i % 1024)
		table.Observe(o)
	}
}
