// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/flowlens/internal/core"
)

var (
	// FramesTotal counts frames delivered by the capture source
	FramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlens_capture_frames_total",
			Help: "Total number of frames delivered by the capture source",
		},
	)

	// FramesDroppedTotal counts frames lost before delivery
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowlens_capture_drops_total",
			Help: "Total number of frames dropped before delivery",
		},
		[]string{"stage"}, // buffer | interface
	)

	// DecodeFailuresTotal counts frames whose decoding stopped early
	DecodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowlens_decode_failures_total",
			Help: "Total number of decode failures by category",
		},
		[]string{"reason"},
	)

	// UnattributableTotal counts decoded packets that could not be keyed to a flow
	UnattributableTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlens_unattributable_packets_total",
			Help: "Total number of packets without a network layer to key a flow on",
		},
	)

	// FlowTableSize tracks the number of live flows after the last tick
	FlowTableSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowlens_flow_table_size",
			Help: "Current number of flows in the flow table",
		},
	)

	// EvictionsTotal counts flows removed by idle or size eviction
	EvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlens_flow_evictions_total",
			Help: "Total number of evicted flows",
		},
	)

	// TickDurationSeconds measures one decay/evict/snapshot pass
	TickDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowlens_tick_duration_seconds",
			Help:    "Duration of a decay, eviction and snapshot pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10µs to ~330ms
		},
	)

	// EngineState tracks the aggregation engine state
	EngineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowlens_engine_state",
			Help: "Current engine state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// RelayMessagesTotal counts snapshot relay publications by outcome
	RelayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowlens_relay_messages_total",
			Help: "Total number of snapshots relayed",
		},
		[]string{"result"}, // ok | error
	)
)

// SetEngineState marks current as the active state among states.
func SetEngineState(current string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		EngineState.WithLabelValues(s).Set(v)
	}
}

// SourceTracker turns cumulative per-session source counters into counter
// increments. Reset it whenever a new session starts counting from zero.
type SourceTracker struct {
	last core.FrameSourceStats
}

// Reset forgets the previous session's totals.
func (t *SourceTracker) Reset() {
	t.last = core.FrameSourceStats{}
}

// Update adds the growth since the previous call to the counters.
func (t *SourceTracker) Update(s core.FrameSourceStats) {
	FramesTotal.Add(delta(s.FramesSeen, t.last.FramesSeen))
	FramesDroppedTotal.WithLabelValues("buffer").Add(delta(s.FramesDropped, t.last.FramesDropped))
	FramesDroppedTotal.WithLabelValues("interface").Add(delta(s.FramesIfDropped, t.last.FramesIfDropped))
	for _, f := range core.DecodeFailures() {
		DecodeFailuresTotal.WithLabelValues(f.String()).Add(delta(s.DecodeFailures.Get(f), t.last.DecodeFailures.Get(f)))
	}
	UnattributableTotal.Add(delta(s.Unattributable, t.last.Unattributable))
	t.last = s
}

// delta guards against counters that went backwards, e.g. a kernel
// counter wrapping.
func delta(now, prev uint64) float64 {
	if now < prev {
		return 0
	}
	return float64(now - prev)
}
