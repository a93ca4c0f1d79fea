package engine

import (
	"errors"
	"fmt"
	"time"

	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/core/decoder"
	"firestige.xyz/flowlens/internal/flow"
	"firestige.xyz/flowlens/internal/metrics"
	"firestige.xyz/flowlens/internal/source"
)

// reportEvery spaces the periodic diagnostics log line.
const reportEvery = 10 * time.Second

// loopState is the session state owned by the Run goroutine.
type loopState struct {
	session Session
	src     source.Source
	table   *flow.Table
	ticker  Ticker

	failures       core.FailureCounts
	unattributable uint64
	ticks          uint64
	evicted        uint64
	lastTick       time.Time
	lastReport     time.Time
	lastStats      core.FrameSourceStats

	tracker metrics.SourceTracker
}

func (e *Engine) setState(s State, err error) {
	st := &Status{State: s, Err: err, Device: e.loop.session.device(), Since: e.now()}
	e.status.Store(st)
	metrics.SetEngineState(s.String(), stateNames)
	e.publishDiagnostics()
}

func (e *Engine) startSession(s Session) error {
	if st := e.Status().State; !st.idle() {
		return core.ErrAlreadyRunning
	}

	e.loop = loopState{session: s}
	e.loop.tracker.Reset()
	e.setState(Starting, nil)

	src, err := e.open(s.Source)
	if err != nil {
		e.fault(err)
		return err
	}

	e.loop.src = src
	e.loop.table = flow.NewTable(s.Policy)
	// Readers see one feed across sessions, so Seq keeps counting.
	if prev, ok := e.feed.TryReadLatest(); ok {
		e.loop.table.ContinueFrom(prev.Seq)
	}
	e.loop.ticker = e.newTicker(s.Policy.TickInterval)
	e.loop.lastReport = e.now()
	e.setState(Running, nil)

	e.logger.WithFields(log.Fields{
		"device":    s.device(),
		"filter":    s.Source.Filter,
		"tick":      s.Policy.TickInterval.String(),
		"half_life": s.Policy.HalfLife.String(),
		"idle":      s.Policy.IdleThreshold.String(),
		"key_mode":  s.KeyMode.String(),
	}).Info("capture started")
	return nil
}

func (e *Engine) stopSession() error {
	if e.Status().State != Running {
		return core.ErrNotRunning
	}
	e.setState(Stopping, nil)
	e.release()
	e.setState(Stopped, nil)
	e.logger.WithField("device", e.loop.session.device()).Info("capture stopped")
	return nil
}

func (e *Engine) updateFilter(expr string) error {
	if e.Status().State != Running {
		return core.ErrNotRunning
	}
	if err := e.loop.src.SetFilter(expr); err != nil {
		e.logger.WithError(err).WithField("filter", expr).Warn("filter rejected, keeping previous filter")
		return err
	}
	e.loop.session.Source.Filter = expr
	e.logger.WithField("filter", expr).Info("capture filter updated")
	return nil
}

// fault ends the session with err. Nothing touches the table afterwards.
func (e *Engine) fault(err error) {
	e.release()
	e.setState(Faulted, err)
	e.logger.WithError(err).WithField("device", e.loop.session.device()).Error("capture faulted")
}

// release closes the ticker and source, folding the source's final
// counters into the diagnostics first.
func (e *Engine) release() {
	if e.loop.ticker != nil {
		e.loop.ticker.Stop()
		e.loop.ticker = nil
	}
	if e.loop.src != nil {
		e.refreshDiagnostics()
		if err := e.loop.src.Close(); err != nil {
			e.logger.WithError(err).Warn("failed to close capture source")
		}
		e.loop.src = nil
	}
}

// pull reads and aggregates at most one frame.
func (e *Engine) pull() {
	frame, err := e.loop.src.Next()
	switch {
	case err == nil:
	case errors.Is(err, core.ErrTimeout):
		return
	case errors.Is(err, core.ErrClosed):
		e.finish()
		return
	default:
		var ce *core.CaptureError
		if !errors.As(err, &ce) {
			err = core.NewCaptureError(core.DeviceRemoved, e.loop.session.device(), fmt.Errorf("read: %w", err))
		}
		e.fault(err)
		return
	}

	pkt := decoder.DecodeFrame(frame)
	if pkt.Failure != core.FailureNone {
		e.loop.failures[pkt.Failure]++
	}
	obs, ok := flow.Normalize(&pkt, e.loop.session.KeyMode)
	if !ok {
		e.loop.unattributable++
		return
	}
	e.loop.table.Observe(obs)
}

// finish ends an exhausted source: the last state is published and the
// session stops cleanly.
func (e *Engine) finish() {
	e.tick(e.now())
	e.setState(Stopping, nil)
	e.release()
	e.setState(Stopped, nil)
	e.logger.WithField("device", e.loop.session.device()).Info("capture source exhausted")
}

// tick runs decay, eviction and snapshot, then publishes the snapshot.
func (e *Engine) tick(now time.Time) {
	start := time.Now()
	snap := e.loop.table.Tick(now)
	e.feed.Publish(snap)
	metrics.TickDurationSeconds.Observe(time.Since(start).Seconds())

	e.loop.ticks++
	e.loop.evicted += uint64(snap.Evicted)
	e.loop.lastTick = now
	metrics.FlowTableSize.Set(float64(len(snap.Flows)))
	metrics.EvictionsTotal.Add(float64(snap.Evicted))
	e.refreshDiagnostics()

	if e.logger.IsDebugEnabled() && now.Sub(e.loop.lastReport) >= reportEvery {
		e.loop.lastReport = now
		d := e.Diagnostics()
		e.logger.WithFields(log.Fields{
			"flows":          d.Flows,
			"frames":         d.Source.FramesSeen,
			"dropped":        d.Source.FramesDropped,
			"if_dropped":     d.Source.FramesIfDropped,
			"decode_failed":  d.Source.DecodeFailures.Total(),
			"unattributable": d.Source.Unattributable,
			"snapshot_rate":  fmt.Sprintf("%.0fB/s", snap.ByteRate()),
		}).Debug("capture diagnostics")
	}
}

// refreshDiagnostics merges source and loop counters and publishes them.
func (e *Engine) refreshDiagnostics() {
	if e.loop.src != nil {
		stats := e.loop.src.Stats()
		stats.DecodeFailures = e.loop.failures
		stats.Unattributable = e.loop.unattributable
		e.loop.tracker.Update(stats)
		e.loop.lastStats = stats
	}
	e.publishDiagnostics()
}

func (e *Engine) publishDiagnostics() {
	flows := 0
	if e.loop.table != nil {
		flows = e.loop.table.Len()
	}
	st := e.status.Load()
	e.diag.Store(&Diagnostics{
		State:          st.State,
		Device:         st.Device,
		Source:         e.loop.lastStats,
		DecodeFailures: e.loop.lastStats.DecodeFailures.Map(),
		Flows:          flows,
		Ticks:          e.loop.ticks,
		Evicted:        e.loop.evicted,
		LastTick:       e.loop.lastTick,
	})
}
