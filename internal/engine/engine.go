// Package engine runs the aggregation loop: it owns the capture source and
// the flow table, applies control commands between frames and publishes a
// snapshot to the render feed on every tick.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/feed"
	"firestige.xyz/flowlens/internal/flow"
	"firestige.xyz/flowlens/internal/log"
	"firestige.xyz/flowlens/internal/source"
)

// Opener opens a capture source.
type Opener func(source.Options) (source.Source, error)

// Options configures an Engine. Zero fields get working defaults.
type Options struct {
	Feed      *feed.Mailbox[flow.Snapshot]
	Opener    Opener
	NewTicker TickerFactory
	Logger    log.Logger
	Now       func() time.Time
}

type commandKind uint8

const (
	cmdStart commandKind = iota
	cmdStop
	cmdFilter
)

type command struct {
	kind    commandKind
	session Session
	filter  string
	reply   chan error
}

// Engine is the aggregation loop. Run drives it on one goroutine; every
// other method may be called from any goroutine.
type Engine struct {
	feed      *feed.Mailbox[flow.Snapshot]
	open      Opener
	newTicker TickerFactory
	logger    log.Logger
	now       func() time.Time

	cmds chan command
	done chan struct{}

	status atomic.Pointer[Status]
	diag   atomic.Pointer[Diagnostics]

	// Owned by the Run goroutine.
	loop loopState
}

// New creates an engine in the Stopped state.
func New(opts Options) *Engine {
	e := &Engine{
		feed:      opts.Feed,
		open:      opts.Opener,
		newTicker: opts.NewTicker,
		logger:    opts.Logger,
		now:       opts.Now,
		cmds:      make(chan command),
		done:      make(chan struct{}),
	}
	if e.feed == nil {
		e.feed = feed.New[flow.Snapshot]()
	}
	if e.open == nil {
		e.open = source.Open
	}
	if e.newTicker == nil {
		e.newTicker = newTimeTicker
	}
	if e.logger == nil {
		e.logger = log.GetLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.status.Store(&Status{State: Stopped, Since: e.now()})
	e.diag.Store(&Diagnostics{State: Stopped, DecodeFailures: core.FailureCounts{}.Map()})
	return e
}

// Feed returns the mailbox snapshots are published to.
func (e *Engine) Feed() *feed.Mailbox[flow.Snapshot] { return e.feed }

// Status returns the current state.
func (e *Engine) Status() Status { return *e.status.Load() }

// Diagnostics returns the latest diagnostics.
func (e *Engine) Diagnostics() Diagnostics { return *e.diag.Load() }

// Start begins a capture session. It returns once the source is open and
// the session is Running, or with the error that faulted it. Starting from
// Faulted is allowed; starting while Running returns core.ErrAlreadyRunning.
func (e *Engine) Start(ctx context.Context, s Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return e.send(ctx, command{kind: cmdStart, session: s})
}

// Stop ends the running session. It returns core.ErrNotRunning when there
// is nothing to stop.
func (e *Engine) Stop(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdStop})
}

// UpdateFilter replaces the capture filter of the running session. On
// failure the session keeps its previous filter.
func (e *Engine) UpdateFilter(ctx context.Context, expr string) error {
	return e.send(ctx, command{kind: cmdFilter, filter: expr})
}

// send queues cmd and waits for the loop to apply it.
func (e *Engine) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return core.ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the loop until ctx is cancelled. A running session is
// stopped and its resources released before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.shutdown()

	for {
		if e.Status().State.idle() {
			select {
			case <-ctx.Done():
				return nil
			case cmd := <-e.cmds:
				e.handle(cmd)
			}
			continue
		}

		if !e.drainCommands(ctx) {
			return nil
		}
		if e.Status().State != Running {
			continue
		}

		select {
		case now := <-e.loop.ticker.C():
			e.tick(now)
		default:
			e.pull()
		}
	}
}

// drainCommands applies every queued command. It reports false once ctx is
// cancelled.
func (e *Engine) drainCommands(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-e.cmds:
			e.handle(cmd)
		default:
			return true
		}
	}
}

func (e *Engine) handle(cmd command) {
	var err error
	switch cmd.kind {
	case cmdStart:
		err = e.startSession(cmd.session)
	case cmdStop:
		err = e.stopSession()
	case cmdFilter:
		err = e.updateFilter(cmd.filter)
	}
	cmd.reply <- err
}

func (e *Engine) shutdown() {
	if e.Status().State == Running {
		if err := e.stopSession(); err != nil {
			e.logger.WithError(err).Warn("failed to stop capture on shutdown")
		}
	}
}
