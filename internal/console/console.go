// Package console renders the render feed as a plain-text top-N table.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"firestige.xyz/flowlens/internal/config"
	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/engine"
	"firestige.xyz/flowlens/internal/feed"
	"firestige.xyz/flowlens/internal/flow"
)

// StatusFunc reports the current engine status.
type StatusFunc func() engine.Status

// Renderer polls the feed at its own cadence and redraws only when a new
// snapshot or a state change arrived.
type Renderer struct {
	out      io.Writer
	feed     *feed.Mailbox[flow.Snapshot]
	status   StatusFunc
	top      int
	interval time.Duration

	lastSeq   uint64
	lastState engine.State
	drawn     bool
}

// New creates a renderer writing to out.
func New(out io.Writer, f *feed.Mailbox[flow.Snapshot], status StatusFunc, cfg config.RenderConfig) *Renderer {
	r := &Renderer{
		out:      out,
		feed:     f,
		status:   status,
		top:      cfg.Top,
		interval: cfg.Interval,
	}
	if r.interval <= 0 {
		r.interval = time.Second
	}
	return r
}

// Run redraws every interval until ctx is cancelled, then draws a last
// frame if anything changed.
func (r *Renderer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Render(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			_, err := r.Render()
			return err
		case <-ticker.C:
		}
	}
}

// Render draws one frame if anything changed since the last one. It reports
// whether a frame was written.
func (r *Renderer) Render() (bool, error) {
	st := r.status()
	snap, seq, _ := r.feed.Latest()
	if r.drawn && seq == r.lastSeq && st.State == r.lastState {
		return false, nil
	}

	if err := Write(r.out, st, snap, r.top); err != nil {
		return false, fmt.Errorf("failed to render: %w", err)
	}
	r.drawn = true
	r.lastSeq = seq
	r.lastState = st.State
	return true, nil
}

// Write renders one frame: a status line, the fault reason if any, and the
// busiest flows of snap.
func Write(w io.Writer, st engine.Status, snap *flow.Snapshot, top int) error {
	var b strings.Builder

	fmt.Fprintf(&b, "flowlens  state=%s", st.State)
	if st.Device != "" {
		fmt.Fprintf(&b, "  device=%s", st.Device)
	}
	if snap != nil {
		fmt.Fprintf(&b, "  flows=%d  rate=%s  evicted=%d  at=%s",
			len(snap.Flows), FormatRate(snap.ByteRate()), snap.Evicted, snap.At.Format("15:04:05"))
	}
	b.WriteByte('\n')

	if st.State == engine.Faulted && st.Err != nil {
		fmt.Fprintf(&b, "!! CAPTURE FAULTED: %v\n", st.Err)
	}

	if snap == nil || len(snap.Flows) == 0 {
		b.WriteString("(no flows)\n\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROTO\tLO\tHI\tLO->HI\tHI->LO\tRATE\tPKTS\tBYTES")
	for _, e := range snap.Top(top) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			core.ProtocolName(e.Key.Proto),
			e.Key.Lo, e.Key.Hi,
			FormatRate(e.Rate[flow.FromLo].BytesPerSec),
			FormatRate(e.Rate[flow.FromHi].BytesPerSec),
			FormatRate(e.ByteRate()),
			e.TotalPackets(),
			FormatBytes(e.TotalBytes()),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if n := len(snap.Flows) - len(snap.Top(top)); n > 0 {
		fmt.Fprintf(&b, "... %d more\n", n)
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

var units = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n uint64) string {
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}

// FormatRate renders a byte rate.
func FormatRate(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	v := bps
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s/s", v, units[i])
}
