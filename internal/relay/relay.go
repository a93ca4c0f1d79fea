// Package relay forwards render-feed snapshots to remote visualizers over
// NATS.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"firestige.xyz/flowlens/internal/config"
	"firestige.xyz/flowlens/internal/feed"
	"firestige.xyz/flowlens/internal/flow"
	"firestige.xyz/flowlens/internal/log"
	"firestige.xyz/flowlens/internal/metrics"
)

// Publisher sends one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Options configures a Relay.
type Options struct {
	Subject  string
	Interval time.Duration
	Top      int    // flows per message, 0 = all
	Encoding string // json | protobuf
	Logger   log.Logger
}

// Relay polls a feed and publishes each new snapshot once.
type Relay struct {
	pub     Publisher
	feed    *feed.Mailbox[flow.Snapshot]
	opts    Options
	encode  func(*flow.Snapshot, int) ([]byte, error)
	lastSeq uint64
}

// New creates a relay. The encoding must be json or protobuf.
func New(pub Publisher, f *feed.Mailbox[flow.Snapshot], opts Options) (*Relay, error) {
	r := &Relay{pub: pub, feed: f, opts: opts}
	switch opts.Encoding {
	case "", "json":
		r.encode = encodeJSON
	case "protobuf":
		r.encode = encodeProto
	default:
		return nil, fmt.Errorf("unknown relay encoding %q (must be json/protobuf)", opts.Encoding)
	}
	if r.opts.Interval <= 0 {
		r.opts.Interval = time.Second
	}
	if r.opts.Logger == nil {
		r.opts.Logger = log.GetLogger()
	}
	return r, nil
}

// Run publishes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.opts.Interval)
	defer t.Stop()

	r.opts.Logger.WithFields(log.Fields{
		"subject":  r.opts.Subject,
		"interval": r.opts.Interval.String(),
	}).Info("snapshot relay started")

	for {
		select {
		case <-ctx.Done():
			r.opts.Logger.Info("snapshot relay stopped")
			return nil
		case <-t.C:
			if _, err := r.PublishLatest(); err != nil {
				r.opts.Logger.WithError(err).Warn("failed to relay snapshot")
			}
		}
	}
}

// PublishLatest publishes the newest snapshot if it has not been sent yet.
// It reports whether a message went out.
func (r *Relay) PublishLatest() (bool, error) {
	snap, seq, ok := r.feed.Latest()
	if !ok || seq == r.lastSeq {
		return false, nil
	}

	data, err := r.encode(snap, r.opts.Top)
	if err != nil {
		return false, fmt.Errorf("failed to encode snapshot %d: %w", snap.Seq, err)
	}
	if err := r.pub.Publish(r.opts.Subject, data); err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to publish snapshot %d: %w", snap.Seq, err)
	}
	metrics.RelayMessagesTotal.WithLabelValues("ok").Inc()
	r.lastSeq = seq
	return true, nil
}

// Connect dials the NATS server named in cfg. Reconnects are handled by
// the client and logged.
func Connect(cfg config.RelayConfig) (*nats.Conn, error) {
	logger := log.GetLogger().WithField("url", cfg.URL)
	nc, err := nats.Connect(cfg.URL,
		nats.Name("flowlens"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("relay disconnected")
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("relay reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to NATS")
	return nc, nil
}
