package engine

import (
	"fmt"

	"firestige.xyz/flowlens/internal/config"
	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/flow"
	"firestige.xyz/flowlens/internal/source"
)

// Session is everything needed to start capturing.
type Session struct {
	Source  source.Options
	Policy  flow.Policy
	KeyMode flow.KeyMode
}

// Validate checks the session before any resource is acquired.
func (s Session) Validate() error {
	if err := s.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	if s.Source.ReadTimeout > s.Policy.TickInterval {
		return fmt.Errorf("%w: read timeout %s exceeds tick interval %s",
			core.ErrConfigInvalid, s.Source.ReadTimeout, s.Policy.TickInterval)
	}
	return nil
}

// SessionFromConfig builds a session from validated configuration.
func SessionFromConfig(capture config.CaptureConfig, agg config.AggregationConfig) (Session, error) {
	if err := capture.Validate(); err != nil {
		return Session{}, err
	}
	mode, err := flow.ParseKeyMode(agg.KeyMode)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	s := Session{
		Source: source.Options{
			Kind:         source.Kind(capture.Source),
			Interface:    capture.Interface,
			File:         capture.File,
			Filter:       capture.Filter,
			SnapLen:      capture.SnapLen,
			Promiscuous:  capture.Promiscuous,
			ReadTimeout:  capture.ReadTimeout,
			BufferSizeMB: capture.BufferSizeMB,
			Speed:        capture.Speed,
			Extra:        capture.Extra,
		},
		Policy: flow.Policy{
			TickInterval:  agg.TickInterval,
			HalfLife:      agg.HalfLife,
			IdleThreshold: agg.IdleThreshold,
			MaxFlows:      agg.MaxFlows,
		},
		KeyMode: mode,
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// device names the capture target.
func (s Session) device() string {
	if s.Source.Kind == source.KindFile {
		return s.Source.File
	}
	return s.Source.Interface
}
