package flow

import (
	"fmt"
	"math"
	"time"
)

// RateFloor is the rate, per second, below which an idle flow's decayed rate
// snaps to zero.
const RateFloor = 1e-3

// MinDecayStep is the smallest accepted 1 - DecayFactor. Below it a tick
// barely moves the rate and the EMA degenerates into float rounding.
const MinDecayStep = 1e-9

// Policy holds the decay and eviction parameters of a Table.
type Policy struct {
	TickInterval  time.Duration // Δt between decay passes
	HalfLife      time.Duration // time for an idle rate to halve
	IdleThreshold time.Duration // evict when now - LastSeen exceeds this
	MaxFlows      int           // soft bound on table size, 0 for none
}

// DefaultPolicy returns the default decay and eviction parameters.
func DefaultPolicy() Policy {
	return Policy{
		TickInterval:  250 * time.Millisecond,
		HalfLife:      2 * time.Second,
		IdleThreshold: 6 * time.Second,
		MaxFlows:      4096,
	}
}

// Validate checks that the policy yields a decay factor in (0,1).
func (p Policy) Validate() error {
	if p.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", p.TickInterval)
	}
	if p.HalfLife <= 0 {
		return fmt.Errorf("half-life must be positive, got %s", p.HalfLife)
	}
	if step := 1 - p.DecayFactor(); step < MinDecayStep {
		return fmt.Errorf("half-life %s is too long for tick interval %s (decay step %g)", p.HalfLife, p.TickInterval, step)
	}
	if p.IdleThreshold < p.TickInterval {
		return fmt.Errorf("idle threshold %s is shorter than tick interval %s", p.IdleThreshold, p.TickInterval)
	}
	if p.MaxFlows < 0 {
		return fmt.Errorf("max flows must not be negative, got %d", p.MaxFlows)
	}
	return nil
}

// DecayFactor returns 0.5^(Δt/half_life).
func (p Policy) DecayFactor() float64 {
	return math.Pow(0.5, p.TickInterval.Seconds()/p.HalfLife.Seconds())
}

// decay folds one tick's instantaneous rate into an EMA. Only a tick without
// traffic may snap the rate to zero.
func decay(rate, instant, factor float64) float64 {
	r := rate*factor + instant*(1-factor)
	if instant == 0 && r < RateFloor {
		return 0
	}
	return r
}
