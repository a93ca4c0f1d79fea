// Package feed hands values from one producer to readers running at their
// own cadence. Only the newest value is kept.
package feed

import "sync/atomic"

// Mailbox is a single-slot, latest-wins hand-off. Publish replaces whatever
// is in the slot; readers never block the writer and never consume the value,
// so the same value may be read any number of times until it is replaced.
//
// Mailbox has a single writer. Published values must not be modified
// afterwards.
type Mailbox[T any] struct {
	slot atomic.Pointer[slot[T]]
	n    uint64 // owned by the writer
}

// slot pairs a value with its publication number so one load yields both.
type slot[T any] struct {
	seq uint64
	v   *T
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

// Publish stores v as the latest value. A nil v is ignored.
func (m *Mailbox[T]) Publish(v *T) {
	if v == nil {
		return
	}
	m.n++
	m.slot.Store(&slot[T]{seq: m.n, v: v})
}

// TryReadLatest returns the latest value without blocking.
func (m *Mailbox[T]) TryReadLatest() (*T, bool) {
	v, _, ok := m.Latest()
	return v, ok
}

// Latest returns the latest value together with its publication number.
// Readers that skip values they have already handled should compare this
// number rather than calling Seq separately.
func (m *Mailbox[T]) Latest() (*T, uint64, bool) {
	s := m.slot.Load()
	if s == nil {
		return nil, 0, false
	}
	return s.v, s.seq, true
}

// Seq counts publications.
func (m *Mailbox[T]) Seq() uint64 {
	if s := m.slot.Load(); s != nil {
		return s.seq
	}
	return 0
}
