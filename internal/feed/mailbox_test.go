package feed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct{ n int }

func TestMailboxEmpty(t *testing.T) {
	m := New[frame]()

	v, ok := m.TryReadLatest()
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.Zero(t, m.Seq())
}

func TestMailboxLatestWins(t *testing.T) {
	m := New[frame]()
	m.Publish(&frame{1})
	m.Publish(&frame{2})
	m.Publish(nil)

	v, ok := m.TryReadLatest()
	require.True(t, ok)
	assert.Equal(t, 2, v.n)
	assert.Equal(t, uint64(2), m.Seq())

	// Reads do not consume.
	again, ok := m.TryReadLatest()
	require.True(t, ok)
	assert.Same(t, v, again)
}

func TestMailboxConcurrentReaders(t *testing.T) {
	m := New[frame]()
	const writes = 1000

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for last < writes {
				if v, ok := m.TryReadLatest(); ok {
					// Readers only ever move forward.
					assert.GreaterOrEqual(t, v.n, last)
					last = v.n
				}
			}
		}()
	}

	for i := 1; i <= writes; i++ {
		m.Publish(&frame{i})
	}
	wg.Wait()

	v, _ := m.TryReadLatest()
	assert.Equal(t, writes, v.n)
}

// Each value is read together with the publication number it was stored with.
func TestMailboxLatestPairsValueAndSeq(t *testing.T) {
	m := New[frame]()
	_, seq, ok := m.Latest()
	assert.False(t, ok)
	assert.Zero(t, seq)

	const writes = 1000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			v, seq, ok := m.Latest()
			if ok {
				// frame n is always publication n
				assert.Equal(t, uint64(v.n), seq)
				if v.n == writes {
					return
				}
			}
		}
	}()
	for i := 1; i <= writes; i++ {
		m.Publish(&frame{i})
	}
	<-done
	assert.Equal(t, uint64(writes), m.Seq())
}
