package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/calt/internal/domain"
)

var _ domain.Clock = (*FixedClock)(nil)

func TestFixedClock_StartsAtEpoch(t *testing.T) {
	clock := NewFixedClock(time.Time{}, 0)

	assert.Equal(t, DefaultEpoch, clock.Now())
	assert.Equal(t, DefaultEpoch.Add(time.Millisecond), clock.Now())
	assert.Equal(t, int64(2), clock.Calls())
}

func TestFixedClock_CustomStep(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFixedClock(start, time.Second)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(time.Second), clock.Now())
	assert.Equal(t, start.Add(2*time.Second), clock.Now())
}

func TestFixedClock_Reset(t *testing.T) {
	clock := NewFixedClock(time.Time{}, time.Second)

	clock.Now()
	clock.Now()
	clock.Reset()

	assert.Equal(t, int64(0), clock.Calls())
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestFixedClock_ThreadSafe(t *testing.T) {
	clock := NewFixedClock(time.Time{}, time.Millisecond)
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				now := clock.Now()
				mu.Lock()
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Every call observed a distinct instant
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
