package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, DefaultEpoch, clock.Now())
	assert.Equal(t, time.Duration(0), clock.Elapsed())
}

func TestFakeClock_AdvanceAndReset(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	assert.Equal(t, start.Add(time.Hour), clock.Advance(time.Hour))
	clock.Advance(30 * time.Minute)
	assert.Equal(t, 90*time.Minute, clock.Elapsed())

	clock.Reset()
	assert.Equal(t, start, clock.Now())

	clock.Set(start.Add(24 * time.Hour))
	assert.Equal(t, 24*time.Hour, clock.Elapsed())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, numGoroutines*time.Second, clock.Elapsed())
}

func TestSequentialGenerator(t *testing.T) {
	gen := NewSequentialGenerator("")
	assert.Equal(t, "claim-1", gen.Generate())
	assert.Equal(t, "claim-2", gen.Generate())
	assert.Equal(t, 2, gen.Count())

	other := NewSequentialGenerator("c")
	assert.Equal(t, "c-1", other.Generate())
}

func TestSequentialGenerator_UniqueUnderConcurrency(t *testing.T) {
	gen := NewSequentialGenerator("id")
	const n = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			id := gen.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}
