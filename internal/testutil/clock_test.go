package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDeterministicClock_StartsAtStart(t *testing.T) {
	clock := NewDeterministicClock(epoch, time.Second)
	assert.True(t, clock.Current().Equal(epoch))
}

func TestDeterministicClock_NowAdvancesByStep(t *testing.T) {
	clock := NewDeterministicClock(epoch, time.Second)

	assert.True(t, clock.Now().Equal(epoch))
	assert.True(t, clock.Now().Equal(epoch.Add(time.Second)))
	assert.True(t, clock.Now().Equal(epoch.Add(2*time.Second)))
	assert.True(t, clock.Current().Equal(epoch.Add(3*time.Second)))
}

func TestDeterministicClock_ZeroStepIsFrozen(t *testing.T) {
	clock := NewDeterministicClock(epoch, 0)
	clock.Now()
	clock.Now()
	assert.True(t, clock.Now().Equal(epoch))
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock(epoch, time.Second)
	const numGoroutines = 50
	const callsPerGoroutine = 20

	seen := make(chan time.Time, numGoroutines*callsPerGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seen <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for ts := range seen {
		unique[ts.Unix()] = true
	}
	assert.Len(t, unique, numGoroutines*callsPerGoroutine, "every call must get a distinct instant")
	assert.True(t, clock.Current().Equal(epoch.Add(numGoroutines*callsPerGoroutine*time.Second)))
}
