package engine

import (
	"sync"
	"testing"
	"time"
)

func TestPollerDropsTickFiredDuringPoll(t *testing.T) {
	var mu sync.Mutex
	var starts []time.Time
	first := true

	p := newPoller(50*time.Millisecond, func() {
		mu.Lock()
		starts = append(starts, time.Now())
		slow := first
		first = false
		mu.Unlock()
		if slow {
			time.Sleep(120 * time.Millisecond)
		}
	})
	p.Start()
	defer p.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) >= 2
	}, "second poll never ran")

	mu.Lock()
	gap := starts[1].Sub(starts[0])
	mu.Unlock()

	// The slow poll spans two tick periods. The tick buffered while it
	// ran must be dropped, so the second poll waits for a fresh tick
	// instead of running back to back.
	if gap < 145*time.Millisecond {
		t.Errorf("second poll started %v after the first, want >= 145ms", gap)
	}
}

func TestPollerStop(t *testing.T) {
	var mu sync.Mutex
	count := 0
	p := newPoller(5*time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	p.Start()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 1
	}, "poll never ran")

	p.Stop()
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != after {
		t.Errorf("poll ran %d more times after Stop", count-after)
	}
}
