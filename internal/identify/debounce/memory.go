// Package debounce suppresses duplicate hardware reads of the same
// credential. Readers can emit the same UID several times per second while a
// card rests on the antenna; only the first sighting inside the window counts.
package debounce

import (
	"context"
	"sync"
	"time"
)

// InMemory tracks last-seen times in a map. Suitable for single-process
// deployments; multi-terminal fleets sharing a reader pool use the redis
// window so debounce state is shared.
type InMemory struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewInMemory(window time.Duration) *InMemory {
	return &InMemory{
		window:   window,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Observe reports whether this is the first sighting of the uid within the
// window, and marks it seen.
func (d *InMemory) Observe(_ context.Context, uid string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastSeen[uid]; ok && now.Sub(last) < d.window {
		return false, nil
	}
	d.lastSeen[uid] = now

	// Opportunistic cleanup so long-running processes don't accumulate
	// every uid ever seen.
	if len(d.lastSeen) > 1024 {
		for key, seen := range d.lastSeen {
			if now.Sub(seen) >= d.window {
				delete(d.lastSeen, key)
			}
		}
	}
	return true, nil
}
