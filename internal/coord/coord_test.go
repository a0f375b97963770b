package coord

import (
	"sync"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// testClock is a settable time source so tests cross TTLs without
// sleeping.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Nudge forward so successive session events never share a nanosecond.
	c.t = c.t.Add(time.Microsecond)
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memoBus records broadcasts for assertions.
type memoBus struct {
	mu     sync.Mutex
	events []core.Broadcast
}

func (b *memoBus) Broadcast(project, agent string, event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bc, ok := event.(core.Broadcast); ok {
		b.events = append(b.events, bc)
	}
}

func (b *memoBus) byType(t core.BroadcastType) []core.Broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.Broadcast
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = storage.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, JitterPct: 0.25}
	return cfg
}

func newTestCoordinator() (*Coordinator, *testClock, *memoBus) {
	clock := newTestClock()
	bus := &memoBus{}
	c := New(storage.NewMemory(), fastConfig()).WithBroadcaster(bus).WithClock(clock.Now)
	return c, clock, bus
}
