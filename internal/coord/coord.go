// Package coord enforces the multi-entity invariants: idempotent agent
// identity, the work-context state machine, all-or-nothing multi-file
// locking with lazy TTL expiry, and the append-only session log. Every
// invariant is mediated through the storage engine — there is no shared
// in-process state, so any number of independent processes can point at the
// same data root.
package coord

import (
	"log"
	"time"

	"github.com/mistakeknot/interlock/internal/storage"
)

// Broadcaster is the interface for pushing events to websocket clients.
type Broadcaster interface {
	Broadcast(project, agent string, event any)
}

// Config carries the knobs read once at startup.
type Config struct {
	DefaultLockTTL     time.Duration
	MaxLocksPerAgent   int
	Retry              storage.RetryConfig
	RetentionMaxEvents int
	RetentionMaxAge    time.Duration
	Verbose            bool
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		DefaultLockTTL:     30 * time.Minute,
		MaxLocksPerAgent:   32,
		Retry:              storage.DefaultRetryConfig(),
		RetentionMaxEvents: 500,
		RetentionMaxAge:    7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultLockTTL <= 0 {
		c.DefaultLockTTL = def.DefaultLockTTL
	}
	if c.MaxLocksPerAgent <= 0 {
		c.MaxLocksPerAgent = def.MaxLocksPerAgent
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = def.Retry
	}
	if c.RetentionMaxEvents <= 0 {
		c.RetentionMaxEvents = def.RetentionMaxEvents
	}
	if c.RetentionMaxAge <= 0 {
		c.RetentionMaxAge = def.RetentionMaxAge
	}
	return c
}

// Coordinator is the coordination core. It is stateless apart from the
// engine handle; concurrent use from any number of goroutines or processes
// is the normal case, not the exception.
type Coordinator struct {
	kv  storage.Engine
	bus Broadcaster
	cfg Config
	now func() time.Time
}

func New(kv storage.Engine, cfg Config) *Coordinator {
	return &Coordinator{
		kv:  kv,
		cfg: cfg.withDefaults(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithBroadcaster attaches an event hub. Nil is fine; broadcasts are then
// dropped.
func (c *Coordinator) WithBroadcaster(b Broadcaster) *Coordinator {
	c.bus = b
	return c
}

// WithClock overrides the time source; tests use it to cross TTLs without
// sleeping.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Config returns the effective configuration after default fill.
func (c *Coordinator) Config() Config { return c.cfg }

func (c *Coordinator) broadcast(project, agent string, ev any) {
	if c.bus != nil {
		c.bus.Broadcast(project, agent, ev)
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.cfg.Verbose {
		log.Printf(format, args...)
	}
}
