package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

// RetryConfig controls exponential backoff on version conflicts.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	JitterPct   float64 // e.g. 0.25 for 25% jitter
}

// DefaultRetryConfig returns the default budget: 7 attempts, 50ms base,
// 25% jitter. Exhausting it surfaces *core.BusyError.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 7,
		BaseDelay:   50 * time.Millisecond,
		JitterPct:   0.25,
	}
}

func (c RetryConfig) normalize() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	return c
}

// Update runs a bounded read-modify-write loop on one key. fn receives the
// current record (zero Record when the key is absent) and returns the new
// document; returning nil doc skips the write. Version conflicts from
// concurrent writers are retried with backoff until the budget runs out.
func Update(ctx context.Context, e Engine, cfg RetryConfig, key string, fn func(cur Record) ([]byte, error)) (uint64, error) {
	cfg = cfg.normalize()

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, cfg, attempt); err != nil {
				return 0, err
			}
		}

		cur, err := e.Get(ctx, key)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return 0, err
		}

		doc, err := fn(cur)
		if err != nil {
			return 0, err
		}
		if doc == nil {
			return cur.Version, nil
		}

		newVersion, err := e.Put(ctx, key, doc, cur.Version)
		if err == nil {
			return newVersion, nil
		}
		var conflict *core.VersionConflictError
		if !errors.As(err, &conflict) {
			return 0, err
		}
	}
	return 0, &core.BusyError{Key: key, Attempts: cfg.MaxAttempts}
}

// DeleteChecked deletes a key with the same bounded retry discipline:
// re-read on conflict, give up with *core.BusyError when the budget is
// spent. fn decides, per observed record, whether the delete still applies;
// returning false makes the call a no-op.
func DeleteChecked(ctx context.Context, e Engine, cfg RetryConfig, key string, fn func(cur Record) (bool, error)) (bool, error) {
	cfg = cfg.normalize()

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, cfg, attempt); err != nil {
				return false, err
			}
		}

		cur, err := e.Get(ctx, key)
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		ok, err := fn(cur)
		if err != nil || !ok {
			return false, err
		}

		err = e.Delete(ctx, key, cur.Version)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		var conflict *core.VersionConflictError
		if !errors.As(err, &conflict) {
			return false, err
		}
	}
	return false, &core.BusyError{Key: key, Attempts: cfg.MaxAttempts}
}

func sleepBackoff(ctx context.Context, cfg RetryConfig, attempt int) error {
	delay := cfg.BaseDelay * (1 << (attempt - 1))
	jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay + jitter):
		return nil
	}
}
