package coord

import (
	"context"
	"log"
	"time"
)

// Sweeper runs a background goroutine that periodically reclaims expired
// lock records and prunes session logs past retention. It bounds storage
// growth only; expiry is applied lazily on every read, so nothing is wrong
// when the sweeper is off.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
	grace    time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a Sweeper. grace delays reclaim of freshly expired
// locks so a holder racing its own refresh isn't swept mid-flight. Call
// Start to begin.
func NewSweeper(coord *Coordinator, interval, grace time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace < 0 {
		grace = 0
	}
	return &Sweeper{
		coord:    coord,
		interval: interval,
		grace:    grace,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.runSweep(ctx)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *Sweeper) runSweep(ctx context.Context) {
	cutoff := sw.coord.now().Add(-sw.grace)
	removed, err := sw.coord.SweepExpired(ctx, cutoff)
	if err != nil {
		log.Printf("sweeper: %v", err)
	} else if len(removed) > 0 {
		log.Printf("sweeper: reclaimed %d expired lock(s)", len(removed))
	}

	pruned, err := sw.coord.PruneSessions(ctx)
	if err != nil {
		log.Printf("sweeper: prune sessions: %v", err)
	} else if pruned > 0 {
		log.Printf("sweeper: pruned %d session event(s)", pruned)
	}
}
