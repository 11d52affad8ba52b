package aggregator

import (
	"context"
	"time"

	"github.com/ignite/mailguard/internal/pkg/distlock"
	"github.com/ignite/mailguard/internal/pkg/logger"
	"github.com/ignite/mailguard/internal/store"
)

// reaperLockKey is the distlock key contended by every aggregator process's
// reaper so only one of them sweeps per tick. Losing the lock is harmless:
// duplicate sweeps are idempotent, so it just means another process already
// handled this tick (spec.md §4.4 EXPANSION, reaper leader election).
const reaperLockKey = "reaper:sweep"

// Reaper periodically scans job_state:* for entries older than their TTL
// and deletes them, since Redis's own key TTL should normally win that race
// first; this is the application-level backstop spec.md calls for.
type Reaper struct {
	states   store.JobStateStore
	lock     distlock.DistLock
	interval time.Duration
}

// NewReaper builds a Reaper. lock may be nil to run unconditionally (tests,
// or a single-process deployment with no leader-election need).
func NewReaper(states store.JobStateStore, lock distlock.DistLock, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Reaper{states: states, lock: lock, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping every interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	if r.lock != nil {
		acquired, err := r.lock.Acquire(ctx)
		if err != nil {
			logger.Error("reaper lock acquisition failed, skipping this tick", "error", err)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := r.lock.Release(ctx); err != nil {
				logger.Error("reaper lock release failed", "error", err)
			}
		}()
	}

	expired, err := r.states.ScanExpired(ctx)
	if err != nil {
		logger.Error("reaper scan failed", "error", err)
		return
	}

	for _, jobID := range expired {
		if err := r.states.Delete(ctx, jobID); err != nil {
			logger.Error("reaper delete failed", "job_id", jobID, "error", err)
			continue
		}
		logger.Warn("job state reaped without finalization", "job_id", jobID)
	}
}
