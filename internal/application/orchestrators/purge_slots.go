package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SlotPurger removes slots that have not been written since cutoff.
type SlotPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeSlotsDeps holds dependencies for PurgeStaleSlots.
type PurgeSlotsDeps struct {
	Slots SlotPurger
	TTL   time.Duration
	Now   func() time.Time // injectable for testing
}

// ExecutePurgeStaleSlots deletes durable filter slots idle for longer than TTL.
// PRE: deps.Slots is non-nil; deps.TTL > 0
// POST: Slots last written before now-TTL are gone; returns how many
func ExecutePurgeStaleSlots(ctx context.Context, deps PurgeSlotsDeps) (int64, error) {
	if deps.TTL <= 0 {
		return 0, errors.New("slot ttl must be positive")
	}
	now := time.Now()
	if deps.Now != nil {
		now = deps.Now()
	}
	cutoff := now.Add(-deps.TTL)

	n, err := deps.Slots.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge slots before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		slog.Info("filter_event", "event", "stale_slots_purged", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// StartPurgeWorker runs ExecutePurgeStaleSlots every interval until stopCh closes.
func StartPurgeWorker(deps PurgeSlotsDeps, interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if _, err := ExecutePurgeStaleSlots(ctx, deps); err != nil {
					slog.Error("slot_purge_failed", "error", err.Error())
				}
				cancel()
			case <-stopCh:
				slog.Info("slot_purge_worker_stopped")
				return
			}
		}
	}()
}
