package filters

import (
	"context"
	"log/slog"

	"licensure/internal/adapters/storage/slot"
)

// MigrateLegacySlot moves a visitor's state out of a legacy-named slot.
// PRE: none
// POST: if legacy held data and current did not, current holds the legacy
// value and legacy is gone; otherwise nothing changes
// INVARIANT: never returns an error; storage failures are logged and ignored
func MigrateLegacySlot(ctx context.Context, slots slot.Store, visitorID, legacy, current string) bool {
	if legacy == "" || legacy == current {
		return false
	}
	old, ok, err := slots.Load(ctx, visitorID, legacy)
	if err != nil || !ok || old == "" {
		if err != nil {
			slog.Debug("filter_migration_skipped", "visitor_id", visitorID, "error", err)
		}
		return false
	}
	if _, exists, err := slots.Load(ctx, visitorID, current); err != nil || exists {
		if err != nil {
			slog.Debug("filter_migration_skipped", "visitor_id", visitorID, "error", err)
		}
		return false
	}
	if err := slots.Save(ctx, visitorID, current, old); err != nil {
		slog.Debug("filter_migration_skipped", "visitor_id", visitorID, "error", err)
		return false
	}
	if err := slots.Delete(ctx, visitorID, legacy); err != nil {
		slog.Debug("filter_migration_legacy_kept", "visitor_id", visitorID, "error", err)
	}
	slog.Info("filter_event", "event", "legacy_slot_migrated", "visitor_id", visitorID, "from", legacy, "to", current)
	return true
}
