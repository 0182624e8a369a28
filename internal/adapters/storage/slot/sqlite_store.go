package slot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"licensure/internal/adapters/storage"
)

// SQLiteStore implements Store using the filter_slot table.
// Every database failure it returns wraps ErrUnavailable.
type SQLiteStore struct {
	db  storage.SQLDB
	now func() time.Time
}

// NewSQLiteStore creates a durable slot store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Load retrieves a slot.
// PRE: visitorID and slot are non-empty
// POST: Returns the stored value, or ok=false when no row exists
// INVARIANT: Store state is not mutated
func (s *SQLiteStore) Load(ctx context.Context, visitorID, slot string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM filter_slot WHERE visitor_id = ? AND slot = ?`,
		visitorID, slot,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load filter_slot: %w: %w", ErrUnavailable, err)
	}
	return value, true, nil
}

// Save upserts a slot.
// PRE: visitorID and slot are non-empty
// POST: The slot holds value
// INVARIANT: Other slots are not modified
func (s *SQLiteStore) Save(ctx context.Context, visitorID, slot, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filter_slot (visitor_id, slot, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(visitor_id, slot) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`, visitorID, slot, value, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save filter_slot: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Delete removes a slot.
// PRE: visitorID and slot are non-empty
// POST: No row exists for (visitorID, slot)
func (s *SQLiteStore) Delete(ctx context.Context, visitorID, slot string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM filter_slot WHERE visitor_id = ? AND slot = ?`,
		visitorID, slot,
	)
	if err != nil {
		return fmt.Errorf("delete filter_slot: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// PurgeBefore deletes slots not written since cutoff and returns how many were removed.
// PRE: cutoff is a valid time
// POST: Rows with updated_at < cutoff are gone
func (s *SQLiteStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM filter_slot WHERE updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("purge filter_slot: %w: %w", ErrUnavailable, err)
	}
	return res.RowsAffected()
}
