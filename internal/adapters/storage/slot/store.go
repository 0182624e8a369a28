package slot

import (
	"context"
	"errors"
)

// ErrUnavailable is wrapped by every error a Store returns when its backing
// storage cannot be read or written.
var ErrUnavailable = errors.New("slot storage unavailable")

// Store persists named string slots per visitor.
// A slot is the server-side counterpart of one browser storage key.
type Store interface {
	// Load returns the slot value and whether it exists.
	Load(ctx context.Context, visitorID, slot string) (string, bool, error)
	// Save writes the slot value, replacing any previous one.
	Save(ctx context.Context, visitorID, slot, value string) error
	// Delete removes the slot. Deleting a missing slot is not an error.
	Delete(ctx context.Context, visitorID, slot string) error
}
