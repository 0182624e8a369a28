package filters

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"licensure/internal/adapters/storage/slot"
	"licensure/internal/domain/filter"
)

// DefaultSlot is the slot name the wizard state lives under.
const DefaultSlot = "licensureFilters"

// DefaultLegacySlot is the slot name used before DefaultSlot.
const DefaultLegacySlot = "filters"

// Write operations reported to Options.OnWrite.
const (
	OpSet     = "set"
	OpRemove  = "remove"
	OpClear   = "clear"
	OpReplace = "replace"
)

// Options configures a Service.
type Options struct {
	Slot       string          // current slot name; DefaultSlot when empty
	LegacySlot string          // copied into an absent current slot; "" disables
	Hub        *Hub            // receives a Change after every successful write; optional
	OnWrite    func(op string) // called after every successful write; optional
}

// lockShards is the number of mutexes visitor ids are spread over.
const lockShards = 256

// Service hands out per-visitor state stores over one slot.Store.
// Writes for a single visitor are serialized. Visitors share one of
// lockShards mutexes, so memory does not grow with the number of visitors.
type Service struct {
	slots slot.Store
	opts  Options

	locks [lockShards]sync.Mutex
}

// NewService creates a Service.
// PRE: slots is non-nil
// POST: Returns a ready-to-use service
func NewService(slots slot.Store, opts Options) *Service {
	if opts.Slot == "" {
		opts.Slot = DefaultSlot
	}
	return &Service{slots: slots, opts: opts}
}

// Slot returns the configured slot name.
func (s *Service) Slot() string {
	return s.opts.Slot
}

// lockFor returns the mutex guarding visitorID.
func (s *Service) lockFor(visitorID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(visitorID))
	return &s.locks[h.Sum32()%lockShards]
}

// For returns the store for a visitor. The legacy-slot migration runs before
// the store is handed out; it only copies while the current slot is absent,
// so repeating it is a no-op.
// PRE: visitorID is non-empty
// POST: Returns a store bound to visitorID
func (s *Service) For(ctx context.Context, visitorID string) *Store {
	lock := s.lockFor(visitorID)
	if s.opts.LegacySlot != "" {
		lock.Lock()
		MigrateLegacySlot(ctx, s.slots, visitorID, s.opts.LegacySlot, s.opts.Slot)
		lock.Unlock()
	}
	return &Store{svc: s, visitorID: visitorID, lock: lock}
}

// Store is one visitor's filter state.
// Reads of corrupt, missing, or unreachable storage yield the empty state;
// writes that fail to persist are logged and leave the state unchanged.
type Store struct {
	svc       *Service
	visitorID string
	lock      *sync.Mutex
}

// VisitorID returns the visitor this store is bound to.
func (st *Store) VisitorID() string {
	return st.visitorID
}

// Get returns the current state.
// PRE: none
// POST: Returns the stored state, or an empty state
// INVARIANT: Storage is not mutated
func (st *Store) Get(ctx context.Context) filter.State {
	st.lock.Lock()
	defer st.lock.Unlock()
	return st.read(ctx)
}

// Set coerces raw and writes it under key.
// PRE: key is non-empty
// POST: Returns the state after the write
func (st *Store) Set(ctx context.Context, key, raw string, opts filter.SetOptions) filter.State {
	return st.SetValue(ctx, key, filter.ParseValue(raw), opts)
}

// SetValue writes an already-coerced value under key.
// PRE: key is non-empty
// POST: Returns the state after the write
func (st *Store) SetValue(ctx context.Context, key string, value any, opts filter.SetOptions) filter.State {
	st.lock.Lock()
	defer st.lock.Unlock()

	current := st.read(ctx)
	next, err := filter.Apply(current, key, value, opts)
	if err != nil {
		slog.Debug("filter_set_ignored", "visitor_id", st.visitorID, "error", err)
		return current
	}
	return st.write(ctx, OpSet, current, next, "key", key)
}

// Remove deletes key if present.
// PRE: none
// POST: Returns the state without key
func (st *Store) Remove(ctx context.Context, key string) filter.State {
	st.lock.Lock()
	defer st.lock.Unlock()

	current := st.read(ctx)
	next := current.Clone()
	delete(next, key)
	return st.write(ctx, OpRemove, current, next, "key", key)
}

// Clear empties the state.
// PRE: none
// POST: Get returns an empty state unless storage is unavailable
func (st *Store) Clear(ctx context.Context) {
	st.lock.Lock()
	defer st.lock.Unlock()
	st.write(ctx, OpClear, nil, filter.State{})
}

// Replace overwrites the whole state.
// PRE: none
// POST: Returns the state after the write
func (st *Store) Replace(ctx context.Context, next filter.State) filter.State {
	st.lock.Lock()
	defer st.lock.Unlock()
	if next == nil {
		next = filter.State{}
	}
	return st.write(ctx, OpReplace, nil, next.Clone())
}

func (st *Store) read(ctx context.Context) filter.State {
	raw, ok, err := st.svc.slots.Load(ctx, st.visitorID, st.svc.opts.Slot)
	if err != nil {
		slog.Warn("filter_read_failed", "visitor_id", st.visitorID, "error", err)
		return filter.State{}
	}
	if !ok {
		return filter.State{}
	}
	return filter.Decode(raw)
}

// write persists next and publishes it. On failure it returns previous,
// or the freshly read state when previous is nil.
func (st *Store) write(ctx context.Context, op string, previous, next filter.State, attrs ...any) filter.State {
	raw, err := filter.Encode(next)
	if err == nil {
		err = st.svc.slots.Save(ctx, st.visitorID, st.svc.opts.Slot, raw)
	}
	if err != nil {
		slog.Warn("filter_write_failed", append([]any{"op", op, "visitor_id", st.visitorID, "error", err}, attrs...)...)
		if previous == nil {
			return st.read(ctx)
		}
		return previous
	}

	slog.Debug("filter_event", append([]any{"event", "filter_" + op, "visitor_id", st.visitorID}, attrs...)...)
	if st.svc.opts.OnWrite != nil {
		st.svc.opts.OnWrite(op)
	}
	if st.svc.opts.Hub != nil {
		st.svc.opts.Hub.Publish(Change{VisitorID: st.visitorID, State: next.Clone()})
	}
	return next
}
