package filter

import (
	"encoding/json"
	"errors"
)

// KeyRole is the reserved key that selects the wizard flow.
const KeyRole = "role"

// roleAliases are read in order when looking up the active role.
var roleAliases = []string{KeyRole, "Role", "ROLE"}

// ErrEmptyKey is returned when a write targets an empty key.
var ErrEmptyKey = errors.New("filter key is required")

// State is the persisted record of a visitor's wizard answers.
// Single-choice keys hold a scalar; multi-select keys hold a []any whose
// members are unique under Equal and kept in insertion order.
type State map[string]any

// SetOptions selects list semantics for a write.
// Toggle takes precedence when both are set.
type SetOptions struct {
	Append bool
	Toggle bool
}

// Multi reports whether the write targets a list.
func (o SetOptions) Multi() bool {
	return o.Append || o.Toggle
}

// Clone returns a copy that shares no list storage with s.
// PRE: none
// POST: mutating the copy never affects s
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		if list, ok := v.([]any); ok {
			cp := make([]any, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// Contains reports whether value is a member of the list stored at key.
// A scalar is treated as a one-element list.
func (s State) Contains(key string, value any) bool {
	return indexOf(ToList(s[key]), value) >= 0
}

// Role returns the raw role recorded in the state, or "".
func (s State) Role() string {
	for _, k := range roleAliases {
		v, ok := s[k]
		if !ok || v == nil {
			continue
		}
		return Stringify(v)
	}
	return ""
}

// ToList coerces a stored value into a list.
// nil and "" become the empty list; a scalar becomes a one-element list.
func ToList(v any) []any {
	switch x := v.(type) {
	case nil:
		return []any{}
	case string:
		if x == "" {
			return []any{}
		}
	case []any:
		out := make([]any, len(x))
		copy(out, x)
		return out
	}
	return []any{v}
}

func indexOf(list []any, value any) int {
	for i, item := range list {
		if Equal(item, value) {
			return i
		}
	}
	return -1
}

// Apply returns a new state with value written under key.
// PRE: key is non-empty
// POST: replace semantics without options; append adds value once;
// toggle removes value if present, otherwise adds it
// INVARIANT: s is not mutated
func Apply(s State, key string, value any, opts SetOptions) (State, error) {
	if key == "" {
		return s, ErrEmptyKey
	}
	next := s.Clone()
	if !opts.Multi() {
		next[key] = value
		return next, nil
	}

	list := ToList(next[key])
	idx := indexOf(list, value)
	switch {
	case opts.Toggle && idx >= 0:
		list = append(list[:idx], list[idx+1:]...)
	case idx < 0:
		list = append(list, value)
	}
	next[key] = list
	return next, nil
}

// Decode parses a serialized state.
// Missing, corrupt, or non-object content yields the empty state.
func Decode(raw string) State {
	if raw == "" {
		return State{}
	}
	var out State
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return State{}
	}
	return out
}

// Encode serializes a state for storage. A nil state encodes as "{}".
func Encode(s State) (string, error) {
	if s == nil {
		s = State{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
