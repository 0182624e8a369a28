package flow

import (
	"errors"
	"fmt"
	"strings"
)

// EntryPage is the page where the role is chosen.
const EntryPage = "index.html"

// Table maps a role name to the ordered pages of its wizard.
type Table map[string][]string

// PageKeys maps a page to the single state key it is responsible for.
// An empty key means the page owns none.
type PageKeys map[string]string

// ClearConvention selects which page's key a back activation removes.
type ClearConvention string

const (
	// ClearLeaving removes the key owned by the page being left.
	ClearLeaving ClearConvention = "leaving"
	// ClearEntering removes the key owned by the page being returned to.
	ClearEntering ClearConvention = "entering"
)

var (
	ErrEmptyFlow       = errors.New("flow must contain at least one page")
	ErrDuplicatePage   = errors.New("flow lists a page more than once")
	ErrUnknownClearArg = errors.New("back-clear convention must be 'leaving' or 'entering'")
)

// ParseClearConvention validates a configured convention name.
// PRE: none
// POST: returns ClearLeaving for "", the named convention, or an error
func ParseClearConvention(s string) (ClearConvention, error) {
	switch ClearConvention(strings.ToLower(strings.TrimSpace(s))) {
	case "", ClearLeaving:
		return ClearLeaving, nil
	case ClearEntering:
		return ClearEntering, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownClearArg, s)
}

// DefaultTable returns the compiled-in flows.
func DefaultTable() Table {
	return Table{
		"student":    {"competencies.html", "year.html", "tasks.html"},
		"instructor": {"year.html", "naab.html", "tasks.html"},
		"admin":      {"naab.html", "competencies.html", "tasks.html"},
	}
}

// DefaultPageKeys returns the compiled-in page ownership map.
func DefaultPageKeys() PageKeys {
	return PageKeys{
		EntryPage:           "role",
		"competencies.html": "Competency",
		"year.html":         "Level",
		"naab.html":         "NAAB",
		"tasks.html":        "",
	}
}

// Validate checks the table's invariants.
// PRE: none
// POST: returns nil if every flow is non-empty and lists each page once
func (t Table) Validate() error {
	for role, pages := range t {
		if len(pages) == 0 {
			return fmt.Errorf("role %q: %w", role, ErrEmptyFlow)
		}
		seen := make(map[string]bool, len(pages))
		for _, p := range pages {
			n := NormalizePage(p)
			if seen[n] {
				return fmt.Errorf("role %q page %q: %w", role, p, ErrDuplicatePage)
			}
			seen[n] = true
		}
	}
	return nil
}

// NormalizeRole maps a raw role to the canonical table key.
func NormalizeRole(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizePage reduces a path or URL to its lowercased file name.
// The empty path is the entry page; a bare name gets the .html extension.
func NormalizePage(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ToLower(s)
	if s == "" {
		return EntryPage
	}
	if !strings.Contains(s, ".") {
		s += ".html"
	}
	return s
}
