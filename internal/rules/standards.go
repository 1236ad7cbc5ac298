package rules

import (
	"fmt"
	"strings"
	"sync"
)

// StandardSource lists the persisted standard-condition rows, keyed by name.
type StandardSource interface {
	ListStandardConditions() (map[string]string, error)
}

// Standards is the process-wide, versioned table of named standard
// conditions that rules may inherit from. Refresh is the sole mechanism by
// which a rule inheriting `standard: <name>` picks up edits.
type Standards struct {
	mu    sync.RWMutex
	src   StandardSource
	frags map[string]Section // lowercased name -> parsed fragment
	raw   map[string]string  // last-seen rows, compared by value
	stale bool
}

// NewStandards returns an empty cache backed by src.
func NewStandards(src StandardSource) *Standards {
	return &Standards{
		src:   src,
		frags: make(map[string]Section),
		raw:   make(map[string]string),
	}
}

// Get returns the parsed fragment for a standard condition. Names are
// case-insensitive.
func (s *Standards) Get(name string) (Section, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frag, ok := s.frags[strings.ToLower(name)]
	return frag, ok
}

// MarkStale forces the next Refresh to rebuild the in-memory table even if
// the persisted rows are unchanged. Set after a standards wiki update.
func (s *Standards) MarkStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// Refresh reloads the cache from the source. It reports whether the table
// changed (by value, not identity), so callers know to rebuild conditions.
func (s *Standards) Refresh() (bool, error) {
	rows, err := s.src.ListStandardConditions()
	if err != nil {
		return false, fmt.Errorf("list standard conditions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stale && sameRows(s.raw, rows) {
		return false, nil
	}

	frags := make(map[string]Section, len(rows))
	for name, doc := range rows {
		secs, err := ParseDocuments(doc)
		if err != nil || len(secs) == 0 {
			return false, fmt.Errorf("standard condition `%s` is not valid YAML: %v", name, err)
		}
		frags[strings.ToLower(name)] = secs[0]
	}

	s.frags = frags
	s.raw = rows
	s.stale = false
	return true, nil
}

func sameRows(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
