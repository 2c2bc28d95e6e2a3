// Package capability answers "is backend X usable here" for the resolution
// engine. The engine only sees the Prober interface; hosts plug in a Static
// table, plain functions or a Runtime with real probes.
package capability

import (
	"context"
	"sort"
	"sync"
)

// Prober reports whether a named capability is available.
// Unknown names are unavailable.
type Prober interface {
	IsAvailable(ctx context.Context, name string) bool
}

// Static is a fixed table of capability results. Safe for concurrent use.
type Static struct {
	mu    sync.RWMutex
	table map[string]bool
}

// NewStatic copies table into a new prober.
func NewStatic(table map[string]bool) *Static {
	s := &Static{table: make(map[string]bool, len(table))}
	for k, v := range table {
		s.table[k] = v
	}
	return s
}

// IsAvailable implements Prober.
func (s *Static) IsAvailable(_ context.Context, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table[name]
}

// Set changes one result.
func (s *Static) Set(name string, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table[name] = available
}

// Funcs maps capability names to predicates.
type Funcs map[string]func(ctx context.Context) bool

// IsAvailable implements Prober.
func (f Funcs) IsAvailable(ctx context.Context, name string) bool {
	fn, ok := f[name]
	if !ok || fn == nil {
		return false
	}
	return fn(ctx)
}

// Chain asks each prober in turn and reports the first positive answer.
type Chain []Prober

// IsAvailable implements Prober.
func (c Chain) IsAvailable(ctx context.Context, name string) bool {
	for _, p := range c {
		if p.IsAvailable(ctx, name) {
			return true
		}
	}
	return false
}

// Lister is implemented by probers that can enumerate their capabilities.
type Lister interface {
	Names() []string
}

// Names implements Lister.
func (s *Static) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.table))
	for k := range s.table {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
