// Package snapshot caches resolved configurations per subsystem.
//
// Entries live until they are invalidated or replaced; there is no expiry.
// Do serialises resolutions: at most one resolution of a subsystem is in
// flight at a time. Callers asking for the same subsystem and variant share
// its result; callers with another variant wait for it and then run their own. A resolution that started before an Invalidate of
// its subsystem still returns to its callers but is not stored.
package snapshot

import (
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/systmms/bootcfg/pkg/backend"
)

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*backend.ResolvedConfig
	gens    map[string]uint64
	epoch   uint64

	group singleflight.Group
}

type token struct {
	epoch uint64
	gen   uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]*backend.ResolvedConfig),
		gens:    make(map[string]uint64),
	}
}

// Get returns the cached config of subsystem.
func (s *Store) Get(subsystem string) (*backend.ResolvedConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.entries[subsystem]
	return cfg, ok
}

// Put stores cfg, replacing any previous entry.
func (s *Store) Put(subsystem string, cfg *backend.ResolvedConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[subsystem] = cfg
}

// Invalidate drops the entry of subsystem and outdates in-flight resolutions.
func (s *Store) Invalidate(subsystem string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, subsystem)
	s.gens[subsystem]++
}

// InvalidateAll drops every entry and outdates every in-flight resolution.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*backend.ResolvedConfig)
	s.epoch++
}

// Keys lists cached subsystems, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) current(subsystem string) token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return token{epoch: s.epoch, gen: s.gens[subsystem]}
}

// putIfCurrent stores cfg unless subsystem was invalidated since tok.
func (s *Store) putIfCurrent(subsystem string, tok token, cfg *backend.ResolvedConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != tok.epoch || s.gens[subsystem] != tok.gen {
		return false
	}
	s.entries[subsystem] = cfg
	return true
}

// flight is the shared outcome of one resolution.
type flight struct {
	variant string
	cfg     *backend.ResolvedConfig
	err     error
}

// Do returns the cached config of subsystem when accept approves it, or runs
// resolve. At most one resolve per subsystem runs at a time. Concurrent
// callers with the same variant share its outcome; a caller that joined a
// flight for another variant tries again once it lands. Failed resolutions
// are not cached. cached is true when the result came from the store.
func (s *Store) Do(
	subsystem, variant string,
	accept func(*backend.ResolvedConfig) bool,
	resolve func() (*backend.ResolvedConfig, error),
) (cfg *backend.ResolvedConfig, cached bool, err error) {
	for {
		if cfg, ok := s.lookup(subsystem, accept); ok {
			return cfg, true, nil
		}

		v, _, _ := s.group.Do(subsystem, func() (interface{}, error) {
			// a flight that finished just before this one started may have
			// stored an acceptable entry
			if cfg, ok := s.lookup(subsystem, accept); ok {
				return flight{variant: variant, cfg: cfg}, nil
			}
			tok := s.current(subsystem)
			cfg, err := resolve()
			if err != nil {
				return flight{variant: variant, err: err}, nil
			}
			s.putIfCurrent(subsystem, tok, cfg)
			return flight{variant: variant, cfg: cfg}, nil
		})
		f := v.(flight)
		if f.variant != variant {
			continue
		}
		if f.err != nil {
			return nil, false, f.err
		}
		return f.cfg, false, nil
	}
}

func (s *Store) lookup(subsystem string, accept func(*backend.ResolvedConfig) bool) (*backend.ResolvedConfig, bool) {
	cfg, ok := s.Get(subsystem)
	if !ok {
		return nil, false
	}
	if accept != nil && !accept(cfg) {
		return nil, false
	}
	return cfg, true
}
