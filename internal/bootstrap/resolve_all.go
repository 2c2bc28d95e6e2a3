package bootstrap

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/pkg/backend"
)

// Resolver is the part of the engine bootstrap needs.
type Resolver interface {
	ResolveSubsystem(ctx context.Context, subsystem string) (*backend.ResolvedConfig, error)
}

// LastResort builds a substitute configuration for a failed subsystem, or
// returns nil when the failure must stand.
type LastResort func(failure *backend.ResolutionFailure) *backend.ResolvedConfig

// MemoryProvider names the in-process cache substituted when no cache
// backend is eligible.
const MemoryProvider = "memory"

// DefaultLastResort substitutes an in-process cache for a failed cache
// subsystem. Every other subsystem (storage, oauth, payments...) fails
// loudly.
func DefaultLastResort() map[string]LastResort {
	return map[string]LastResort{
		"cache": MemoryCache,
	}
}

// MemoryCache is the cache last resort.
func MemoryCache(failure *backend.ResolutionFailure) *backend.ResolvedConfig {
	return &backend.ResolvedConfig{
		Subsystem:  failure.Subsystem,
		Provider:   MemoryProvider,
		Preference: failure.Preference,
		Fields:     map[string]any{"prefix": "cake_"},
		Rejected:   append([]backend.Rejection(nil), failure.Attempted...),
		ResolvedAt: time.Now(),
	}
}

// Report is the outcome of resolving a set of subsystems.
type Report struct {
	Configs  map[string]*backend.ResolvedConfig     `json:"configs"`
	Failures map[string]*backend.ResolutionFailure `json:"failures,omitempty"`

	// Substituted lists subsystems served by a last resort; their entry in
	// Configs is the substitute.
	Substituted []string `json:"substituted,omitempty"`
}

// OK reports whether every subsystem has a configuration.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// Subsystems returns every subsystem in the report, sorted.
func (r *Report) Subsystems() []string {
	names := make([]string, 0, len(r.Configs)+len(r.Failures))
	for name := range r.Configs {
		names = append(names, name)
	}
	for name := range r.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveAll resolves subsystems in parallel. Routine failures are collected
// in the report; the first fatal error cancels the rest and is returned.
func ResolveAll(ctx context.Context, r Resolver, subsystems []string, lastResort map[string]LastResort, logger *logging.Logger) (*Report, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	report := &Report{
		Configs:  make(map[string]*backend.ResolvedConfig, len(subsystems)),
		Failures: make(map[string]*backend.ResolutionFailure),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, subsystem := range subsystems {
		subsystem := subsystem
		g.Go(func() error {
			cfg, err := r.ResolveSubsystem(gctx, subsystem)
			if err == nil {
				mu.Lock()
				report.Configs[subsystem] = cfg
				mu.Unlock()
				return nil
			}

			var failure *backend.ResolutionFailure
			if !errors.As(err, &failure) {
				return err
			}

			if fallback := lastResort[subsystem]; fallback != nil {
				if sub := fallback(failure); sub != nil {
					logger.Warn("%s: %v; using last resort %s", subsystem, failure, sub.Provider)
					mu.Lock()
					report.Configs[subsystem] = sub
					report.Substituted = append(report.Substituted, subsystem)
					mu.Unlock()
					return nil
				}
			}

			logger.Error("%v", failure)
			mu.Lock()
			report.Failures[subsystem] = failure
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(report.Substituted)
	return report, nil
}
