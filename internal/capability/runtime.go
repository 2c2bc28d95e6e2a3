package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/systmms/bootcfg/internal/logging"
)

// DefaultProbeTimeout bounds every probe of a Runtime.
const DefaultProbeTimeout = 2 * time.Second

// Probe checks one capability. A nil error means available.
type Probe func(ctx context.Context) error

// Observer is told about every probe result.
type Observer func(name string, available bool, elapsed time.Duration)

// Runtime runs registered probes against the live environment.
type Runtime struct {
	mu       sync.RWMutex
	probes   map[string]Probe
	kinds    map[string]string
	timeout  time.Duration
	logger   *logging.Logger
	observer Observer
	reveal   Revealer
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithTimeout overrides DefaultProbeTimeout.
func WithTimeout(d time.Duration) RuntimeOption {
	return func(r *Runtime) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used for probe diagnostics.
func WithLogger(l *logging.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithObserver registers a callback for probe results.
func WithObserver(o Observer) RuntimeOption {
	return func(r *Runtime) {
		r.observer = o
	}
}

// WithRevealer sets how probe credentials are revealed. The default uses
// them as written.
func WithRevealer(fn Revealer) RuntimeOption {
	return func(r *Runtime) {
		if fn != nil {
			r.reveal = fn
		}
	}
}

// NewRuntime creates a Runtime with no probes.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		probes:  make(map[string]Probe),
		kinds:   make(map[string]string),
		timeout: DefaultProbeTimeout,
		logger:  logging.Discard(),
		reveal:  plainText,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the probe for name. kind is informational
// ("tcp", "redis", ...) and picks the timeout suggestion.
func (r *Runtime) Register(name, kind string, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = p
	r.kinds[name] = kind
}

// Names implements Lister.
func (r *Runtime) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.probes))
	for k := range r.probes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Kind returns the probe kind registered for name.
func (r *Runtime) Kind(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kinds[name]
}

// Check runs the probe for name and returns why it is unavailable.
func (r *Runtime) Check(ctx context.Context, name string) error {
	r.mu.RLock()
	probe, ok := r.probes[name]
	kind := r.kinds[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no probe registered for capability %q", name)
	}

	probeCtx, cancel := withProbeTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx)
	elapsed := time.Since(start)
	if err != nil {
		err = probeTimeoutError(probeCtx, err, kind, r.timeout)
	}

	if r.observer != nil {
		r.observer(name, err == nil, elapsed)
	}
	if err != nil {
		r.logger.Debug("capability %s unavailable after %s: %v", name, elapsed, err)
	} else {
		r.logger.Debug("capability %s available (%s)", name, elapsed)
	}
	return err
}

// IsAvailable implements Prober.
func (r *Runtime) IsAvailable(ctx context.Context, name string) bool {
	return r.Check(ctx, name) == nil
}
