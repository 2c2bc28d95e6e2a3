// Package resolve implements the resolution engine: the decision procedure
// that selects exactly one provider for a subsystem.
package resolve

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/systmms/bootcfg/internal/capability"
	"github.com/systmms/bootcfg/internal/envaccess"
	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/internal/metrics"
	"github.com/systmms/bootcfg/internal/registry"
	"github.com/systmms/bootcfg/internal/secrets"
	"github.com/systmms/bootcfg/internal/snapshot"
	"github.com/systmms/bootcfg/pkg/backend"
)

// Engine resolves subsystems against a provider registry.
type Engine struct {
	registry *registry.Registry
	prober   capability.Prober
	secrets  *secrets.Materializer
	store    *snapshot.Store
	metrics  *metrics.Metrics
	logger   *logging.Logger
	environ  func() map[string]string
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithProber sets the capability prober. The default reports nothing as
// available.
func WithProber(p capability.Prober) Option {
	return func(e *Engine) { e.prober = p }
}

// WithMaterializer sets the secret materializer. The default passes plaintext
// through and fails on encrypted values.
func WithMaterializer(m *secrets.Materializer) Option {
	return func(e *Engine) { e.secrets = m }
}

// WithStore shares a snapshot store.
func WithStore(s *snapshot.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics records resolution metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEnvironment sets where request snapshots come from. The default is
// the process environment.
func WithEnvironment(environ func() map[string]string) Option {
	return func(e *Engine) { e.environ = environ }
}

// WithClock overrides time.Now for ResolvedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over reg.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		prober:   capability.NewStatic(nil),
		secrets:  secrets.New(),
		store:    snapshot.New(),
		logger:   logging.Discard(),
		environ:  func() map[string]string { return envaccess.Snapshot(os.Environ()) },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Store returns the engine's snapshot store.
func (e *Engine) Store() *snapshot.Store { return e.store }

// Prober returns the engine's capability prober.
func (e *Engine) Prober() capability.Prober { return e.prober }

// RegisterProvider adds a provider. Only valid before the registry is sealed.
func (e *Engine) RegisterProvider(def backend.ProviderDefinition) error {
	if err := e.registry.Register(def); err != nil {
		return err
	}
	e.logger.Debug("Registered provider %s", def.Key())
	return nil
}

// Request captures the environment and builds a request.
func (e *Engine) Request(subsystem, preference string) backend.ResolutionRequest {
	return backend.ResolutionRequest{
		Subsystem:   subsystem,
		Preference:  preference,
		Environment: e.environ(),
	}
}

// Preference returns the preference configured for subsystem in env, read
// from the subsystem's preference variable.
func (e *Engine) Preference(subsystem string, env map[string]string) string {
	spec, _ := e.registry.Subsystem(subsystem)
	if spec.PreferenceEnv == "" {
		return backend.PreferenceAuto
	}
	return envaccess.New(env).String(spec.PreferenceEnv, backend.PreferenceAuto)
}

// ResolveSubsystem resolves subsystem with the preference found in the
// environment.
func (e *Engine) ResolveSubsystem(ctx context.Context, subsystem string) (*backend.ResolvedConfig, error) {
	env := e.environ()
	return e.Resolve(ctx, backend.ResolutionRequest{
		Subsystem:   subsystem,
		Preference:  e.Preference(subsystem, env),
		Environment: env,
	})
}

// Resolve selects a provider for the request.
//
// A routine failure (no eligible provider) is returned as a
// *backend.ResolutionFailure. Any other error is fatal configuration trouble,
// such as a missing decryption key. A successful result is cached until the
// subsystem is invalidated; later calls with the same preference return the
// cached value.
func (e *Engine) Resolve(ctx context.Context, req backend.ResolutionRequest) (*backend.ResolvedConfig, error) {
	if req.Environment == nil {
		req.Environment = e.environ()
	}
	pref := req.NormalizedPreference()
	start := time.Now()

	cfg, cached, err := e.store.Do(req.Subsystem, pref,
		func(c *backend.ResolvedConfig) bool { return c.Preference == pref },
		func() (*backend.ResolvedConfig, error) { return e.resolve(ctx, req) },
	)
	if cached {
		e.metrics.RecordSnapshotHit(req.Subsystem)
		return cfg, nil
	}

	elapsed := time.Since(start)
	switch {
	case err == nil:
		e.metrics.RecordResolution(req.Subsystem, cfg.Provider, metrics.OutcomeResolved, elapsed)
	case isFailure(err):
		e.metrics.RecordResolution(req.Subsystem, "", metrics.OutcomeFailed, elapsed)
	default:
		e.metrics.RecordResolution(req.Subsystem, "", metrics.OutcomeError, elapsed)
	}
	e.metrics.SetCachedConfigs(e.store.Len())
	return cfg, err
}

// Invalidate forces the next Resolve of subsystem to run again.
func (e *Engine) Invalidate(subsystem string) {
	e.store.Invalidate(subsystem)
	e.metrics.SetCachedConfigs(e.store.Len())
	e.logger.Debug("Invalidated %s", subsystem)
}

// InvalidateAll forces every subsystem to be resolved again.
func (e *Engine) InvalidateAll() {
	e.store.InvalidateAll()
	e.metrics.SetCachedConfigs(0)
	e.logger.Debug("Invalidated all subsystems")
}

func (e *Engine) resolve(ctx context.Context, req backend.ResolutionRequest) (*backend.ResolvedConfig, error) {
	pref := req.NormalizedPreference()
	candidates := e.registry.CandidatesFor(req.Subsystem)
	failure := &backend.ResolutionFailure{
		Subsystem:  req.Subsystem,
		Preference: pref,
		Attempted:  []backend.Rejection{},
	}
	if len(candidates) == 0 {
		e.logger.Warn("%s: no providers registered", req.Subsystem)
		return nil, failure
	}

	spec, _ := e.registry.Subsystem(req.Subsystem)

	if req.IsAuto() {
		for _, c := range candidates {
			cfg, reason, err := e.try(ctx, req, spec, c)
			if err != nil {
				return nil, err
			}
			if reason == "" {
				cfg.Rejected = failure.Attempted
				e.logger.Info("%s: using %s (auto)", req.Subsystem, c.Name)
				return cfg, nil
			}
			e.reject(failure, c.Name, reason)
		}
		e.logger.Warn("%s", failure.Error())
		return nil, failure
	}

	target, ok := find(candidates, pref)
	if !ok {
		e.reject(failure, pref, backend.ReasonUnknownProvider(pref))
		e.logger.Warn("%s", failure.Error())
		return nil, failure
	}

	cfg, reason, err := e.try(ctx, req, spec, target)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		e.logger.Info("%s: using %s", req.Subsystem, target.Name)
		return cfg, nil
	}
	e.reject(failure, target.Name, reason)

	if spec.DefaultProvider != "" && spec.DefaultProvider != target.Name {
		if fallback, ok := find(candidates, spec.DefaultProvider); ok {
			cfg, reason, err := e.try(ctx, req, spec, fallback)
			if err != nil {
				return nil, err
			}
			if reason == "" {
				cfg.Rejected = failure.Attempted
				e.metrics.RecordDegradation(req.Subsystem, target.Name, fallback.Name)
				e.logger.Warn("%s: %s requested but unusable (%s), falling back to %s",
					req.Subsystem, target.Name, failure.Attempted[0].Reason, fallback.Name)
				return cfg, nil
			}
			e.reject(failure, fallback.Name, reason)
		}
	}

	e.logger.Warn("%s", failure.Error())
	return nil, failure
}

func (e *Engine) reject(failure *backend.ResolutionFailure, provider, reason string) {
	failure.Attempted = append(failure.Attempted, backend.Rejection{Provider: provider, Reason: reason})
	e.metrics.RecordRejection(failure.Subsystem, provider)
	e.logger.Debug("%s: rejected %s: %s", failure.Subsystem, provider, reason)
}

// try evaluates one candidate. It returns the config when the candidate is
// eligible, a rejection reason when it is not, and an error only for fatal
// problems.
func (e *Engine) try(ctx context.Context, req backend.ResolutionRequest, spec backend.SubsystemSpec, def backend.ProviderDefinition) (*backend.ResolvedConfig, string, error) {
	acc := envaccess.New(req.Environment)

	if def.EnabledBy != "" && !acc.Enabled(def.EnabledBy) {
		return nil, backend.ReasonDisabled(def.EnabledBy), nil
	}
	if def.Capability != "" && !e.prober.IsAvailable(ctx, def.Capability) {
		return nil, backend.ReasonCapability(def.Capability), nil
	}

	fields := make(map[string]any, len(def.Fields))
	var secretFields []backend.FieldSpec
	for _, f := range def.Fields {
		v, ok := acc.Field(f)
		if !ok {
			if f.Required {
				return nil, backend.ReasonMissingField(f.Key), nil
			}
			continue
		}
		if f.Kind == backend.KindSecret {
			secretFields = append(secretFields, f)
		}
		fields[f.Key] = v
	}

	// secrets are only revealed once the candidate is otherwise eligible
	for i, f := range secretFields {
		raw, _ := fields[f.Key].(string)
		s, err := e.secrets.Reveal(ctx, raw)
		if err != nil {
			destroySecrets(fields, secretFields[:i])
			if apperrors.IsConfigError(err) {
				return nil, "", err
			}
			return nil, backend.ReasonSecret(f.Key, err), nil
		}
		fields[f.Key] = s
	}

	warnings := acc.Warnings()
	for _, w := range warnings {
		e.logger.Warn("%s/%s: %s, using default", req.Subsystem, def.Name, w)
	}
	e.metrics.RecordWarnings(req.Subsystem, len(warnings))

	return &backend.ResolvedConfig{
		Subsystem:  req.Subsystem,
		Provider:   def.Name,
		Preference: req.NormalizedPreference(),
		Fields:     fields,
		Warnings:   warnings,
		ResolvedAt: e.now(),
		Purposes:   spec.Purposes,
		Specs:      def.Fields,
	}, "", nil
}

func destroySecrets(fields map[string]any, specs []backend.FieldSpec) {
	for _, f := range specs {
		if s, ok := fields[f.Key].(backend.Secret); ok {
			s.Destroy()
		}
	}
}

func find(candidates []backend.ProviderDefinition, name string) (backend.ProviderDefinition, bool) {
	for _, c := range candidates {
		if c.Name == name {
			return c, true
		}
	}
	return backend.ProviderDefinition{}, false
}

func isFailure(err error) bool {
	var f *backend.ResolutionFailure
	return errors.As(err, &f)
}

// Verdict is the outcome of evaluating one candidate in isolation.
type Verdict struct {
	Provider string `json:"provider" yaml:"provider"`
	Priority int    `json:"priority" yaml:"priority"`
	Eligible bool   `json:"eligible" yaml:"eligible"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Explain evaluates every candidate of subsystem against env without
// selecting or caching anything. It backs diagnostics such as "doctor".
func (e *Engine) Explain(ctx context.Context, subsystem string, env map[string]string) []Verdict {
	if env == nil {
		env = e.environ()
	}
	spec, _ := e.registry.Subsystem(subsystem)
	req := backend.ResolutionRequest{Subsystem: subsystem, Preference: backend.PreferenceAuto, Environment: env}

	candidates := e.registry.CandidatesFor(subsystem)
	verdicts := make([]Verdict, 0, len(candidates))
	for _, c := range candidates {
		v := Verdict{Provider: c.Name, Priority: c.Priority}
		cfg, reason, err := e.try(ctx, req, spec, c)
		switch {
		case err != nil:
			v.Reason = err.Error()
		case reason != "":
			v.Reason = reason
		default:
			v.Eligible = true
			destroyAll(cfg)
		}
		verdicts = append(verdicts, v)
	}
	return verdicts
}

func destroyAll(cfg *backend.ResolvedConfig) {
	for _, v := range cfg.Fields {
		if s, ok := v.(backend.Secret); ok {
			s.Destroy()
		}
	}
}
