package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/systmms/bootcfg/internal/capability"
	"github.com/systmms/bootcfg/internal/config"
	"github.com/systmms/bootcfg/internal/envaccess"
	"github.com/systmms/bootcfg/internal/envsource"
	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/internal/metrics"
	"github.com/systmms/bootcfg/internal/registry"
	"github.com/systmms/bootcfg/internal/resolve"
	"github.com/systmms/bootcfg/internal/secrets"
)

// App is a fully wired bootcfg instance.
type App struct {
	Definition *config.Definition
	Engine     *resolve.Engine
	Registry   *registry.Registry
	Metrics    *metrics.Metrics
	Secrets    *secrets.Materializer

	// Probes is nil when a prober was injected with WithProber.
	Probes *capability.Runtime

	source     envsource.Source
	logger     *logging.Logger
	lastResort map[string]LastResort

	mu  sync.RWMutex
	env map[string]string
}

// Option configures New.
type Option func(*options)

type options struct {
	logger     *logging.Logger
	source     envsource.Source
	prober     capability.Prober
	metrics    *metrics.Metrics
	lastResort map[string]LastResort
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSource replaces the sources declared in the definition.
func WithSource(s envsource.Source) Option {
	return func(o *options) { o.source = s }
}

// WithProber replaces the live capability probes.
func WithProber(p capability.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithMetrics shares a metrics instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLastResort replaces DefaultLastResort.
func WithLastResort(lr map[string]LastResort) Option {
	return func(o *options) { o.lastResort = lr }
}

// New loads the environment snapshot and wires registry, probes, secrets and
// engine according to def. The registry is sealed on return.
func New(ctx context.Context, def *config.Definition, opts ...Option) (*App, error) {
	o := options{logger: logging.Discard(), lastResort: DefaultLastResort()}
	for _, opt := range opts {
		opt(&o)
	}
	if def == nil {
		def = config.Default()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.source == nil {
		layered, err := def.SourceLayer()
		if err != nil {
			return nil, err
		}
		o.source = layered
	}

	app := &App{
		Definition: def,
		Metrics:    o.metrics,
		source:     o.source,
		logger:     o.logger,
		lastResort: o.lastResort,
	}

	env, err := app.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	app.env = env
	o.logger.Debug("Loaded %d variables from %s", len(env), app.source.Name())

	reg, err := registry.Builtin()
	if err != nil {
		return nil, err
	}
	if def.Providers != "" {
		if err := reg.LoadFile(def.Providers); err != nil {
			return nil, err
		}
	}
	if err := reg.Seal(); err != nil {
		return nil, err
	}
	app.Registry = reg

	app.Secrets = def.Materializer(o.logger, app.Environment)

	prober := o.prober
	if prober == nil {
		app.Probes = capability.NewRuntime(
			capability.WithTimeout(def.ProbeTimeout),
			capability.WithLogger(o.logger.WithPrefix("probe")),
			capability.WithObserver(o.metrics.RecordProbe),
			capability.WithRevealer(app.revealCredential),
		)
		if err := app.registerProbes(env); err != nil {
			return nil, err
		}
		prober = app.Probes
	}
	app.Engine = resolve.New(reg,
		resolve.WithProber(prober),
		resolve.WithMaterializer(app.Secrets),
		resolve.WithMetrics(o.metrics),
		resolve.WithLogger(o.logger),
		resolve.WithEnvironment(app.Environment),
	)
	return app, nil
}

// registerProbes addresses the probes from env. Configured specs are checked
// before anything is registered, so a bad spec leaves the probes untouched.
func (a *App) registerProbes(env map[string]string) error {
	specs := a.Definition.ExpandedCapabilities(env)
	for name, spec := range specs {
		if _, err := capability.Build(spec, nil); err != nil {
			return fmt.Errorf("capabilities.%s: %w", name, err)
		}
	}
	a.Probes.RegisterDefaults(envaccess.New(env))
	for name, spec := range specs {
		if err := a.Probes.RegisterSpec(name, spec); err != nil {
			return fmt.Errorf("capabilities.%s: %w", name, err)
		}
	}
	return nil
}

// revealCredential reveals a probe password through the secrets materializer.
func (a *App) revealCredential(ctx context.Context, raw string) (string, error) {
	secret, err := a.Secrets.Reveal(ctx, raw)
	if err != nil {
		return "", err
	}
	defer secret.Destroy()
	return secret.Reveal()
}

// Environment returns a copy of the current snapshot.
func (a *App) Environment() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.env))
	for k, v := range a.env {
		out[k] = v
	}
	return out
}

// Subsystems returns the subsystems to resolve at startup: the configured
// serve list, or every registered subsystem.
func (a *App) Subsystems() []string {
	if len(a.Definition.Serve.Subsystems) > 0 {
		return append([]string(nil), a.Definition.Serve.Subsystems...)
	}
	return a.Registry.Subsystems()
}

// ResolveAll resolves every startup subsystem.
func (a *App) ResolveAll(ctx context.Context) (*Report, error) {
	return ResolveAll(ctx, a.Engine, a.Subsystems(), a.lastResort, a.logger)
}

// Reload reloads the environment snapshot, re-addresses the probes,
// drops every cached configuration and resolves again. On a source or probe
// error the previous snapshot, probes and configurations stay in place.
func (a *App) Reload(ctx context.Context) (*Report, error) {
	env, err := a.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	if a.Probes != nil {
		if err := a.registerProbes(env); err != nil {
			return nil, err
		}
	}
	a.mu.Lock()
	a.env = env
	a.mu.Unlock()
	a.Engine.InvalidateAll()
	a.logger.Info("Reloaded environment from %s", a.source.Name())
	return a.ResolveAll(ctx)
}
