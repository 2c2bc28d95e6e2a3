package bootstrap_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/bootcfg/internal/bootstrap"
	"github.com/systmms/bootcfg/internal/capability"
	"github.com/systmms/bootcfg/internal/config"
	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/internal/secrets"
	"github.com/systmms/bootcfg/pkg/backend"
	"github.com/systmms/bootcfg/tests/fakes"
)

// stubResolver answers from fixed tables
type stubResolver struct {
	configs map[string]*backend.ResolvedConfig
	errs    map[string]error
}

func (s stubResolver) ResolveSubsystem(ctx context.Context, subsystem string) (*backend.ResolvedConfig, error) {
	if err, ok := s.errs[subsystem]; ok {
		return nil, err
	}
	return s.configs[subsystem], nil
}

// mutableSource is an envsource.Source whose content can change between loads
type mutableSource struct {
	mu   sync.Mutex
	vars map[string]string
	err  error
}

func (m *mutableSource) Name() string { return "mutable" }

func (m *mutableSource) Load(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(m.vars))
	for k, v := range m.vars {
		out[k] = v
	}
	return out, nil
}

func (m *mutableSource) set(k, v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[k] = v
}

func TestResolveAllLastResort(t *testing.T) {
	t.Parallel()

	cacheFailure := &backend.ResolutionFailure{
		Subsystem: "cache", Preference: "redis",
		Attempted: []backend.Rejection{{Provider: "redis", Reason: backend.ReasonCapability("redis")}},
	}
	storageFailure := &backend.ResolutionFailure{
		Subsystem: "storage", Preference: "auto",
		Attempted: []backend.Rejection{{Provider: "s3", Reason: backend.ReasonMissingField("access_key")}},
	}
	queue := &backend.ResolvedConfig{Subsystem: "queue", Provider: "redis"}

	r := stubResolver{
		configs: map[string]*backend.ResolvedConfig{"queue": queue},
		errs:    map[string]error{"cache": cacheFailure, "storage": storageFailure},
	}

	report, err := bootstrap.ResolveAll(context.Background(), r, []string{"cache", "storage", "queue"}, bootstrap.DefaultLastResort(), nil)
	require.NoError(t, err)

	assert.False(t, report.OK())
	assert.Same(t, queue, report.Configs["queue"])
	assert.Equal(t, bootstrap.MemoryProvider, report.Configs["cache"].Provider)
	assert.Equal(t, cacheFailure.Attempted, report.Configs["cache"].Rejected)
	assert.Equal(t, []string{"cache"}, report.Substituted)

	_, storageServed := report.Configs["storage"]
	assert.False(t, storageServed, "storage must never be substituted")
	assert.Same(t, storageFailure, report.Failures["storage"])
	assert.Equal(t, []string{"cache", "queue", "storage"}, report.Subsystems())
}

func TestResolveAllFatalError(t *testing.T) {
	t.Parallel()

	fatal := apperrors.ConfigError{Field: "secrets.key_source", Message: "no decryption key configured"}
	r := stubResolver{errs: map[string]error{"mail": fatal}}

	report, err := bootstrap.ResolveAll(context.Background(), r, []string{"mail"}, nil, nil)
	assert.Nil(t, report)
	assert.True(t, apperrors.IsConfigError(err))
}

func TestAppResolvesBuiltinSubsystems(t *testing.T) {
	t.Parallel()

	src := &mutableSource{vars: map[string]string{
		"REDIS_HOST":       "cache.internal",
		"GITHUB_CLIENT_ID": "gh-id",
	}}
	prober := fakes.NewFakeProber(map[string]bool{"redis": true})

	def := config.Default()
	def.Serve.Subsystems = []string{"cache", "storage", "oauth:github"}

	app, err := bootstrap.New(context.Background(), def,
		bootstrap.WithSource(src),
		bootstrap.WithProber(prober),
	)
	require.NoError(t, err)
	assert.True(t, app.Registry.Sealed())
	assert.Nil(t, app.Probes)

	report, err := app.ResolveAll(context.Background())
	require.NoError(t, err)

	require.Contains(t, report.Configs, "cache")
	assert.Equal(t, "redis", report.Configs["cache"].Provider)
	assert.Equal(t, "cache.internal", report.Configs["cache"].String("host"))

	require.Contains(t, report.Failures, "storage")
	require.Contains(t, report.Failures, "oauth:github")
	reason, _ := report.Failures["oauth:github"].Reason("github")
	assert.Equal(t, backend.ReasonMissingField("client_secret"), reason)
}

func TestAppRoutingFollowsFeatureFlag(t *testing.T) {
	t.Parallel()

	src := &mutableSource{vars: map[string]string{
		"V2_ROUTING_API_KEY": "routing-key",
		"V2_BASE_URL":        "https://app.example.com",
	}}
	def := config.Default()
	def.Serve.Subsystems = []string{"routing"}

	app, err := bootstrap.New(context.Background(), def,
		bootstrap.WithSource(src),
		bootstrap.WithProber(fakes.NewFakeProber(nil)),
	)
	require.NoError(t, err)

	report, err := app.ResolveAll(context.Background())
	require.NoError(t, err)
	require.Contains(t, report.Configs, "routing")
	assert.Equal(t, "v2", report.Configs["routing"].Provider)
	assert.True(t, report.Configs["routing"].Bool("ssl_verify"))

	src.set("V4_ROUTING_ENABLED", "true")
	report, err = app.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v4", report.Configs["routing"].Provider)
	assert.Equal(t, 15, report.Configs["routing"].Int("token_expiration"))
}

func TestAppReload(t *testing.T) {
	t.Parallel()

	src := &mutableSource{vars: map[string]string{"CACHE_ENGINE": "redis"}}
	prober := fakes.NewFakeProber(map[string]bool{"redis": true})

	def := config.Default()
	def.Serve.Subsystems = []string{"cache"}

	app, err := bootstrap.New(context.Background(), def, bootstrap.WithSource(src), bootstrap.WithProber(prober))
	require.NoError(t, err)

	report, err := app.ResolveAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "redis", report.Configs["cache"].Provider)

	src.set("CACHE_ENGINE", "file")
	src.set("CACHE_PATH", "/var/cache/app/")

	report, err = app.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file", report.Configs["cache"].Provider)
	assert.Equal(t, "/var/cache/app/", report.Configs["cache"].String("path"))
	assert.Equal(t, "file", app.Environment()["CACHE_ENGINE"])

	src.err = errors.New("source offline")
	_, err = app.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "file", app.Environment()["CACHE_ENGINE"], "failed reload keeps the previous snapshot")
}

func TestAppProbesRedisWithEncryptedPassword(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	envelope, err := secrets.New(secrets.WithKeySource(secrets.StaticKey("snapshot-passphrase"))).
		Conceal(context.Background(), "s3cret")
	require.NoError(t, err)

	// the key only exists in the loaded snapshot, never in the process env
	src := &mutableSource{vars: map[string]string{
		"BOOTCFG_SNAPSHOT_ONLY_KEY": "snapshot-passphrase",
		"REDIS_HOST":                host,
		"REDIS_PORT":                port,
		"REDIS_PASSWORD":            envelope,
	}}

	def := config.Default()
	def.Secrets.KeyEnv = "BOOTCFG_SNAPSHOT_ONLY_KEY"
	def.ProbeTimeout = time.Second
	def.Serve.Subsystems = []string{"cache"}

	app, err := bootstrap.New(context.Background(), def, bootstrap.WithSource(src))
	require.NoError(t, err)
	require.NotNil(t, app.Probes)

	require.NoError(t, app.Probes.Check(context.Background(), "redis"))

	report, err := app.ResolveAll(context.Background())
	require.NoError(t, err)
	require.Contains(t, report.Configs, "cache")
	assert.Equal(t, "redis", report.Configs["cache"].Provider)
	password, ok := report.Configs["cache"].Secret("password")
	require.True(t, ok)
	plain, err := password.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)
}

func TestAppReloadKeepsStateOnBadCapability(t *testing.T) {
	t.Parallel()

	src := &mutableSource{vars: map[string]string{"SEARCH_ADDR": "127.0.0.1:9200", "CACHE_PATH": "/var/cache/app/"}}

	def := config.Default()
	def.Serve.Subsystems = []string{"cache"}
	def.Capabilities = map[string]capability.Spec{
		"redis":     {Type: "never"},
		"memcached": {Type: "never"},
		"search":    {Type: "tcp", Addr: "${SEARCH_ADDR}"},
	}

	app, err := bootstrap.New(context.Background(), def, bootstrap.WithSource(src))
	require.NoError(t, err)
	assert.Contains(t, app.Probes.Names(), "search")

	src.set("SEARCH_ADDR", "")
	src.set("CACHE_PATH", "/srv/cache/")

	_, err = app.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capabilities.search")
	assert.Equal(t, "127.0.0.1:9200", app.Environment()["SEARCH_ADDR"])
	assert.Equal(t, "/var/cache/app/", app.Environment()["CACHE_PATH"])
}

func TestAppLoadsExtraProviderTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
subsystems:
  - name: search
    preference_env: SEARCH_ENGINE
providers:
  - name: elasticsearch
    subsystem: search
    priority: 1
    capability: search
    fields:
      - {key: url, env: ELASTICSEARCH_URL, kind: url, default: "http://127.0.0.1:9200"}
`), 0o600))

	def := config.Default()
	def.Providers = path
	def.Capabilities = map[string]capability.Spec{"search": {Type: "always"}}

	app, err := bootstrap.New(context.Background(), def, bootstrap.WithSource(&mutableSource{vars: map[string]string{}}))
	require.NoError(t, err)
	require.NotNil(t, app.Probes)
	assert.Contains(t, app.Probes.Names(), "search")
	assert.Contains(t, app.Subsystems(), "search")

	cfg, err := app.Engine.ResolveSubsystem(context.Background(), "search")
	require.NoError(t, err)
	assert.Equal(t, "elasticsearch", cfg.Provider)
	assert.Equal(t, "http://127.0.0.1:9200", cfg.String("url"))
}

// reloadCounter counts reloads
type reloadCounter struct {
	mu    sync.Mutex
	count int
}

func (r *reloadCounter) Reload(context.Context) (*bootstrap.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return &bootstrap.Report{}, nil
}

func TestReloaderReloadsOnSignal(t *testing.T) {
	t.Parallel()

	target := &reloadCounter{}
	signals := make(chan os.Signal)
	done := make(chan struct{}, 2)

	reloader := bootstrap.NewReloader(target, nil,
		bootstrap.WithSignals(signals),
		bootstrap.OnReload(func(*bootstrap.Report, error) { done <- struct{}{} }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		reloader.Run(ctx)
		close(stopped)
	}()

	signals <- syscall.SIGHUP
	signals <- syscall.SIGHUP
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reload did not happen")
		}
	}

	cancel()
	<-stopped

	target.mu.Lock()
	defer target.mu.Unlock()
	assert.Equal(t, 2, target.count)
}
