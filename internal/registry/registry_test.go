package registry_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/internal/registry"
	"github.com/systmms/bootcfg/pkg/backend"
)

func def(subsystem, name string, priority int, fields ...backend.FieldSpec) backend.ProviderDefinition {
	return backend.ProviderDefinition{Name: name, Subsystem: subsystem, Priority: priority, Fields: fields}
}

func TestCandidatesOrderedByPriority(t *testing.T) {
	t.Parallel()

	r := registry.New()
	require.NoError(t, r.Register(def("cache", "file", 3)))
	require.NoError(t, r.Register(def("cache", "memcached", 2)))
	require.NoError(t, r.Register(def("cache", "redis", 1)))
	require.NoError(t, r.Register(def("queue", "redis", 1)))

	var names []string
	for _, c := range r.CandidatesFor("cache") {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"redis", "memcached", "file"}, names)
	assert.Len(t, r.CandidatesFor("queue"), 1)
	assert.Empty(t, r.CandidatesFor("storage"))
	assert.Equal(t, []string{"cache", "queue"}, r.Subsystems())
}

func TestDuplicateRegistrationIsFatal(t *testing.T) {
	t.Parallel()

	r := registry.New()
	require.NoError(t, r.Register(def("cache", "redis", 1)))

	err := r.Register(def("cache", "redis", 5))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigError(err))
	assert.Contains(t, err.Error(), "duplicate provider registration")

	err = r.Register(def("cache", "memcached", 1))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigError(err))
	assert.Contains(t, err.Error(), "priority already used by redis")

	// same name in another subsystem is fine
	assert.NoError(t, r.Register(def("queue", "redis", 1)))
}

func TestInvalidDefinitions(t *testing.T) {
	t.Parallel()

	r := registry.New()

	err := r.Register(def("cache", "", 1))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigError(err))

	err = r.Register(def("cache", "redis", 1, backend.FieldSpec{Key: "port", Kind: backend.KindInt, Default: backend.Default("abc")}))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigError(err))
	assert.Contains(t, err.Error(), "default is not a valid int")

	err = r.Register(def("mail", "smtp", 1, backend.FieldSpec{Key: "tls", Kind: backend.KindEnum, EnumValues: []string{"tls"}, Default: backend.Default("ssl")}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default is not a valid enum")

	assert.Empty(t, r.CandidatesFor("cache"))
}

func TestRegisteredDefinitionsAreImmutable(t *testing.T) {
	t.Parallel()

	d := def("cache", "redis", 1, backend.FieldSpec{Key: "host", Kind: backend.KindString, Default: backend.Default("localhost")})
	r := registry.New()
	require.NoError(t, r.Register(d))

	*d.Fields[0].Default = "mutated"
	d.Fields[0].Key = "changed"

	got, ok := r.Lookup("cache", "redis")
	require.True(t, ok)
	assert.Equal(t, "host", got.Fields[0].Key)
	assert.Equal(t, "localhost", *got.Fields[0].Default)

	_, ok = r.Lookup("cache", "memcached")
	assert.False(t, ok)
}

func TestSeal(t *testing.T) {
	t.Parallel()

	r := registry.New()
	require.NoError(t, r.RegisterSubsystem(backend.SubsystemSpec{Name: "cache", DefaultProvider: "file"}))
	require.NoError(t, r.Register(def("cache", "redis", 1)))

	err := r.Seal()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default provider is not registered")
	assert.False(t, r.Sealed())

	require.NoError(t, r.Register(def("cache", "file", 3)))
	require.NoError(t, r.Seal())
	assert.True(t, r.Sealed())

	err = r.Register(def("cache", "memcached", 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sealed")
	assert.Error(t, r.RegisterSubsystem(backend.SubsystemSpec{Name: "queue"}))
}

func TestSubsystemMetadata(t *testing.T) {
	t.Parallel()

	r := registry.New()
	require.NoError(t, r.RegisterSubsystem(backend.SubsystemSpec{Name: "cache", PreferenceEnv: "CACHE_ENGINE"}))
	assert.Error(t, r.RegisterSubsystem(backend.SubsystemSpec{Name: "cache"}))
	assert.Error(t, r.RegisterSubsystem(backend.SubsystemSpec{
		Name:     "queue",
		Purposes: []backend.PurposeSpec{{Name: "jobs", Overrides: map[string]string{"prefix": "{{ .prefix"}}},
	}))

	spec, ok := r.Subsystem("cache")
	require.True(t, ok)
	assert.Equal(t, "CACHE_ENGINE", spec.PreferenceEnv)

	spec, ok = r.Subsystem("storage")
	assert.False(t, ok)
	assert.Equal(t, "storage", spec.Name)
}

func TestConcurrentRegistration(t *testing.T) {
	t.Parallel()

	r := registry.New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(def("cache", "p"+string(rune('a'+i)), i))
			_ = r.CandidatesFor("cache")
		}(i)
	}
	wg.Wait()

	candidates := r.CandidatesFor("cache")
	require.Len(t, candidates, 20)
	for i := 1; i < len(candidates); i++ {
		assert.Less(t, candidates[i-1].Priority, candidates[i].Priority)
	}
}

const tableYAML = `
version: 1
subsystems:
  - name: storage
    default_provider: local
providers:
  - name: s3
    subsystem: storage
    priority: 1
    fields:
      - {key: accessKey, env: STORAGE_ACCESS_KEY, kind: string, required: true}
      - {key: port, kind: int, default: 9000}
  - name: local
    subsystem: storage
    priority: 2
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	r := registry.New()
	require.NoError(t, r.LoadYAML([]byte(tableYAML)))
	require.NoError(t, r.Seal())

	candidates := r.CandidatesFor("storage")
	require.Len(t, candidates, 2)
	assert.Equal(t, "s3", candidates[0].Name)
	port, ok := candidates[0].Field("port")
	require.True(t, ok)
	assert.Equal(t, "9000", *port.Default)
}

func TestLoadYAMLSchemaErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"unknown top level key", "version: 1\nbackends: []\n"},
		{"missing priority", "providers:\n  - {name: s3, subsystem: storage}\n"},
		{"bad kind", "providers:\n  - {name: s3, subsystem: storage, priority: 1, fields: [{key: a, kind: blob}]}\n"},
		{"unknown field property", "providers:\n  - {name: s3, subsystem: storage, priority: 1, fields: [{key: a, kind: string, secret: true}]}\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := registry.New().LoadYAML([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, apperrors.IsConfigError(err), err.Error())
		})
	}

	assert.Error(t, registry.New().LoadYAML([]byte("providers: [")))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tableYAML), 0o600))

	r := registry.New()
	require.NoError(t, r.LoadFile(path))
	assert.Len(t, r.CandidatesFor("storage"), 2)

	err := registry.New().LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestBuiltin(t *testing.T) {
	t.Parallel()

	r, err := registry.Builtin()
	require.NoError(t, err)
	require.NoError(t, r.Seal())

	for _, subsystem := range []string{
		"cache", "queue", "storage",
		"oauth:github", "oauth:gitlab", "oauth:bitbucket", "oauth:google",
		"mail", "captcha", "payments", "database",
		"cloudstorage:google_drive", "cloudstorage:dropbox", "cloudstorage:onedrive", "routing",
	} {
		assert.NotEmpty(t, r.CandidatesFor(subsystem), subsystem)
	}

	var cache []string
	for _, c := range r.CandidatesFor("cache") {
		cache = append(cache, c.Name)
	}
	assert.Equal(t, []string{"redis", "memcached", "file"}, cache)

	spec, ok := r.Subsystem("cache")
	require.True(t, ok)
	assert.Equal(t, "CACHE_ENGINE", spec.PreferenceEnv)
	assert.Equal(t, "file", spec.DefaultProvider)
	for _, purpose := range []string{"default", "_cake_core_", "_cake_model_", "_cake_routes_", "languages", "subscription"} {
		_, ok := spec.Purpose(purpose)
		assert.True(t, ok, purpose)
	}

	google, ok := r.Lookup("oauth:google", "google")
	require.True(t, ok)
	assert.Equal(t, "GOOGLE_OAUTH_ENABLED", google.EnabledBy)

	drive, ok := r.Lookup("cloudstorage:google_drive", "google_drive")
	require.True(t, ok)
	assert.Contains(t, envNames(drive), "GOOGLE_DRIVE_API_KEY")
	for _, name := range []string{"dropbox", "onedrive"} {
		_, ok := r.Lookup("cloudstorage:"+name, name)
		assert.True(t, ok, name)
	}

	github, ok := r.Lookup("oauth:github", "github")
	require.True(t, ok)
	assert.Contains(t, envNames(github), "GITHUB_WEBHOOK_SECRET")

	v4, ok := r.Lookup("routing", "v4")
	require.True(t, ok)
	assert.Equal(t, "V4_ROUTING_ENABLED", v4.EnabledBy)

	// two calls share the parsed table but not the registry
	other, err := registry.Builtin()
	require.NoError(t, err)
	assert.False(t, other.Sealed())
}

func envNames(def backend.ProviderDefinition) []string {
	names := make([]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		names = append(names, f.EnvName())
	}
	return names
}
