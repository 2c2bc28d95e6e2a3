package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/bootcfg/internal/config"
	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/internal/secrets"
)

const sampleConfig = `
version: 0
sources:
  - type: dotenv
    path: .env
  - type: process
  - type: aws.ssm
    path: /app/
    region: eu-west-1
providers: ./providers.yaml
probe_timeout: 750ms
capabilities:
  redis:
    type: redis
    addr: "${REDIS_HOST}:6379"
  search:
    type: tcp
    addr: "${SEARCH_HOST}:9200"
secrets:
  key_source: env
  key_env: APP_KEY
  require_encrypted: true
serve:
  addr: ":9100"
  subsystems: [cache, queue]
`

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bootcfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg := &config.Config{Path: path, Logger: logging.Discard()}
	require.NoError(t, cfg.Load())

	def := cfg.Definition
	require.Len(t, def.Sources, 3)
	assert.Equal(t, "aws.ssm", def.Sources[2].Type)
	assert.Equal(t, "eu-west-1", def.Sources[2].Region)
	assert.Equal(t, filepath.Join(dir, "providers.yaml"), def.Providers)
	assert.Equal(t, 750*time.Millisecond, def.ProbeTimeout)
	assert.Equal(t, []string{"redis", "search"}, def.CapabilityNames())
	assert.True(t, def.Secrets.RequireEncrypted)
	assert.Equal(t, secrets.EnvKey("APP_KEY"), def.KeySource())
	assert.Equal(t, ":9100", def.Serve.Addr)

	layer, err := def.SourceLayer()
	require.NoError(t, err)
	assert.Len(t, layer, 3)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	require.NoError(t, cfg.Load())

	assert.Empty(t, cfg.Definition.Sources)
	assert.Equal(t, secrets.EnvKey(config.DefaultKeyEnv), cfg.Definition.KeySource())

	layer, err := cfg.Definition.SourceLayer()
	require.NoError(t, err)
	assert.Equal(t, "layered(process)", layer.Name())
}

func TestExpandedCapabilities(t *testing.T) {
	t.Parallel()

	def, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	caps := def.ExpandedCapabilities(map[string]string{"REDIS_HOST": "cache.internal"})
	assert.Equal(t, "cache.internal:6379", caps["redis"].Addr)
	assert.Equal(t, ":9200", caps["search"].Addr)

	assert.Equal(t, "${REDIS_HOST}:6379", def.Capabilities["redis"].Addr, "expansion must not modify the definition")
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"bad_yaml", "version: [", ""},
		{"bad_version", "version: 2", "version"},
		{"bad_key_source", "secrets: {key_source: vault}", "secrets"},
		{"keyring_without_service", "secrets: {key_source: keyring}", "secrets"},
		{"source_without_type", "sources: [{path: .env}]", "sources[0].type"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			var ce apperrors.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestKeySources(t *testing.T) {
	t.Parallel()

	def, err := config.Parse([]byte("secrets: {key_source: keyring, keyring_service: myapp}"))
	require.NoError(t, err)
	assert.Equal(t, secrets.KeyringKey{Service: "myapp", User: "bootcfg"}, def.KeySource())

	def, err = config.Parse([]byte("secrets: {key_source: none}"))
	require.NoError(t, err)
	assert.Nil(t, def.KeySource())
	assert.NotNil(t, def.Materializer(logging.Discard(), nil))
}
