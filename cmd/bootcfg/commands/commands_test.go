package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/systmms/bootcfg/internal/bootstrap"
	"github.com/systmms/bootcfg/internal/config"
	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/internal/secrets"
	"github.com/systmms/bootcfg/pkg/backend"
	"github.com/systmms/bootcfg/tests/testutil"
)

// writeConfig writes a dotenv file and a bootcfg.yaml reading only from it.
// Network capabilities are pinned off so nothing is dialed.
func writeConfig(t *testing.T, dotenv, extra string) *config.Config {
	t.Helper()

	dir := t.TempDir()
	envPath := testutil.WriteFile(t, dir, ".env", dotenv)

	doc := fmt.Sprintf(`sources:
  - type: dotenv
    path: %s
capabilities:
  redis: {type: never, reason: "no redis in tests"}
  memcached: {type: never}
  keyring: {type: never}
serve:
  subsystems: [cache, storage]
%s`, envPath, extra)

	path := testutil.WriteFile(t, dir, "bootcfg.yaml", doc)
	return &config.Config{Path: path, Logger: logging.Discard()}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "CACHE_PATH=/var/cache/app/\n", "")
	out, err := execute(t, NewResolveCommand(cfg), "cache")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "cache", doc["subsystem"])
	assert.Equal(t, "file", doc["provider"])
	assert.Equal(t, "auto", doc["preference"])

	fields := doc["fields"].(map[string]any)
	assert.Equal(t, "/var/cache/app/", fields["path"])
	assert.Equal(t, "1h0m0s", fields["duration"])
	assert.Contains(t, out, "capability unavailable: redis")
}

func TestResolveCommandPreferenceDegradesToDefault(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "CACHE_ENGINE=redis\n", "")
	out, err := execute(t, NewResolveCommand(cfg), "cache", "--format", "json")
	require.NoError(t, err)

	var view configView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "redis", view.Preference)
	assert.Equal(t, "file", view.Provider)
	require.Len(t, view.Rejected, 1)
	assert.Equal(t, "redis", view.Rejected[0].Provider)
}

func TestResolveCommandPurpose(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "CACHE_PATH=/var/cache/app/\n", "")
	out, err := execute(t, NewResolveCommand(cfg), "cache", "--purpose", "_cake_core_", "-o", "json")
	require.NoError(t, err)

	var view configView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "_cake_core_", view.Purpose)
	assert.Equal(t, "cake_cake_core_", view.Fields["prefix"])
	assert.Equal(t, "/var/cache/app/persistent/", view.Fields["path"])
	assert.Equal(t, "8760h0m0s", view.Fields["duration"])
	assert.Contains(t, view.Purposes, "languages")

	_, err = execute(t, NewResolveCommand(cfg), "cache", "--purpose", "nope")
	var ue apperrors.UserError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Suggestion, "_cake_core_")
}

func TestResolveCommandFailure(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "", "")
	out, err := execute(t, NewResolveCommand(cfg), "storage")
	require.Error(t, err)

	var ue apperrors.UserError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Message, "storage")

	var failure backend.ResolutionFailure
	require.NoError(t, yaml.Unmarshal([]byte(out), &failure))
	assert.Equal(t, "storage", failure.Subsystem)
	reason, ok := failure.Reason("s3")
	require.True(t, ok)
	assert.Equal(t, backend.ReasonMissingField("access_key"), reason)
}

func TestResolveCommandRedactsSecrets(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "STORAGE_ACCESS_KEY=AKIAEXAMPLE\nSTORAGE_SECRET_KEY=plain-secret-value\n", "")

	for _, format := range []string{"yaml", "json"} {
		out, err := execute(t, NewResolveCommand(cfg), "storage", "--format", format)
		require.NoError(t, err)
		assert.Contains(t, out, "AKIAEXAMPLE")
		assert.Contains(t, out, "[REDACTED]")
		assert.NotContains(t, out, "plain-secret-value")
	}
}

func TestResolveCommandUnsupportedFormat(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "", "")
	_, err := execute(t, NewResolveCommand(cfg), "cache", "--format", "toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestProvidersCommand(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "", "")
	out, err := execute(t, NewProvidersCommand(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "SUBSYSTEM")
	assert.Contains(t, out, "oauth:github")
	assert.NotContains(t, out, "REDIS_HOST")

	out, err = execute(t, NewProvidersCommand(cfg), "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "cache (preference: CACHE_ENGINE)")
	assert.Contains(t, out, "purposes: default, _cake_core_")
	assert.Contains(t, out, "host (string) from REDIS_HOST")
	assert.Contains(t, out, "secret_key (secret) from STORAGE_SECRET_KEY, required")
}

func TestDoctorCommand(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "", "")
	out, err := execute(t, NewDoctorCommand(cfg))
	require.NoError(t, err)

	assert.Contains(t, out, "Capabilities:")
	assert.Contains(t, out, "no redis in tests")
	assert.Contains(t, out, "Candidates:")
	assert.Contains(t, out, "Selected:")
	assert.Contains(t, out, "Summary: 1/2 subsystems resolved")

	_, err = execute(t, NewDoctorCommand(cfg), "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 subsystems have no eligible provider")
}

func TestDoctorCommandInvalidConfig(t *testing.T) {
	t.Parallel()

	path := testutil.WriteFile(t, t.TempDir(), "bootcfg.yaml", "version: 3\n")

	cfg := &config.Config{Path: path, Logger: logging.Discard()}
	_, err := execute(t, NewDoctorCommand(cfg))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigError(err))
}

func TestEncryptCommand(t *testing.T) {
	t.Setenv("BOOTCFG_TEST_KEY", "correct horse battery staple")

	cfg := writeConfig(t, "", "secrets:\n  key_env: BOOTCFG_TEST_KEY\n")
	cmd := NewEncryptCommand(cfg)
	cmd.SetIn(strings.NewReader("hunter2\n"))
	out, err := execute(t, cmd)
	require.NoError(t, err)

	envelope := strings.TrimSpace(out)
	assert.True(t, secrets.IsEnvelope(envelope))
	assert.NotContains(t, out, "hunter2")

	m := secrets.New(secrets.WithKeySource(secrets.StaticKey("correct horse battery staple")))
	secret, err := m.Reveal(context.Background(), envelope)
	require.NoError(t, err)
	plain, err := secret.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	empty := NewEncryptCommand(cfg)
	empty.SetIn(strings.NewReader("\n"))
	_, err = execute(t, empty)
	var ue apperrors.UserError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "Nothing to encrypt", ue.Message)
}

func TestEncryptCommandKeyFromDotenv(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "BOOTCFG_DOTENV_ONLY_KEY=dotenv-only-passphrase\n", "secrets:\n  key_env: BOOTCFG_DOTENV_ONLY_KEY\n")
	cmd := NewEncryptCommand(cfg)
	cmd.SetIn(strings.NewReader("hunter2\n"))
	out, err := execute(t, cmd)
	require.NoError(t, err)

	m := secrets.New(secrets.WithKeySource(secrets.StaticKey("dotenv-only-passphrase")))
	secret, err := m.Reveal(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	plain, err := secret.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestServedStateRedacts(t *testing.T) {
	t.Parallel()

	state := &servedState{logger: logging.Discard()}

	rec := httptest.NewRecorder()
	state.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/configs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"configs":{}}`, rec.Body.String())

	state.set(&bootstrap.Report{
		Configs: map[string]*backend.ResolvedConfig{
			"storage": {
				Subsystem: "storage", Provider: "s3", Preference: "auto",
				Fields: map[string]any{
					"access_key": "AKIAEXAMPLE",
					"secret_key": backend.NewSecret("plain-secret-value"),
				},
			},
		},
		Failures: map[string]*backend.ResolutionFailure{
			"oauth:github": {Subsystem: "oauth:github", Preference: "auto"},
		},
	})

	rec = httptest.NewRecorder()
	state.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/configs", nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.NotContains(t, body, "plain-secret-value")

	var doc servedDocument
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	assert.Equal(t, "s3", doc.Configs["storage"].Provider)
	assert.Equal(t, "[REDACTED]", doc.Configs["storage"].Fields["secret_key"])
	assert.Contains(t, doc.Failures, "oauth:github")
}

func TestSubsystemCompleter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "providers.yaml", `
version: 1
subsystems:
  - name: search
providers:
  - name: elasticsearch
    subsystem: search
    priority: 1
`)
	path := testutil.WriteFile(t, dir, "bootcfg.yaml", "providers: providers.yaml\n")

	complete := subsystemCompleter(&config.Config{Path: path, Logger: logging.Discard()})
	names, directive := complete(nil, nil, "")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	assert.Contains(t, names, "cache")
	assert.Contains(t, names, "oauth:github")
	assert.Contains(t, names, "search")

	names, _ = complete(nil, []string{"cache"}, "")
	assert.Empty(t, names)
}

func TestCompletionCommand(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: "bootcfg"}
	root.AddCommand(NewCompletionCommand(&config.Config{}))

	out, err := execute(t, root, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "bootcfg")

	_, err = execute(t, root, "completion", "tcsh")
	require.Error(t, err)
}
