package envsource_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/bootcfg/internal/envsource"
	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/tests/fakes"
	"github.com/systmms/bootcfg/tests/testutil"
)

func TestProcessSource(t *testing.T) {
	t.Setenv("BOOTCFG_TEST_PROCESS", "present")

	vars, err := envsource.Process{}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "present", vars["BOOTCFG_TEST_PROCESS"])
}

func TestMapSourceReturnsCopy(t *testing.T) {
	t.Parallel()

	src := envsource.Map{"A": "1"}
	vars, err := src.Load(context.Background())
	require.NoError(t, err)
	vars["A"] = "changed"
	assert.Equal(t, "1", src["A"])
}

func TestDotenvSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := testutil.WriteFile(t, dir, ".env", "REDIS_HOST=base\nCACHE_ENGINE=redis\n# comment\n")
	local := testutil.WriteFile(t, dir, ".env.local", "REDIS_HOST=local\n")

	vars, err := envsource.NewDotenv(base, filepath.Join(dir, "missing.env"), local).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"REDIS_HOST": "local", "CACHE_ENGINE": "redis"}, vars)

	empty, err := envsource.NewDotenv(filepath.Join(dir, "nope")).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLayeredLaterWins(t *testing.T) {
	t.Parallel()

	layered := envsource.Layered{
		envsource.Map{"A": "1", "B": "1"},
		envsource.Map{"B": "2"},
	}
	vars, err := layered.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, vars)
	assert.Equal(t, "layered(map,map)", layered.Name())
}

func TestAWSSSMSource(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	client.PageSize = 2
	client.AddParameter("/app/REDIS_HOST", "cache.internal")
	client.AddParameter("/app/REDIS_PORT", "6380")
	client.AddParameter("/app/CACHE_ENGINE", "redis")
	client.AddParameter("/app/nested/DEEP", "x")
	client.AddParameter("/other/IGNORED", "y")

	src := envsource.NewAWSSSM("app", envsource.AWSConfig{}, envsource.WithSSMClient(client))
	assert.Equal(t, "aws.ssm:/app", src.Name())

	vars, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"REDIS_HOST":   "cache.internal",
		"REDIS_PORT":   "6380",
		"CACHE_ENGINE": "redis",
	}, vars)
	assert.Equal(t, 2, client.Calls, "three parameters with page size two take two pages")

	recursive := envsource.NewAWSSSM("/app", envsource.AWSConfig{},
		envsource.WithSSMClient(client), envsource.WithSSMRecursive(true))
	vars, err = recursive.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", vars["DEEP"])
}

func TestAWSSSMSourceError(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	client.Err = errors.New("AccessDeniedException: not allowed")

	_, err := envsource.NewAWSSSM("/app", envsource.AWSConfig{}, envsource.WithSSMClient(client)).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aws.ssm source error")
	assert.Contains(t, err.Error(), "ssm:GetParametersByPath")
}

func TestAWSSecretsManagerSource(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSecretsManagerClient()
	client.AddSecretString("prod/app", `{"REDIS_HOST": "cache", "REDIS_PORT": 6380, "TLS": true, "UNSET": null}`)
	client.AddSecretString("prod/bad", `not json`)

	ctx := context.Background()

	vars, err := envsource.NewAWSSecretsManager("prod/app", envsource.AWSConfig{},
		envsource.WithSecretsManagerClient(client)).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"REDIS_HOST": "cache", "REDIS_PORT": "6380", "TLS": "true"}, vars)

	_, err = envsource.NewAWSSecretsManager("prod/bad", envsource.AWSConfig{},
		envsource.WithSecretsManagerClient(client)).Load(ctx)
	assert.ErrorContains(t, err, "aws.secretsmanager source error")

	_, err = envsource.NewAWSSecretsManager("prod/missing", envsource.AWSConfig{},
		envsource.WithSecretsManagerClient(client)).Load(ctx)
	assert.Error(t, err)

	vars, err = envsource.NewAWSSecretsManager("prod/missing", envsource.AWSConfig{},
		envsource.WithSecretsManagerClient(client), envsource.WithSecretsManagerOptional(true)).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestGCPSecretManagerSource(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeGCPSecretManagerClient()
	client.AddLatest("my-project", "app-env", []byte(`{"QUEUE_URL": "redis://q:6379/1"}`))
	client.Errors["projects/my-project/secrets/denied/versions/latest"] = status.Error(codes.PermissionDenied, "PermissionDenied")

	ctx := context.Background()

	vars, err := envsource.NewGCPSecretManager("my-project", "app-env", envsource.WithGCPClient(client)).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "redis://q:6379/1", vars["QUEUE_URL"])
	assert.Equal(t, "projects/my-project/secrets/app-env/versions/latest", client.Requests[0])

	vars, err = envsource.NewGCPSecretManager("", "projects/my-project/secrets/app-env", envsource.WithGCPClient(client)).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, vars, 1)

	_, err = envsource.NewGCPSecretManager("my-project", "missing", envsource.WithGCPClient(client)).Load(ctx)
	assert.Error(t, err)

	vars, err = envsource.NewGCPSecretManager("my-project", "missing",
		envsource.WithGCPClient(client), envsource.WithGCPOptional(true)).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, vars)

	_, err = envsource.NewGCPSecretManager("my-project", "denied",
		envsource.WithGCPClient(client), envsource.WithGCPOptional(true)).Load(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secretmanager.versions.access")
}

func TestAzureKeyVaultSource(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeAzureKeyVaultClient()
	client.SetSecret("redis-password", "hunter2")
	client.SetSecret("cache-engine", "redis")
	client.SetSecret("old-key", "stale")
	client.Disabled["old-key"] = true
	client.Vanished["gone-key"] = true

	vars, err := envsource.NewAzureKeyVault("https://demo.vault.azure.net/", envsource.WithAzureClient(client)).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"REDIS_PASSWORD": "hunter2", "CACHE_ENGINE": "redis"}, vars)

	client.ListErr = errors.New("403 Forbidden")
	_, err = envsource.NewAzureKeyVault("https://demo.vault.azure.net/", envsource.WithAzureClient(client)).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Key Vault Secrets User")
}

func TestAkeylessSource(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeAkeylessClient()
	client.SetItem("/app/prod/redis-password", "hunter2")
	client.SetItem("/app/prod/CACHE_ENGINE", "redis")
	client.SetItem("/app/staging/redis-password", "other")

	src := envsource.NewAkeyless("app/prod", envsource.AkeylessConfig{AccessID: "p-123"}, envsource.WithAkeylessClient(client))
	assert.Equal(t, "akeyless:/app/prod", src.Name())

	vars, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"REDIS_PASSWORD": "hunter2", "CACHE_ENGINE": "redis"}, vars)
	assert.Equal(t, []string{"/app/prod"}, client.Listed)

	empty, err := envsource.NewAkeyless("/app/none", envsource.AkeylessConfig{}, envsource.WithAkeylessClient(client)).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAkeylessSourceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(*fakes.FakeAkeylessClient)
		wantOp  string
		suggest string
	}{
		{"auth", func(c *fakes.FakeAkeylessClient) { c.AuthErr = errors.New("authentication failed: 401") }, "auth", "AKEYLESS_ACCESS_KEY"},
		{"list", func(c *fakes.FakeAkeylessClient) { c.ListErr = errors.New("403 Forbidden") }, "list /app", "list and read"},
		{"get", func(c *fakes.FakeAkeylessClient) { c.GetErr = errors.New("connection refused") }, "load /app", "Unable to connect"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := fakes.NewFakeAkeylessClient()
			client.SetItem("/app/KEY", "v")
			tt.setup(client)

			_, err := envsource.NewAkeyless("/app", envsource.AkeylessConfig{}, envsource.WithAkeylessClient(client)).Load(context.Background())
			require.Error(t, err)

			var ue apperrors.UserError
			require.ErrorAs(t, err, &ue)
			assert.Contains(t, ue.Message, tt.wantOp)
			assert.Contains(t, ue.Suggestion, tt.suggest)
		})
	}
}

func TestVariableName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "REDIS_PASSWORD", envsource.VariableName("redis-password"))
	assert.Equal(t, "S3_KEY", envsource.VariableName("S3-Key"))
}

func TestBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		spec     envsource.Spec
		wantName string
		wantErr  bool
	}{
		{"process", envsource.Spec{Type: "process"}, "process", false},
		{"dotenv_default", envsource.Spec{Type: "dotenv"}, "dotenv", false},
		{"ssm", envsource.Spec{Type: "aws.ssm", Path: "/app/"}, "aws.ssm:/app/", false},
		{"ssm_no_path", envsource.Spec{Type: "aws.ssm"}, "", true},
		{"secretsmanager", envsource.Spec{Type: "aws.secretsmanager", Secret: "prod/app"}, "aws.secretsmanager:prod/app", false},
		{"gcp", envsource.Spec{Type: "gcp.secretmanager", Project: "p", Secret: "env"}, "gcp.secretmanager:env", false},
		{"gcp_no_project", envsource.Spec{Type: "gcp.secretmanager", Secret: "env"}, "", true},
		{"azure", envsource.Spec{Type: "azure.keyvault", Vault: "https://v.vault.azure.net/"}, "azure.keyvault:https://v.vault.azure.net/", false},
		{"azure_no_vault", envsource.Spec{Type: "azure.keyvault"}, "", true},
		{"akeyless", envsource.Spec{Type: "akeyless", Path: "/app", AkeylessConfig: envsource.AkeylessConfig{AccessID: "p-1"}}, "akeyless:/app", false},
		{"akeyless_no_access_id", envsource.Spec{Type: "akeyless", Path: "/app"}, "", true},
		{"unknown", envsource.Spec{Type: "consul"}, "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src, err := envsource.Build(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsConfigError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, src.Name())
		})
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	layered, err := envsource.FromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "layered(process)", layered.Name())

	layered, err = envsource.FromConfig([]envsource.Spec{{Type: "dotenv", Path: "x.env"}, {Type: "process"}})
	require.NoError(t, err)
	assert.Len(t, layered, 2)

	_, err = envsource.FromConfig([]envsource.Spec{{Type: "bogus"}})
	assert.Error(t, err)
}
