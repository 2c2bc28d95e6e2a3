package envsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	apperrors "github.com/systmms/bootcfg/internal/errors"
)

// AzureSecretsAPI lists and reads the secrets of one vault.
type AzureSecretsAPI interface {
	// ListSecretNames returns the names of enabled secrets.
	ListSecretNames(ctx context.Context) ([]string, error)
	GetSecret(ctx context.Context, name string) (string, error)
}

type azureClient struct {
	c *azsecrets.Client
}

func (a azureClient) ListSecretNames(ctx context.Context) ([]string, error) {
	var names []string
	pager := a.c.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range page.Value {
			if p == nil || p.ID == nil {
				continue
			}
			if p.Attributes != nil && p.Attributes.Enabled != nil && !*p.Attributes.Enabled {
				continue
			}
			names = append(names, p.ID.Name())
		}
	}
	return names, nil
}

func (a azureClient) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := a.c.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", err
	}
	if resp.Value == nil {
		return "", nil
	}
	return *resp.Value, nil
}

// AzureKeyVault loads every enabled secret of a vault. Secret names map to
// variables by upper-casing and replacing dashes with underscores, so
// "redis-password" becomes REDIS_PASSWORD.
type AzureKeyVault struct {
	vaultURL   string
	credential azcore.TokenCredential
	client     AzureSecretsAPI
}

// AzureOption configures an AzureKeyVault source.
type AzureOption func(*AzureKeyVault)

// WithAzureClient sets a custom client (for testing).
func WithAzureClient(client AzureSecretsAPI) AzureOption {
	return func(s *AzureKeyVault) { s.client = client }
}

// WithAzureCredential replaces DefaultAzureCredential.
func WithAzureCredential(cred azcore.TokenCredential) AzureOption {
	return func(s *AzureKeyVault) { s.credential = cred }
}

// NewAzureKeyVault creates a source for the vault at vaultURL.
func NewAzureKeyVault(vaultURL string, opts ...AzureOption) *AzureKeyVault {
	s := &AzureKeyVault{vaultURL: vaultURL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *AzureKeyVault) Name() string { return "azure.keyvault:" + s.vaultURL }

// VariableName maps a Key Vault secret name to an environment variable name.
func VariableName(secretName string) string {
	return strings.ToUpper(strings.ReplaceAll(secretName, "-", "_"))
}

// Load implements Source.
func (s *AzureKeyVault) Load(ctx context.Context) (map[string]string, error) {
	if s.client == nil {
		cred := s.credential
		if cred == nil {
			def, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, apperrors.SourceError("azure.keyvault", "connect", err)
			}
			cred = def
		}
		c, err := azsecrets.NewClient(s.vaultURL, cred, nil)
		if err != nil {
			return nil, apperrors.SourceError("azure.keyvault", "connect", err)
		}
		s.client = azureClient{c: c}
	}

	names, err := s.client.ListSecretNames(ctx)
	if err != nil {
		return nil, apperrors.SourceError("azure.keyvault", "list", err)
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		value, err := s.client.GetSecret(ctx, name)
		if err != nil {
			// deleted between list and get
			if isAzureNotFound(err) {
				continue
			}
			return nil, apperrors.SourceError("azure.keyvault", fmt.Sprintf("load %s", name), err)
		}
		out[VariableName(name)] = value
	}
	return out, nil
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
