package fakes

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// FakeAzureKeyVaultClient is an in-memory vault
type FakeAzureKeyVaultClient struct {
	mu sync.Mutex

	// Secrets maps secret names to values
	Secrets map[string]string
	// Disabled lists secret names that are listed as disabled
	Disabled map[string]bool
	// ListErr is returned by ListSecretNames when set
	ListErr error
	// Vanished names are listed but return 404 on read
	Vanished map[string]bool
}

// NewFakeAzureKeyVaultClient creates an empty vault
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		Secrets:  make(map[string]string),
		Disabled: make(map[string]bool),
		Vanished: make(map[string]bool),
	}
}

// SetSecret stores a secret
func (f *FakeAzureKeyVaultClient) SetSecret(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = value
}

// ListSecretNames returns enabled secret names in sorted order
func (f *FakeAzureKeyVaultClient) ListSecretNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var names []string
	for name := range f.Secrets {
		if !f.Disabled[name] {
			names = append(names, name)
		}
	}
	for name := range f.Vanished {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetSecret returns a secret value or a 404 response error
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if v, ok := f.Secrets[name]; ok && !f.Vanished[name] {
		return v, nil
	}
	return "", &azcore.ResponseError{
		ErrorCode:  "SecretNotFound",
		StatusCode: http.StatusNotFound,
	}
}
