package fakes

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// FakeAkeylessClient serves Akeyless items from memory
type FakeAkeylessClient struct {
	mu sync.Mutex

	// Items maps full item names (/app/prod/redis-password) to values
	Items map[string]string
	// Token is handed out by Authenticate and required by every other call
	Token string

	AuthErr error
	ListErr error
	GetErr  error

	// Listed records the paths listed
	Listed []string
}

// NewFakeAkeylessClient creates an empty fake
func NewFakeAkeylessClient() *FakeAkeylessClient {
	return &FakeAkeylessClient{Items: make(map[string]string), Token: "t-fake"}
}

// SetItem stores value under name
func (f *FakeAkeylessClient) SetItem(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Items[name] = value
}

// Authenticate returns the fixed token
func (f *FakeAkeylessClient) Authenticate(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AuthErr != nil {
		return "", f.AuthErr
	}
	return f.Token, nil
}

// ListItems returns the item names below dir in sorted order
func (f *FakeAkeylessClient) ListItems(_ context.Context, token, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Listed = append(f.Listed, dir)
	if token != f.Token {
		return nil, errors.New("401 invalid token")
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var names []string
	for name := range f.Items {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetSecretValues returns the values of the named items that exist
func (f *FakeAkeylessClient) GetSecretValues(_ context.Context, token string, names []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if token != f.Token {
		return nil, errors.New("401 invalid token")
	}
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := f.Items[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}
