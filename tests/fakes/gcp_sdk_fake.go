package fakes

import (
	"context"
	"sync"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FakeGCPSecretManagerClient serves secret versions from memory
type FakeGCPSecretManagerClient struct {
	mu sync.Mutex

	// Versions maps version resource names (projects/X/secrets/Y/versions/Z) to payloads
	Versions map[string][]byte
	// Errors maps version resource names to errors to return
	Errors map[string]error
	// Requests records the names asked for
	Requests []string
}

// NewFakeGCPSecretManagerClient creates an empty fake
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Versions: make(map[string][]byte),
		Errors:   make(map[string]error),
	}
}

// AddLatest stores data as the latest version of a secret
func (f *FakeGCPSecretManagerClient) AddLatest(project, secret string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Versions["projects/"+project+"/secrets/"+secret+"/versions/latest"] = data
}

// AccessSecretVersion returns the stored payload or a NotFound status
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, req.GetName())
	if err, ok := f.Errors[req.GetName()]; ok {
		return nil, err
	}
	data, ok := f.Versions[req.GetName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions", req.GetName())
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	}, nil
}
