package envsource

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/systmms/bootcfg/internal/errors"
)

// GCPSecretsAPI is the subset of the Secret Manager client used here.
type GCPSecretsAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

type gcpClient struct {
	c *secretmanager.Client
}

func (g gcpClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return g.c.AccessSecretVersion(ctx, req)
}

// GCPSecretManager loads the latest version of one secret holding a flat JSON
// object of variables.
type GCPSecretManager struct {
	project    string
	secret     string
	optional   bool
	clientOpts []option.ClientOption
	client     GCPSecretsAPI
}

// GCPOption configures a GCPSecretManager source.
type GCPOption func(*GCPSecretManager)

// WithGCPClient sets a custom client (for testing).
func WithGCPClient(client GCPSecretsAPI) GCPOption {
	return func(s *GCPSecretManager) { s.client = client }
}

// WithGCPCredentialsFile authenticates with a service account key file.
func WithGCPCredentialsFile(path string) GCPOption {
	return func(s *GCPSecretManager) {
		s.clientOpts = append(s.clientOpts, option.WithCredentialsFile(path))
	}
}

// WithGCPOptional treats a missing secret as empty.
func WithGCPOptional(optional bool) GCPOption {
	return func(s *GCPSecretManager) { s.optional = optional }
}

// NewGCPSecretManager creates a Secret Manager source. secret is either a
// short name or a full "projects/.../secrets/..." resource name.
func NewGCPSecretManager(project, secret string, opts ...GCPOption) *GCPSecretManager {
	s := &GCPSecretManager{project: project, secret: secret}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *GCPSecretManager) Name() string { return "gcp.secretmanager:" + s.secret }

func (s *GCPSecretManager) resourceName() string {
	name := s.secret
	if !strings.HasPrefix(name, "projects/") {
		name = fmt.Sprintf("projects/%s/secrets/%s", s.project, name)
	}
	if !strings.Contains(name, "/versions/") {
		name += "/versions/latest"
	}
	return name
}

// Load implements Source.
func (s *GCPSecretManager) Load(ctx context.Context) (map[string]string, error) {
	if s.client == nil {
		c, err := secretmanager.NewClient(ctx, s.clientOpts...)
		if err != nil {
			return nil, apperrors.SourceError("gcp.secretmanager", "connect", err)
		}
		s.client = gcpClient{c: c}
	}

	name := s.resourceName()
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if s.optional && status.Code(err) == codes.NotFound {
			return map[string]string{}, nil
		}
		return nil, apperrors.SourceError("gcp.secretmanager", "load "+name, err)
	}
	if resp.GetPayload() == nil {
		return map[string]string{}, nil
	}

	vars, err := decodeJSONObject(resp.GetPayload().GetData())
	if err != nil {
		return nil, apperrors.SourceError("gcp.secretmanager", "decode "+name, err)
	}
	return vars, nil
}
