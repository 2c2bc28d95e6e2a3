package envsource

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	akeyless "github.com/akeylesslabs/akeyless-go/v3"

	apperrors "github.com/systmms/bootcfg/internal/errors"
)

// DefaultAkeylessGateway is the public Akeyless API.
const DefaultAkeylessGateway = "https://api.akeyless.io"

// AkeylessAccessKeyEnv holds the access key when the configuration omits it.
const AkeylessAccessKeyEnv = "AKEYLESS_ACCESS_KEY"

// AkeylessAPI is the part of the Akeyless gateway used here.
type AkeylessAPI interface {
	Authenticate(ctx context.Context) (string, error)
	ListItems(ctx context.Context, token, path string) ([]string, error)
	GetSecretValues(ctx context.Context, token string, names []string) (map[string]string, error)
}

// AkeylessConfig selects the gateway and the identity used to log in.
type AkeylessConfig struct {
	Gateway   string `yaml:"gateway,omitempty"`
	AccessID  string `yaml:"access_id,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`

	// AccessType is api_key (the default), aws_iam or gcp.
	AccessType string `yaml:"access_type,omitempty"`
}

type akeylessSDKClient struct {
	api    *akeyless.APIClient
	config AkeylessConfig
}

func newAkeylessSDKClient(cfg AkeylessConfig) *akeylessSDKClient {
	gateway := cfg.Gateway
	if gateway == "" {
		gateway = DefaultAkeylessGateway
	}
	configuration := akeyless.NewConfiguration()
	configuration.Servers = []akeyless.ServerConfiguration{{URL: gateway}}
	return &akeylessSDKClient{api: akeyless.NewAPIClient(configuration), config: cfg}
}

func (c *akeylessSDKClient) Authenticate(ctx context.Context) (string, error) {
	body := akeyless.NewAuthWithDefaults()
	body.SetAccessId(c.config.AccessID)
	switch c.config.AccessType {
	case "", "api_key":
		key := c.config.AccessKey
		if key == "" {
			key = os.Getenv(AkeylessAccessKeyEnv)
		}
		body.SetAccessKey(key)
	case "aws_iam", "gcp":
		body.SetAccessType(c.config.AccessType)
	default:
		return "", fmt.Errorf("unsupported access type %q", c.config.AccessType)
	}

	res, _, err := c.api.V2Api.Auth(ctx).Body(*body).Execute()
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	return res.GetToken(), nil
}

func (c *akeylessSDKClient) ListItems(ctx context.Context, token, dir string) ([]string, error) {
	body := akeyless.NewListItems()
	body.SetPath(dir)
	body.SetToken(token)

	res, _, err := c.api.V2Api.ListItems(ctx).Body(*body).Execute()
	if err != nil {
		return nil, err
	}
	items := res.GetItems()
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.GetItemName())
	}
	return names, nil
}

func (c *akeylessSDKClient) GetSecretValues(ctx context.Context, token string, names []string) (map[string]string, error) {
	body := akeyless.NewGetSecretValue(names)
	body.SetToken(token)

	res, _, err := c.api.V2Api.GetSecretValue(ctx).Body(*body).Execute()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(res))
	for name, v := range res {
		out[name] = secretText(v)
	}
	return out, nil
}

func secretText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Akeyless loads every item below a path. The last path segment of each item
// becomes the variable name, as for Key Vault secret names.
type Akeyless struct {
	path   string
	config AkeylessConfig
	client AkeylessAPI
}

// AkeylessOption configures an Akeyless source.
type AkeylessOption func(*Akeyless)

// WithAkeylessClient sets a custom client (for testing).
func WithAkeylessClient(client AkeylessAPI) AkeylessOption {
	return func(s *Akeyless) { s.client = client }
}

// NewAkeyless creates an Akeyless source for dir.
func NewAkeyless(dir string, cfg AkeylessConfig, opts ...AkeylessOption) *Akeyless {
	if !strings.HasPrefix(dir, "/") {
		dir = "/" + dir
	}
	s := &Akeyless{path: dir, config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *Akeyless) Name() string { return "akeyless:" + s.path }

// Load implements Source.
func (s *Akeyless) Load(ctx context.Context) (map[string]string, error) {
	if s.client == nil {
		s.client = newAkeylessSDKClient(s.config)
	}

	token, err := s.client.Authenticate(ctx)
	if err != nil {
		return nil, apperrors.SourceError("akeyless", "auth", err)
	}
	names, err := s.client.ListItems(ctx, token, s.path)
	if err != nil {
		return nil, apperrors.SourceError("akeyless", "list "+s.path, err)
	}
	if len(names) == 0 {
		return map[string]string{}, nil
	}

	values, err := s.client.GetSecretValues(ctx, token, names)
	if err != nil {
		return nil, apperrors.SourceError("akeyless", "load "+s.path, err)
	}
	out := make(map[string]string, len(values))
	for _, name := range names {
		v, ok := values[name]
		if !ok {
			continue
		}
		out[VariableName(path.Base(name))] = v
	}
	return out, nil
}
