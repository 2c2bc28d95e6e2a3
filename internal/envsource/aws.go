package envsource

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	apperrors "github.com/systmms/bootcfg/internal/errors"
)

// AWSConfig selects the AWS account and region a source talks to. Empty
// fields fall back to the default credential chain.
type AWSConfig struct {
	Region          string `yaml:"region,omitempty"`
	Profile         string `yaml:"profile,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	// AssumeRole is a role ARN assumed with the loaded credentials.
	AssumeRole string `yaml:"assume_role,omitempty"`
	ExternalID string `yaml:"external_id,omitempty"`
}

func (c AWSConfig) load(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if c.AssumeRole != "" {
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(
			sts.NewFromConfig(cfg), c.AssumeRole, c.assumeRoleOptions,
		))
	}
	return cfg, nil
}

func (c AWSConfig) assumeRoleOptions(o *stscreds.AssumeRoleOptions) {
	o.RoleSessionName = "bootcfg"
	if c.ExternalID != "" {
		o.ExternalID = aws.String(c.ExternalID)
	}
}

// AWSSSM loads every parameter below a Parameter Store path. The last path
// segment of each parameter becomes the variable name.
type AWSSSM struct {
	path      string
	recursive bool
	config    AWSConfig
	client    ssm.GetParametersByPathAPIClient
}

// SSMOption configures an AWSSSM source.
type SSMOption func(*AWSSSM)

// WithSSMClient sets a custom SSM client (for testing).
func WithSSMClient(client ssm.GetParametersByPathAPIClient) SSMOption {
	return func(s *AWSSSM) { s.client = client }
}

// WithSSMRecursive also loads parameters in nested paths.
func WithSSMRecursive(recursive bool) SSMOption {
	return func(s *AWSSSM) { s.recursive = recursive }
}

// NewAWSSSM creates a Parameter Store source for path.
func NewAWSSSM(parameterPath string, cfg AWSConfig, opts ...SSMOption) *AWSSSM {
	if !strings.HasPrefix(parameterPath, "/") {
		parameterPath = "/" + parameterPath
	}
	s := &AWSSSM{path: parameterPath, config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *AWSSSM) Name() string { return "aws.ssm:" + s.path }

// Load implements Source.
func (s *AWSSSM) Load(ctx context.Context) (map[string]string, error) {
	if s.client == nil {
		cfg, err := s.config.load(ctx)
		if err != nil {
			return nil, apperrors.SourceError("aws.ssm", "connect", err)
		}
		s.client = ssm.NewFromConfig(cfg)
	}

	out := make(map[string]string)
	pager := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(s.path),
		Recursive:      aws.Bool(s.recursive),
		WithDecryption: aws.Bool(true),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, apperrors.SourceError("aws.ssm", "load "+s.path, err)
		}
		for _, p := range page.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			out[path.Base(*p.Name)] = *p.Value
		}
	}
	return out, nil
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager loads one secret holding a flat JSON object of variables.
type AWSSecretsManager struct {
	secretID string
	optional bool
	config   AWSConfig
	client   SecretsManagerAPI
}

// SecretsManagerOption configures an AWSSecretsManager source.
type SecretsManagerOption func(*AWSSecretsManager)

// WithSecretsManagerClient sets a custom client (for testing).
func WithSecretsManagerClient(client SecretsManagerAPI) SecretsManagerOption {
	return func(s *AWSSecretsManager) { s.client = client }
}

// WithSecretsManagerOptional treats a missing secret as empty.
func WithSecretsManagerOptional(optional bool) SecretsManagerOption {
	return func(s *AWSSecretsManager) { s.optional = optional }
}

// NewAWSSecretsManager creates a Secrets Manager source for secretID.
func NewAWSSecretsManager(secretID string, cfg AWSConfig, opts ...SecretsManagerOption) *AWSSecretsManager {
	s := &AWSSecretsManager{secretID: secretID, config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *AWSSecretsManager) Name() string { return "aws.secretsmanager:" + s.secretID }

// Load implements Source.
func (s *AWSSecretsManager) Load(ctx context.Context) (map[string]string, error) {
	if s.client == nil {
		cfg, err := s.config.load(ctx)
		if err != nil {
			return nil, apperrors.SourceError("aws.secretsmanager", "connect", err)
		}
		s.client = secretsmanager.NewFromConfig(cfg)
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if s.optional && errors.As(err, &notFound) {
			return map[string]string{}, nil
		}
		return nil, apperrors.SourceError("aws.secretsmanager", "load "+s.secretID, err)
	}

	var data []byte
	switch {
	case out.SecretString != nil:
		data = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		data = out.SecretBinary
	default:
		return map[string]string{}, nil
	}

	vars, err := decodeJSONObject(data)
	if err != nil {
		return nil, apperrors.SourceError("aws.secretsmanager", "decode "+s.secretID, err)
	}
	return vars, nil
}
