package envsource

import (
	"fmt"
	"strings"

	apperrors "github.com/systmms/bootcfg/internal/errors"
)

// Source types accepted in configuration.
const (
	TypeProcess           = "process"
	TypeDotenv            = "dotenv"
	TypeAWSSSM            = "aws.ssm"
	TypeAWSSecretsManager = "aws.secretsmanager"
	TypeGCPSecretManager  = "gcp.secretmanager"
	TypeAzureKeyVault     = "azure.keyvault"
	TypeAkeyless          = "akeyless"
)

// Spec declares one source in the CLI configuration file.
type Spec struct {
	Type string `yaml:"type"`

	// Path is the .env file for dotenv and the item path for aws.ssm and
	// akeyless.
	Path      string `yaml:"path,omitempty"`
	Recursive bool   `yaml:"recursive,omitempty"`

	// Secret names the secret for aws.secretsmanager and gcp.secretmanager.
	Secret          string `yaml:"secret,omitempty"`
	Project         string `yaml:"project,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`

	Vault string `yaml:"vault,omitempty"`

	// Optional makes a missing secret load as empty instead of failing.
	Optional bool `yaml:"optional,omitempty"`

	AWSConfig      `yaml:",inline"`
	AkeylessConfig `yaml:",inline"`
}

// Build turns a spec into a Source.
func Build(spec Spec) (Source, error) {
	field := "sources." + spec.Type
	missing := func(key string) error {
		return apperrors.ConfigError{
			Field:   field + "." + key,
			Message: fmt.Sprintf("%s is required for %s sources", key, spec.Type),
		}
	}

	switch spec.Type {
	case TypeProcess:
		return Process{}, nil
	case TypeDotenv:
		if spec.Path == "" {
			return NewDotenv(), nil
		}
		return NewDotenv(spec.Path), nil
	case TypeAWSSSM:
		if spec.Path == "" {
			return nil, missing("path")
		}
		return NewAWSSSM(spec.Path, spec.AWSConfig, WithSSMRecursive(spec.Recursive)), nil
	case TypeAWSSecretsManager:
		if spec.Secret == "" {
			return nil, missing("secret")
		}
		return NewAWSSecretsManager(spec.Secret, spec.AWSConfig, WithSecretsManagerOptional(spec.Optional)), nil
	case TypeGCPSecretManager:
		if spec.Secret == "" {
			return nil, missing("secret")
		}
		if spec.Project == "" && !strings.HasPrefix(spec.Secret, "projects/") {
			return nil, missing("project")
		}
		opts := []GCPOption{WithGCPOptional(spec.Optional)}
		if spec.CredentialsFile != "" {
			opts = append(opts, WithGCPCredentialsFile(spec.CredentialsFile))
		}
		return NewGCPSecretManager(spec.Project, spec.Secret, opts...), nil
	case TypeAzureKeyVault:
		if spec.Vault == "" {
			return nil, missing("vault")
		}
		return NewAzureKeyVault(spec.Vault), nil
	case TypeAkeyless:
		if spec.Path == "" {
			return nil, missing("path")
		}
		if spec.AccessID == "" {
			return nil, missing("access_id")
		}
		return NewAkeyless(spec.Path, spec.AkeylessConfig), nil
	default:
		return nil, apperrors.ConfigError{
			Field:      "sources",
			Value:      spec.Type,
			Message:    "unknown source type",
			Suggestion: "Use one of: process, dotenv, aws.ssm, aws.secretsmanager, gcp.secretmanager, azure.keyvault, akeyless",
		}
	}
}

// FromConfig builds the layered source for a list of specs. No specs means
// the process environment alone.
func FromConfig(specs []Spec) (Layered, error) {
	if len(specs) == 0 {
		return Layered{Process{}}, nil
	}
	layered := make(Layered, 0, len(specs))
	for _, spec := range specs {
		src, err := Build(spec)
		if err != nil {
			return nil, err
		}
		layered = append(layered, src)
	}
	return layered, nil
}
