package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/systmms/bootcfg/internal/capability"
	"github.com/systmms/bootcfg/internal/envsource"
	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/internal/secrets"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = "bootcfg.yaml"

// Key source kinds.
const (
	KeySourceNone    = "none"
	KeySourceEnv     = "env"
	KeySourceKeyring = "keyring"
)

// DefaultKeyEnv holds the passphrase when key_source is env.
const DefaultKeyEnv = "BOOTCFG_KEY"

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the bootcfg.yaml structure
type Definition struct {
	Version int `yaml:"version"`

	// Sources build the environment snapshot, later entries win.
	Sources []envsource.Spec `yaml:"sources,omitempty"`

	// Providers is an extra provider table loaded after the built-in one.
	// Relative paths are resolved against the configuration file.
	Providers string `yaml:"providers,omitempty"`

	// Capabilities override or add probes. String fields may reference
	// variables of the snapshot as ${VAR}.
	Capabilities map[string]capability.Spec `yaml:"capabilities,omitempty"`

	ProbeTimeout time.Duration `yaml:"probe_timeout,omitempty"`

	Secrets SecretsConfig `yaml:"secrets,omitempty"`
	Serve   ServeConfig   `yaml:"serve,omitempty"`
}

// SecretsConfig selects where the decryption passphrase comes from.
type SecretsConfig struct {
	KeySource        string `yaml:"key_source,omitempty"`
	KeyEnv           string `yaml:"key_env,omitempty"`
	KeyringService   string `yaml:"keyring_service,omitempty"`
	KeyringUser      string `yaml:"keyring_user,omitempty"`
	RequireEncrypted bool   `yaml:"require_encrypted,omitempty"`
}

// ServeConfig configures "bootcfg serve".
type ServeConfig struct {
	Addr       string   `yaml:"addr,omitempty"`
	Subsystems []string `yaml:"subsystems,omitempty"`
}

// Default returns the configuration used when no file exists: the process
// environment, built-in probes and an environment-variable key.
func Default() *Definition {
	return &Definition{
		Secrets: SecretsConfig{KeySource: KeySourceEnv, KeyEnv: DefaultKeyEnv},
	}
}

// Load reads and parses the configuration file. A missing file yields the
// defaults.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if c.Logger != nil {
				c.Logger.Debug("No configuration at %s, using defaults", c.Path)
			}
			c.Definition = Default()
			return nil
		}
		return apperrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	if def.Providers != "" && !filepath.IsAbs(def.Providers) {
		def.Providers = filepath.Join(filepath.Dir(c.Path), def.Providers)
	}
	c.Definition = def
	return nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Definition, error) {
	def := Default()
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, apperrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate checks the definition.
func (d *Definition) Validate() error {
	if d.Version != 0 {
		return apperrors.ConfigError{
			Field:      "version",
			Value:      d.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your bootcfg.yaml file",
		}
	}

	err := validation.ValidateStruct(&d.Secrets,
		validation.Field(&d.Secrets.KeySource, validation.In(KeySourceNone, KeySourceEnv, KeySourceKeyring)),
		validation.Field(&d.Secrets.KeyringService, validation.When(d.Secrets.KeySource == KeySourceKeyring, validation.Required)),
	)
	if err != nil {
		return apperrors.ConfigError{Field: "secrets", Message: err.Error()}
	}

	for i, src := range d.Sources {
		if src.Type == "" {
			return apperrors.ConfigError{
				Field:   fmt.Sprintf("sources[%d].type", i),
				Message: "source type is required",
			}
		}
	}
	return nil
}

// SourceLayer builds the layered environment source.
func (d *Definition) SourceLayer() (envsource.Layered, error) {
	return envsource.FromConfig(d.Sources)
}

// KeySource returns where the passphrase comes from, or nil for none.
func (d *Definition) KeySource() secrets.KeySource {
	switch d.Secrets.KeySource {
	case KeySourceKeyring:
		user := d.Secrets.KeyringUser
		if user == "" {
			user = "bootcfg"
		}
		return secrets.KeyringKey{Service: d.Secrets.KeyringService, User: user}
	case KeySourceNone:
		return nil
	default:
		name := d.Secrets.KeyEnv
		if name == "" {
			name = DefaultKeyEnv
		}
		return secrets.EnvKey(name)
	}
}

// Materializer builds the secret materializer for the definition. With an
// env key source the passphrase is looked up in environ first, so the key may
// come from any configured source; environ may be nil.
func (d *Definition) Materializer(logger *logging.Logger, environ func() map[string]string) *secrets.Materializer {
	opts := []secrets.Option{
		secrets.RequireEncrypted(d.Secrets.RequireEncrypted),
		secrets.WithLogger(logger),
	}
	ks := d.KeySource()
	if name, ok := ks.(secrets.EnvKey); ok {
		ks = secrets.SnapshotKey{Name: string(name), Environ: environ}
	}
	if ks != nil {
		opts = append(opts, secrets.WithKeySource(ks))
	}
	return secrets.New(opts...)
}

// ExpandedCapabilities returns the capability specs with ${VAR} references
// replaced from env. Unknown variables expand to "".
func (d *Definition) ExpandedCapabilities(env map[string]string) map[string]capability.Spec {
	expand := func(s string) string {
		return os.Expand(s, func(name string) string { return env[name] })
	}
	out := make(map[string]capability.Spec, len(d.Capabilities))
	for name, spec := range d.Capabilities {
		spec.Addr = expand(spec.Addr)
		spec.Password = expand(spec.Password)
		spec.DSN = expand(spec.DSN)
		spec.Driver = expand(spec.Driver)
		out[name] = spec
	}
	return out
}

// CapabilityNames lists the configured capabilities in sorted order.
func (d *Definition) CapabilityNames() []string {
	names := make([]string, 0, len(d.Capabilities))
	for name := range d.Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
