package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/bootcfg/internal/bootstrap"
	"github.com/systmms/bootcfg/internal/config"
	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/pkg/backend"
)

// loadApp loads the configuration file and wires an App from it.
func loadApp(ctx context.Context, cfg *config.Config, opts ...bootstrap.Option) (*bootstrap.App, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	opts = append([]bootstrap.Option{bootstrap.WithLogger(cfg.Logger)}, opts...)
	return bootstrap.New(ctx, cfg.Definition, opts...)
}

// configView is the printable form of a resolved configuration.
type configView struct {
	Subsystem  string                    `json:"subsystem" yaml:"subsystem"`
	Provider   string                    `json:"provider" yaml:"provider"`
	Preference string                    `json:"preference" yaml:"preference"`
	Purpose    string                    `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Fields     map[string]any            `json:"fields" yaml:"fields"`
	Warnings   []backend.CoercionWarning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Rejected   []backend.Rejection       `json:"rejected,omitempty" yaml:"rejected,omitempty"`
	Purposes   []string                  `json:"purposes,omitempty" yaml:"purposes,omitempty"`
}

func newConfigView(cfg *backend.ResolvedConfig, purpose string) (configView, error) {
	fields := cfg.Redacted()
	if purpose != "" {
		derived, err := cfg.ForPurpose(purpose)
		if err != nil {
			return configView{}, err
		}
		fields = redactValues(derived)
	}
	return configView{
		Subsystem:  cfg.Subsystem,
		Provider:   cfg.Provider,
		Preference: cfg.Preference,
		Purpose:    purpose,
		Fields:     fields,
		Warnings:   cfg.Warnings,
		Rejected:   cfg.Rejected,
		Purposes:   cfg.PurposeNames(),
	}, nil
}

func redactValues(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch tv := v.(type) {
		case backend.Secret:
			out[k] = tv.String()
		case time.Duration:
			out[k] = tv.String()
		default:
			out[k] = v
		}
	}
	return out
}

// writeDocument writes v as yaml or json.
func writeDocument(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (use yaml or json)", format)
	}
}
