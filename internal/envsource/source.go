// Package envsource produces the environment snapshots resolution runs
// against. A snapshot can come from the process environment, .env files or a
// cloud secret store, and several sources can be layered.
package envsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/internal/envaccess"
)

// Source loads a set of environment variables.
type Source interface {
	Name() string
	Load(ctx context.Context) (map[string]string, error)
}

// Process reads the process environment.
type Process struct{}

// Name implements Source.
func (Process) Name() string { return "process" }

// Load implements Source.
func (Process) Load(context.Context) (map[string]string, error) {
	return envaccess.Snapshot(os.Environ()), nil
}

// Map is a fixed set of variables.
type Map map[string]string

// Name implements Source.
func (Map) Name() string { return "map" }

// Load implements Source. The returned map is a copy.
func (m Map) Load(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

// Dotenv reads one or more .env files. Files that do not exist are skipped;
// later files override earlier ones.
type Dotenv struct {
	Paths []string
}

// NewDotenv creates a dotenv source. Without paths it reads ".env".
func NewDotenv(paths ...string) Dotenv {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return Dotenv{Paths: paths}
}

// Name implements Source.
func (d Dotenv) Name() string { return "dotenv" }

// Load implements Source.
func (d Dotenv) Load(context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for _, path := range d.Paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		vars, err := godotenv.Read(path)
		if err != nil {
			return nil, apperrors.SourceError("dotenv", "load "+path, err)
		}
		for k, v := range vars {
			out[k] = v
		}
	}
	return out, nil
}

// Layered merges sources in order; later sources override earlier ones.
type Layered []Source

// Name implements Source.
func (l Layered) Name() string {
	names := make([]string, 0, len(l))
	for _, s := range l {
		names = append(names, s.Name())
	}
	return "layered(" + strings.Join(names, ",") + ")"
}

// Load implements Source. The first failing source aborts the load.
func (l Layered) Load(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for _, s := range l {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vars, err := s.Load(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			out[k] = v
		}
	}
	return out, nil
}

// decodeJSONObject turns a flat JSON object into variables. Non-string
// scalars keep their JSON text; nested values are rejected.
func decodeJSONObject(data []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("secret is not a JSON object: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		text := strings.TrimSpace(string(v))
		if text == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
			return nil, fmt.Errorf("value of %s is not a scalar", k)
		}
		out[k] = text
	}
	return out, nil
}
