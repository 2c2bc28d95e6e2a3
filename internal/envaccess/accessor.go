// Package envaccess reads typed values out of an environment snapshot.
//
// Reads never fail. A value that does not coerce to the requested kind is
// replaced by the caller's default and a CoercionWarning is recorded.
package envaccess

import (
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/pkg/backend"
)

// Accessor reads from one immutable snapshot.
type Accessor struct {
	env map[string]string

	mu       sync.Mutex
	warnings []backend.CoercionWarning
}

// New copies snapshot into a new accessor.
func New(snapshot map[string]string) *Accessor {
	env := make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		env[k] = v
	}
	return &Accessor{env: env}
}

// Snapshot parses KEY=VALUE pairs such as os.Environ().
func Snapshot(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}

// FromProcess snapshots the process environment.
func FromProcess() *Accessor {
	return New(Snapshot(os.Environ()))
}

// Lookup returns the raw value. Unset and blank values are both missing.
func (a *Accessor) Lookup(name string) (string, bool) {
	v, ok := a.env[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Environ returns a copy of the snapshot.
func (a *Accessor) Environ() map[string]string {
	out := make(map[string]string, len(a.env))
	for k, v := range a.env {
		out[k] = v
	}
	return out
}

// Get reads name as kind. Missing or malformed input yields def.
func (a *Accessor) Get(name string, kind backend.Kind, def any) any {
	return a.get(name, kind, nil, def)
}

func (a *Accessor) get(name string, kind backend.Kind, enumValues []string, def any) any {
	raw, ok := a.Lookup(name)
	if !ok {
		return def
	}
	v, err := backend.Coerce(raw, kind, enumValues)
	if err != nil {
		a.warn(name, raw, kind, err.Error())
		return def
	}
	return v
}

// Field materializes one field spec. The boolean is false when the field has
// no value after defaulting. Bool fields always have a value.
func (a *Accessor) Field(f backend.FieldSpec) (any, bool) {
	env := f.EnvName()
	if raw, ok := a.Lookup(env); ok {
		v, err := backend.Coerce(raw, f.Kind, f.EnumValues)
		if err == nil {
			return v, true
		}
		a.warn(env, raw, f.Kind, err.Error())
	}
	if f.Default != nil {
		v, err := backend.Coerce(*f.Default, f.Kind, f.EnumValues)
		if err == nil {
			return v, true
		}
	}
	if f.Kind == backend.KindBool {
		return false, true
	}
	return nil, false
}

// String reads a string.
func (a *Accessor) String(name, def string) string {
	return a.get(name, backend.KindString, nil, def).(string)
}

// Int reads an int.
func (a *Accessor) Int(name string, def int) int {
	return a.get(name, backend.KindInt, nil, def).(int)
}

// Float reads a float64.
func (a *Accessor) Float(name string, def float64) float64 {
	return a.get(name, backend.KindFloat, nil, def).(float64)
}

// Bool reads a flag with backend.ParseBool. Missing uses def.
func (a *Accessor) Bool(name string, def bool) bool {
	return a.get(name, backend.KindBool, nil, def).(bool)
}

// Enabled reports whether the flag name is set to a true token.
func (a *Accessor) Enabled(name string) bool {
	return backend.ParseBool(a.env[name])
}

// Enum reads one of values, matched case-insensitively.
func (a *Accessor) Enum(name string, values []string, def string) string {
	return a.get(name, backend.KindEnum, values, def).(string)
}

// URL reads an absolute URL.
func (a *Accessor) URL(name, def string) string {
	return a.get(name, backend.KindURL, nil, def).(string)
}

// Duration reads a duration.
func (a *Accessor) Duration(name string, def time.Duration) time.Duration {
	return a.get(name, backend.KindDuration, nil, def).(time.Duration)
}

// List reads a comma separated list.
func (a *Accessor) List(name string, def []string) []string {
	return a.get(name, backend.KindList, nil, def).([]string)
}

// Warnings returns the coercion warnings recorded so far.
func (a *Accessor) Warnings() []backend.CoercionWarning {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]backend.CoercionWarning, len(a.warnings))
	copy(out, a.warnings)
	return out
}

func (a *Accessor) warn(env, raw string, kind backend.Kind, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warnings = append(a.warnings, backend.CoercionWarning{Env: env, Raw: redactRaw(raw, kind), Kind: kind, Reason: reason})
}

var userinfo = regexp.MustCompile(`([^/@\s]+)@`)

// redactRaw keeps a malformed value readable for the operator while dropping
// credentials: secrets entirely, anything shaped like URL userinfo.
func redactRaw(raw string, kind backend.Kind) string {
	if kind == backend.KindSecret {
		return logging.Secret(raw).String()
	}
	var creds []string
	for _, m := range userinfo.FindAllStringSubmatch(raw, -1) {
		creds = append(creds, m[1])
		if _, pass, ok := strings.Cut(m[1], ":"); ok {
			creds = append(creds, pass)
		}
	}
	return logging.Redact(raw, creds)
}
