package backend

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PreferenceAuto asks the engine to pick the most preferred eligible provider.
const PreferenceAuto = "auto"

// Kind is the type a field value is coerced to.
type Kind string

const (
	KindString   Kind = "string"
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindBool     Kind = "bool"
	KindEnum     Kind = "enum"
	KindSecret   Kind = "secret"
	KindURL      Kind = "url"
	KindDuration Kind = "duration"
	KindList     Kind = "list"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindString, KindInt, KindFloat, KindBool, KindEnum, KindSecret, KindURL, KindDuration, KindList}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// FieldSpec describes one field of a provider's configuration.
type FieldSpec struct {
	// Key is the name of the field in the resolved configuration.
	Key string `yaml:"key" json:"key"`

	// Env is the environment variable holding the value.
	// Empty means the upper-cased Key.
	Env string `yaml:"env,omitempty" json:"env,omitempty"`

	Kind Kind `yaml:"kind" json:"kind"`

	// Default is the raw default, coerced exactly like environment input.
	Default *string `yaml:"default,omitempty" json:"default,omitempty"`

	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// EnumValues is only meaningful for KindEnum.
	EnumValues []string `yaml:"enum,omitempty" json:"enum,omitempty"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// EnvName returns the environment variable the field is read from.
func (f FieldSpec) EnvName() string {
	if f.Env != "" {
		return f.Env
	}
	return strings.ToUpper(f.Key)
}

// HasDefault reports whether the field carries a default.
func (f FieldSpec) HasDefault() bool {
	return f.Default != nil
}

// Default returns a pointer to raw, for building FieldSpecs in Go code.
func Default(raw string) *string {
	return &raw
}

// ProviderDefinition is one candidate backend for a subsystem.
// Definitions are immutable once registered.
type ProviderDefinition struct {
	Name        string      `yaml:"name" json:"name"`
	Subsystem   string      `yaml:"subsystem" json:"subsystem"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []FieldSpec `yaml:"fields,omitempty" json:"fields,omitempty"`

	// Capability names a probe that must report true; empty means always eligible.
	Capability string `yaml:"capability,omitempty" json:"capability,omitempty"`

	// EnabledBy names a boolean environment flag that must be true.
	EnabledBy string `yaml:"enabled_by,omitempty" json:"enabled_by,omitempty"`

	// Priority orders candidates within a subsystem, lower is preferred.
	Priority int `yaml:"priority" json:"priority"`
}

// Key identifies the definition within a registry.
func (d ProviderDefinition) Key() string {
	return d.Subsystem + "/" + d.Name
}

// HasSecrets reports whether any field is of kind secret.
func (d ProviderDefinition) HasSecrets() bool {
	for _, f := range d.Fields {
		if f.Kind == KindSecret {
			return true
		}
	}
	return false
}

// Field returns the spec for key.
func (d ProviderDefinition) Field(key string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// PurposeSpec derives a purpose-specific view of a resolved configuration.
// Overrides are templates rendered over the resolved fields.
type PurposeSpec struct {
	Name      string            `yaml:"name" json:"name"`
	Overrides map[string]string `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// SubsystemSpec carries metadata shared by all providers of a subsystem.
type SubsystemSpec struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// PreferenceEnv holds "auto" or a provider name, e.g. CACHE_ENGINE.
	PreferenceEnv string `yaml:"preference_env,omitempty" json:"preference_env,omitempty"`

	// DefaultProvider is the documented provider an unusable explicit
	// preference degrades to. Empty means explicit requests never degrade.
	DefaultProvider string `yaml:"default_provider,omitempty" json:"default_provider,omitempty"`

	Purposes []PurposeSpec `yaml:"purposes,omitempty" json:"purposes,omitempty"`
}

// Purpose returns the named purpose.
func (s SubsystemSpec) Purpose(name string) (PurposeSpec, bool) {
	for _, p := range s.Purposes {
		if p.Name == name {
			return p, true
		}
	}
	return PurposeSpec{}, false
}

// ResolutionRequest is a single call into the engine.
type ResolutionRequest struct {
	Subsystem  string
	Preference string

	// Environment is captured once, when the request is built.
	Environment map[string]string
}

// IsAuto reports whether the request asks for automatic selection.
func (r ResolutionRequest) IsAuto() bool {
	p := strings.TrimSpace(r.Preference)
	return p == "" || strings.EqualFold(p, PreferenceAuto)
}

// NormalizedPreference returns the lower-cased preference, "auto" when empty.
func (r ResolutionRequest) NormalizedPreference() string {
	if r.IsAuto() {
		return PreferenceAuto
	}
	return strings.ToLower(strings.TrimSpace(r.Preference))
}

// CoercionWarning records a malformed environment value replaced by its default.
type CoercionWarning struct {
	Env    string `json:"env" yaml:"env"`
	Raw    string `json:"raw" yaml:"raw"`
	Kind   Kind   `json:"kind" yaml:"kind"`
	Reason string `json:"reason" yaml:"reason"`
}

func (w CoercionWarning) String() string {
	return fmt.Sprintf("%s: %s (%s)", w.Env, w.Reason, w.Kind)
}

// Rejection records why a candidate was not selected.
type Rejection struct {
	Provider string `json:"provider" yaml:"provider"`
	Reason   string `json:"reason" yaml:"reason"`
}

// Rejection reasons.
func ReasonUnknownProvider(name string) string { return "unknown provider: " + name }
func ReasonCapability(capability string) string {
	return "capability unavailable: " + capability
}
func ReasonMissingField(key string) string { return "missing required field: " + key }
func ReasonDisabled(flag string) string    { return "disabled by " + flag }
func ReasonSecret(key string, err error) string {
	return fmt.Sprintf("secret field %s: %v", key, err)
}

// ResolutionFailure is the structured outcome when no candidate is eligible.
// It is returned as a value and implements error for errors.As.
type ResolutionFailure struct {
	Subsystem  string      `json:"subsystem" yaml:"subsystem"`
	Preference string      `json:"preference" yaml:"preference"`
	Attempted  []Rejection `json:"attempted" yaml:"attempted"`
}

func (f *ResolutionFailure) Error() string {
	if len(f.Attempted) == 0 {
		return fmt.Sprintf("%s: no providers registered", f.Subsystem)
	}
	parts := make([]string, 0, len(f.Attempted))
	for _, r := range f.Attempted {
		parts = append(parts, r.Provider+": "+r.Reason)
	}
	return fmt.Sprintf("%s: no eligible provider (%s)", f.Subsystem, strings.Join(parts, "; "))
}

// Reason returns the rejection reason recorded for provider.
func (f *ResolutionFailure) Reason(provider string) (string, bool) {
	for _, r := range f.Attempted {
		if r.Provider == provider {
			return r.Reason, true
		}
	}
	return "", false
}

// ResolvedConfig is a selected, validated and materialized configuration.
type ResolvedConfig struct {
	Subsystem  string            `json:"subsystem" yaml:"subsystem"`
	Provider   string            `json:"provider" yaml:"provider"`
	Preference string            `json:"preference" yaml:"preference"`
	Fields     map[string]any    `json:"fields" yaml:"fields"`
	Warnings   []CoercionWarning `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Rejected lists candidates passed over before the selected one.
	Rejected   []Rejection `json:"rejected,omitempty" yaml:"rejected,omitempty"`
	ResolvedAt time.Time   `json:"resolved_at" yaml:"resolved_at"`

	Purposes []PurposeSpec `json:"-" yaml:"-"`
	// Specs are the selected provider's field specs; purpose overrides are
	// coerced through them.
	Specs []FieldSpec `json:"-" yaml:"-"`
}

// Get returns the raw typed value of key.
func (c *ResolvedConfig) Get(key string) (any, bool) {
	v, ok := c.Fields[key]
	return v, ok
}

// String returns a string-like field (string, enum, url) or "".
func (c *ResolvedConfig) String(key string) string {
	if s, ok := c.Fields[key].(string); ok {
		return s
	}
	return ""
}

// Int returns an int field or 0.
func (c *ResolvedConfig) Int(key string) int {
	if i, ok := c.Fields[key].(int); ok {
		return i
	}
	return 0
}

// Float returns a float field or 0.
func (c *ResolvedConfig) Float(key string) float64 {
	if f, ok := c.Fields[key].(float64); ok {
		return f
	}
	return 0
}

// Bool returns a bool field or false.
func (c *ResolvedConfig) Bool(key string) bool {
	b, _ := c.Fields[key].(bool)
	return b
}

// Duration returns a duration field or 0.
func (c *ResolvedConfig) Duration(key string) time.Duration {
	d, _ := c.Fields[key].(time.Duration)
	return d
}

// List returns a list field or nil.
func (c *ResolvedConfig) List(key string) []string {
	l, _ := c.Fields[key].([]string)
	return l
}

// Secret returns a secret field.
func (c *ResolvedConfig) Secret(key string) (Secret, bool) {
	s, ok := c.Fields[key].(Secret)
	return s, ok
}

// Keys returns the field keys in sorted order.
func (c *ResolvedConfig) Keys() []string {
	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Redacted returns a copy of the fields that is safe to print or serialize.
func (c *ResolvedConfig) Redacted() map[string]any {
	out := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		switch tv := v.(type) {
		case Secret:
			out[k] = tv.String()
		case time.Duration:
			out[k] = tv.String()
		default:
			out[k] = v
		}
	}
	return out
}
