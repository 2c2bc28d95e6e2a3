// Package registry holds the provider table: which backends exist for each
// subsystem and in which order they are preferred.
//
// Registration is append-only and happens at startup. Every problem with the
// table (a duplicate name, two providers sharing a priority, a default that
// does not coerce to its field kind) is a fatal errors.ConfigError returned
// by Register, never a resolution-time failure.
package registry

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/pkg/backend"
)

// Registry maps subsystems to their priority-ordered candidates.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string][]backend.ProviderDefinition
	subsystems map[string]backend.SubsystemSpec
	sealed     bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		providers:  make(map[string][]backend.ProviderDefinition),
		subsystems: make(map[string]backend.SubsystemSpec),
	}
}

// Register adds a provider definition.
func (r *Registry) Register(def backend.ProviderDefinition) error {
	if err := def.Validate(); err != nil {
		return apperrors.ConfigError{
			Field:   "providers." + def.Key(),
			Message: err.Error(),
		}
	}
	if err := checkDefaults(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return apperrors.ConfigError{
			Field:      "providers." + def.Key(),
			Message:    "registry is sealed, providers can only be registered at startup",
			Suggestion: "Register providers before the first resolution",
		}
	}

	for _, existing := range r.providers[def.Subsystem] {
		if existing.Name == def.Name {
			return apperrors.ConfigError{
				Field:      "providers." + def.Key(),
				Value:      def.Name,
				Message:    "duplicate provider registration",
				Suggestion: "Each provider name may appear once per subsystem",
			}
		}
		if existing.Priority == def.Priority {
			return apperrors.ConfigError{
				Field:      "providers." + def.Key() + ".priority",
				Value:      def.Priority,
				Message:    fmt.Sprintf("priority already used by %s", existing.Name),
				Suggestion: "Give every provider of a subsystem a distinct priority",
			}
		}
	}

	list := append(r.providers[def.Subsystem], cloneDefinition(def))
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	r.providers[def.Subsystem] = list
	return nil
}

// RegisterSubsystem adds metadata for a subsystem.
func (r *Registry) RegisterSubsystem(spec backend.SubsystemSpec) error {
	if err := spec.Validate(); err != nil {
		return apperrors.ConfigError{Field: "subsystems." + spec.Name, Message: err.Error()}
	}
	if err := spec.CheckOverrides(); err != nil {
		return apperrors.ConfigError{Field: "subsystems." + spec.Name + ".purposes", Message: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return apperrors.ConfigError{Field: "subsystems." + spec.Name, Message: "registry is sealed"}
	}
	if _, exists := r.subsystems[spec.Name]; exists {
		return apperrors.ConfigError{
			Field:   "subsystems." + spec.Name,
			Message: "duplicate subsystem registration",
		}
	}
	r.subsystems[spec.Name] = cloneSubsystem(spec)
	return nil
}

// Seal closes registration and checks that every documented default provider
// exists. The registry stays open when Seal fails.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, spec := range r.subsystems {
		if spec.DefaultProvider == "" {
			continue
		}
		if !r.hasProviderLocked(name, spec.DefaultProvider) {
			return apperrors.ConfigError{
				Field:      "subsystems." + name + ".default_provider",
				Value:      spec.DefaultProvider,
				Message:    "default provider is not registered",
				Suggestion: "Register the provider or remove default_provider",
			}
		}
	}
	r.sealed = true
	return nil
}

// Sealed reports whether Seal succeeded.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// CandidatesFor returns the subsystem's providers ordered by priority.
// The slice is a copy.
func (r *Registry) CandidatesFor(subsystem string) []backend.ProviderDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.providers[subsystem]
	out := make([]backend.ProviderDefinition, len(list))
	copy(out, list)
	return out
}

// Lookup returns one provider of a subsystem.
func (r *Registry) Lookup(subsystem, name string) (backend.ProviderDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, def := range r.providers[subsystem] {
		if def.Name == name {
			return def, true
		}
	}
	return backend.ProviderDefinition{}, false
}

// Subsystem returns the metadata of a subsystem. Subsystems that only have
// providers get an empty spec carrying just the name.
func (r *Registry) Subsystem(name string) (backend.SubsystemSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.subsystems[name]
	if !ok {
		return backend.SubsystemSpec{Name: name}, false
	}
	return spec, true
}

// Subsystems lists every subsystem with providers or metadata, sorted.
func (r *Registry) Subsystems() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.providers)+len(r.subsystems))
	for name := range r.providers {
		seen[name] = true
	}
	for name := range r.subsystems {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) hasProviderLocked(subsystem, name string) bool {
	for _, def := range r.providers[subsystem] {
		if def.Name == name {
			return true
		}
	}
	return false
}

// checkDefaults makes sure every default coerces to its field kind.
func checkDefaults(def backend.ProviderDefinition) error {
	for _, f := range def.Fields {
		if f.Default == nil {
			continue
		}
		if _, err := backend.Coerce(*f.Default, f.Kind, f.EnumValues); err != nil {
			return apperrors.ConfigError{
				Field:   fmt.Sprintf("providers.%s.fields.%s.default", def.Key(), f.Key),
				Value:   *f.Default,
				Message: fmt.Sprintf("default is not a valid %s: %v", f.Kind, err),
			}
		}
	}
	return nil
}

func cloneDefinition(def backend.ProviderDefinition) backend.ProviderDefinition {
	out := def
	out.Fields = make([]backend.FieldSpec, len(def.Fields))
	for i, f := range def.Fields {
		if f.Default != nil {
			f.Default = backend.Default(*f.Default)
		}
		if f.EnumValues != nil {
			f.EnumValues = append([]string(nil), f.EnumValues...)
		}
		out.Fields[i] = f
	}
	return out
}

func cloneSubsystem(spec backend.SubsystemSpec) backend.SubsystemSpec {
	out := spec
	out.Purposes = make([]backend.PurposeSpec, len(spec.Purposes))
	for i, p := range spec.Purposes {
		overrides := make(map[string]string, len(p.Overrides))
		for k, v := range p.Overrides {
			overrides[k] = v
		}
		out.Purposes[i] = backend.PurposeSpec{Name: p.Name, Overrides: overrides}
	}
	return out
}
