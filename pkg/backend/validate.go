package backend

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	providerNamePattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
	subsystemNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*(:[a-z0-9][a-z0-9_.-]*)?$`)
	envNamePattern       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	fieldKeyPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func kindValues() []interface{} {
	out := make([]interface{}, len(Kinds))
	for i, k := range Kinds {
		out[i] = k
	}
	return out
}

// Validate checks the structure of a field spec.
func (f FieldSpec) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Key, validation.Required, validation.Match(fieldKeyPattern)),
		validation.Field(&f.Env, validation.Match(envNamePattern)),
		validation.Field(&f.Kind, validation.Required, validation.In(kindValues()...)),
		validation.Field(&f.EnumValues,
			validation.When(f.Kind == KindEnum, validation.Required).Else(validation.Empty),
		),
	)
}

// Validate checks the structure of a provider definition. It does not check
// defaults against their kind; the registry does that with the accessor.
func (d ProviderDefinition) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.Match(providerNamePattern)),
		validation.Field(&d.Subsystem, validation.Required, validation.Match(subsystemNamePattern)),
		validation.Field(&d.Priority, validation.Min(0)),
		validation.Field(&d.EnabledBy, validation.Match(envNamePattern)),
		validation.Field(&d.Fields, validation.By(uniqueFieldKeys)),
	)
}

// Validate checks the structure of a subsystem spec.
func (s SubsystemSpec) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required, validation.Match(subsystemNamePattern)),
		validation.Field(&s.PreferenceEnv, validation.Match(envNamePattern)),
		validation.Field(&s.DefaultProvider, validation.Match(providerNamePattern)),
		validation.Field(&s.Purposes, validation.By(uniquePurposeNames)),
	)
}

func uniqueFieldKeys(value interface{}) error {
	fields, _ := value.([]FieldSpec)
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Key] {
			return fmt.Errorf("duplicate field key %q", f.Key)
		}
		seen[f.Key] = true
	}
	return nil
}

func uniquePurposeNames(value interface{}) error {
	purposes, _ := value.([]PurposeSpec)
	seen := make(map[string]bool, len(purposes))
	for _, p := range purposes {
		if p.Name == "" {
			return fmt.Errorf("purpose name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate purpose %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
