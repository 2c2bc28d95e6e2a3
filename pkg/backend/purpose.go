package backend

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// ForPurpose derives the field map for a purpose of the subsystem.
//
// Each override is a template rendered over the resolved fields (secrets stay
// redacted inside templates) and the result is coerced back to the field's
// kind, so a duration override is a time.Duration. An override only applies to keys the selected
// provider actually has, so a purpose can describe file paths and key prefixes
// at once without leaking a path into a redis configuration.
func (c *ResolvedConfig) ForPurpose(name string) (map[string]any, error) {
	var purpose *PurposeSpec
	for i := range c.Purposes {
		if c.Purposes[i].Name == name {
			purpose = &c.Purposes[i]
			break
		}
	}
	if purpose == nil {
		return nil, fmt.Errorf("%s: unknown purpose %q", c.Subsystem, name)
	}

	out := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		out[k] = v
	}

	data := c.Redacted()
	for key, text := range purpose.Overrides {
		if _, ok := c.Fields[key]; !ok {
			continue
		}
		rendered, err := renderOverride(purpose.Name+"."+key, text, data)
		if err != nil {
			return nil, fmt.Errorf("%s: purpose %s: %w", c.Subsystem, purpose.Name, err)
		}
		v, err := c.coerceOverride(key, rendered)
		if err != nil {
			return nil, fmt.Errorf("%s: purpose %s: override %s: %w", c.Subsystem, purpose.Name, key, err)
		}
		out[key] = v
	}
	return out, nil
}

func (c *ResolvedConfig) coerceOverride(key, rendered string) (any, error) {
	for _, f := range c.Specs {
		if f.Key != key {
			continue
		}
		if f.Kind == KindSecret {
			return NewSecret(rendered), nil
		}
		return Coerce(rendered, f.Kind, f.EnumValues)
	}
	return rendered, nil
}

// PurposeNames lists the purposes available on the config.
func (c *ResolvedConfig) PurposeNames() []string {
	names := make([]string, 0, len(c.Purposes))
	for _, p := range c.Purposes {
		names = append(names, p.Name)
	}
	return names
}

func renderOverride(name, text string, data map[string]any) (string, error) {
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse override %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render override %s: %w", name, err)
	}
	return buf.String(), nil
}

// CheckOverrides parses every override template of the spec.
func (s SubsystemSpec) CheckOverrides() error {
	for _, p := range s.Purposes {
		for key, text := range p.Overrides {
			if _, err := template.New(p.Name + "." + key).Funcs(sprig.TxtFuncMap()).Parse(text); err != nil {
				return fmt.Errorf("subsystem %s purpose %s override %s: %w", s.Name, p.Name, key, err)
			}
		}
	}
	return nil
}
