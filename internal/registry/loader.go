package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/pkg/backend"
)

//go:embed schema.json
var tableSchema string

// Table is the on-disk format of a provider table.
type Table struct {
	Version    int                          `yaml:"version" json:"version"`
	Subsystems []backend.SubsystemSpec      `yaml:"subsystems,omitempty" json:"subsystems,omitempty"`
	Providers  []backend.ProviderDefinition `yaml:"providers,omitempty" json:"providers,omitempty"`
}

// ParseTable validates data against the table schema and decodes it.
func ParseTable(data []byte) (*Table, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse provider table: %w", err)
	}
	if doc == nil {
		return &Table{}, nil
	}

	if err := validateWithSchema(doc); err != nil {
		return nil, err
	}

	var table Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&table); err != nil {
		return nil, fmt.Errorf("failed to decode provider table: %w", err)
	}
	return &table, nil
}

// validateWithSchema validates a decoded YAML document against the table schema
func validateWithSchema(doc interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal provider table for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(tableSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return apperrors.ConfigError{
			Message:    fmt.Sprintf("provider table does not match schema:\n  - %s", strings.Join(errorMessages, "\n  - ")),
			Suggestion: "Run 'bootcfg providers' against the built-in table for a working example",
		}
	}
	return nil
}

// Load registers every subsystem and provider of the table.
func (r *Registry) Load(table *Table) error {
	for _, spec := range table.Subsystems {
		if err := r.RegisterSubsystem(spec); err != nil {
			return err
		}
	}
	for _, def := range table.Providers {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// LoadYAML parses and registers a YAML provider table.
func (r *Registry) LoadYAML(data []byte) error {
	table, err := ParseTable(data)
	if err != nil {
		return err
	}
	return r.Load(table)
}

// LoadFile reads a provider table from path.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read provider table %s: %w", path, err)
	}
	if err := r.LoadYAML(data); err != nil {
		return fmt.Errorf("provider table %s: %w", path, err)
	}
	return nil
}
