package registry

import (
	_ "embed"
	"fmt"
	"sync"
)

//go:embed builtin.yaml
var builtinYAML []byte

var (
	builtinTable   *Table
	builtinErr     error
	builtinTableMu sync.Once
)

// BuiltinTable returns the parsed built-in provider table. It is parsed once.
func BuiltinTable() (*Table, error) {
	builtinTableMu.Do(func() {
		builtinTable, builtinErr = ParseTable(builtinYAML)
		if builtinErr != nil {
			builtinErr = fmt.Errorf("failed to parse built-in providers: %w", builtinErr)
		}
	})
	return builtinTable, builtinErr
}

// Builtin returns an open registry loaded with the built-in table. Callers
// may register more providers before sealing it.
func Builtin() (*Registry, error) {
	table, err := BuiltinTable()
	if err != nil {
		return nil, err
	}
	r := New()
	if err := r.Load(table); err != nil {
		return nil, err
	}
	return r, nil
}
