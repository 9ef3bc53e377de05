// Package services names well-known TCP and UDP ports.
//
// The built-in table is embedded at compile time. An optional YAML
// override file maps ports to names and takes precedence over it.
package services

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"firestige.xyz/pcapminer/internal/core"
)

//go:embed services.yaml
var builtin []byte

// Table maps ports to service names. A Table is read-only after
// construction and safe for concurrent use.
type Table struct {
	names map[uint16]string
}

// Default returns the built-in table.
func Default() *Table {
	t, err := parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("embedded service table: %v", err))
	}
	return t
}

// Load returns the built-in table overlaid with the entries of
// overrideFile. An empty path returns the built-in table.
func Load(overrideFile string) (*Table, error) {
	t := Default()
	if overrideFile == "" {
		return t, nil
	}
	data, err := os.ReadFile(overrideFile)
	if err != nil {
		return nil, fmt.Errorf("read service overrides: %w", err)
	}
	extra, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrConfigInvalid, overrideFile, err)
	}
	for port, name := range extra.names {
		t.names[port] = name
	}
	return t, nil
}

func parse(data []byte) (*Table, error) {
	names := make(map[uint16]string)
	if err := yaml.Unmarshal(data, &names); err != nil {
		return nil, err
	}
	for port, name := range names {
		if name == "" {
			return nil, fmt.Errorf("port %d: empty service name", port)
		}
	}
	return &Table{names: names}, nil
}

// Lookup returns the service name of port.
func (t *Table) Lookup(port uint16) (string, bool) {
	name, ok := t.names[port]
	return name, ok
}

// Len returns the number of named ports.
func (t *Table) Len() int { return len(t.names) }
