// Package plugin defines the analyzer plugin contract and its registry.
package plugin

// Plugin is the base interface for all plugins.
type Plugin interface {
	// Name returns the human readable name.
	Name() string
	// Init applies plugin-specific options. A nil map selects defaults.
	Init(cfg map[string]any) error
}
