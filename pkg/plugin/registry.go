package plugin

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/pcapminer/internal/core"
)

// AnalyzerFactory creates a fresh, uninitialized analyzer.
type AnalyzerFactory func() Analyzer

// registry is a name → factory map safe for concurrent use.
type registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
}

func newRegistry[F any]() *registry[F] {
	return &registry[F]{factories: make(map[string]F)}
}

// register panics on duplicates; registration happens from init and a
// collision is a programming error.
func (r *registry[F]) register(name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("plugin %q already registered", name))
	}
	r.factories[name] = f
}

func (r *registry[F]) get(name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%q: %w", name, core.ErrAnalyzerNotFound)
	}
	return f, nil
}

func (r *registry[F]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reset clears all registrations. Intended for tests.
func (r *registry[F]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]F)
}

var analyzerReg = newRegistry[AnalyzerFactory]()

// RegisterAnalyzer registers an analyzer factory under its ID.
func RegisterAnalyzer(id string, f AnalyzerFactory) {
	analyzerReg.register(id, f)
}

// GetAnalyzerFactory returns the factory registered under id.
func GetAnalyzerFactory(id string) (AnalyzerFactory, error) {
	return analyzerReg.get(id)
}

// AnalyzerIDs lists registered analyzer IDs in lexical order.
func AnalyzerIDs() []string {
	return analyzerReg.names()
}

// ResetAnalyzers clears the analyzer registry. Intended for tests.
func ResetAnalyzers() {
	analyzerReg.Reset()
}
