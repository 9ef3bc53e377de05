package plugin

import (
	"context"

	"firestige.xyz/pcapminer/internal/core"
)

// Snapshot is an analyzer-specific, JSON-serializable summary of analyzer
// state. A snapshot never shares memory with live state.
type Snapshot any

// Analyzer is a pluggable accumulator over decode events.
//
// Setup, handlers and Snapshot touch live state and run on the worker.
// DecodeSnapshot, Merge and Finalize are pure functions of their
// arguments; the coordinator calls them on a fresh instance.
type Analyzer interface {
	Plugin

	// ID returns the stable slug used in file names and roster matching.
	ID() string

	// Setup subscribes handlers. It must not block.
	Setup(src EventSource)

	// Snapshot derives a snapshot of the current state.
	Snapshot() Snapshot

	// DecodeSnapshot parses a wire snapshot and validates its shape.
	DecodeSnapshot(data []byte) (Snapshot, error)

	// Merge combines two snapshots of this analyzer. It returns
	// core.ErrAggregationUnsupported when the statistic cannot be merged.
	Merge(a, b Snapshot) (Snapshot, error)

	// Finalize turns a snapshot into an artifact stored under prefix.
	// Enrichment failures degrade labels; they do not fail the call.
	Finalize(ctx context.Context, s Snapshot, prefix string) (*Artifact, error)
}

// Resolver batch-resolves IP addresses to registry origins. Partial
// results are valid: identities missing from the map were not resolved.
type Resolver interface {
	Resolve(ctx context.Context, ids []string) (map[string]core.Origin, error)
}

// ResolverAware is an optional interface for analyzers that enrich labels
// through a Resolver.
type ResolverAware interface {
	SetResolver(r Resolver)
}

// ServiceLookup names the well-known service of a port.
type ServiceLookup interface {
	Lookup(port uint16) (string, bool)
}

// ServiceAware is an optional interface for analyzers that label ports.
type ServiceAware interface {
	SetServices(s ServiceLookup)
}
