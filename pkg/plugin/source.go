package plugin

import (
	"context"

	"firestige.xyz/pcapminer/internal/core"
)

// Result is the outcome of delivering one event to a handler.
type Result uint8

const (
	// Applied means the event updated analyzer state.
	Applied Result = iota
	// Skipped means the event was malformed or irrelevant and left state untouched.
	Skipped
)

// Handler consumes one event. Handlers run synchronously in emission
// order on the decoding goroutine; they must be cheap and must not panic.
type Handler func(ev core.Event) Result

// EventSource is what an analyzer sees during Setup.
type EventSource interface {
	On(kind core.EventKind, h Handler)
}

// Runner drives a capture to completion. Start blocks until the
// EventComplete event has been delivered or the capture fails.
type Runner interface {
	Start(ctx context.Context, path string) error
}
