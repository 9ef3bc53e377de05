// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared across packages. Match with errors.Is.
var (
	// Analyzer errors
	ErrAggregationUnsupported = errors.New("pcapminer: aggregation unsupported")
	ErrAnalyzerNotFound       = errors.New("pcapminer: analyzer not found")
	ErrSnapshotShape          = errors.New("pcapminer: snapshot shape mismatch")

	// Submission errors
	ErrRosterMismatch      = errors.New("pcapminer: roster mismatch")
	ErrMalformedSubmission = errors.New("pcapminer: malformed submission")
	ErrSubmissionLost      = errors.New("pcapminer: submission lost")
	ErrSubmissionRejected  = errors.New("pcapminer: submission rejected")

	// Worker session errors
	ErrSessionState = errors.New("pcapminer: invalid session state")
	ErrSourceOpen   = errors.New("pcapminer: cannot open event source")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("pcapminer: packet too short")
	ErrUnsupportedProto = errors.New("pcapminer: unsupported protocol")

	// Configuration errors
	ErrConfigInvalid = errors.New("pcapminer: invalid configuration")
)
