// Package protocol implements the worker to coordinator wire protocol:
// newline-delimited JSON messages over TCP.
//
// A session is one connection, opened before the worker starts decoding.
// The coordinator sends an ack. While decoding, the worker sends a
// heartbeat whenever it has read more frames since the last one, then a
// single submit-interim. The coordinator closes the connection once the
// submission has been aggregated. A rejected submission gets a reject
// message before the close; a worker that stayed silent past the idle
// timeout gets an abort.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"firestige.xyz/pcapminer/internal/core"
)

// Message types.
const (
	TypeAck           = "ack"
	TypeSubmitInterim = "submit-interim"
	TypeHeartbeat     = "heartbeat"
	TypeReject        = "reject"
	TypeAbort         = "abort"
)

// MaxMessageSize bounds one line on the wire. Source-host snapshots grow
// with the number of distinct addresses in a capture.
const MaxMessageSize = 64 << 20

// Message is the envelope of every frame. Fields beyond Type are set
// according to the message type.
type Message struct {
	Type string `json:"type"`

	// submit-interim, heartbeat
	WorkerID  string            `json:"workerId,omitempty"`
	Source    string            `json:"source,omitempty"`
	Roster    []string          `json:"roster,omitempty"`
	Snapshots []json.RawMessage `json:"snapshots,omitempty"`

	// heartbeat
	Frames uint64 `json:"frames,omitempty"`

	// reject, abort
	Reason string `json:"reason,omitempty"`
}

// Submission is the payload of a submit-interim message. Snapshots are
// index-aligned with Roster.
type Submission struct {
	WorkerID  string
	Source    string
	Roster    []string
	Snapshots []json.RawMessage
}

// NewSubmission marshals snapshots into a submission.
func NewSubmission(workerID, source string, roster []string, snapshots []any) (*Submission, error) {
	if len(roster) != len(snapshots) {
		return nil, fmt.Errorf("%w: %d roster entries, %d snapshots",
			core.ErrMalformedSubmission, len(roster), len(snapshots))
	}
	raw := make([]json.RawMessage, len(snapshots))
	for i, s := range snapshots {
		data, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot %s: %w", roster[i], err)
		}
		raw[i] = data
	}
	return &Submission{
		WorkerID:  workerID,
		Source:    source,
		Roster:    append([]string(nil), roster...),
		Snapshots: raw,
	}, nil
}

// Message wraps the submission for the wire.
func (s *Submission) Message() Message {
	return Message{
		Type:      TypeSubmitInterim,
		WorkerID:  s.WorkerID,
		Source:    s.Source,
		Roster:    s.Roster,
		Snapshots: s.Snapshots,
	}
}

// Submission extracts a submission from a submit-interim message.
func (m Message) Submission() (*Submission, error) {
	if m.Type != TypeSubmitInterim {
		return nil, fmt.Errorf("%w: unexpected message type %q", core.ErrMalformedSubmission, m.Type)
	}
	if m.Source == "" {
		return nil, fmt.Errorf("%w: missing source", core.ErrMalformedSubmission)
	}
	if len(m.Roster) != len(m.Snapshots) {
		return nil, fmt.Errorf("%w: %d roster entries, %d snapshots",
			core.ErrMalformedSubmission, len(m.Roster), len(m.Snapshots))
	}
	return &Submission{
		WorkerID:  m.WorkerID,
		Source:    m.Source,
		Roster:    m.Roster,
		Snapshots: m.Snapshots,
	}, nil
}

// Codec reads and writes messages on one stream. It is not safe for
// concurrent use.
type Codec struct {
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// NewCodec creates a codec over rw.
func NewCodec(rw io.ReadWriter) *Codec {
	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 64<<10), MaxMessageSize)
	return &Codec{scanner: scanner, encoder: json.NewEncoder(rw)}
}

// Write sends one message followed by a newline.
func (c *Codec) Write(m Message) error {
	if err := c.encoder.Encode(m); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}

// Read receives one message. It returns io.EOF when the peer closed the
// stream cleanly between messages.
func (c *Codec) Read() (Message, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Message{}, err
		}
		return Message{}, io.EOF
	}
	var m Message
	if err := json.Unmarshal(c.scanner.Bytes(), &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", core.ErrMalformedSubmission, err)
	}
	return m, nil
}
