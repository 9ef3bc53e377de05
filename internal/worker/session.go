// Package worker runs one capture through the analyzer roster and hands
// the resulting snapshots to the coordinator.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/pcapminer/internal/analyzer"
	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/internal/metrics"
	"firestige.xyz/pcapminer/internal/protocol"
	"firestige.xyz/pcapminer/internal/sink"
	"firestige.xyz/pcapminer/internal/source/file"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// State is a stage of the session lifecycle.
type State string

const (
	StateCreated      State = "created"
	StateSetup        State = "setup"
	StateDecoding     State = "decoding"
	StateSnapshotting State = "snapshotting"
	StateSubmitted    State = "submitted"
	StateFinalizing   State = "finalizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// DefaultHeartbeatInterval paces progress heartbeats while decoding.
const DefaultHeartbeatInterval = 5 * time.Second

// Coordinator opens an acknowledged session with the coordinator.
type Coordinator interface {
	Connect(ctx context.Context) (Uplink, error)
}

// Uplink is an acknowledged session carrying one submission.
type Uplink interface {
	Heartbeat(workerID, source string, frames uint64) error
	Submit(ctx context.Context, sub *protocol.Submission) error
	Close() error
}

// Remote connects through a protocol client.
func Remote(c *protocol.Client) Coordinator {
	return remote{c}
}

type remote struct{ c *protocol.Client }

func (r remote) Connect(ctx context.Context) (Uplink, error) {
	conn, err := r.c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config assembles a session.
type Config struct {
	// ID identifies the worker. Empty selects a random UUID.
	ID        string
	Roster    []string
	Deps      analyzer.Deps
	ParseHTTP bool

	// Coordinator receives the submission. The session connects before
	// decoding starts.
	Coordinator Coordinator
	// HeartbeatInterval paces heartbeats. A heartbeat is only sent when
	// frames were read since the previous one, so a stalled capture goes
	// silent and the coordinator times the session out.
	HeartbeatInterval time.Duration

	// FinalizeLocal writes this capture's artifacts under OutDir through
	// Sink after the submission.
	FinalizeLocal bool
	OutDir        string
	Sink          sink.Sink
}

// Result describes a finished session.
type Result struct {
	WorkerID  string
	Source    string
	Stats     file.Stats
	Submitted bool
	Artifacts []string
	Duration  time.Duration
}

// Session drives one capture from setup to submission. A session runs
// once.
type Session struct {
	cfg Config
	id  string

	mu            sync.RWMutex
	state         State
	failureReason string
}

// New creates a session in the created state.
func New(cfg Config) *Session {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	if len(cfg.Roster) == 0 {
		cfg.Roster = analyzer.DefaultRoster
	}
	return &Session{cfg: cfg, id: id, state: StateCreated}
}

// ID returns the worker ID.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// FailureReason returns why the session failed, if it did.
func (s *Session) FailureReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failureReason
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	slog.Debug("worker state changed", "worker_id", s.id, "state", st)
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.state = StateFailed
	s.failureReason = err.Error()
	s.mu.Unlock()
	slog.Error("worker session failed", "worker_id", s.id, "error", err)
	return err
}

// SourceName derives the source identity of a capture path: the file
// name without its extension.
func SourceName(path string) string {
	base := filepath.Base(path)
	if name := strings.TrimSuffix(base, filepath.Ext(base)); name != "" {
		return name
	}
	return base
}

// Run processes the capture at path. The coordinator session is opened
// during setup, before decoding. Setup and decode failures abort the
// session before anything is submitted. A lost submission is returned as
// an error after the optional local finalize; without local finalize a
// failed connect aborts the session.
func (s *Session) Run(ctx context.Context, path string) (*Result, error) {
	s.mu.Lock()
	if s.state != StateCreated {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot run session in state %s", core.ErrSessionState, st)
	}
	s.mu.Unlock()

	start := time.Now()
	res := &Result{WorkerID: s.id, Source: SourceName(path)}

	s.setState(StateSetup)
	analyzers, err := analyzer.Build(s.cfg.Roster, s.cfg.Deps)
	if err != nil {
		return nil, s.fail(fmt.Errorf("build roster: %w", err))
	}
	if s.cfg.Coordinator == nil && !s.cfg.FinalizeLocal {
		return nil, s.fail(fmt.Errorf("%w: no coordinator and local finalize disabled", core.ErrConfigInvalid))
	}
	if s.cfg.FinalizeLocal && s.cfg.Sink == nil {
		return nil, s.fail(fmt.Errorf("%w: local finalize needs a sink", core.ErrConfigInvalid))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, s.fail(fmt.Errorf("%w: %v", core.ErrSourceOpen, err))
	}
	src := file.New(file.Config{ParseHTTP: s.cfg.ParseHTTP})
	for _, a := range analyzers {
		a.Setup(src.For(a.ID()))
	}

	var up Uplink
	var submitErr error
	if s.cfg.Coordinator != nil {
		up, submitErr = s.cfg.Coordinator.Connect(ctx)
		if submitErr != nil {
			s.lost(res.Source, submitErr)
			if !s.cfg.FinalizeLocal {
				return nil, s.fail(submitErr)
			}
		} else {
			defer up.Close()
			slog.Info("coordinator acknowledged", "worker_id", s.id, "source", res.Source)
		}
	}

	s.setState(StateDecoding)
	slog.Info("decoding started", "worker_id", s.id, "path", path, "analyzers", len(analyzers))
	stopBeat := s.heartbeat(ctx, up, src, res.Source)
	err = src.Start(ctx, path)
	stopBeat()
	if err != nil {
		return nil, s.fail(fmt.Errorf("decode %s: %w", path, err))
	}
	res.Stats = src.Stats()
	slog.Info("decoding finished", "worker_id", s.id,
		"frames", res.Stats.Frames, "decode_errors", res.Stats.DecodeErrors,
		"duration", time.Since(start))

	s.setState(StateSnapshotting)
	snapshots := make([]any, len(analyzers))
	for i, a := range analyzers {
		snapshots[i] = a.Snapshot()
	}

	if up != nil {
		sub, err := protocol.NewSubmission(s.id, res.Source, analyzer.IDs(analyzers), snapshots)
		if err != nil {
			return nil, s.fail(err)
		}
		submitErr = up.Submit(ctx, sub)
		if submitErr != nil {
			s.lost(res.Source, submitErr)
		} else {
			res.Submitted = true
			slog.Info("submission delivered", "worker_id", s.id, "source", res.Source)
		}
	}
	s.setState(StateSubmitted)

	if s.cfg.FinalizeLocal {
		s.setState(StateFinalizing)
		res.Artifacts = s.finalizeLocal(ctx, analyzers, snapshots, res.Source)
	}

	res.Duration = time.Since(start)
	s.setState(StateDone)
	return res, submitErr
}

// heartbeat reports progress on up until the returned stop is called.
// Ticks without new frames send nothing.
func (s *Session) heartbeat(ctx context.Context, up Uplink, src *file.Source, source string) (stop func()) {
	if up == nil {
		return func() {}
	}
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			frames := src.Progress()
			if frames == last {
				continue
			}
			last = frames
			if err := up.Heartbeat(s.id, source, frames); err != nil {
				slog.Warn("heartbeat failed", "worker_id", s.id, "error", err)
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Session) lost(source string, err error) {
	metrics.SubmissionsLostTotal.WithLabelValues("worker", lossReason(err)).Inc()
	slog.Error("submission lost", "worker_id", s.id, "source", source, "error", err)
}

// finalizeLocal writes one artifact per analyzer. Failures are logged and
// skip only the affected analyzer.
func (s *Session) finalizeLocal(ctx context.Context, analyzers []plugin.Analyzer, snapshots []any, source string) []string {
	prefix := filepath.Join(s.cfg.OutDir, source)
	var written []string
	for i, a := range analyzers {
		art, err := a.Finalize(ctx, snapshots[i], prefix)
		if err != nil {
			slog.Warn("local finalize failed", "analyzer", a.ID(), "error", err)
			continue
		}
		if err := s.cfg.Sink.Write(ctx, art); err != nil {
			slog.Warn("local artifact write failed", "analyzer", a.ID(), "error", err)
			continue
		}
		metrics.ArtifactsWrittenTotal.WithLabelValues(metrics.ScopeLocal).Inc()
		written = append(written, art.Summary.FileName)
	}
	return written
}

func lossReason(err error) string {
	switch {
	case errors.Is(err, core.ErrSubmissionRejected):
		return "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "transport"
	}
}
