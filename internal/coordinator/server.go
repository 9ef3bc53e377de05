// Package coordinator accepts worker submissions over TCP and folds them
// into a cross-worker aggregate.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/internal/ledger"
	"firestige.xyz/pcapminer/internal/metrics"
	"firestige.xyz/pcapminer/internal/protocol"
	"firestige.xyz/pcapminer/internal/sink"
	"firestige.xyz/pcapminer/pkg/plugin"
)

const (
	defaultIdleTimeout = 60 * time.Second
	abortWriteTimeout  = time.Second
)

// Config configures a Server.
type Config struct {
	Listen      string
	IdleTimeout time.Duration
	QueueSize   int
	OutputDir   string
}

// Server runs one session per worker connection.
type Server struct {
	cfg      Config
	roster   []string
	analyzer []plugin.Analyzer
	agg      *aggregator
	recorder Recorder

	listener net.Listener
	quit     chan struct{}
	aggDone  chan struct{}

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a server. analyzers fixes the roster every submission must
// match; they are used only through their pure operations. recorder may
// be nil.
func New(cfg Config, analyzers []plugin.Analyzer, s sink.Sink, recorder Recorder) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	roster := make([]string, len(analyzers))
	for i, a := range analyzers {
		roster[i] = a.ID()
	}
	return &Server{
		cfg:      cfg,
		roster:   roster,
		analyzer: analyzers,
		agg:      newAggregator(analyzers, roster, cfg.OutputDir, s, recorder, cfg.QueueSize),
		recorder: recorder,
		quit:     make(chan struct{}),
		aggDone:  make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("coordinator already started: %w", core.ErrSessionState)
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = ln
	s.started = true

	go func() {
		defer close(s.aggDone)
		s.agg.run(ctx, s.quit)
	}()
	go s.acceptLoop(ctx)

	slog.Info("coordinator listening",
		"addr", ln.Addr().String(),
		"idle_timeout", s.cfg.IdleTimeout,
		"roster", len(s.roster))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Aggregate returns a copy of the current aggregate.
func (s *Server) Aggregate() *Aggregate {
	return s.agg.snapshot()
}

// Roster returns the analyzer IDs submissions must carry.
func (s *Server) Roster() []string {
	return append([]string(nil), s.roster...)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("failed to accept connection", "error", err)
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection serves exactly one submission.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	remote := conn.RemoteAddr().String()
	log := slog.With("remote", remote)
	log.Debug("worker connected")

	codec := protocol.NewCodec(conn)
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.IdleTimeout))
	if err := codec.Write(protocol.Message{Type: protocol.TypeAck}); err != nil {
		s.lost(ctx, remote, "", "", "ack", err)
		return
	}

	// Heartbeats extend the idle deadline until the submission arrives.
	var msg protocol.Message
	var workerID, source string
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		m, err := codec.Read()
		if err != nil {
			if errors.Is(err, core.ErrMalformedSubmission) {
				s.reject(ctx, codec, remote, workerID, source, err)
				return
			}
			reason := s.lostReason(err)
			if reason == "timeout" {
				abort(conn, codec, "idle timeout")
			}
			s.lost(ctx, remote, workerID, source, reason, err)
			return
		}
		if m.Type != protocol.TypeHeartbeat {
			msg = m
			break
		}
		workerID, source = m.WorkerID, m.Source
		log.Debug("worker heartbeat", "worker_id", m.WorkerID, "source", m.Source, "frames", m.Frames)
	}
	_ = conn.SetReadDeadline(time.Time{})

	// From here on the session answers for itself; Stop no longer closes
	// the connection under it.
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	sub, err := msg.Submission()
	if err != nil {
		s.reject(ctx, codec, remote, msg.WorkerID, msg.Source, err)
		return
	}
	snaps, err := s.validate(sub)
	if err != nil {
		s.reject(ctx, codec, remote, sub.WorkerID, sub.Source, err)
		return
	}

	j := job{
		sub:       accepted{WorkerID: sub.WorkerID, Source: sub.Source, Snapshots: snaps},
		remote:    remote,
		submitted: time.Now(),
		done:      make(chan struct{}),
	}
	select {
	case s.agg.jobs <- j:
	case <-s.quit:
		abort(conn, codec, "coordinator shutting down")
		s.lost(ctx, remote, sub.WorkerID, sub.Source, "shutdown", errors.New("coordinator stopping"))
		return
	}
	select {
	case <-j.done:
	case <-s.quit:
		// The aggregator finishes the job it is applying before it exits;
		// anything still queued is never applied.
		<-s.aggDone
		select {
		case <-j.done:
		default:
			abort(conn, codec, "coordinator shutting down")
			s.lost(ctx, remote, sub.WorkerID, sub.Source, "shutdown", errors.New("coordinator stopped before aggregation"))
			return
		}
	}

	metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()
	log.Info("submission aggregated", "worker_id", sub.WorkerID, "source", sub.Source)
}

// validate checks roster, source identity and snapshot shapes. Nothing
// here touches the aggregate.
func (s *Server) validate(sub *protocol.Submission) ([]plugin.Snapshot, error) {
	if !slices.Equal(sub.Roster, s.roster) {
		return nil, fmt.Errorf("%w: got %v", core.ErrRosterMismatch, sub.Roster)
	}
	if !validSource(sub.Source) {
		return nil, fmt.Errorf("%w: source %q is not a plain file name", core.ErrMalformedSubmission, sub.Source)
	}
	snaps := make([]plugin.Snapshot, len(sub.Snapshots))
	for i, raw := range sub.Snapshots {
		snap, err := s.analyzer[i].DecodeSnapshot(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrMalformedSubmission, s.roster[i], err)
		}
		snaps[i] = snap
	}
	return snaps, nil
}

func validSource(src string) bool {
	return src != "" && src != "." && src != ".." && filepath.Base(src) == src
}

func (s *Server) reject(ctx context.Context, codec *protocol.Codec, remote, workerID, source string, err error) {
	metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
	slog.Warn("submission rejected", "remote", remote, "worker_id", workerID, "source", source, "error", err)
	_ = codec.Write(protocol.Message{Type: protocol.TypeReject, Reason: err.Error()})
	s.record(ctx, ledger.Entry{
		WorkerID: workerID,
		Source:   source,
		Remote:   remote,
		Outcome:  ledger.OutcomeRejected,
		Reason:   err.Error(),
	})
}

func (s *Server) lost(ctx context.Context, remote, workerID, source, reason string, err error) {
	metrics.SubmissionsLostTotal.WithLabelValues("coordinator", reason).Inc()
	slog.Warn("worker dropped", "remote", remote, "reason", reason, "error", err)
	s.record(ctx, ledger.Entry{
		WorkerID: workerID,
		Source:   source,
		Remote:   remote,
		Outcome:  ledger.OutcomeLost,
		Reason:   reason,
	})
}

func (s *Server) record(ctx context.Context, e ledger.Entry) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, e); err != nil {
		slog.Warn("ledger write failed", "error", err)
	}
}

// abort tells the worker its submission will not be aggregated. The
// connection is closed by the caller.
func abort(conn net.Conn, codec *protocol.Codec, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(abortWriteTimeout))
	_ = codec.Write(protocol.Message{Type: protocol.TypeAbort, Reason: reason})
}

func (s *Server) lostReason(err error) string {
	select {
	case <-s.quit:
		return "shutdown"
	default:
	}
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, io.EOF):
		return "disconnect"
	default:
		return "transport"
	}
}

// Stop closes the listener and every session still waiting for its
// submission, then stops aggregation. A submission being applied when Stop
// is called completes first; queued ones are aborted and recorded as lost.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	close(s.quit)

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if started {
		<-s.aggDone
	}

	slog.Info("coordinator stopped")
	return nil
}
