package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcapminer/internal/analyzer"
	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/internal/ledger"
	"firestige.xyz/pcapminer/internal/protocol"
	"firestige.xyz/pcapminer/internal/sink"
	"firestige.xyz/pcapminer/pkg/plugin"
)

const topSources = "top-5-source-hosts-by-traffic"

type memRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (r *memRecorder) Record(_ context.Context, e ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Outcome + ":" + e.Reason
	}
	return out
}

func startServer(t *testing.T, idle time.Duration) (*Server, string, *memRecorder) {
	t.Helper()
	analyzers, err := analyzer.Build(analyzer.DefaultRoster, analyzer.Deps{})
	require.NoError(t, err)

	out := t.TempDir()
	rec := &memRecorder{}
	srv := New(Config{Listen: "127.0.0.1:0", IdleTimeout: idle, QueueSize: 4, OutputDir: out},
		analyzers, sink.NewFile(), rec)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv, out, rec
}

// submission builds a full-roster submission with empty snapshots except
// for the top sources counter.
func submission(t *testing.T, workerID, source string, sources analyzer.Counts) *protocol.Submission {
	t.Helper()
	analyzers, err := analyzer.Build(analyzer.DefaultRoster, analyzer.Deps{})
	require.NoError(t, err)
	snaps := make([]any, len(analyzers))
	for i, a := range analyzers {
		snaps[i] = a.Snapshot()
		if a.ID() == topSources {
			snaps[i] = sources
		}
	}
	sub, err := protocol.NewSubmission(workerID, source, analyzer.IDs(analyzers), snaps)
	require.NoError(t, err)
	return sub
}

func indexOf(id string) int {
	return slices.Index(analyzer.DefaultRoster, id)
}

func TestTwoWorkersAggregate(t *testing.T) {
	srv, out, rec := startServer(t, 5*time.Second)
	client := protocol.NewClient(srv.Addr(), time.Second)
	ctx := context.Background()

	require.NoError(t, client.Submit(ctx, submission(t, "w1", "cap1", analyzer.Counts{"1.1.1.1": 3})))

	agg := srv.Aggregate()
	assert.Equal(t, 1, agg.Submissions)
	assert.Equal(t, analyzer.Counts{"1.1.1.1": 3}, agg.Snapshots[indexOf(topSources)])
	assert.FileExists(t, filepath.Join(out, "cap1-"+topSources+".json"))
	assert.NoDirExists(t, filepath.Join(out, AggregatedDir), "first submission only seeds")

	require.NoError(t, client.Submit(ctx, submission(t, "w2", "cap2", analyzer.Counts{"1.1.1.1": 2, "2.2.2.2": 5})))

	agg = srv.Aggregate()
	assert.Equal(t, 2, agg.Submissions)
	assert.Equal(t, []string{"cap1", "cap2"}, agg.Sources)
	assert.Equal(t, analyzer.Counts{"1.1.1.1": 5, "2.2.2.2": 5}, agg.Snapshots[indexOf(topSources)])

	assert.FileExists(t, filepath.Join(out, "cap2-"+topSources+".json"))
	assert.FileExists(t, filepath.Join(out, AggregatedDir, "cap1-cap2-"+topSources+".json"))

	// Unsupported statistics drop out of the aggregate; the rest merge.
	assert.ElementsMatch(t, []string{
		"generic-metrics",
		"top-20-services",
		"most-used-vendor-and-type-combinations",
	}, agg.Unavailable(analyzer.DefaultRoster))
	assert.NoFileExists(t, filepath.Join(out, AggregatedDir, "cap1-cap2-generic-metrics.json"))
	assert.FileExists(t, filepath.Join(out, AggregatedDir, "cap1-cap2-udp-tcp-ratio.json"))

	assert.Equal(t, []string{"accepted:", "accepted:"}, rec.outcomes())
}

func TestAggregateIsACopy(t *testing.T) {
	srv, _, _ := startServer(t, 5*time.Second)
	client := protocol.NewClient(srv.Addr(), time.Second)
	require.NoError(t, client.Submit(context.Background(), submission(t, "w1", "cap1", analyzer.Counts{"1.1.1.1": 1})))

	agg := srv.Aggregate()
	agg.Sources[0] = "tampered"
	agg.Available[0] = false
	assert.Equal(t, []string{"cap1"}, srv.Aggregate().Sources)
	assert.True(t, srv.Aggregate().Available[0])
}

func TestSilentWorkerTimesOut(t *testing.T) {
	srv, _, rec := startServer(t, 300*time.Millisecond)

	silent, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer silent.Close()
	codec := protocol.NewCodec(silent)
	ack, err := codec.Read()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAck, ack.Type)

	client := protocol.NewClient(srv.Addr(), time.Second)
	require.NoError(t, client.Submit(context.Background(), submission(t, "w2", "cap2", analyzer.Counts{"2.2.2.2": 1})))
	assert.Equal(t, 1, srv.Aggregate().Submissions)

	_ = silent.SetReadDeadline(time.Now().Add(3 * time.Second))
	msg, err := codec.Read()
	require.NoError(t, err)
	assert.Equal(t, protocol.Message{Type: protocol.TypeAbort, Reason: "idle timeout"}, msg)
	_, err = codec.Read()
	assert.ErrorIs(t, err, io.EOF, "coordinator hangs up on the silent worker")

	assert.Eventually(t, func() bool {
		return slices.Contains(rec.outcomes(), "lost:timeout")
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, srv.Aggregate().Submissions)
}

func TestRejectedSubmissionsLeaveAggregateUntouched(t *testing.T) {
	valid := func(t *testing.T) *protocol.Submission {
		return submission(t, "w", "cap", analyzer.Counts{"1.1.1.1": 1})
	}
	tests := []struct {
		name   string
		mutate func(*protocol.Submission)
		want   error
	}{
		{"roster mismatch", func(s *protocol.Submission) {
			s.Roster = slices.Clone(s.Roster)
			s.Roster[0], s.Roster[1] = s.Roster[1], s.Roster[0]
		}, core.ErrRosterMismatch},
		{"short roster", func(s *protocol.Submission) {
			s.Roster = s.Roster[:3]
			s.Snapshots = s.Snapshots[:3]
		}, core.ErrRosterMismatch},
		{"bad snapshot", func(s *protocol.Submission) {
			s.Snapshots[indexOf("udp-tcp-ratio")] = json.RawMessage(`[1,2]`)
		}, core.ErrMalformedSubmission},
		{"path in source", func(s *protocol.Submission) {
			s.Source = "../escape"
		}, core.ErrMalformedSubmission},
		{"count mismatch", func(s *protocol.Submission) {
			s.Snapshots = s.Snapshots[:len(s.Snapshots)-1]
		}, core.ErrMalformedSubmission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, out, rec := startServer(t, 5*time.Second)
			sub := valid(t)
			tt.mutate(sub)

			err := protocol.NewClient(srv.Addr(), time.Second).Submit(context.Background(), sub)
			require.ErrorIs(t, err, core.ErrSubmissionRejected)
			assert.Contains(t, err.Error(), tt.want.Error())

			assert.Equal(t, 0, srv.Aggregate().Submissions)
			assert.NoFileExists(t, filepath.Join(out, "cap-"+topSources+".json"))
			outcomes := rec.outcomes()
			require.Len(t, outcomes, 1)
			assert.Contains(t, outcomes[0], "rejected:")
		})
	}
}

func TestGarbageLineIsRejected(t *testing.T) {
	srv, _, rec := startServer(t, 5*time.Second)
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	codec := protocol.NewCodec(conn)
	_, err = codec.Read()
	require.NoError(t, err)
	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)

	msg, err := codec.Read()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeReject, msg.Type)
	_, err = codec.Read()
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return len(rec.outcomes()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestServerLifecycle(t *testing.T) {
	srv := New(Config{Listen: "127.0.0.1:0"}, []plugin.Analyzer{analyzer.NewIPVersion()}, sink.NewFile(), nil)
	assert.Empty(t, srv.Addr())
	assert.Equal(t, []string{"IP-version"}, srv.Roster())

	require.NoError(t, srv.Start(context.Background()))
	assert.NotEmpty(t, srv.Addr())
	assert.ErrorIs(t, srv.Start(context.Background()), core.ErrSessionState)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

func TestStopBeforeStart(t *testing.T) {
	srv := New(Config{Listen: "127.0.0.1:0"}, nil, sink.NewFile(), nil)
	assert.NoError(t, srv.Stop())
}

func TestConcurrentSubmissionsFoldOneAtATime(t *testing.T) {
	srv, _, rec := startServer(t, 5*time.Second)
	const workers = 20

	subs := make([]*protocol.Submission, workers)
	sources := make([]string, workers)
	for i := range subs {
		sources[i] = fmt.Sprintf("cap%02d", i)
		subs[i] = submission(t, fmt.Sprintf("w%02d", i), sources[i], analyzer.Counts{"1.1.1.1": 1})
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- protocol.NewClient(srv.Addr(), 5*time.Second).Submit(context.Background(), sub)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	agg := srv.Aggregate()
	assert.Equal(t, workers, agg.Submissions)
	assert.ElementsMatch(t, sources, agg.Sources)
	assert.Equal(t, analyzer.Counts{"1.1.1.1": workers}, agg.Snapshots[indexOf(topSources)])
	assert.Len(t, rec.outcomes(), workers)
	for _, o := range rec.outcomes() {
		assert.Equal(t, "accepted:", o)
	}
}

func TestHeartbeatsKeepSlowWorkerAlive(t *testing.T) {
	srv, _, rec := startServer(t, 300*time.Millisecond)

	conn, err := protocol.NewClient(srv.Addr(), time.Second).Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	for frames := uint64(1); frames <= 8; frames++ {
		time.Sleep(100 * time.Millisecond)
		require.NoError(t, conn.Heartbeat("w-slow", "slow", frames*1000))
	}
	require.NoError(t, conn.Submit(context.Background(), submission(t, "w-slow", "slow", analyzer.Counts{"3.3.3.3": 1})))

	assert.Equal(t, 1, srv.Aggregate().Submissions)
	assert.Equal(t, []string{"accepted:"}, rec.outcomes())
}

func TestStalledWorkerIsRecordedByIdentity(t *testing.T) {
	srv, _, rec := startServer(t, 300*time.Millisecond)

	conn, err := protocol.NewClient(srv.Addr(), time.Second).Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Heartbeat("w-stuck", "stuck", 10))

	require.Eventually(t, func() bool { return len(rec.outcomes()) == 1 }, 3*time.Second, 20*time.Millisecond)
	rec.mu.Lock()
	e := rec.entries[0]
	rec.mu.Unlock()
	assert.Equal(t, ledger.OutcomeLost, e.Outcome)
	assert.Equal(t, "timeout", e.Reason)
	assert.Equal(t, "w-stuck", e.WorkerID)
	assert.Equal(t, "stuck", e.Source)

	err = conn.Submit(context.Background(), submission(t, "w-stuck", "stuck", analyzer.Counts{}))
	assert.ErrorIs(t, err, core.ErrSubmissionLost)
}

// gatedSink blocks its first write until release is closed.
type gatedSink struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSink) Name() string { return "gated" }
func (g *gatedSink) Write(context.Context, *plugin.Artifact) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return nil
}
func (g *gatedSink) Close() error { return nil }

func TestStopAbortsQueuedSubmission(t *testing.T) {
	analyzers, err := analyzer.Build(analyzer.DefaultRoster, analyzer.Deps{})
	require.NoError(t, err)
	gate := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	rec := &memRecorder{}
	srv := New(Config{Listen: "127.0.0.1:0", IdleTimeout: 5 * time.Second, QueueSize: 4, OutputDir: t.TempDir()},
		analyzers, gate, rec)
	require.NoError(t, srv.Start(context.Background()))

	first := submission(t, "w1", "cap1", analyzer.Counts{"1.1.1.1": 1})
	second := submission(t, "w2", "cap2", analyzer.Counts{"2.2.2.2": 1})
	client := protocol.NewClient(srv.Addr(), time.Second)

	firstErr := make(chan error, 1)
	go func() { firstErr <- client.Submit(context.Background(), first) }()
	select {
	case <-gate.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("first submission never reached the sink")
	}

	secondErr := make(chan error, 1)
	go func() { secondErr <- client.Submit(context.Background(), second) }()
	require.Eventually(t, func() bool { return len(srv.agg.jobs) == 1 }, 3*time.Second, 10*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- srv.Stop() }()
	require.Eventually(t, func() bool {
		select {
		case <-srv.quit:
			return true
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	close(gate.release)

	require.NoError(t, <-stopped)
	assert.NoError(t, <-firstErr, "the submission being applied completes")
	assert.ErrorIs(t, <-secondErr, core.ErrSubmissionLost)
	assert.ElementsMatch(t, []string{"accepted:", "lost:shutdown"}, rec.outcomes())
	assert.Equal(t, 1, srv.Aggregate().Submissions)
}

func TestAggregatedNameIsBounded(t *testing.T) {
	assert.Equal(t, "cap1-cap2", aggregatedName([]string{"cap1", "cap2"}))

	many := make([]string, 60)
	for i := range many {
		many[i] = fmt.Sprintf("capture-%03d", i)
	}
	name := aggregatedName(many)
	assert.LessOrEqual(t, len(name), maxAggregatedName)
	assert.True(t, strings.HasPrefix(name, "capture-000-capture-001-"))
	assert.Equal(t, name, aggregatedName(many), "same sources, same name")
	assert.NotEqual(t, name, aggregatedName(append(slices.Clone(many), "one-more")))

	wide := strings.Repeat("é", 100)
	assert.True(t, utf8.ValidString(aggregatedName([]string{wide, wide})))
}
