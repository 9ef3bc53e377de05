package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/internal/ledger"
	"firestige.xyz/pcapminer/internal/metrics"
	"firestige.xyz/pcapminer/internal/sink"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// AggregatedDir is the subdirectory of the output directory holding
// cross-worker artifacts.
const AggregatedDir = "aggregated"

// maxAggregatedName bounds the source part of an aggregated file name so
// that name, analyzer ID and extension stay under 255 bytes.
const maxAggregatedName = 160

// aggregatedName joins sources with "-". A longer result keeps its head
// and ends in a digest of the whole list, so distinct lists still get
// distinct names.
func aggregatedName(sources []string) string {
	name := strings.Join(sources, "-")
	if len(name) <= maxAggregatedName {
		return name
	}
	digest := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String(), "-", "")[:16]
	n := maxAggregatedName - len(digest) - 1
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n] + "-" + digest
}

// Recorder stores submission history.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Aggregate is the running merge of every accepted submission.
// Snapshots and Available are index-aligned with the roster. Snapshot
// values are never mutated after they are stored, so copies share them.
type Aggregate struct {
	Snapshots   []plugin.Snapshot
	Available   []bool
	Sources     []string
	Submissions int
}

func (a *Aggregate) clone() *Aggregate {
	return &Aggregate{
		Snapshots:   append([]plugin.Snapshot(nil), a.Snapshots...),
		Available:   append([]bool(nil), a.Available...),
		Sources:     append([]string(nil), a.Sources...),
		Submissions: a.Submissions,
	}
}

// Unavailable lists the analyzer IDs whose aggregate was given up.
func (a *Aggregate) Unavailable(roster []string) []string {
	var out []string
	for i, ok := range a.Available {
		if !ok {
			out = append(out, roster[i])
		}
	}
	return out
}

// job is a validated submission waiting for the aggregation goroutine.
type job struct {
	sub       accepted
	remote    string
	submitted time.Time
	done      chan struct{}
}

// accepted is a submission whose snapshots decoded cleanly.
type accepted struct {
	WorkerID  string
	Source    string
	Snapshots []plugin.Snapshot
}

// aggregator owns the aggregate. Only its run goroutine mutates state;
// readers see the copy published after each submission.
type aggregator struct {
	analyzers []plugin.Analyzer
	roster    []string
	outDir    string
	sink      sink.Sink
	recorder  Recorder

	jobs  chan job
	state *Aggregate
	view  atomic.Pointer[Aggregate]
}

func newAggregator(analyzers []plugin.Analyzer, roster []string, outDir string, s sink.Sink, r Recorder, queue int) *aggregator {
	if queue < 1 {
		queue = 1
	}
	a := &aggregator{
		analyzers: analyzers,
		roster:    roster,
		outDir:    outDir,
		sink:      s,
		recorder:  r,
		jobs:      make(chan job, queue),
	}
	a.view.Store(&Aggregate{})
	return a
}

// snapshot returns a copy of the current aggregate.
func (a *aggregator) snapshot() *Aggregate {
	return a.view.Load().clone()
}

// run applies jobs one at a time until quit is closed. No job starts
// after quit is closed.
func (a *aggregator) run(ctx context.Context, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		default:
		}
		select {
		case j := <-a.jobs:
			a.apply(ctx, j)
			close(j.done)
		case <-quit:
			return
		}
	}
}

// apply is the per-submission unit: per-worker artifacts, then seed or
// merge, then aggregated artifacts and the ledger entry.
func (a *aggregator) apply(ctx context.Context, j job) {
	start := time.Now()
	sub := j.sub
	log := slog.With("worker_id", sub.WorkerID, "source", sub.Source)

	a.finalizeAll(ctx, sub.Snapshots, nil, filepath.Join(a.outDir, sub.Source), metrics.ScopeWorker)

	if a.state == nil {
		a.state = &Aggregate{
			Snapshots:   append([]plugin.Snapshot(nil), sub.Snapshots...),
			Available:   make([]bool, len(sub.Snapshots)),
			Sources:     []string{sub.Source},
			Submissions: 1,
		}
		for i := range a.state.Available {
			a.state.Available[i] = true
		}
		log.Info("aggregate seeded")
	} else {
		a.merge(sub)
		prefix := filepath.Join(a.outDir, AggregatedDir, aggregatedName(a.state.Sources))
		a.finalizeAll(ctx, a.state.Snapshots, a.state.Available, prefix, metrics.ScopeAggregate)
		log.Info("aggregate updated",
			"submissions", a.state.Submissions,
			"sources", a.state.Sources,
			"unavailable", a.state.Unavailable(a.roster))
	}
	a.view.Store(a.state.clone())

	elapsed := time.Since(start)
	metrics.AggregationSeconds.Observe(elapsed.Seconds())
	a.record(ctx, ledger.Entry{
		Timestamp:   j.submitted,
		WorkerID:    sub.WorkerID,
		Source:      sub.Source,
		Remote:      j.remote,
		Outcome:     ledger.OutcomeAccepted,
		Unavailable: a.state.Unavailable(a.roster),
		Duration:    elapsed,
	})
}

// merge folds sub into the aggregate index by index. A failed merge marks
// that index unavailable and leaves the others untouched.
func (a *aggregator) merge(sub accepted) {
	st := a.state
	st.Submissions++
	st.Sources = append(st.Sources, sub.Source)
	for i, an := range a.analyzers {
		if !st.Available[i] {
			continue
		}
		merged, err := an.Merge(st.Snapshots[i], sub.Snapshots[i])
		if err != nil {
			reason := "failed"
			if errors.Is(err, core.ErrAggregationUnsupported) {
				reason = "unsupported"
			}
			st.Available[i] = false
			st.Snapshots[i] = nil
			metrics.AggregateUnavailableTotal.WithLabelValues(an.ID(), reason).Inc()
			slog.Warn("aggregate unavailable", "analyzer", an.ID(), "reason", reason, "error", err)
			continue
		}
		st.Snapshots[i] = merged
	}
}

// finalizeAll writes one artifact per available index under prefix.
// A nil available slice means every index.
func (a *aggregator) finalizeAll(ctx context.Context, snaps []plugin.Snapshot, available []bool, prefix, scope string) {
	for i, an := range a.analyzers {
		if available != nil && !available[i] {
			continue
		}
		art, err := an.Finalize(ctx, snaps[i], prefix)
		if err != nil {
			slog.Warn("finalize failed", "analyzer", an.ID(), "scope", scope, "error", err)
			continue
		}
		if err := a.sink.Write(ctx, art); err != nil {
			slog.Warn("artifact write failed", "analyzer", an.ID(), "scope", scope, "error", err)
			continue
		}
		metrics.ArtifactsWrittenTotal.WithLabelValues(scope).Inc()
	}
}

func (a *aggregator) record(ctx context.Context, e ledger.Entry) {
	if a.recorder == nil {
		return
	}
	if err := a.recorder.Record(ctx, e); err != nil {
		slog.Warn("ledger write failed", "source", e.Source, "error", err)
	}
}
