package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultLokiBatchSize     = 100
	defaultLokiFlushInterval = 5 * time.Second
	lokiPushAttempts         = 3
	lokiRetryDelay           = 100 * time.Millisecond
	lokiRequestTimeout       = 10 * time.Second
)

// LokiConfig contains configuration for Loki writer.
type LokiConfig struct {
	Endpoint      string            // Loki push endpoint URL
	Labels        map[string]string // Stream labels
	BatchSize     int               // Number of log entries per batch
	FlushInterval string            // Flush interval (e.g., "5s")
}

// LokiWriter is an io.Writer that ships slog records to Grafana Loki.
// Records are buffered and pushed when the batch fills, on a timer and
// on Close. Each push groups records into one stream per slog level.
type LokiWriter struct {
	endpoint      string
	labels        map[string]string
	batchSize     int
	flushInterval time.Duration
	client        *http.Client

	mu     sync.Mutex // guards batch and closed
	batch  []logEntry
	closed bool

	pushMu sync.Mutex // keeps pushes in order

	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type logEntry struct {
	ts    time.Time
	level string
	line  string
}

type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiWriter creates a Loki writer and starts its flush timer.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	interval := defaultLokiFlushInterval
	if cfg.FlushInterval != "" {
		d, err := time.ParseDuration(cfg.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid flush interval: %w", err)
		}
		interval = d
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = defaultLokiBatchSize
	}

	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "pcapminer"
	}

	lw := &LokiWriter{
		endpoint:      cfg.Endpoint,
		labels:        labels,
		batchSize:     size,
		flushInterval: interval,
		client:        &http.Client{Timeout: lokiRequestTimeout},
		batch:         make([]logEntry, 0, size),
		done:          make(chan struct{}),
	}
	lw.wg.Add(1)
	go lw.tick()
	return lw, nil
}

// Write buffers one record. A failed push never fails the write; the
// lost records are counted by Dropped.
func (lw *LokiWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")

	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return 0, fmt.Errorf("loki writer is closed")
	}
	lw.batch = append(lw.batch, logEntry{ts: time.Now(), level: levelOf(line), line: line})
	var full []logEntry
	if len(lw.batch) >= lw.batchSize {
		full = lw.takeLocked()
	}
	lw.mu.Unlock()

	if full != nil {
		_ = lw.push(full)
	}
	return len(p), nil
}

// Close pushes what is buffered and stops the flush timer.
func (lw *LokiWriter) Close() error {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return nil
	}
	lw.closed = true
	rest := lw.takeLocked()
	lw.mu.Unlock()

	close(lw.done)
	lw.wg.Wait()
	return lw.push(rest)
}

// Dropped returns how many records were discarded after failed pushes.
func (lw *LokiWriter) Dropped() uint64 {
	return lw.dropped.Load()
}

func (lw *LokiWriter) tick() {
	defer lw.wg.Done()
	t := time.NewTicker(lw.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			lw.mu.Lock()
			pending := lw.takeLocked()
			lw.mu.Unlock()
			_ = lw.push(pending)
		case <-lw.done:
			return
		}
	}
}

// takeLocked hands the current batch to the caller. lw.mu must be held.
func (lw *LokiWriter) takeLocked() []logEntry {
	if len(lw.batch) == 0 {
		return nil
	}
	out := lw.batch
	lw.batch = make([]logEntry, 0, lw.batchSize)
	return out
}

// push sends entries, retrying with doubling delays.
func (lw *LokiWriter) push(entries []logEntry) error {
	if len(entries) == 0 {
		return nil
	}
	body, err := json.Marshal(lw.request(entries))
	if err != nil {
		lw.dropped.Add(uint64(len(entries)))
		return fmt.Errorf("failed to marshal loki request: %w", err)
	}

	lw.pushMu.Lock()
	defer lw.pushMu.Unlock()

	delay := lokiRetryDelay
	for attempt := 1; ; attempt++ {
		err = lw.send(body)
		if err == nil {
			return nil
		}
		if attempt == lokiPushAttempts {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	lw.dropped.Add(uint64(len(entries)))
	return fmt.Errorf("loki push failed after %d attempts: %w", lokiPushAttempts, err)
}

// request groups entries into one stream per level, keeping arrival
// order inside each stream. Records without a level share the base
// stream.
func (lw *LokiWriter) request(entries []logEntry) lokiPushRequest {
	byLevel := make(map[string][][]string)
	for _, e := range entries {
		byLevel[e.level] = append(byLevel[e.level],
			[]string{strconv.FormatInt(e.ts.UnixNano(), 10), e.line})
	}
	levels := make([]string, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Strings(levels)

	req := lokiPushRequest{Streams: make([]lokiStream, 0, len(levels))}
	for _, l := range levels {
		stream := lw.labels
		if l != "" {
			stream = make(map[string]string, len(lw.labels)+1)
			for k, v := range lw.labels {
				stream[k] = v
			}
			stream["level"] = l
		}
		req.Streams = append(req.Streams, lokiStream{Stream: stream, Values: byLevel[l]})
	}
	return req
}

func (lw *LokiWriter) send(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), lokiRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lw.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lw.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("loki returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// levelOf extracts the slog level of a JSON or text handler record,
// lowercased. Unknown formats yield "".
func levelOf(line string) string {
	for _, key := range []string{`"level":"`, "level="} {
		i := strings.Index(line, key)
		if i < 0 {
			continue
		}
		rest := line[i+len(key):]
		if end := strings.IndexAny(rest, `" `); end >= 0 {
			rest = rest[:end]
		}
		return strings.ToLower(rest)
	}
	return ""
}
