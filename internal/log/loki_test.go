package log

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lokiRecorder is a fake Loki push endpoint.
type lokiRecorder struct {
	mu       sync.Mutex
	requests []lokiPushRequest
	status   atomic.Int32
}

func newLokiRecorder(t *testing.T) (*lokiRecorder, *httptest.Server) {
	t.Helper()
	rec := &lokiRecorder{}
	rec.status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req lokiPushRequest
		if err := json.Unmarshal(body, &req); err == nil {
			rec.mu.Lock()
			rec.requests = append(rec.requests, req)
			rec.mu.Unlock()
		}
		w.WriteHeader(int(rec.status.Load()))
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func (r *lokiRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func TestNewLokiWriterDefaults(t *testing.T) {
	labels := map[string]string{"service": "coordinator"}
	lw, err := NewLokiWriter(LokiConfig{Endpoint: "http://127.0.0.1:1/push", Labels: labels})
	require.NoError(t, err)
	defer lw.Close()

	assert.Equal(t, 100, lw.batchSize)
	assert.Equal(t, 5*time.Second, lw.flushInterval)
	assert.Equal(t, "pcapminer", lw.labels["job"])
	assert.Equal(t, "coordinator", lw.labels["service"])
	_, mutated := labels["job"]
	assert.False(t, mutated, "caller labels must not be modified")
}

func TestNewLokiWriterInvalidFlushInterval(t *testing.T) {
	_, err := NewLokiWriter(LokiConfig{Endpoint: "http://127.0.0.1:1/push", FlushInterval: "soon"})
	assert.Error(t, err)
}

func TestLokiWriterBatchFlush(t *testing.T) {
	rec, srv := newLokiRecorder(t)
	lw, err := NewLokiWriter(LokiConfig{Endpoint: srv.URL, BatchSize: 3, FlushInterval: "1h"})
	require.NoError(t, err)
	defer lw.Close()

	for i := 0; i < 3; i++ {
		_, err := lw.Write([]byte(fmt.Sprintf("line %d\n", i)))
		require.NoError(t, err)
	}

	require.Equal(t, 1, rec.count())
	values := rec.requests[0].Streams[0].Values
	require.Len(t, values, 3)
	assert.Equal(t, "line 0", values[0][1])
}

func TestLokiWriterPeriodicFlush(t *testing.T) {
	rec, srv := newLokiRecorder(t)
	lw, err := NewLokiWriter(LokiConfig{Endpoint: srv.URL, FlushInterval: "20ms"})
	require.NoError(t, err)
	defer lw.Close()

	_, err = lw.Write([]byte("tick\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return rec.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestLokiWriterCloseFlushes(t *testing.T) {
	rec, srv := newLokiRecorder(t)
	lw, err := NewLokiWriter(LokiConfig{Endpoint: srv.URL, FlushInterval: "1h"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _ = lw.Write([]byte("pending\n"))
	}
	require.NoError(t, lw.Close())
	assert.Equal(t, 1, rec.count())

	_, err = lw.Write([]byte("late"))
	assert.Error(t, err)
	assert.NoError(t, lw.Close(), "second close is a no-op")
}

func TestLokiWriterDropsOnFailure(t *testing.T) {
	rec, srv := newLokiRecorder(t)
	rec.status.Store(http.StatusBadRequest)

	lw, err := NewLokiWriter(LokiConfig{Endpoint: srv.URL, BatchSize: 1, FlushInterval: "1h"})
	require.NoError(t, err)
	defer lw.Close()

	n, err := lw.Write([]byte("rejected\n"))
	require.NoError(t, err, "a failed push never fails the write")
	assert.Equal(t, 9, n)
	assert.Equal(t, uint64(1), lw.Dropped())
	assert.Equal(t, 3, rec.count(), "push is retried before dropping")
}

func TestLevelOf(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`{"time":"2024-05-01T12:00:00Z","level":"WARN","msg":"worker dropped"}`, "warn"},
		{`time=2024-05-01T12:00:00Z level=INFO msg="aggregate seeded"`, "info"},
		{"plain line", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelOf(tt.line), tt.line)
	}
}

func TestLokiWriterStreamsPerLevel(t *testing.T) {
	rec, srv := newLokiRecorder(t)
	lw, err := NewLokiWriter(LokiConfig{Endpoint: srv.URL, BatchSize: 3, FlushInterval: "1h"})
	require.NoError(t, err)
	defer lw.Close()

	_, _ = lw.Write([]byte(`{"level":"INFO","msg":"a"}` + "\n"))
	_, _ = lw.Write([]byte(`{"level":"ERROR","msg":"b"}` + "\n"))
	_, _ = lw.Write([]byte(`{"level":"INFO","msg":"c"}` + "\n"))

	require.Equal(t, 1, rec.count())
	streams := rec.requests[0].Streams
	require.Len(t, streams, 2)
	assert.Equal(t, "error", streams[0].Stream["level"])
	assert.Len(t, streams[0].Values, 1)
	assert.Equal(t, "info", streams[1].Stream["level"])
	assert.Len(t, streams[1].Values, 2)
	assert.Equal(t, "pcapminer", streams[1].Stream["job"])
	_, shared := lw.labels["level"]
	assert.False(t, shared, "base labels stay untouched")
}
