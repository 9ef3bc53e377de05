package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcapminer/internal/analyzer"
	"firestige.xyz/pcapminer/internal/protocol"
)

func TestStatusHandler(t *testing.T) {
	srv, _, _ := startServer(t, 5*time.Second)

	get := func() Status {
		rec := httptest.NewRecorder()
		srv.StatusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var st Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		return st
	}

	st := get()
	assert.Equal(t, analyzer.DefaultRoster, st.Roster)
	assert.Zero(t, st.Submissions)
	assert.Empty(t, st.Sources)
	assert.Empty(t, st.Unavailable)

	client := protocol.NewClient(srv.Addr(), time.Second)
	require.NoError(t, client.Submit(context.Background(), submission(t, "w1", "cap1", analyzer.Counts{"1.1.1.1": 1})))
	require.NoError(t, client.Submit(context.Background(), submission(t, "w2", "cap2", analyzer.Counts{"2.2.2.2": 1})))

	st = get()
	assert.Equal(t, 2, st.Submissions)
	assert.Equal(t, []string{"cap1", "cap2"}, st.Sources)
	assert.Contains(t, st.Unavailable, "generic-metrics")
}

func TestStatusHandlerRejectsPost(t *testing.T) {
	srv, _, _ := startServer(t, 5*time.Second)
	rec := httptest.NewRecorder()
	srv.StatusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}
