package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

func testArtifact(path string) *plugin.Artifact {
	return &plugin.Artifact{
		AnalyzerID: "IP-version",
		Summary: plugin.Summary{
			FileName:          path,
			AttackCategory:    "Network Layer",
			AnalysisName:      "IPv4 vs IPv6",
			SupportedDiagrams: []string{plugin.DiagramPieChart},
		},
		PieChart: &plugin.LabeledChart{
			Datasets: []plugin.Dataset{{Data: []float64{4, 1}}},
			Labels:   []string{"IPv4", "IPv6"},
		},
	}
}

func TestFileSinkWritesIndentedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aggregated", "a-b-IP-version.json")
	require.NoError(t, NewFile().Write(context.Background(), testArtifact(path)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"analysisName\"")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, path, doc["fileName"])
	assert.Equal(t, "Network Layer", doc["attackCategory"])
	assert.Contains(t, doc, "piechart")
}

func TestFileSinkNeedsFileName(t *testing.T) {
	assert.Error(t, NewFile().Write(context.Background(), testArtifact("")))
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkPublishes(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "artifacts"}

	require.NoError(t, k.Write(context.Background(), testArtifact("/out/cap-IP-version.json")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "IP-version", string(w.msgs[0].Key))
	assert.Equal(t, "fileName", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "/out/cap-IP-version.json", string(w.msgs[0].Headers[0].Value))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &doc))
	assert.Equal(t, "IPv4 vs IPv6", doc["analysisName"])

	written, failed := k.Stats()
	assert.EqualValues(t, 1, written)
	assert.EqualValues(t, 0, failed)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkCountsFailures(t *testing.T) {
	k := &Kafka{writer: &fakeWriter{err: errors.New("broker down")}}
	assert.Error(t, k.Write(context.Background(), testArtifact("x.json")))
	_, failed := k.Stats()
	assert.EqualValues(t, 1, failed)
}

func TestNewKafkaValidates(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.KafkaConfig
	}{
		{"missing brokers", config.KafkaConfig{Topic: "t"}},
		{"missing topic", config.KafkaConfig{Brokers: []string{"localhost:9092"}}},
		{"bad compression", config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "brotli"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKafka(tt.cfg)
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}

	for _, c := range []string{"", "none", "gzip", "snappy", "lz4", "zstd"} {
		k, err := NewKafka(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: c})
		require.NoError(t, err, c)
		require.NoError(t, k.Close())
	}
}

type failingSink struct{ err error }

func (f failingSink) Name() string                                  { return "failing" }
func (f failingSink) Write(context.Context, *plugin.Artifact) error { return f.err }
func (f failingSink) Close() error                                  { return nil }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	path := filepath.Join(t.TempDir(), "cap-IP-version.json")
	m := Multi{failingSink{err: boom}, NewFile()}

	err := m.Write(context.Background(), testArtifact(path))
	assert.ErrorIs(t, err, boom)
	assert.FileExists(t, path, "later sinks still run")
	assert.NoError(t, m.Close())
}

func TestNewDefaultsToFile(t *testing.T) {
	s, err := New(config.OutputConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	m, ok := s.(Multi)
	require.True(t, ok)
	require.Len(t, m, 1)
	assert.Equal(t, "file", m[0].Name())
}

func TestConsoleSinkPrintsSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	require.NoError(t, c.Write(context.Background(), testArtifact("out/cap-IP-version.json")))
	assert.Equal(t, "IP-version\tIPv4 vs IPv6\t[PieChart]\tout/cap-IP-version.json\n", buf.String())
	assert.Equal(t, "console", c.Name())
}

func TestNewAddsConsole(t *testing.T) {
	s, err := New(config.OutputConfig{Dir: t.TempDir(), Console: true})
	require.NoError(t, err)
	m := s.(Multi)
	require.Len(t, m, 2)
	assert.Equal(t, "console", m[1].Name())
}
