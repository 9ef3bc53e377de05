// Package sink persists finalized artifacts.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/metrics"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// Sink stores an artifact. The artifact's Summary.FileName is its
// identity in every sink.
type Sink interface {
	Name() string
	Write(ctx context.Context, a *plugin.Artifact) error
	Close() error
}

// File writes artifacts as indented JSON to Summary.FileName, creating
// parent directories on demand.
type File struct{}

// NewFile creates a file sink.
func NewFile() *File { return &File{} }

func (File) Name() string { return "file" }

func (File) Write(_ context.Context, a *plugin.Artifact) error {
	path := a.Summary.FileName
	if path == "" {
		return fmt.Errorf("artifact %s has no file name", a.AnalyzerID)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", a.AnalyzerID, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

func (File) Close() error { return nil }

// Multi fans an artifact out to several sinks. Every sink is attempted;
// failures are joined.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Write(ctx context.Context, a *plugin.Artifact) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, a); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the sinks described by cfg. The file sink is always present.
func New(cfg config.OutputConfig) (Sink, error) {
	sinks := Multi{NewFile()}
	if cfg.Console {
		sinks = append(sinks, NewConsole(os.Stdout))
	}
	if cfg.Kafka.Enabled {
		k, err := NewKafka(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
		slog.Info("kafka artifact sink enabled",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
			"compression", cfg.Kafka.Compression)
	}
	return sinks, nil
}
