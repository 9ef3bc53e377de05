// Package log configures the process-wide slog logger.
package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/pcapminer/internal/config"
)

// current holds the outputs behind the default logger so a later Init or
// Flush can close them.
var (
	mu      sync.Mutex
	current *outputs
)

// outputs is the set of writers one Init opened. stdout is never closed.
type outputs struct {
	writers []io.Writer
	closers []io.Closer
}

func (o *outputs) add(w io.WriteCloser) {
	o.writers = append(o.writers, w)
	o.closers = append(o.closers, w)
}

func (o *outputs) close() {
	if o == nil {
		return
	}
	for _, c := range o.closers {
		_ = c.Close()
	}
}

// Init installs a logger built from cfg as the slog default. Outputs from
// a previous Init are closed once the new logger is in place.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	outs, err := open(cfg.Outputs)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}
	w := io.MultiWriter(outs.writers...)
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		outs.close()
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}
	slog.SetDefault(slog.New(h))

	mu.Lock()
	prev := current
	current = outs
	mu.Unlock()
	prev.close()
	return nil
}

// Flush closes file and Loki outputs, pushing whatever Loki still buffers.
// Call it once on shutdown after the last log line.
func Flush() {
	mu.Lock()
	prev := current
	current = nil
	mu.Unlock()
	prev.close()
}

func open(oc config.LogOutputsConfig) (*outputs, error) {
	outs := &outputs{writers: []io.Writer{os.Stdout}}

	if f := oc.File; f.Enabled {
		if f.Path == "" {
			return nil, errors.New("file output requires 'path' field")
		}
		outs.add(&lumberjack.Logger{
			Filename:   f.Path,
			MaxSize:    f.Rotation.MaxSizeMB,
			MaxBackups: f.Rotation.MaxBackups,
			MaxAge:     f.Rotation.MaxAgeDays,
			Compress:   f.Rotation.Compress,
		})
	}

	if l := oc.Loki; l.Enabled {
		if l.Endpoint == "" {
			outs.close()
			return nil, errors.New("loki output requires 'endpoint' field")
		}
		lw, err := NewLokiWriter(LokiConfig{
			Endpoint:      l.Endpoint,
			Labels:        l.Labels,
			BatchSize:     l.BatchSize,
			FlushInterval: l.BatchTimeout,
		})
		if err != nil {
			outs.close()
			return nil, fmt.Errorf("failed to create loki output: %w", err)
		}
		outs.add(lw)
	}
	return outs, nil
}

// parseLevel accepts slog level names in any case, plus "warning".
func parseLevel(s string) (slog.Level, error) {
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", s)
	}
	return l, nil
}
