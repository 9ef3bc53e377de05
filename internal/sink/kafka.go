package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

const (
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes artifacts keyed by analyzer ID. The file name travels
// in a header so consumers can mirror the file layout.
type Kafka struct {
	writer  messageWriter
	topic   string
	written atomic.Uint64
	failed  atomic.Uint64
}

// NewKafka creates a synchronous Kafka sink.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka sink needs brokers and a topic", core.ErrConfigInvalid)
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{},
		BatchTimeout:     batchTimeout,
		MaxAttempts:      attempts,
		CompressionCodec: codec,
	})
	return &Kafka{writer: w, topic: cfg.Topic}, nil
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, name)
	}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Write(ctx context.Context, a *plugin.Artifact) error {
	value, err := json.Marshal(a)
	if err != nil {
		k.failed.Add(1)
		return fmt.Errorf("encode artifact %s: %w", a.AnalyzerID, err)
	}
	msg := kafka.Message{
		Key:   []byte(a.AnalyzerID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "fileName", Value: []byte(a.Summary.FileName)},
			{Key: "attackCategory", Value: []byte(a.Summary.AttackCategory)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.failed.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	k.written.Add(1)
	return nil
}

// Stats returns the number of published and failed artifacts.
func (k *Kafka) Stats() (written, failed uint64) {
	return k.written.Load(), k.failed.Load()
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
