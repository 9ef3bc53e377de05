// Package file implements the capture-file event source.
package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/internal/core/decoder"
	"firestige.xyz/pcapminer/internal/metrics"
	"firestige.xyz/pcapminer/pkg/plugin"
)

const (
	pcapngMagic = 0x0A0D0D0A

	// ctxCheckInterval is how many frames are read between context checks.
	ctxCheckInterval = 1024
)

// Config contains file source configuration.
type Config struct {
	ParseHTTP bool
}

// Stats counts what the source has read and delivered.
type Stats struct {
	Frames       uint64
	DecodeErrors uint64
	Events       uint64
	Skipped      uint64
}

type subscription struct {
	owner   string
	handler plugin.Handler
	skipped prometheus.Counter
}

// Source reads a pcap or pcapng file, decodes each frame and delivers the
// resulting events synchronously, in emission order, to subscribed
// handlers. A Source runs one capture and is not safe for concurrent use.
type Source struct {
	cfg      Config
	subs     [core.EventComplete + 1][]subscription
	kindCtrs [core.EventComplete + 1]prometheus.Counter
	stats    Stats
	progress atomic.Uint64
	started  bool
}

// New creates a new file source.
func New(cfg Config) *Source {
	s := &Source{cfg: cfg}
	for k := range s.kindCtrs {
		s.kindCtrs[k] = metrics.EventsTotal.WithLabelValues(core.EventKind(k).String())
	}
	return s
}

// For returns an EventSource view that attributes skipped events to owner.
func (s *Source) For(owner string) plugin.EventSource {
	return ownedSource{src: s, owner: owner}
}

// On subscribes an anonymous handler.
func (s *Source) On(kind core.EventKind, h plugin.Handler) {
	s.subscribe("", kind, h)
}

func (s *Source) subscribe(owner string, kind core.EventKind, h plugin.Handler) {
	if int(kind) >= len(s.subs) || h == nil {
		return
	}
	s.subs[kind] = append(s.subs[kind], subscription{
		owner:   owner,
		handler: h,
		skipped: metrics.EventsSkippedTotal.WithLabelValues(owner),
	})
}

// Progress returns the number of frames read so far. Unlike Stats it may
// be called while Start is running.
func (s *Source) Progress() uint64 {
	return s.progress.Load()
}

// Stats returns a copy of the read counters.
func (s *Source) Stats() Stats {
	return s.stats
}

// Start reads path to the end and delivers EventComplete exactly once.
// A context cancellation stops reading without delivering EventComplete.
func (s *Source) Start(ctx context.Context, path string) error {
	if s.started {
		return fmt.Errorf("source already started: %w", core.ErrSessionState)
	}
	s.started = true

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSourceOpen, err)
	}
	defer f.Close()

	reader, linkType, err := openReader(bufio.NewReaderSize(f, 1<<16))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrSourceOpen, path, err)
	}

	dec := decoder.NewStandardDecoder(decoder.Config{
		LinkType:  linkType,
		ParseHTTP: s.cfg.ParseHTTP,
	})

	slog.Debug("capture opened", "path", path, "link_type", linkType.String())

	for {
		if s.stats.Frames%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		data, ci, err := reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		s.stats.Frames++
		s.progress.Store(s.stats.Frames)

		decoded, err := dec.Decode(core.RawPacket{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
		})
		if err != nil {
			s.stats.DecodeErrors++
			metrics.DecodeErrorsTotal.Inc()
			continue
		}
		for _, ev := range decoded.Events() {
			s.dispatch(ev)
		}
	}

	s.dispatch(core.Event{Kind: core.EventComplete})
	slog.Debug("capture completed", "path", path,
		"frames", s.stats.Frames, "decode_errors", s.stats.DecodeErrors, "skipped", s.stats.Skipped)
	return nil
}

// Emit delivers a synthetic event. It exists for sources that are fed
// from memory, such as replaying events in tests.
func (s *Source) Emit(ev core.Event) {
	s.dispatch(ev)
}

func (s *Source) dispatch(ev core.Event) {
	if int(ev.Kind) >= len(s.subs) {
		return
	}
	s.stats.Events++
	s.kindCtrs[ev.Kind].Inc()
	for i := range s.subs[ev.Kind] {
		sub := &s.subs[ev.Kind][i]
		if sub.handler(ev) == plugin.Skipped {
			s.stats.Skipped++
			sub.skipped.Inc()
		}
	}
}

// packetReader is satisfied by both pcapgo readers.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// openReader sniffs the file magic and opens a pcap or pcapng reader.
func openReader(r *bufio.Reader) (packetReader, layers.LinkType, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, 0, fmt.Errorf("read magic: %w", err)
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, 0, err
		}
		return ng, ng.LinkType(), nil
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, 0, err
	}
	return pr, pr.LinkType(), nil
}

// ownedSource tags subscriptions with the subscribing analyzer.
type ownedSource struct {
	src   *Source
	owner string
}

func (o ownedSource) On(kind core.EventKind, h plugin.Handler) {
	o.src.subscribe(o.owner, kind, h)
}
