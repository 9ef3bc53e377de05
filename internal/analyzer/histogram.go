package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

const (
	// BucketWidth is the number of ports per histogram bucket.
	BucketWidth = 64
	// BucketCount covers ports 0-65535.
	BucketCount = 65536 / BucketWidth
)

// Histogram counts destination ports in 64-wide buckets.
type Histogram [BucketCount]uint64

// bucketOf returns the bucket index of a port.
func bucketOf(port uint16) int {
	return int(port) / BucketWidth
}

// Add returns the element-wise sum of h and o.
func (h Histogram) Add(o Histogram) Histogram {
	for i := range h {
		h[i] += o[i]
	}
	return h
}

// Points returns the sparse scatterplot of non-empty buckets.
func (h Histogram) Points() []plugin.Point {
	points := make([]plugin.Point, 0)
	for i, n := range h {
		if n > 0 {
			points = append(points, plugin.Point{X: float64(i * BucketWidth), Y: float64(n)})
		}
	}
	return points
}

// MarshalJSON encodes the histogram as a plain array.
func (h Histogram) MarshalJSON() ([]byte, error) {
	return json.Marshal(h[:])
}

// UnmarshalJSON requires exactly BucketCount counts.
func (h *Histogram) UnmarshalJSON(data []byte) error {
	var counts []uint64
	if err := json.Unmarshal(data, &counts); err != nil {
		return err
	}
	if len(counts) != BucketCount {
		return fmt.Errorf("histogram has %d buckets, want %d: %w", len(counts), BucketCount, core.ErrSnapshotShape)
	}
	copy(h[:], counts)
	return nil
}

// PortScan buckets TCP and UDP destination ports to expose scans.
type PortScan struct {
	meta
	hist Histogram
}

// NewPortScan creates the clustered port usage analyzer.
func NewPortScan() plugin.Analyzer {
	return &PortScan{meta: meta{
		id:       "portscan-clustered",
		name:     "Number of segments received over all TCP/UDP ports",
		category: CategoryTransportLayer,
	}}
}

func (a *PortScan) Init(cfg map[string]any) error { return noOptions(cfg) }

func (a *PortScan) Setup(src plugin.EventSource) {
	src.On(core.EventTCP, a.count)
	src.On(core.EventUDP, a.count)
}

func (a *PortScan) count(ev core.Event) plugin.Result {
	a.hist[bucketOf(ev.DstPort)]++
	return plugin.Applied
}

// Snapshot returns a copy of the histogram; arrays copy by value.
func (a *PortScan) Snapshot() plugin.Snapshot {
	return a.hist
}

func (a *PortScan) DecodeSnapshot(data []byte) (plugin.Snapshot, error) {
	var h Histogram
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSnapshotShape, err)
	}
	return h, nil
}

func (a *PortScan) Merge(x, y plugin.Snapshot) (plugin.Snapshot, error) {
	hx, ok := x.(Histogram)
	if !ok {
		return nil, shapeError(a.id, x)
	}
	hy, ok := y.(Histogram)
	if !ok {
		return nil, shapeError(a.id, y)
	}
	return hx.Add(hy), nil
}

func (a *PortScan) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	h, ok := s.(Histogram)
	if !ok {
		return nil, shapeError(a.id, s)
	}
	return &plugin.Artifact{
		AnalyzerID:  a.id,
		Summary:     a.summary(prefix, "Traffic by ports (clustered)", plugin.DiagramScatterplot),
		Scatterplot: h.Points(),
		Extra:       map[string]any{"clusters": h},
	}, nil
}
