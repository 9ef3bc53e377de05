package analyzer

import (
	"context"
	"strconv"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// ServiceCount is one row of the top services table.
type ServiceCount struct {
	Port        uint16 `json:"port"`
	Count       uint64 `json:"count"`
	ServiceName string `json:"servicename"`
}

// TopServices counts TCP and UDP segments per destination port and names
// the busiest ports. Service naming tables differ between hosts, so
// snapshots are not merged.
type TopServices struct {
	meta
	counter
	topN     int
	services plugin.ServiceLookup
}

// NewTopServices creates the top services analyzer.
func NewTopServices() plugin.Analyzer {
	const id = "top-20-services"
	return &TopServices{
		meta:    meta{id: id, name: "Top 20 UDP/TCP ports by number of segments", category: CategoryTransportLayer},
		counter: newCounter(id),
		topN:    20,
	}
}

func (a *TopServices) Init(cfg map[string]any) error { return initTopN(cfg, &a.topN) }

// SetServices injects the port name table.
func (a *TopServices) SetServices(s plugin.ServiceLookup) { a.services = s }

func (a *TopServices) Setup(src plugin.EventSource) {
	src.On(core.EventTCP, a.count)
	src.On(core.EventUDP, a.count)
}

func (a *TopServices) count(ev core.Event) plugin.Result {
	return a.inc(strconv.Itoa(int(ev.DstPort)))
}

func (a *TopServices) Merge(_, _ plugin.Snapshot) (plugin.Snapshot, error) {
	return nil, core.ErrAggregationUnsupported
}

func (a *TopServices) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	c, err := a.asCounts(s)
	if err != nil {
		return nil, err
	}

	top := rank(c, a.topN)
	rows := make([]ServiceCount, 0, len(top))
	labels := make([]string, 0, len(top))
	data := make([]float64, 0, len(top))
	for _, e := range top {
		port, err := strconv.ParseUint(e.Label, 10, 16)
		if err != nil {
			continue
		}
		name := e.Label
		if a.services != nil {
			if svc, ok := a.services.Lookup(uint16(port)); ok {
				name = svc
			}
		}
		rows = append(rows, ServiceCount{Port: uint16(port), Count: e.Count, ServiceName: name})
		labels = append(labels, name)
		data = append(data, float64(e.Count))
	}

	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Traffic by ports (top 20)", plugin.DiagramBarChart),
		BarChart: &plugin.LabeledChart{
			Datasets: []plugin.Dataset{{Label: "Count", BackgroundColor: []string{"#f87979"}, Data: data}},
			Labels:   labels,
		},
		Extra: map[string]any{
			"topTwenty": rows,
			"metrics":   map[string]int{"total_dst_port": len(c)},
		},
	}, nil
}
