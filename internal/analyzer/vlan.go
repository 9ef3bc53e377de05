package analyzer

import (
	"context"
	"strconv"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// VLANDomains counts Ethernet frames per outermost VLAN ID.
type VLANDomains struct {
	meta
	counter
	topN int
}

// NewVLANDomains creates the top VLAN domains analyzer.
func NewVLANDomains() plugin.Analyzer {
	const id = "top-5-vlan-domains-by-eth-traffic"
	return &VLANDomains{
		meta:    meta{id: id, name: "Top 5 VLANs by Ethernet traffic", category: CategoryLinkLayer},
		counter: newCounter(id),
		topN:    5,
	}
}

func (a *VLANDomains) Init(cfg map[string]any) error { return initTopN(cfg, &a.topN) }

func (a *VLANDomains) Setup(src plugin.EventSource) {
	src.On(core.EventEthernet, func(ev core.Event) plugin.Result {
		if !ev.HasVLAN {
			return plugin.Skipped
		}
		return a.inc(strconv.Itoa(int(ev.VLAN)))
	})
}

func (a *VLANDomains) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	c, err := a.asCounts(s)
	if err != nil {
		return nil, err
	}
	labels, data := splitEntries(rank(c, a.topN))
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Top 5 VLANs", plugin.DiagramPieChart),
		PieChart:   pie(labels, data, paletteFive),
		Hint:       hint(),
	}, nil
}
