package analyzer

import (
	"context"
	"net/netip"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// Metrics is the snapshot of GenericMetrics. Start and End are Unix
// seconds of the first and last frame. The rate fields are derived at
// finalize and are zero in snapshots.
type Metrics struct {
	Start                int64   `json:"start"`
	End                  int64   `json:"end"`
	Duration             int64   `json:"duration"`
	NrOfIPPackets        uint64  `json:"nrOfIPpackets"`
	AttackSizeInBytes    uint64  `json:"attackSizeInBytes"`
	AttackBandwidthInBps float64 `json:"attackBandwidthInBps"`
	AvgPacketSize        float64 `json:"avgPacketSize"`
	NrOfIPv4Packets      uint64  `json:"nrOfIPv4Packets"`
	NrOfIPv6Packets      uint64  `json:"nrOfIPv6Packets"`
	NrOfSrcIPs           uint64  `json:"nrOfSrcIps"`
	NrOfDstIPs           uint64  `json:"nrOfDstIps"`
	NrOfSrcPorts         uint64  `json:"nrOfSrcPorts"`
	NrOfDstPorts         uint64  `json:"nrOfDstPorts"`
	NrOfUDPPackets       uint64  `json:"nrOfUDPPackets"`
	NrOfTCPPackets       uint64  `json:"nrOfTCPPackets"`
	UDPToTCPRatio        float64 `json:"udpToTcpRatio"`
	NrOfHTTP             uint64  `json:"nrOfHTTP"`
	NrOfICMP             uint64  `json:"nrOfICMP"`
}

// derive fills the rate fields. Division by zero yields zero.
func (m Metrics) derive() Metrics {
	m.AttackBandwidthInBps = ratio(m.AttackSizeInBytes, uint64(max(m.Duration, 0)))
	m.AvgPacketSize = ratio(m.AttackSizeInBytes, m.NrOfIPPackets)
	m.UDPToTCPRatio = ratio(m.NrOfUDPPackets, m.NrOfTCPPackets)
	return m
}

func ratio(a, b uint64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// GenericMetrics collects capture-wide counters. Distinct address and port
// counts are per capture, so snapshots cannot be merged.
type GenericMetrics struct {
	meta
	m        Metrics
	seen     bool
	srcIPs   map[netip.Addr]struct{}
	dstIPs   map[netip.Addr]struct{}
	srcPorts map[uint16]struct{}
	dstPorts map[uint16]struct{}
}

// NewGenericMetrics creates the miscellaneous metrics analyzer.
func NewGenericMetrics() plugin.Analyzer {
	return &GenericMetrics{
		meta:     meta{id: "generic-metrics", name: "Miscellaneous Metrics", category: CategoryNetworkLayer},
		srcIPs:   make(map[netip.Addr]struct{}),
		dstIPs:   make(map[netip.Addr]struct{}),
		srcPorts: make(map[uint16]struct{}),
		dstPorts: make(map[uint16]struct{}),
	}
}

func (a *GenericMetrics) Init(cfg map[string]any) error { return noOptions(cfg) }

func (a *GenericMetrics) Setup(src plugin.EventSource) {
	src.On(core.EventFrame, a.onFrame)
	src.On(core.EventIP, a.onIP)
	src.On(core.EventIPv4, func(core.Event) plugin.Result { a.m.NrOfIPv4Packets++; return plugin.Applied })
	src.On(core.EventIPv6, func(core.Event) plugin.Result { a.m.NrOfIPv6Packets++; return plugin.Applied })
	src.On(core.EventTransport, a.onTransport)
	src.On(core.EventUDP, func(core.Event) plugin.Result { a.m.NrOfUDPPackets++; return plugin.Applied })
	src.On(core.EventTCP, func(core.Event) plugin.Result { a.m.NrOfTCPPackets++; return plugin.Applied })
	src.On(core.EventHTTP, func(core.Event) plugin.Result { a.m.NrOfHTTP++; return plugin.Applied })
	src.On(core.EventICMP, func(core.Event) plugin.Result { a.m.NrOfICMP++; return plugin.Applied })
}

func (a *GenericMetrics) onFrame(ev core.Event) plugin.Result {
	if ev.Timestamp.IsZero() {
		return plugin.Skipped
	}
	ts := ev.Timestamp.Unix()
	if !a.seen || ts < a.m.Start {
		a.m.Start = ts
	}
	if !a.seen || ts > a.m.End {
		a.m.End = ts
	}
	a.seen = true
	a.m.Duration = a.m.End - a.m.Start
	a.m.AttackSizeInBytes += uint64(ev.Length)
	return plugin.Applied
}

func (a *GenericMetrics) onIP(ev core.Event) plugin.Result {
	a.m.NrOfIPPackets++
	if !ev.SrcIP.IsValid() || !ev.DstIP.IsValid() {
		return plugin.Skipped
	}
	if _, ok := a.srcIPs[ev.SrcIP]; !ok {
		a.srcIPs[ev.SrcIP] = struct{}{}
		a.m.NrOfSrcIPs++
	}
	if _, ok := a.dstIPs[ev.DstIP]; !ok {
		a.dstIPs[ev.DstIP] = struct{}{}
		a.m.NrOfDstIPs++
	}
	return plugin.Applied
}

func (a *GenericMetrics) onTransport(ev core.Event) plugin.Result {
	if _, ok := a.srcPorts[ev.SrcPort]; !ok {
		a.srcPorts[ev.SrcPort] = struct{}{}
		a.m.NrOfSrcPorts++
	}
	if _, ok := a.dstPorts[ev.DstPort]; !ok {
		a.dstPorts[ev.DstPort] = struct{}{}
		a.m.NrOfDstPorts++
	}
	return plugin.Applied
}

func (a *GenericMetrics) Snapshot() plugin.Snapshot {
	return a.m
}

func (a *GenericMetrics) DecodeSnapshot(data []byte) (plugin.Snapshot, error) {
	var m Metrics
	if err := decodeStrict(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (a *GenericMetrics) Merge(_, _ plugin.Snapshot) (plugin.Snapshot, error) {
	return nil, core.ErrAggregationUnsupported
}

func (a *GenericMetrics) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	m, ok := s.(Metrics)
	if !ok {
		return nil, shapeError(a.id, s)
	}
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Miscellaneous Metrics"),
		Extra:      map[string]any{"metrics": m.derive()},
	}, nil
}
