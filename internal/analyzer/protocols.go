package analyzer

import (
	"context"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// Transport is the snapshot of UDPTCPRatio.
type Transport struct {
	UDP uint64 `json:"nrOfUDP"`
	TCP uint64 `json:"nrOfTCP"`
}

// UDPTCPRatio counts UDP against TCP segments.
type UDPTCPRatio struct {
	meta
	t Transport
}

// NewUDPTCPRatio creates the UDP/TCP ratio analyzer.
func NewUDPTCPRatio() plugin.Analyzer {
	return &UDPTCPRatio{meta: meta{
		id:       "udp-tcp-ratio",
		name:     "Ratio between UDP and TCP segments",
		category: CategoryTransportLayer,
	}}
}

func (a *UDPTCPRatio) Init(cfg map[string]any) error { return noOptions(cfg) }

func (a *UDPTCPRatio) Setup(src plugin.EventSource) {
	src.On(core.EventUDP, func(core.Event) plugin.Result { a.t.UDP++; return plugin.Applied })
	src.On(core.EventTCP, func(core.Event) plugin.Result { a.t.TCP++; return plugin.Applied })
}

func (a *UDPTCPRatio) Snapshot() plugin.Snapshot { return a.t }

func (a *UDPTCPRatio) DecodeSnapshot(data []byte) (plugin.Snapshot, error) {
	var t Transport
	if err := decodeStrict(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func (a *UDPTCPRatio) Merge(x, y plugin.Snapshot) (plugin.Snapshot, error) {
	tx, ok := x.(Transport)
	if !ok {
		return nil, shapeError(a.id, x)
	}
	ty, ok := y.(Transport)
	if !ok {
		return nil, shapeError(a.id, y)
	}
	return Transport{UDP: tx.UDP + ty.UDP, TCP: tx.TCP + ty.TCP}, nil
}

func (a *UDPTCPRatio) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	t, ok := s.(Transport)
	if !ok {
		return nil, shapeError(a.id, s)
	}
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "UDP and TCP Ratio", plugin.DiagramPieChart),
		PieChart:   pie([]string{"UDP", "TCP"}, []float64{float64(t.UDP), float64(t.TCP)}, paletteTwo),
	}, nil
}

// IPVersions is the snapshot of IPVersion.
type IPVersions struct {
	V4 uint64 `json:"nrOfIPv4"`
	V6 uint64 `json:"nrOfIPv6"`
}

// IPVersion counts IPv4 against IPv6 packets.
type IPVersion struct {
	meta
	v IPVersions
}

// NewIPVersion creates the IP version analyzer.
func NewIPVersion() plugin.Analyzer {
	return &IPVersion{meta: meta{
		id:       "IP-version",
		name:     "Analysis of IPv4 vs IPv6 traffic (based on packets)",
		category: CategoryNetworkLayer,
	}}
}

func (a *IPVersion) Init(cfg map[string]any) error { return noOptions(cfg) }

func (a *IPVersion) Setup(src plugin.EventSource) {
	src.On(core.EventIPv4, func(core.Event) plugin.Result { a.v.V4++; return plugin.Applied })
	src.On(core.EventIPv6, func(core.Event) plugin.Result { a.v.V6++; return plugin.Applied })
}

func (a *IPVersion) Snapshot() plugin.Snapshot { return a.v }

func (a *IPVersion) DecodeSnapshot(data []byte) (plugin.Snapshot, error) {
	var v IPVersions
	if err := decodeStrict(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (a *IPVersion) Merge(x, y plugin.Snapshot) (plugin.Snapshot, error) {
	vx, ok := x.(IPVersions)
	if !ok {
		return nil, shapeError(a.id, x)
	}
	vy, ok := y.(IPVersions)
	if !ok {
		return nil, shapeError(a.id, y)
	}
	return IPVersions{V4: vx.V4 + vy.V4, V6: vx.V6 + vy.V6}, nil
}

func (a *IPVersion) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	v, ok := s.(IPVersions)
	if !ok {
		return nil, shapeError(a.id, s)
	}
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "IPv4 and IPv6 usage", plugin.DiagramPieChart),
		PieChart:   pie([]string{"IPv4", "IPv6"}, []float64{float64(v.V4), float64(v.V6)}, paletteFive[:2]),
	}, nil
}

// ICMPTypes is the snapshot of ICMPMessages.
type ICMPTypes struct {
	Echo        uint64 `json:"echo"`
	EchoReply   uint64 `json:"echoreply"`
	Unreachable uint64 `json:"unreachable"`
	Redirect    uint64 `json:"redirect"`
	RA          uint64 `json:"ra"`
	RS          uint64 `json:"rs"`
	TTL         uint64 `json:"ttl"`
}

func (t ICMPTypes) add(o ICMPTypes) ICMPTypes {
	return ICMPTypes{
		Echo: t.Echo + o.Echo, EchoReply: t.EchoReply + o.EchoReply,
		Unreachable: t.Unreachable + o.Unreachable, Redirect: t.Redirect + o.Redirect,
		RA: t.RA + o.RA, RS: t.RS + o.RS, TTL: t.TTL + o.TTL,
	}
}

// ICMPMessages counts ICMPv4 messages of the common types.
type ICMPMessages struct {
	meta
	t ICMPTypes
}

// NewICMPMessages creates the ICMP message type analyzer.
func NewICMPMessages() plugin.Analyzer {
	return &ICMPMessages{meta: meta{
		id:       "ICMP_messages",
		name:     "Distribution of ICMP Message Types",
		category: CategoryNetworkLayer,
	}}
}

func (a *ICMPMessages) Init(cfg map[string]any) error { return noOptions(cfg) }

func (a *ICMPMessages) Setup(src plugin.EventSource) {
	src.On(core.EventICMP, a.count)
}

func (a *ICMPMessages) count(ev core.Event) plugin.Result {
	var slot *uint64
	switch ev.ICMPType {
	case 0:
		slot = &a.t.EchoReply
	case 8:
		slot = &a.t.Echo
	case 3:
		slot = &a.t.Unreachable
	case 5:
		slot = &a.t.Redirect
	case 9:
		slot = &a.t.RA
	case 10:
		slot = &a.t.RS
	case 11:
		slot = &a.t.TTL
	default:
		return plugin.Skipped
	}
	*slot++
	return plugin.Applied
}

func (a *ICMPMessages) Snapshot() plugin.Snapshot { return a.t }

func (a *ICMPMessages) DecodeSnapshot(data []byte) (plugin.Snapshot, error) {
	var t ICMPTypes
	if err := decodeStrict(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func (a *ICMPMessages) Merge(x, y plugin.Snapshot) (plugin.Snapshot, error) {
	tx, ok := x.(ICMPTypes)
	if !ok {
		return nil, shapeError(a.id, x)
	}
	ty, ok := y.(ICMPTypes)
	if !ok {
		return nil, shapeError(a.id, y)
	}
	return tx.add(ty), nil
}

func (a *ICMPMessages) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	t, ok := s.(ICMPTypes)
	if !ok {
		return nil, shapeError(a.id, s)
	}
	labels := []string{
		"Echo Request", "Echo Reply", "Destination Unreachable", "Redirect",
		"Router Advertisement", "Router Solicitation", "Time Exceeded",
	}
	data := []float64{
		float64(t.Echo), float64(t.EchoReply), float64(t.Unreachable), float64(t.Redirect),
		float64(t.RA), float64(t.RS), float64(t.TTL),
	}
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Distribution of ICMP Message Types", plugin.DiagramPieChart),
		PieChart:   pie(labels, data, paletteSeven),
		Hint:       hint(),
	}, nil
}
