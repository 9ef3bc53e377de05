package analyzer

import (
	"context"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// TCPState is a connection state category of a single segment.
type TCPState int

const (
	StateSYN TCPState = iota
	StateSYNACK
	StateFIN
	StateFINACK
	StateACK
	StateOther
)

var tcpStateLabels = [...]string{"SYN", "SYN/ACK", "FIN", "FIN/ACK", "ACK", "Other"}

func (s TCPState) String() string { return tcpStateLabels[s] }

// ClassifyTCP maps flags to exactly one state. Rules are evaluated in
// order and the first match wins.
func ClassifyTCP(flags uint8) TCPState {
	syn := flags&core.TCPFlagSYN != 0
	ack := flags&core.TCPFlagACK != 0
	fin := flags&core.TCPFlagFIN != 0
	switch {
	case syn && !ack:
		return StateSYN
	case syn && ack:
		return StateSYNACK
	case fin && !ack:
		return StateFIN
	case fin && ack:
		return StateFINACK
	case ack && !fin && !syn:
		return StateACK
	default:
		return StateOther
	}
}

// SynStates is the snapshot of SynFlood.
type SynStates struct {
	SYN    uint64 `json:"nrOfPacketsInSynState"`
	SYNACK uint64 `json:"nrOfPacketsInSynAckState"`
	FIN    uint64 `json:"nrOfPacketsInFinState"`
	FINACK uint64 `json:"nrOfPacketsInFinAckState"`
	ACK    uint64 `json:"nrOfPacketsInAckState"`
	Other  uint64 `json:"nrOfPacketsInRemainingStates"`
	Total  uint64 `json:"nrOfTransportPackets"`
}

func (s *SynStates) slot(st TCPState) *uint64 {
	return [...]*uint64{&s.SYN, &s.SYNACK, &s.FIN, &s.FINACK, &s.ACK, &s.Other}[st]
}

func (s SynStates) add(o SynStates) SynStates {
	return SynStates{
		SYN: s.SYN + o.SYN, SYNACK: s.SYNACK + o.SYNACK,
		FIN: s.FIN + o.FIN, FINACK: s.FINACK + o.FINACK,
		ACK: s.ACK + o.ACK, Other: s.Other + o.Other,
		Total: s.Total + o.Total,
	}
}

// SynFlood classifies TCP segments by handshake state.
type SynFlood struct {
	meta
	states SynStates
}

// NewSynFlood creates the TCP state analyzer.
func NewSynFlood() plugin.Analyzer {
	return &SynFlood{meta: meta{
		id:       "synfloodanalysis",
		name:     "Connection states of TCP segments",
		category: CategoryTransportLayer,
	}}
}

func (a *SynFlood) Init(cfg map[string]any) error { return noOptions(cfg) }

func (a *SynFlood) Setup(src plugin.EventSource) {
	src.On(core.EventTCP, func(ev core.Event) plugin.Result {
		a.states.Total++
		*a.states.slot(ClassifyTCP(ev.TCPFlags))++
		return plugin.Applied
	})
}

func (a *SynFlood) Snapshot() plugin.Snapshot { return a.states }

func (a *SynFlood) DecodeSnapshot(data []byte) (plugin.Snapshot, error) {
	var s SynStates
	if err := decodeStrict(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *SynFlood) Merge(x, y plugin.Snapshot) (plugin.Snapshot, error) {
	sx, ok := x.(SynStates)
	if !ok {
		return nil, shapeError(a.id, x)
	}
	sy, ok := y.(SynStates)
	if !ok {
		return nil, shapeError(a.id, y)
	}
	return sx.add(sy), nil
}

func (a *SynFlood) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	st, ok := s.(SynStates)
	if !ok {
		return nil, shapeError(a.id, s)
	}
	data := []float64{
		float64(st.SYN), float64(st.SYNACK), float64(st.FIN),
		float64(st.FINACK), float64(st.ACK), float64(st.Other),
	}
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "State of TCP packets", plugin.DiagramPieChart),
		PieChart:   pie(tcpStateLabels[:], data, paletteSix),
	}, nil
}
