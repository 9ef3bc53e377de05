package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructZeroValues(t *testing.T) {
	t.Run("EthernetHeader", func(t *testing.T) {
		var eth EthernetHeader
		assert.Zero(t, eth.EtherType)
		assert.Nil(t, eth.VLANs)
	})

	t.Run("IPHeader", func(t *testing.T) {
		var ip IPHeader
		assert.Zero(t, ip.Version)
		assert.False(t, ip.SrcIP.IsValid())
		assert.False(t, ip.DstIP.IsValid())
	})

	t.Run("Event", func(t *testing.T) {
		var ev Event
		assert.Equal(t, EventFrame, ev.Kind)
		assert.False(t, ev.HasVLAN)
	})
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "tcp", EventTCP.String())
	assert.Equal(t, "user-agent", EventUserAgent.String())
	assert.Equal(t, "complete", EventComplete.String())
	assert.Equal(t, "unknown", EventKind(200).String())
}

func TestHasFlag(t *testing.T) {
	ev := Event{TCPFlags: TCPFlagSYN | TCPFlagACK}
	assert.True(t, ev.HasFlag(TCPFlagSYN))
	assert.True(t, ev.HasFlag(TCPFlagACK))
	assert.False(t, ev.HasFlag(TCPFlagFIN))
}

func kinds(evs []Event) []EventKind {
	out := make([]EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestDecodedPacketEvents(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	t.Run("non-IP frame", func(t *testing.T) {
		p := DecodedPacket{Timestamp: ts, OrigLen: 60, Ethernet: EthernetHeader{VLANs: []uint16{42, 7}}}
		evs := p.Events()
		require.Equal(t, []EventKind{EventFrame, EventEthernet}, kinds(evs))
		assert.Equal(t, uint32(60), evs[0].Length)
		assert.True(t, evs[1].HasVLAN)
		assert.Equal(t, uint16(42), evs[1].VLAN)
	})

	t.Run("tcp with http", func(t *testing.T) {
		p := DecodedPacket{
			Timestamp: ts,
			OrigLen:   300,
			IP: IPHeader{
				Version:  4,
				SrcIP:    netip.MustParseAddr("10.0.0.1"),
				DstIP:    netip.MustParseAddr("10.0.0.2"),
				Protocol: ProtoTCP,
			},
			Transport: TransportHeader{SrcPort: 40000, DstPort: 80, Protocol: ProtoTCP, TCPFlags: TCPFlagACK | TCPFlagPSH},
			HTTP:      &HTTPRequest{Method: "GET", Endpoint: "/index.html", UserAgent: "curl/8.0"},
		}
		evs := p.Events()
		require.Equal(t, []EventKind{
			EventFrame, EventEthernet, EventIP, EventIPv4, EventTransport, EventTCP, EventHTTP, EventUserAgent,
		}, kinds(evs))
		tcp := evs[5]
		assert.Equal(t, uint16(80), tcp.DstPort)
		assert.True(t, tcp.HasFlag(TCPFlagACK))
		assert.Equal(t, "GET", evs[6].Method)
		assert.Equal(t, "curl/8.0", evs[7].UserAgent)
		for _, ev := range evs {
			assert.Equal(t, ts, ev.Timestamp)
		}
	})

	t.Run("icmpv4", func(t *testing.T) {
		p := DecodedPacket{
			IP:   IPHeader{Version: 4, Protocol: ProtoICMP},
			ICMP: ICMPHeader{Present: true, Type: 8},
		}
		assert.Equal(t, []EventKind{EventFrame, EventEthernet, EventIP, EventIPv4, EventICMP}, kinds(p.Events()))
	})

	t.Run("udp over ipv6", func(t *testing.T) {
		p := DecodedPacket{
			IP:        IPHeader{Version: 6, Protocol: ProtoUDP},
			Transport: TransportHeader{Protocol: ProtoUDP, DstPort: 53},
		}
		assert.Equal(t, []EventKind{EventFrame, EventEthernet, EventIP, EventIPv6, EventTransport, EventUDP}, kinds(p.Events()))
	})
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("merge index 3: %w", ErrAggregationUnsupported)
	assert.True(t, errors.Is(wrapped, ErrAggregationUnsupported))
	assert.False(t, errors.Is(wrapped, ErrRosterMismatch))
}
