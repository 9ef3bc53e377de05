package core

import (
	"net/netip"
	"time"
)

// EventKind tags a decode event.
type EventKind uint8

const (
	EventFrame EventKind = iota
	EventEthernet
	EventIP
	EventIPv4
	EventIPv6
	EventTransport
	EventTCP
	EventUDP
	EventICMP
	EventHTTP
	EventUserAgent
	// EventComplete is emitted exactly once after the last frame.
	EventComplete
)

var eventKindNames = [...]string{
	EventFrame:     "frame",
	EventEthernet:  "ethernet",
	EventIP:        "ip",
	EventIPv4:      "ipv4",
	EventIPv6:      "ipv6",
	EventTransport: "transport",
	EventTCP:       "tcp",
	EventUDP:       "udp",
	EventICMP:      "icmp",
	EventHTTP:      "http",
	EventUserAgent: "user-agent",
	EventComplete:  "complete",
}

// String returns the kind name used in logs and metric labels.
func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is one decoded protocol-layer occurrence. Which fields are
// meaningful depends on Kind; see DecodedPacket.Events.
type Event struct {
	Kind      EventKind
	Timestamp time.Time

	// frame
	Length uint32

	// ethernet
	VLAN    uint16
	HasVLAN bool

	// ip, ipv4, ipv6 and everything above
	SrcIP netip.Addr
	DstIP netip.Addr

	// transport, tcp, udp
	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8

	// icmp
	ICMPType uint8
	ICMPCode uint8

	// http, user-agent
	Method    string
	Endpoint  string
	UserAgent string
}

// HasFlag reports whether the TCP flag bit is set.
func (e Event) HasFlag(flag uint8) bool {
	return e.TCPFlags&flag != 0
}
