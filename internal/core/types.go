// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6
	VLANs     []uint16 // outermost first; QinQ frames carry two
}

// IPHeader represents L3 IP header (IPv4/IPv6).
type IPHeader struct {
	Version  uint8 // 0 when the frame carries no IP layer
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8 // TCP=6, UDP=17, ICMP=1
	TotalLen uint16
}

// TransportHeader represents L4 transport layer header (TCP/UDP).
type TransportHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8 // 0 when absent
	// TCP-specific fields (only populated for TCP)
	TCPFlags uint8
}

// TCP flag bits as carried in TransportHeader.TCPFlags.
const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
)

// ICMPHeader holds the ICMPv4 type and code.
type ICMPHeader struct {
	Present bool
	Type    uint8
	Code    uint8
}

// HTTPRequest is the request line and user agent of an HTTP/1.x request.
type HTTPRequest struct {
	Method    string
	Endpoint  string
	UserAgent string
}

// Protocol numbers used by the decoder.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)
