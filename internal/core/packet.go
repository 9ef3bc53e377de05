// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawPacket is one frame read from a capture file.
type RawPacket struct {
	Data       []byte
	Timestamp  time.Time
	CaptureLen uint32
	OrigLen    uint32
}

// DecodedPacket is the result of L2-L7 decoding of one frame.
type DecodedPacket struct {
	Timestamp time.Time
	OrigLen   uint32
	Ethernet  EthernetHeader
	IP        IPHeader
	Transport TransportHeader
	ICMP      ICMPHeader
	HTTP      *HTTPRequest // nil unless the payload starts with an HTTP request line
}

// Events expands a decoded packet into its ordered event batch.
// Kinds appear in layer order and only when the layer is present.
func (p *DecodedPacket) Events() []Event {
	evs := make([]Event, 0, 8)
	base := Event{Timestamp: p.Timestamp}

	frame := base
	frame.Kind = EventFrame
	frame.Length = p.OrigLen
	evs = append(evs, frame)

	eth := base
	eth.Kind = EventEthernet
	if len(p.Ethernet.VLANs) > 0 {
		eth.VLAN = p.Ethernet.VLANs[0]
		eth.HasVLAN = true
	}
	evs = append(evs, eth)

	if p.IP.Version == 0 {
		return evs
	}
	ip := base
	ip.SrcIP = p.IP.SrcIP
	ip.DstIP = p.IP.DstIP
	ip.Kind = EventIP
	evs = append(evs, ip)
	switch p.IP.Version {
	case 4:
		ip.Kind = EventIPv4
		evs = append(evs, ip)
	case 6:
		ip.Kind = EventIPv6
		evs = append(evs, ip)
	}

	if p.Transport.Protocol == ProtoTCP || p.Transport.Protocol == ProtoUDP {
		tr := ip
		tr.Kind = EventTransport
		tr.SrcPort = p.Transport.SrcPort
		tr.DstPort = p.Transport.DstPort
		evs = append(evs, tr)
		if p.Transport.Protocol == ProtoTCP {
			tr.Kind = EventTCP
			tr.TCPFlags = p.Transport.TCPFlags
		} else {
			tr.Kind = EventUDP
		}
		evs = append(evs, tr)
	}

	if p.ICMP.Present {
		ic := ip
		ic.Kind = EventICMP
		ic.ICMPType = p.ICMP.Type
		ic.ICMPCode = p.ICMP.Code
		evs = append(evs, ic)
	}

	if p.HTTP != nil {
		h := ip
		h.Kind = EventHTTP
		h.Method = p.HTTP.Method
		h.Endpoint = p.HTTP.Endpoint
		evs = append(evs, h)
		if p.HTTP.UserAgent != "" {
			ua := ip
			ua.Kind = EventUserAgent
			ua.UserAgent = p.HTTP.UserAgent
			evs = append(evs, ua)
		}
	}
	return evs
}
