// Package decoder implements L2-L7 decoding of captured frames on top of gopacket.
package decoder

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/pcapminer/internal/core"
)

// Decoder decodes raw packets into structured format.
type Decoder interface {
	Decode(raw core.RawPacket) (core.DecodedPacket, error)
}

// Config controls optional decoding stages.
type Config struct {
	LinkType  layers.LinkType
	ParseHTTP bool
}

// StandardDecoder decodes Ethernet / Linux SLL / raw IP frames down to
// TCP, UDP and ICMPv4, and optionally HTTP request lines.
// It reuses its layer buffers and is not safe for concurrent use.
type StandardDecoder struct {
	cfg Config

	eth   layers.Ethernet
	sll   layers.LinuxSLL
	dot1q layers.Dot1Q
	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP
	udp   layers.UDP
	icmp  layers.ICMPv4

	parsers map[gopacket.LayerType]*gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewStandardDecoder creates a decoder for the configured link type.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	if cfg.LinkType == 0 {
		cfg.LinkType = layers.LinkTypeEthernet
	}
	d := &StandardDecoder{
		cfg:     cfg,
		parsers: make(map[gopacket.LayerType]*gopacket.DecodingLayerParser, 4),
		decoded: make([]gopacket.LayerType, 0, 8),
	}
	for _, first := range []gopacket.LayerType{
		layers.LayerTypeEthernet, layers.LayerTypeLinuxSLL, layers.LayerTypeIPv4, layers.LayerTypeIPv6,
	} {
		p := gopacket.NewDecodingLayerParser(first,
			&d.eth, &d.sll, &d.dot1q, &d.ip4, &d.ip6, &d.tcp, &d.udp, &d.icmp)
		p.IgnoreUnsupported = true
		d.parsers[first] = p
	}
	return d
}

// firstLayer maps the capture link type to the first decoding layer.
func (d *StandardDecoder) firstLayer(data []byte) (gopacket.LayerType, error) {
	switch d.cfg.LinkType {
	case layers.LinkTypeEthernet:
		return layers.LayerTypeEthernet, nil
	case layers.LinkTypeLinuxSLL:
		return layers.LayerTypeLinuxSLL, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		if len(data) == 0 {
			return 0, core.ErrPacketTooShort
		}
		if data[0]>>4 == 6 {
			return layers.LayerTypeIPv6, nil
		}
		return layers.LayerTypeIPv4, nil
	default:
		return 0, fmt.Errorf("link type %s: %w", d.cfg.LinkType, core.ErrUnsupportedProto)
	}
}

// Decode decodes one frame. Layers decoded before a truncation are kept;
// an error is returned only when not even the link layer could be read.
func (d *StandardDecoder) Decode(raw core.RawPacket) (core.DecodedPacket, error) {
	out := core.DecodedPacket{
		Timestamp: raw.Timestamp,
		OrigLen:   raw.OrigLen,
	}
	first, err := d.firstLayer(raw.Data)
	if err != nil {
		return out, err
	}

	d.decoded = d.decoded[:0]
	parseErr := d.parsers[first].DecodeLayers(raw.Data, &d.decoded)
	if len(d.decoded) == 0 {
		if parseErr == nil {
			parseErr = core.ErrPacketTooShort
		}
		return out, fmt.Errorf("decode %s: %w", first, parseErr)
	}

	var payload []byte
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeEthernet:
			copy(out.Ethernet.SrcMAC[:], d.eth.SrcMAC)
			copy(out.Ethernet.DstMAC[:], d.eth.DstMAC)
			out.Ethernet.EtherType = uint16(d.eth.EthernetType)
		case layers.LayerTypeDot1Q:
			out.Ethernet.VLANs = append(out.Ethernet.VLANs, d.dot1q.VLANIdentifier)
			out.Ethernet.EtherType = uint16(d.dot1q.Type)
		case layers.LayerTypeIPv4:
			out.IP.Version = 4
			out.IP.SrcIP, _ = netip.AddrFromSlice(d.ip4.SrcIP.To4())
			out.IP.DstIP, _ = netip.AddrFromSlice(d.ip4.DstIP.To4())
			out.IP.Protocol = uint8(d.ip4.Protocol)
			out.IP.TotalLen = d.ip4.Length
		case layers.LayerTypeIPv6:
			out.IP.Version = 6
			out.IP.SrcIP, _ = netip.AddrFromSlice(d.ip6.SrcIP)
			out.IP.DstIP, _ = netip.AddrFromSlice(d.ip6.DstIP)
			out.IP.Protocol = uint8(d.ip6.NextHeader)
			out.IP.TotalLen = d.ip6.Length
		case layers.LayerTypeTCP:
			out.Transport = core.TransportHeader{
				SrcPort:  uint16(d.tcp.SrcPort),
				DstPort:  uint16(d.tcp.DstPort),
				Protocol: core.ProtoTCP,
				TCPFlags: tcpFlags(&d.tcp),
			}
			payload = d.tcp.LayerPayload()
		case layers.LayerTypeUDP:
			out.Transport = core.TransportHeader{
				SrcPort:  uint16(d.udp.SrcPort),
				DstPort:  uint16(d.udp.DstPort),
				Protocol: core.ProtoUDP,
			}
		case layers.LayerTypeICMPv4:
			out.ICMP = core.ICMPHeader{
				Present: true,
				Type:    d.icmp.TypeCode.Type(),
				Code:    d.icmp.TypeCode.Code(),
			}
		}
	}

	if d.cfg.ParseHTTP && len(payload) > 0 {
		out.HTTP = ParseHTTPRequest(payload)
	}
	return out, nil
}

func tcpFlags(t *layers.TCP) uint8 {
	var f uint8
	if t.FIN {
		f |= core.TCPFlagFIN
	}
	if t.SYN {
		f |= core.TCPFlagSYN
	}
	if t.RST {
		f |= core.TCPFlagRST
	}
	if t.PSH {
		f |= core.TCPFlagPSH
	}
	if t.ACK {
		f |= core.TCPFlagACK
	}
	if t.URG {
		f |= core.TCPFlagURG
	}
	return f
}
