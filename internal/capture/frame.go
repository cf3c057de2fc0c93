package capture

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

var (
	defaultSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	defaultDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// FrameSpec describes a synthetic Ethernet/IP frame
type FrameSpec struct {
	Src     string
	Dst     string
	Proto   models.Protocol
	SrcPort int
	DstPort int
	SYN     bool
	TTL     uint8
	Payload []byte
}

// BuildFrame serializes spec into Ethernet + IPv4/IPv6 + TCP/UDP/ICMP bytes.
func BuildFrame(spec FrameSpec) ([]byte, error) {
	srcIP := net.ParseIP(spec.Src)
	dstIP := net.ParseIP(spec.Dst)
	if srcIP == nil || dstIP == nil {
		return nil, fmt.Errorf("invalid addresses %q -> %q", spec.Src, spec.Dst)
	}
	ttl := spec.TTL
	if ttl == 0 {
		ttl = 64
	}
	v4 := srcIP.To4() != nil && dstIP.To4() != nil

	eth := &layers.Ethernet{SrcMAC: defaultSrcMAC, DstMAC: defaultDstMAC}

	var (
		network   gopacket.SerializableLayer
		transport gopacket.SerializableLayer
		proto     layers.IPProtocol
	)

	switch spec.Proto {
	case models.ProtoTCP:
		proto = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(spec.SrcPort),
			DstPort: layers.TCPPort(spec.DstPort),
			SYN:     spec.SYN,
			ACK:     !spec.SYN,
			PSH:     len(spec.Payload) > 0,
			Window:  64240,
		}
		transport = tcp
	case models.ProtoUDP:
		proto = layers.IPProtocolUDP
		transport = &layers.UDP{
			SrcPort: layers.UDPPort(spec.SrcPort),
			DstPort: layers.UDPPort(spec.DstPort),
		}
	case models.ProtoICMP:
		if v4 {
			proto = layers.IPProtocolICMPv4
			transport = &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
		} else {
			proto = layers.IPProtocolICMPv6
			transport = &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)}
		}
	default:
		return nil, fmt.Errorf("unsupported protocol %q", spec.Proto)
	}

	var nl gopacket.NetworkLayer
	if v4 {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{Version: 4, TTL: ttl, Protocol: proto, SrcIP: srcIP.To4(), DstIP: dstIP.To4()}
		network, nl = ip, ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{Version: 6, HopLimit: ttl, NextHeader: proto, SrcIP: srcIP.To16(), DstIP: dstIP.To16()}
		network, nl = ip, ip
	}

	switch t := transport.(type) {
	case *layers.TCP:
		if err := t.SetNetworkLayerForChecksum(nl); err != nil {
			return nil, err
		}
	case *layers.UDP:
		if err := t.SetNetworkLayerForChecksum(nl); err != nil {
			return nil, err
		}
	case *layers.ICMPv6:
		if err := t.SetNetworkLayerForChecksum(nl); err != nil {
			return nil, err
		}
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, transport, gopacket.Payload(spec.Payload)); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// FrameFor synthesizes a frame matching rec. Used when a record arrived
// without its original bytes.
func FrameFor(rec models.PacketRecord) ([]byte, error) {
	proto := rec.Protocol
	switch proto {
	case models.ProtoTCP, models.ProtoUDP, models.ProtoICMP:
	default:
		// carry the payload over UDP so the file stays readable
		proto = models.ProtoUDP
	}
	return BuildFrame(FrameSpec{
		Src:     rec.Src,
		Dst:     rec.Dst,
		Proto:   proto,
		SrcPort: 49152,
		DstPort: rec.DstPort,
		Payload: rec.Payload,
	})
}
