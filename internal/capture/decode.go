// Package capture converts link-layer frames into pipeline records and
// persists capture sessions as pcap files.
package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

// Decode parses an Ethernet frame into a record. ok is false for frames
// without an IP layer.
func Decode(data []byte, ts time.Time) (models.PacketRecord, bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	pkt.Metadata().Timestamp = ts
	pkt.Metadata().Length = len(data)
	pkt.Metadata().CaptureLength = len(data)
	return FromPacket(pkt)
}

// FromPacket extracts the fields the pipeline needs from a decoded packet.
func FromPacket(pkt gopacket.Packet) (models.PacketRecord, bool) {
	var src, dst string
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		src, dst = ip.SrcIP.String(), ip.DstIP.String()
	case *layers.IPv6:
		src, dst = ip.SrcIP.String(), ip.DstIP.String()
	default:
		return models.PacketRecord{}, false
	}

	proto := models.ProtoIP
	port := 0
	var payload []byte
	switch t := pkt.TransportLayer().(type) {
	case *layers.TCP:
		proto, port, payload = models.ProtoTCP, int(t.DstPort), t.LayerPayload()
	case *layers.UDP:
		proto, port, payload = models.ProtoUDP, int(t.DstPort), t.LayerPayload()
	default:
		if pkt.Layer(layers.LayerTypeICMPv4) != nil || pkt.Layer(layers.LayerTypeICMPv6) != nil {
			proto = models.ProtoICMP
		}
	}

	md := pkt.Metadata()
	ts := md.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	length := md.Length
	if length == 0 {
		length = len(pkt.Data())
	}

	rec := models.NewPacketRecord(ts, length, src, dst, proto, port, payload)
	rec.Summary = summarize(rec)
	rec.Frame = pkt.Data()
	return rec, true
}

func summarize(rec models.PacketRecord) string {
	if rec.HasPort() {
		return fmt.Sprintf("%s %s > %s:%d len=%d", rec.Protocol, rec.Src, rec.Dst, rec.DstPort, rec.Length)
	}
	return fmt.Sprintf("%s %s > %s len=%d", rec.Protocol, rec.Src, rec.Dst, rec.Length)
}
