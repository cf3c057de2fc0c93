package models

import (
	"encoding/hex"
	"net/netip"
	"time"
)

// Protocol is the coarse protocol tag attached to a packet
type Protocol string

const (
	ProtoIP    Protocol = "IP"
	ProtoTCP   Protocol = "TCP"
	ProtoUDP   Protocol = "UDP"
	ProtoICMP  Protocol = "ICMP"
	ProtoOther Protocol = "Other"
)

// PacketRecord is the normalized unit flowing through the pipeline
type PacketRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Length       int       `json:"len"`
	Summary      string    `json:"summary,omitempty"`
	Src          string    `json:"src"`
	Dst          string    `json:"dst"`
	Protocol     Protocol  `json:"proto"`
	DstPort      int       `json:"dst_port,omitempty"`
	Payload      []byte    `json:"-"`
	PayloadHex   string    `json:"payload_hex,omitempty"`
	PayloadASCII string    `json:"payload_ascii,omitempty"`
	Geo          string    `json:"geo,omitempty"`
	Lat          *float64  `json:"lat,omitempty"`
	Lon          *float64  `json:"lon,omitempty"`

	// Frame holds the raw captured bytes when the record came from a frame
	// source. Only the session recorder reads it.
	Frame []byte `json:"-"`
}

// NewPacketRecord builds a normalized record
func NewPacketRecord(ts time.Time, length int, src, dst string, proto Protocol, dstPort int, payload []byte) PacketRecord {
	rec := PacketRecord{
		Timestamp: ts,
		Length:    length,
		Src:       src,
		Dst:       dst,
		Protocol:  proto,
		DstPort:   dstPort,
		Payload:   payload,
	}
	rec.Normalize()
	return rec
}

// HasPort reports whether a destination port was extracted
func (p *PacketRecord) HasPort() bool {
	return p.DstPort > 0
}

// HasPayload reports whether the record carries raw payload bytes
func (p *PacketRecord) HasPayload() bool {
	return len(p.Payload) > 0
}

// Normalize enforces the record invariants: TCP/UDP tags require a port,
// and preview fields exist exactly when a payload does.
func (p *PacketRecord) Normalize() {
	switch p.Protocol {
	case ProtoTCP, ProtoUDP:
		if !p.HasPort() {
			p.Protocol = ProtoIP
		}
	case ProtoIP, ProtoICMP, ProtoOther:
	default:
		p.Protocol = ProtoOther
	}
	if p.DstPort < 0 || p.DstPort > 65535 {
		p.DstPort = 0
	}

	if p.HasPayload() {
		p.PayloadHex = hex.EncodeToString(p.Payload)
		p.PayloadASCII = PrintableASCII(p.Payload)
	} else {
		p.Payload = nil
		p.PayloadHex = ""
		p.PayloadASCII = ""
	}
}

// WithGeo returns a copy of the record with geo display fields filled in
func (p PacketRecord) WithGeo(g GeoResult) PacketRecord {
	p.Geo = g.Label()
	p.Lat, p.Lon = nil, nil
	if g.Kind == GeoResolved {
		lat, lon := g.Lat, g.Lon
		p.Lat = &lat
		p.Lon = &lon
	}
	return p
}

// PrintableASCII maps every byte outside the printable ASCII range to '.'
func PrintableASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 32 && c < 127 {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

// IsPublicAddress reports whether addr is a routable unicast address worth
// enriching or checking. Unparsable strings are not public.
func IsPublicAddress(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	return !(ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified())
}
