package capture

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

func TestDecode(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		spec    FrameSpec
		proto   models.Protocol
		port    int
		payload string
	}{
		{
			name:    "tcp with payload",
			spec:    FrameSpec{Src: "192.168.1.5", Dst: "93.184.216.34", Proto: models.ProtoTCP, SrcPort: 50000, DstPort: 80, Payload: []byte("username=admin&password=Secret1")},
			proto:   models.ProtoTCP,
			port:    80,
			payload: "username=admin&password=Secret1",
		},
		{
			name:  "tcp syn",
			spec:  FrameSpec{Src: "192.168.1.5", Dst: "10.0.0.1", Proto: models.ProtoTCP, SrcPort: 40000, DstPort: 22, SYN: true},
			proto: models.ProtoTCP,
			port:  22,
		},
		{
			name:    "udp dns",
			spec:    FrameSpec{Src: "192.168.1.5", Dst: "8.8.8.8", Proto: models.ProtoUDP, SrcPort: 5353, DstPort: 53, Payload: []byte("query")},
			proto:   models.ProtoUDP,
			port:    53,
			payload: "query",
		},
		{
			name:  "icmp",
			spec:  FrameSpec{Src: "192.168.1.5", Dst: "1.1.1.1", Proto: models.ProtoICMP},
			proto: models.ProtoICMP,
		},
		{
			name:    "ipv6 tcp",
			spec:    FrameSpec{Src: "fe80::1", Dst: "2001:4860:4860::8888", Proto: models.ProtoTCP, SrcPort: 50000, DstPort: 443, Payload: []byte("hi")},
			proto:   models.ProtoTCP,
			port:    443,
			payload: "hi",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := BuildFrame(tc.spec)
			require.NoError(t, err)

			rec, ok := Decode(frame, ts)
			require.True(t, ok)
			assert.Equal(t, ts, rec.Timestamp)
			assert.Equal(t, len(frame), rec.Length)
			assert.Equal(t, net.ParseIP(tc.spec.Src).String(), rec.Src)
			assert.Equal(t, net.ParseIP(tc.spec.Dst).String(), rec.Dst)
			assert.Equal(t, tc.proto, rec.Protocol)
			assert.Equal(t, tc.port, rec.DstPort)
			assert.Equal(t, tc.payload, string(rec.Payload))
			assert.Equal(t, frame, rec.Frame)
			assert.NotEmpty(t, rec.Summary)
		})
	}
}

func TestDecode_NonIP(t *testing.T) {
	eth := layers.Ethernet{
		SrcMAC:       defaultSrcMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(defaultSrcMAC),
		SourceProtAddress: []byte{192, 168, 1, 5},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{192, 168, 1, 1},
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, &eth, &arp))

	_, ok := Decode(buf.Bytes(), time.Now())
	assert.False(t, ok)
}

func TestBuildFrame_Errors(t *testing.T) {
	_, err := BuildFrame(FrameSpec{Src: "nope", Dst: "8.8.8.8", Proto: models.ProtoTCP})
	assert.Error(t, err)

	_, err = BuildFrame(FrameSpec{Src: "10.0.0.1", Dst: "8.8.8.8", Proto: models.ProtoOther})
	assert.Error(t, err)
}
