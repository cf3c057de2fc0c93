package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPacketRecord_Normalize(t *testing.T) {
	now := time.Now()

	t.Run("TCP without port is downgraded", func(t *testing.T) {
		rec := NewPacketRecord(now, 60, "1.2.3.4", "5.6.7.8", ProtoTCP, 0, nil)
		assert.Equal(t, ProtoIP, rec.Protocol)
		assert.False(t, rec.HasPort())
	})

	t.Run("UDP with port is kept", func(t *testing.T) {
		rec := NewPacketRecord(now, 60, "1.2.3.4", "5.6.7.8", ProtoUDP, 53, nil)
		assert.Equal(t, ProtoUDP, rec.Protocol)
		assert.Equal(t, 53, rec.DstPort)
	})

	t.Run("unknown protocol becomes Other", func(t *testing.T) {
		rec := NewPacketRecord(now, 60, "1.2.3.4", "5.6.7.8", Protocol("SCTP"), 0, nil)
		assert.Equal(t, ProtoOther, rec.Protocol)
	})

	t.Run("preview present iff payload present", func(t *testing.T) {
		rec := NewPacketRecord(now, 70, "1.2.3.4", "5.6.7.8", ProtoTCP, 80, []byte("GET /\r\n\x00"))
		assert.Equal(t, "474554202f0d0a00", rec.PayloadHex)
		assert.Equal(t, "GET /...", rec.PayloadASCII)

		empty := NewPacketRecord(now, 70, "1.2.3.4", "5.6.7.8", ProtoTCP, 80, []byte{})
		assert.Empty(t, empty.PayloadHex)
		assert.Empty(t, empty.PayloadASCII)
		assert.Nil(t, empty.Payload)
	})
}

func TestWithGeo(t *testing.T) {
	rec := NewPacketRecord(time.Now(), 60, "10.0.0.2", "8.8.8.8", ProtoUDP, 53, nil)

	resolved := rec.WithGeo(Resolved("US", "Mountain View", 37.4, -122.1))
	assert.Equal(t, "US Mountain View", resolved.Geo)
	if assert.NotNil(t, resolved.Lat) && assert.NotNil(t, resolved.Lon) {
		assert.InDelta(t, 37.4, *resolved.Lat, 1e-9)
		assert.InDelta(t, -122.1, *resolved.Lon, 1e-9)
	}

	pending := rec.WithGeo(Unresolved)
	assert.Equal(t, "Resolving...", pending.Geo)
	assert.Nil(t, pending.Lat)

	assert.Equal(t, "Local Network", rec.WithGeo(LocalNetwork).Geo)
	assert.Equal(t, "Unknown", rec.WithGeo(FailedGeo).Geo)
}

func TestIsPublicAddress(t *testing.T) {
	cases := map[string]bool{
		"8.8.8.8":          true,
		"1.2.3.4":          true,
		"2001:4860::8888":  true,
		"10.0.0.1":         false,
		"192.168.1.5":      false,
		"172.16.4.4":       false,
		"127.0.0.1":        false,
		"169.254.10.1":     false,
		"::1":              false,
		"fe80::1":          false,
		"224.0.0.251":      false,
		"0.0.0.0":          false,
		"::ffff:10.0.0.1":  false,
		"N/A":              false,
		"":                 false,
	}
	for addr, want := range cases {
		assert.Equal(t, want, IsPublicAddress(addr), addr)
	}
}

func TestAlertTypes(t *testing.T) {
	types := AlertTypes()
	assert.Len(t, types, 5)

	a := NewAlert(AlertPortScan, SeverityHigh, "Heuristics", "1.2.3.4", "scan", time.Now())
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, AlertPortScan, a.Type)
}
