package capture

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

// Ingest is the JSON body accepted by the HTTP ingest endpoint. A raw
// Ethernet frame, when present, takes precedence over the other fields.
type Ingest struct {
	Timestamp  time.Time       `json:"timestamp"`
	Length     int             `json:"len"`
	Src        string          `json:"src"`
	Dst        string          `json:"dst"`
	Protocol   models.Protocol `json:"proto"`
	DstPort    int             `json:"dst_port"`
	Payload    string          `json:"payload,omitempty"`
	PayloadHex string          `json:"payload_hex,omitempty"`
	Frame      []byte          `json:"frame,omitempty"`
}

// ToRecord converts the submission, stamping now when no timestamp was sent.
func (in Ingest) ToRecord(now time.Time) (models.PacketRecord, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}

	if len(in.Frame) > 0 {
		rec, ok := Decode(in.Frame, ts)
		if !ok {
			return models.PacketRecord{}, errors.New("frame has no IP layer")
		}
		return rec, nil
	}

	if in.Src == "" && in.Dst == "" {
		return models.PacketRecord{}, errors.New("src or dst is required")
	}

	payload := []byte(in.Payload)
	if in.PayloadHex != "" {
		b, err := hex.DecodeString(in.PayloadHex)
		if err != nil {
			return models.PacketRecord{}, fmt.Errorf("invalid payload_hex: %w", err)
		}
		payload = b
	}

	length := in.Length
	if length <= 0 {
		length = len(payload)
	}

	proto := in.Protocol
	if proto == "" {
		proto = models.ProtoIP
	}

	rec := models.NewPacketRecord(ts, length, in.Src, in.Dst, proto, in.DstPort, payload)
	rec.Summary = summarize(rec)
	return rec, nil
}
