package detection

import (
	"fmt"
	"regexp"
	"time"

	"github.com/nshruti113/packet-sentinel/internal/clock"
	"github.com/nshruti113/packet-sentinel/internal/models"
)

// HeuristicsSource labels alerts produced by the rule-based detectors
const HeuristicsSource = "Heuristics Engine"

var secretPattern = regexp.MustCompile(`(?i)(password|passwd|api_key|secret)=`)

// Thresholds tunes the windowed detectors
type Thresholds struct {
	Window            time.Duration
	PortScanThreshold int
	VolumeThreshold   int64
}

// DefaultThresholds returns 10 ports / 1 MB per 10 second window.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window:            10 * time.Second,
		PortScanThreshold: 10,
		VolumeThreshold:   1_000_000,
	}
}

// Heuristics runs the port-scan, volume and secret-leak detectors.
// Not safe for concurrent use; the pipeline is its only caller.
type Heuristics struct {
	thresholds Thresholds
	clock      clock.Clock

	windowStart time.Time
	ports       map[string]map[int]struct{}
	bytes       map[string]int64
}

func NewHeuristics(t Thresholds, c clock.Clock) *Heuristics {
	c = clock.OrReal(c)
	return &Heuristics{
		thresholds:  t,
		clock:       c,
		windowStart: c.Now(),
		ports:       make(map[string]map[int]struct{}),
		bytes:       make(map[string]int64),
	}
}

// Observe feeds one record through every detector and returns the alerts it raised
func (h *Heuristics) Observe(rec models.PacketRecord) []models.Alert {
	now := h.clock.Now()
	h.rollover(now)

	var alerts []models.Alert

	if rec.Src != "" {
		if alert := h.detectPortScan(rec, now); alert != nil {
			alerts = append(alerts, *alert)
		}
		if alert := h.detectVolume(rec, now); alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	if alert := detectSecret(rec, now); alert != nil {
		alerts = append(alerts, *alert)
	}

	return alerts
}

// rollover clears every source once the window has expired
func (h *Heuristics) rollover(now time.Time) {
	if now.Sub(h.windowStart) <= h.thresholds.Window {
		return
	}
	clear(h.ports)
	clear(h.bytes)
	h.windowStart = now
}

func (h *Heuristics) detectPortScan(rec models.PacketRecord, now time.Time) *models.Alert {
	if !rec.HasPort() {
		return nil
	}

	set, ok := h.ports[rec.Src]
	if !ok {
		set = make(map[int]struct{})
		h.ports[rec.Src] = set
	}
	set[rec.DstPort] = struct{}{}

	if len(set) <= h.thresholds.PortScanThreshold {
		return nil
	}

	count := len(set)
	// re-arm so one burst yields one alert
	delete(h.ports, rec.Src)

	alert := models.NewAlert(models.AlertPortScan, models.SeverityHigh, HeuristicsSource, rec.Src,
		fmt.Sprintf("Port scan detected from %s (targets: %d ports)", rec.Src, count), now)
	alert.Ports = count
	return &alert
}

func (h *Heuristics) detectVolume(rec models.PacketRecord, now time.Time) *models.Alert {
	if rec.Length <= 0 {
		return nil
	}

	total := h.bytes[rec.Src] + int64(rec.Length)
	if total <= h.thresholds.VolumeThreshold {
		h.bytes[rec.Src] = total
		return nil
	}

	h.bytes[rec.Src] = 0

	alert := models.NewAlert(models.AlertHighVolume, models.SeverityMedium, HeuristicsSource, rec.Src,
		fmt.Sprintf("High traffic volume from %s (%d bytes in %s)", rec.Src, total, h.thresholds.Window), now)
	alert.Bytes = total
	return &alert
}

func detectSecret(rec models.PacketRecord, now time.Time) *models.Alert {
	if !rec.HasPayload() || !secretPattern.Match(rec.Payload) {
		return nil
	}
	alert := models.NewAlert(models.AlertSensitiveData, models.SeverityCritical, HeuristicsSource, rec.Src,
		fmt.Sprintf("Potential cleartext secret found in packet from %s", rec.Src), now)
	return &alert
}

// SourceState is the windowed state tracked for one source address
type SourceState struct {
	Ports int
	Bytes int64
}

// Snapshot returns what the current window holds for src
func (h *Heuristics) Snapshot(src string) SourceState {
	return SourceState{
		Ports: len(h.ports[src]),
		Bytes: h.bytes[src],
	}
}
