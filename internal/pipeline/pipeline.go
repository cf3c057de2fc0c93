// Package pipeline drives each captured record through enrichment and the
// detectors, then hands the enriched record and its alerts to the publisher.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nshruti113/packet-sentinel/internal/clock"
	"github.com/nshruti113/packet-sentinel/internal/logging"
	"github.com/nshruti113/packet-sentinel/internal/metrics"
	"github.com/nshruti113/packet-sentinel/internal/models"
	"github.com/nshruti113/packet-sentinel/internal/publish"
)

// State is the capture session state
type State int

const (
	Idle State = iota
	Capturing
)

func (s State) String() string {
	if s == Capturing {
		return "capturing"
	}
	return "idle"
}

// GeoResolver returns the best known location for an address without blocking
type GeoResolver interface {
	Resolve(addr string) models.GeoResult
}

// ThreatChecker flags listed destinations
type ThreatChecker interface {
	Check(addr string) *models.Alert
}

// RuleDetector runs stateful rules over each record
type RuleDetector interface {
	Observe(rec models.PacketRecord) []models.Alert
}

// AnomalyDetector scores each record against learned traffic
type AnomalyDetector interface {
	Observe(rec models.PacketRecord) *models.Alert
}

// Recorder persists the records of one capture session
type Recorder interface {
	Record(rec models.PacketRecord) error
	Close() error
}

// RecorderFactory opens a fresh recorder at the start of each session
type RecorderFactory func() (Recorder, error)

// Components are the collaborators of a Pipeline. Only Publisher is
// required; nil detectors are skipped.
type Components struct {
	Geo         GeoResolver
	ThreatIntel ThreatChecker
	Heuristics  RuleDetector
	Anomaly     AnomalyDetector
	Publisher   publish.Publisher
	Recorder    RecorderFactory
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Status is a point-in-time view of the pipeline
type Status struct {
	State        string     `json:"state"`
	Capturing    bool       `json:"capturing"`
	Processed    uint64     `json:"processed"`
	Dropped      uint64     `json:"dropped"`
	Alerts       uint64     `json:"alerts"`
	SessionStart *time.Time `json:"session_start,omitempty"`
}

// Pipeline owns the capture state machine. Process is serialized so several
// ingestion paths can feed it without racing on detector state.
type Pipeline struct {
	c      Components
	clock  clock.Clock
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	recorder     Recorder
	sessionStart time.Time
	processed    uint64
	dropped      uint64
	alerts       uint64
}

func New(c Components) *Pipeline {
	if c.Publisher == nil {
		c.Publisher = publish.Nop{}
	}
	return &Pipeline{
		c:      c,
		clock:  clock.OrReal(c.Clock),
		logger: logging.OrNop(c.Logger).Named("pipeline"),
	}
}

// Start begins a capture session. It is a no-op while capturing.
// Detector, geo and anomaly state carry over from earlier sessions.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Capturing {
		return nil
	}

	if p.c.Recorder != nil {
		rec, err := p.c.Recorder()
		if err != nil {
			return fmt.Errorf("failed to open session recorder: %w", err)
		}
		p.recorder = rec
	}

	p.state = Capturing
	p.sessionStart = p.clock.Now()
	p.logger.Info("capture started")
	return nil
}

// Stop ends the session and closes the recorder. It is a no-op when idle.
// Background geo lookups and blocklist refreshes keep running.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Idle {
		return nil
	}
	p.state = Idle

	var err error
	if p.recorder != nil {
		if err = p.recorder.Close(); err != nil {
			err = fmt.Errorf("failed to close session recorder: %w", err)
		}
		p.recorder = nil
	}
	p.logger.Info("capture stopped", zap.Uint64("processed", p.processed), zap.Uint64("alerts", p.alerts))
	return err
}

// State returns the current session state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Process runs one record through geo enrichment, the blocklist, the rule
// detectors and the anomaly scorer, then publishes the record followed by
// its alerts. ok is false when the record was dropped because no session
// is active.
func (p *Pipeline) Process(rec models.PacketRecord) (out models.PacketRecord, alerts []models.Alert, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Capturing {
		p.dropped++
		return rec, nil, false
	}

	rec.Normalize()

	geo := models.Unresolved
	if p.c.Geo != nil {
		geo = p.c.Geo.Resolve(rec.Dst)
	}
	rec = rec.WithGeo(geo)

	if p.c.ThreatIntel != nil {
		if a := p.c.ThreatIntel.Check(rec.Dst); a != nil {
			alerts = append(alerts, *a)
		}
	}
	if p.c.Heuristics != nil {
		alerts = append(alerts, p.c.Heuristics.Observe(rec)...)
	}
	if p.c.Anomaly != nil {
		if a := p.c.Anomaly.Observe(rec); a != nil {
			alerts = append(alerts, *a)
		}
	}

	if p.recorder != nil {
		if err := p.recorder.Record(rec); err != nil {
			p.logger.Warn("failed to record packet", zap.Error(err))
		}
	}

	p.processed++
	p.alerts += uint64(len(alerts))
	metrics.ObservePacket(rec.Protocol)

	if err := p.c.Publisher.PublishPacket(rec); err != nil {
		metrics.ObservePublishError(string(publish.EventPacket))
		p.logger.Warn("failed to publish packet", zap.Error(err))
	}
	for _, a := range alerts {
		metrics.ObserveAlert(a)
		p.logger.Info("threat detected",
			zap.String("type", string(a.Type)),
			zap.String("level", string(a.Severity)),
			zap.String("source", a.Source),
			zap.String("message", a.Message))
		if err := p.c.Publisher.PublishAlert(a); err != nil {
			metrics.ObservePublishError(string(publish.EventThreat))
			p.logger.Warn("failed to publish alert", zap.String("id", a.ID), zap.Error(err))
		}
	}

	return rec, alerts, true
}

// Run processes records from in until ctx is cancelled or in is closed.
func (p *Pipeline) Run(ctx context.Context, in <-chan models.PacketRecord) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			p.Process(rec)
		}
	}
}

// Status returns counters and the session state
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		State:     p.state.String(),
		Capturing: p.state == Capturing,
		Processed: p.processed,
		Dropped:   p.dropped,
		Alerts:    p.alerts,
	}
	if p.state == Capturing {
		start := p.sessionStart
		s.SessionStart = &start
	}
	return s
}
