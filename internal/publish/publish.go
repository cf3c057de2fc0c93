// Package publish delivers processed records, alerts and late geo results
// to whoever is watching: in-process subscribers, WebSocket clients and
// external sinks.
package publish

import (
	"errors"
	"time"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

// Publisher is the outbound sink of the pipeline. Implementations must be
// safe for concurrent use; geo updates arrive from background workers.
type Publisher interface {
	PublishPacket(rec models.PacketRecord) error
	PublishAlert(a models.Alert) error
	PublishGeoUpdate(u models.GeoUpdate) error
}

// EventType names an outbound event on the wire
type EventType string

const (
	EventPacket    EventType = "packet"
	EventThreat    EventType = "threat"
	EventGeoUpdate EventType = "geo_update"
	EventStatus    EventType = "status"
)

// Event wraps one outbound payload
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

func NewEvent(t EventType, payload interface{}) Event {
	return Event{Type: t, Timestamp: time.Now(), Payload: payload}
}

// Multi fans every event out to each publisher in order. All publishers are
// attempted; their errors are joined.
type Multi []Publisher

func (m Multi) PublishPacket(rec models.PacketRecord) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishPacket(rec))
	}
	return errors.Join(errs...)
}

func (m Multi) PublishAlert(a models.Alert) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishAlert(a))
	}
	return errors.Join(errs...)
}

func (m Multi) PublishGeoUpdate(u models.GeoUpdate) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishGeoUpdate(u))
	}
	return errors.Join(errs...)
}

// Nop discards everything
type Nop struct{}

func (Nop) PublishPacket(models.PacketRecord) error { return nil }
func (Nop) PublishAlert(models.Alert) error         { return nil }
func (Nop) PublishGeoUpdate(models.GeoUpdate) error { return nil }
