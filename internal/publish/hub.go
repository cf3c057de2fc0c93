package publish

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

type subscriber struct {
	ch    chan Event
	types []EventType // empty means every type
}

func (s *subscriber) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Hub is the in-process fan-out point of the pipeline. Publishing never
// blocks: a subscriber whose buffer is full misses the event and the drop
// is counted. Slow sinks (WebSocket clients, Redis) read from their own
// subscription instead of sitting on the packet path.
type Hub struct {
	mu   sync.RWMutex
	subs []*subscriber

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{}
}

// Publish delivers e to every interested subscriber
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered channel for the given event types, or for
// every event when none are given. The caller must keep draining it.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	s := &subscriber{ch: make(chan Event, bufSize), types: types}

	h.mu.Lock()
	h.subs = append(h.subs, s)
	h.mu.Unlock()
	return s.ch
}

// Unsubscribe stops delivery to ch. The channel is left open.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = slices.DeleteFunc(h.subs, func(s *subscriber) bool {
		return (<-chan Event)(s.ch) == ch
	})
}

// Stats returns how many events were published and how many deliveries
// were dropped.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

func (h *Hub) PublishPacket(rec models.PacketRecord) error {
	h.Publish(NewEvent(EventPacket, rec))
	return nil
}

func (h *Hub) PublishAlert(a models.Alert) error {
	h.Publish(NewEvent(EventThreat, a))
	return nil
}

func (h *Hub) PublishGeoUpdate(u models.GeoUpdate) error {
	h.Publish(NewEvent(EventGeoUpdate, u))
	return nil
}
