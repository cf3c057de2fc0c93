package publish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10, EventThreat)

	a := models.NewAlert(models.AlertPortScan, models.SeverityHigh, "test", "1.2.3.4", "scan", time.Now())
	require.NoError(t, hub.PublishAlert(a))

	select {
	case e := <-ch:
		assert.Equal(t, EventThreat, e.Type)
		got, ok := e.Payload.(models.Alert)
		require.True(t, ok)
		assert.Equal(t, a.ID, got.ID)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_TypeFilteringAndGlobal(t *testing.T) {
	hub := NewHub()
	packets := hub.Subscribe(10, EventPacket)
	all := hub.Subscribe(10)

	require.NoError(t, hub.PublishPacket(models.PacketRecord{Src: "10.0.0.1"}))
	require.NoError(t, hub.PublishGeoUpdate(models.GeoUpdate{Address: "8.8.8.8"}))

	assert.Len(t, packets, 1)
	assert.Len(t, all, 2)

	e := <-all
	assert.Equal(t, EventPacket, e.Type)
	e = <-all
	assert.Equal(t, EventGeoUpdate, e.Type)
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1, EventPacket)

	for i := 0; i < 3; i++ {
		hub.Publish(Event{Type: EventPacket})
	}

	published, dropped := hub.Stats()
	assert.Equal(t, uint64(3), published)
	assert.Equal(t, uint64(2), dropped)
	assert.Len(t, ch, 1)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10)
	hub.Unsubscribe(ch)

	hub.Publish(Event{Type: EventPacket})
	assert.Len(t, ch, 0)
}

func TestHub_MultiTypeSubscriberAndUnsubscribeKeepsOthers(t *testing.T) {
	hub := NewHub()
	sink := hub.Subscribe(10, EventPacket, EventThreat)
	other := hub.Subscribe(10)

	hub.Publish(Event{Type: EventThreat})
	hub.Publish(Event{Type: EventStatus})
	assert.Len(t, sink, 1)
	assert.Len(t, other, 2)

	hub.Unsubscribe(sink)
	hub.Publish(Event{Type: EventPacket})
	assert.Len(t, sink, 1)
	assert.Len(t, other, 3)
}
