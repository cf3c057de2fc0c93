package publish

import (
	"context"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

// Dispatch hands a hub event to the matching Publisher method. Events with
// other payloads, such as status changes, are ignored.
func Dispatch(pub Publisher, e Event) error {
	switch payload := e.Payload.(type) {
	case models.PacketRecord:
		return pub.PublishPacket(payload)
	case models.Alert:
		return pub.PublishAlert(payload)
	case models.GeoUpdate:
		return pub.PublishGeoUpdate(payload)
	}
	return nil
}

// Forward drains a hub subscription into pub until ctx is done or events is
// closed. onErr, when set, sees every failed delivery.
func Forward(ctx context.Context, events <-chan Event, pub Publisher, onErr func(Event, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := Dispatch(pub, e); err != nil && onErr != nil {
				onErr(e, err)
			}
		}
	}
}
