package publish

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nshruti113/packet-sentinel/internal/logging"
	"github.com/nshruti113/packet-sentinel/internal/models"
)

const writeWait = 5 * time.Second

// WSBroadcaster pushes every event to all connected WebSocket clients as
// JSON. Clients that fail a write are dropped.
type WSBroadcaster struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewWSBroadcaster(logger *zap.Logger) *WSBroadcaster {
	return &WSBroadcaster{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logging.OrNop(logger).Named("ws"),
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away.
func (b *WSBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	b.mu.Lock()
	b.clients[conn] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
	}()

	b.logger.Info("websocket client connected", zap.String("remote", r.RemoteAddr))

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			b.logger.Debug("websocket client gone", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
	}
}

// Clients returns the number of connected clients
func (b *WSBroadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends e to every client. It reports an error only when at
// least one client failed.
func (b *WSBroadcaster) Broadcast(e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var failed int
	for client := range b.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteJSON(e); err != nil {
			b.logger.Warn("websocket write failed", zap.Error(err))
			client.Close()
			delete(b.clients, client)
			failed++
		}
	}
	if failed > 0 {
		return errors.New("websocket broadcast: client write failed")
	}
	return nil
}

func (b *WSBroadcaster) PublishPacket(rec models.PacketRecord) error {
	return b.Broadcast(NewEvent(EventPacket, rec))
}

func (b *WSBroadcaster) PublishAlert(a models.Alert) error {
	return b.Broadcast(NewEvent(EventThreat, a))
}

func (b *WSBroadcaster) PublishGeoUpdate(u models.GeoUpdate) error {
	return b.Broadcast(NewEvent(EventGeoUpdate, u))
}

// Pump forwards hub events to the clients until ctx is done or events is
// closed, so slow sockets never hold up the publisher.
func (b *WSBroadcaster) Pump(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = b.Broadcast(e)
		}
	}
}

// Close disconnects every client
func (b *WSBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		client.Close()
		delete(b.clients, client)
	}
}
