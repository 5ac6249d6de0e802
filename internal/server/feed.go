package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/memclaw/internal/bus"
)

const (
	feedSendBuffer = 32
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
)

// Feed pushes capture lifecycle events to WebSocket clients. Slow clients
// are disconnected rather than allowed to stall the broadcast path.
type Feed struct {
	events bus.EventPublisher
	log    *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]chan bus.Event
}

func NewFeed(events bus.EventPublisher, log *slog.Logger) *Feed {
	return &Feed{
		events: events,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local dashboard tooling; no browser origin policy to enforce.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]chan bus.Event),
	}
}

// Start subscribes the feed to the event bus.
func (f *Feed) Start() {
	f.events.Subscribe("ws-feed", f.dispatch)
}

// Stop unsubscribes and closes every client.
func (f *Feed) Stop() {
	f.events.Unsubscribe("ws-feed")
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
	}
}

func (f *Feed) dispatch(e bus.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		select {
		case ch <- e:
		default:
			f.log.Warn("ws.client_slow", "client_id", id)
			close(ch)
			delete(f.clients, id)
		}
	}
}

func (f *Feed) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("ws.upgrade_failed", "error", err)
		return
	}

	id := uuid.NewString()
	ch := make(chan bus.Event, feedSendBuffer)
	f.mu.Lock()
	f.clients[id] = ch
	f.mu.Unlock()
	f.log.Info("ws.connected", "client_id", id, "remote", r.RemoteAddr)

	go f.writeLoop(id, conn, ch)
	f.readLoop(id, conn)
}

// readLoop discards inbound frames; its job is noticing disconnects.
func (f *Feed) readLoop(id string, conn *websocket.Conn) {
	defer f.drop(id)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(id string, conn *websocket.Conn, ch <-chan bus.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) drop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		f.log.Info("ws.disconnected", "client_id", id)
	}
}
