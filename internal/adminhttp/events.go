package adminhttp

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ReloadEvent is one message on the /admin/events websocket stream: a reload
// attempt concluded, with the snapshot id, outcome, worker counts and
// duration the audit log also persists (but not its error message).
type ReloadEvent struct {
	SnapshotID uint64 `json:"snapshot_id"`
	Outcome    string `json:"outcome"`
	Workers    int    `json:"workers"`
	Adopted    int    `json:"adopted"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// EventHub fans reload events out to connected websocket subscribers.
// A slow subscriber misses events rather than blocking the control loop's
// broadcast; it stays connected.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan ReloadEvent
}

// NewEventHub returns an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The admin plane is not exposed cross-origin; accept all.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]chan ReloadEvent),
	}
}

// Broadcast delivers ev to every connected subscriber without blocking:
// a subscriber whose buffer is full misses the event.
func (h *EventHub) Broadcast(ev ReloadEvent) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping reload event for slow websocket subscriber", "remote", conn.RemoteAddr().String())
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams reload events until the client
// disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan ReloadEvent, 16)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	h.logger.Info("reload event subscriber connected", "remote", conn.RemoteAddr().String())

	done := make(chan struct{})

	// Reader goroutine: we never expect client messages, but reading is how
	// websocket close frames and dead peers are detected.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("reload event subscriber disconnected", "remote", conn.RemoteAddr().String())
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
