package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"linkwatch/internal/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxStreamConnections = 200
const streamWriteDeadline = 5 * time.Second

// Hub fans status events out to websocket clients. A single goroutine owns
// the client set; handlers only hand connections over the channels.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	logger     *zap.SugaredLogger
}

// NewHub builds a Hub.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger.With("component", "stream"),
	}
}

// Run consumes source and broadcasts each event until ctx is cancelled or
// source closes, then drops every client.
func (h *Hub) Run(ctx context.Context, source <-chan events.StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxStreamConnections {
				h.mu.Unlock()
				conn.Close()
				h.logger.Warnw("stream connection rejected", "max", maxStreamConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Infow("stream client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Infow("stream client disconnected", "total", total)

		case ev, ok := <-source:
			if !ok {
				h.shutdown()
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev events.StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		// Write deadline so one dead connection cannot stall the fan-out.
		conn.SetWriteDeadline(time.Now().Add(streamWriteDeadline))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debugw("stream write failed", "error", err)
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Infow("stream hub shutting down", "clients", len(h.clients))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register hands a new connection to the hub loop.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a connection from the hub loop.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth runs before the upgrade; the stream itself is origin-agnostic.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, http.StatusNotImplemented, "status stream disabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	a.hub.Register(conn)

	// Read pump: clients never send data, but reading surfaces closes.
	go func() {
		defer a.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
