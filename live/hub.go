// Package live provides an optional websocket broadcast of field
// snapshots for a running Model, for external visualization while a
// simulation advances.
//
// Grounded on Orange-ke's server/hub.go: a Hub struct owning buffered
// request/response channels and a single dispatch goroutine driven by
// select, generalized from one fixed connection to a registered set of
// clients (the standard gorilla/websocket chat-hub shape) so multiple
// viewers can watch the same run.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Snapshot is one broadcast unit: a named field's flat values at time T,
// alongside the grid shape needed to reshape it client-side.
type Snapshot struct {
	RunID  string    `json:"run_id"`
	T      float64   `json:"t"`
	Field  string    `json:"field"`
	R      int       `json:"r"`
	C      int       `json:"c"`
	Values []float64 `json:"values"`
}

type client struct {
	conn *websocket.Conn
	send chan Snapshot
}

// Hub fans a stream of Snapshots out to every registered websocket client.
// Callers push snapshots with Broadcast; Run must be started once in its
// own goroutine and stopped by closing its stop channel.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan Snapshot
}

// NewHub returns an idle Hub; call Run to start dispatching.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Snapshot, 16),
	}
}

// Run drives the hub's dispatch loop until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case snap := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- snap:
				default:
					log.Warn("live: dropping snapshot, slow client send buffer full")
				}
			}
			h.mu.Unlock()
		case <-stop:
			return
		}
	}
}

// Broadcast enqueues a snapshot for delivery to every connected client.
// It does not block on slow clients.
func (h *Hub) Broadcast(snap Snapshot) {
	h.broadcast <- snap
}

// Serve upgrades conn to a hub member and pumps outgoing snapshots to it
// until the connection closes or writeTimeout elapses on a write.
func (h *Hub) Serve(conn *websocket.Conn, writeTimeout time.Duration) {
	c := &client{conn: conn, send: make(chan Snapshot, 16)}
	h.register <- c
	defer func() {
		h.unregister <- c
		conn.Close()
	}()

	for snap := range c.send {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		data, err := json.Marshal(snap)
		if err != nil {
			log.WithError(err).Error("live: marshal snapshot")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.WithError(err).Warn("live: write to client failed, dropping")
			return
		}
	}
}

// ListenAndServe upgrades incoming connections at addr's "/ws" path and
// pumps snapshots to each one via Serve, blocking until the listener
// fails. Mirrors Orange-ke's server.Serve()/serveWs pairing, generalized
// from one fixed connection to Hub's registered client set.
func (h *Hub) ListenAndServe(addr string) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("live: upgrade failed")
			return
		}
		go h.Serve(conn, 10*time.Second)
	})
	return http.ListenAndServe(addr, mux)
}
