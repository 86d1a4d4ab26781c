/*package stream pushes per-step diagnostics of a running simulation to
WebSocket clients as JSON frames.
*/
package stream

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oyin-bo/three-g-sub002/diag"
	"github.com/oyin-bo/three-g-sub002/sim"
	"github.com/oyin-bo/three-g-sub002/traversal"
)

// Frame is the message sent to clients after a step.
type Frame struct {
	Type    string          `json:"type"`
	Step    int             `json:"step"`
	Bounds  [2][3]float64   `json:"bounds"`
	Summary diag.Summary    `json:"summary"`
	Drift   diag.Drift      `json:"drift"`
	Stats   traversal.Stats `json:"stats"`
}

// NewFrame describes the current state of s, with drift measured from
// start.
func NewFrame(s *sim.Simulation, start diag.Summary) Frame {
	now := diag.Summarize(s.Positions(), s.Velocities())
	b := s.Bounds()
	return Frame{
		Type: "step",
		Step: s.Steps(),
		Bounds: [2][3]float64{
			{b.Min.X, b.Min.Y, b.Min.Z}, {b.Max.X, b.Max.Y, b.Max.Z},
		},
		Summary: now,
		Drift:   diag.Compare(s.Steps(), start, now),
		Stats:   s.Stats(),
	}
}

// Control is a message sent from a client.
type Control struct {
	Paused *bool `json:"paused"`
}

// Hub tracks connected clients and broadcasts frames to them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
	last    *Frame
	paused  bool
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// ServeHTTP upgrades the request to a WebSocket and sends it every frame
// broadcast until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}
	defer conn.Close()

	connMutex := &sync.Mutex{}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[conn] = connMutex
	last := h.last
	h.mu.Unlock()
	defer h.remove(conn)

	if last != nil {
		connMutex.Lock()
		err := conn.WriteJSON(last)
		connMutex.Unlock()
		if err != nil {
			return
		}
	}

	for {
		var msg Control
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Paused != nil {
			h.mu.Lock()
			h.paused = *msg.Paused
			h.mu.Unlock()
		}
	}
}

// remove drops conn. The run resumes once the last client has gone.
func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	if len(h.clients) == 0 {
		h.paused = false
	}
	h.mu.Unlock()
}

// Broadcast sends f to every client. Clients which fail are dropped.
func (h *Hub) Broadcast(f Frame) {
	h.mu.Lock()
	h.last = &f
	h.mu.Unlock()

	h.mu.RLock()
	failed := []*websocket.Conn{}
	for client, mutex := range h.clients {
		mutex.Lock()
		err := client.WriteJSON(f)
		mutex.Unlock()
		if err != nil {
			log.Println("WebSocket write error:", err)
			client.Close()
			failed = append(failed, client)
		}
	}
	h.mu.RUnlock()

	if len(failed) > 0 {
		h.mu.Lock()
		for _, client := range failed {
			delete(h.clients, client)
		}
		h.mu.Unlock()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Paused returns true if a client has asked for the run to pause.
func (h *Hub) Paused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.paused
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.paused = false
	h.closed = true
}
