package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

const (
	hubBuffer    = 256
	writeTimeout = 5 * time.Second
)

// TransitionEvent is what websocket subscribers receive for every job state
// change.
type TransitionEvent struct {
	Type   string                   `json:"type"`
	JobID  string                   `json:"job_id"`
	From   constants.JobState       `json:"from"`
	To     constants.JobState       `json:"to"`
	At     time.Time                `json:"at"`
	Status constants.ResponseStatus `json:"status,omitempty"`
	Errors int                      `json:"errors,omitempty"`
}

// Hub fans job transitions out to websocket clients. All writes to client
// connections happen on the Start goroutine.
type Hub struct {
	logger     *slog.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, hubBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Start runs the hub until ctx ends, then closes every client.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				for client := range h.clients {
					client.Close()
					delete(h.clients, client)
				}
				h.mu.Unlock()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				n := len(h.clients)
				h.mu.Unlock()
				h.logger.Debug("hub.client.connected", "clients", n)
			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.Close()
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.logger.Debug("hub.client.disconnected", "clients", n)
			case message := <-h.broadcast:
				h.mu.Lock()
				for client := range h.clients {
					_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						h.logger.Warn("hub.client.write_failed", "error", err)
						client.Close()
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}()
}

// Publish queues a transition for broadcast. It never blocks the caller; when
// the buffer is full the event is dropped.
func (h *Hub) Publish(job *entity.Job, tr entity.Transition) {
	ev := TransitionEvent{
		Type:   "job_transition",
		JobID:  job.ID.String(),
		From:   tr.From,
		To:     tr.To,
		At:     tr.At,
		Errors: len(job.Errors),
	}
	if job.Response != nil {
		ev.Status = job.Response.Status
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("hub.event.encode_failed", "job_id", job.ID, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("hub.event.dropped", "job_id", job.ID, "to", tr.To)
	}
}

func (h *Hub) Register(conn *websocket.Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
	}
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Clients is the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
