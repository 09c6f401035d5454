// Package stream pushes run progress events to websocket observers.
package stream

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cordum/blackboard/core/infra/logging"
	"github.com/cordum/blackboard/core/workflow"
)

const (
	logComponent     = "stream"
	defaultQueueSize = 1024
	clientBuffer     = 100
	writeTimeout     = 5 * time.Second
)

type client struct {
	conn  *websocket.Conn
	jobID string
	ch    chan workflow.Event
}

// Hub fans events out to websocket clients. Publishing never blocks: a full
// hub queue drops the event and a client whose buffer is full is
// disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	events   chan workflow.Event
	done     chan struct{}
	once     sync.Once

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub builds a hub. allowOrigin decides cross-origin upgrades; nil
// accepts same-origin requests only.
func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	h := &Hub{
		events:  make(chan workflow.Event, defaultQueueSize),
		done:    make(chan struct{}),
		clients: map[*client]struct{}{},
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: allowOrigin}
	go h.run()
	return h
}

// Publish queues an event for broadcast.
func (h *Hub) Publish(evt workflow.Event) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.events <- evt:
	default:
		logging.Warn(logComponent, "hub queue full, event dropped", "job_id", evt.JobID, "seq", evt.Seq)
	}
}

// Callback adapts the hub to an engine run callback.
func (h *Hub) Callback() workflow.Callback {
	return func(evt workflow.Event) error {
		h.Publish(evt)
		return nil
	}
}

// Clients reports the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops the broadcast loop.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			_ = c.conn.Close()
			delete(h.clients, c)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case evt := <-h.events:
			h.broadcast(evt)
		}
	}
}

func (h *Hub) broadcast(evt workflow.Event) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.jobID != "" && c.jobID != evt.JobID {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	for _, c := range slow {
		logging.Warn(logComponent, "dropping slow client", "remote", c.conn.RemoteAddr().String())
		if err := c.conn.Close(); err != nil {
			logging.Error(logComponent, "ws client close failed", "error", err)
		}
	}
}

// ServeHTTP upgrades the request and streams events as JSON text frames.
// ?job_id= limits the stream to one run.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(logComponent, "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &client{conn: ws, jobID: strings.TrimSpace(r.URL.Query().Get("job_id")), ch: make(chan workflow.Event, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()
	logging.Info(logComponent, "ws connected", "remote", r.RemoteAddr, "job_id", c.jobID)

	// The read side only detects the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-c.ch:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(evt.ToMap()); err != nil {
				return
			}
		case <-gone:
			return
		case <-h.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
