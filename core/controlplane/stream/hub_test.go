package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cordum/blackboard/core/workflow"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHubBroadcastsWithJobFilter(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	mux := http.NewServeMux()
	mux.Handle("/api/v1/stream", hub)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	all := dial(t, srv, "")
	onlyB := dial(t, srv, "?job_id=job-b")
	waitClients(t, hub, 2)

	cb := hub.Callback()
	_ = cb(workflow.Event{Type: workflow.EventStatus, JobID: "job-a", Status: workflow.StatusRunning, Seq: 1})
	_ = cb(workflow.Event{Type: workflow.EventStepStart, JobID: "job-b", StepID: "s1", Seq: 1})

	first := readEvent(t, all)
	second := readEvent(t, all)
	if first["job_id"] != "job-a" || first["status"] != "RUNNING" || second["job_id"] != "job-b" {
		t.Fatalf("unexpected events %v %v", first, second)
	}
	got := readEvent(t, onlyB)
	if got["job_id"] != "job-b" || got["type"] != "step_start" || got["step_id"] != "s1" {
		t.Fatalf("filtered client got %v", got)
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws, err := hub.upgrader.Upgrade(w, r, nil); err == nil {
			accepted <- ws
		}
	}))
	defer srv.Close()
	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer peer.Close()
	conn := <-accepted

	// Unbuffered channels with no reader are always full.
	slow := &client{conn: conn, ch: make(chan workflow.Event)}
	other := &client{conn: conn, jobID: "job-x", ch: make(chan workflow.Event)}
	hub.mu.Lock()
	hub.clients[slow] = struct{}{}
	hub.clients[other] = struct{}{}
	hub.mu.Unlock()

	hub.broadcast(workflow.Event{JobID: "job-y"})
	hub.mu.RLock()
	_, slowKept := hub.clients[slow]
	_, otherKept := hub.clients[other]
	hub.mu.RUnlock()
	if slowKept || !otherKept {
		t.Fatalf("slow=%v other=%v", slowKept, otherKept)
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()
	hub.Close()
	hub.Publish(workflow.Event{JobID: "late"})
}
