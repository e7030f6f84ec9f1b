// Package sse streams group broadcasts to browsers over Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Event is one named message written to a stream.
type Event struct {
	Name    string
	Payload interface{}
}

type client struct {
	id     string
	groups map[string]bool
	ch     chan string
	done   chan struct{}
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	groups   map[string]map[string]bool // group -> clientID set
	interval time.Duration
	retryMs  int
}

func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{
		clients:  make(map[string]*client),
		groups:   make(map[string]map[string]bool),
		interval: interval,
		retryMs:  5000,
	}
}

func (h *Hub) add(id string, groups []string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &client{id: id, groups: make(map[string]bool), ch: make(chan string, 64), done: make(chan struct{})}
	h.clients[id] = c
	for _, g := range groups {
		c.groups[g] = true
		if h.groups[g] == nil {
			h.groups[g] = make(map[string]bool)
		}
		h.groups[g][id] = true
	}
	return c
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	close(c.done)
	for g := range c.groups {
		delete(h.groups[g], id)
		if len(h.groups[g]) == 0 {
			delete(h.groups, g)
		}
	}
	delete(h.clients, id)
}

// ClientCount returns the number of open streams.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupSize returns the number of open streams following group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// BroadcastToGroup queues event for every stream in group. Slow streams drop
// the message rather than block the caller.
func (h *Hub) BroadcastToGroup(group, event string, payload interface{}) {
	msg, err := Format(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.groups[group] {
		if c := h.clients[id]; c != nil {
			select {
			case c.ch <- msg:
			default:
			}
		}
	}
}

// Close ends every open stream.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.remove(id)
	}
}

// Format renders one SSE frame.
func Format(event string, payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if event == "" {
		return fmt.Sprintf("data: %s\n\n", b), nil
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, b), nil
}

// Serve holds the request open as an event stream following groups until the
// client goes away or the hub closes. initial, when set, is called after the
// client has joined its groups and its event is written first, so a broadcast
// racing the snapshot is queued behind it rather than lost.
func (h *Hub) Serve(c *gin.Context, clientID string, groups []string, initial func() *Event) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)

	cl := h.add(clientID, groups)
	defer h.remove(clientID)

	if initial != nil {
		if ev := initial(); ev != nil {
			if msg, err := Format(ev.Name, ev.Payload); err == nil {
				_, _ = c.Writer.WriteString(msg)
			}
		}
	}
	flusher.Flush()

	ping := time.NewTicker(h.interval)
	defer ping.Stop()
	for {
		select {
		case <-cl.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_, _ = c.Writer.WriteString("event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-cl.ch:
			_, _ = c.Writer.WriteString(msg)
			flusher.Flush()
		}
	}
}
