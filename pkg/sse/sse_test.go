package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	msg, err := Format("status_update", map[string]string{"status": "assigned"})
	require.NoError(t, err)
	assert.Equal(t, "event: status_update\ndata: {\"status\":\"assigned\"}\n\n", msg)

	msg, err = Format("", 1)
	require.NoError(t, err)
	assert.Equal(t, "data: 1\n\n", msg)
}

// nextEvent reads frames until one named event arrives and returns its data line.
func nextEvent(t *testing.T, r *bufio.Reader, event string) string {
	t.Helper()
	current := ""
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && current == event:
			return strings.TrimPrefix(line, "data: ")
		case line == "":
			current = ""
		}
	}
}

func TestServeStreamsGroupEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(time.Hour)
	r := gin.New()
	r.GET("/events", func(c *gin.Context) {
		hub.Serve(c, "client_1", []string{"sos_1"}, func() *Event {
			return &Event{Name: "snapshot", Payload: map[string]string{"status": "pending"}}
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := bufio.NewReader(resp.Body)
	assert.JSONEq(t, `{"status":"pending"}`, nextEvent(t, body, "snapshot"))
	assert.Equal(t, 1, hub.GroupSize("sos_1"))

	hub.BroadcastToGroup("sos_2", "status_update", map[string]string{"status": "other"})
	hub.BroadcastToGroup("sos_1", "status_update", map[string]string{"status": "assigned"})
	assert.JSONEq(t, `{"status":"assigned"}`, nextEvent(t, body, "status_update"))

	cancel()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, hub.GroupSize("sos_1"))
}

func TestServeKeepsUpdatesCommittedDuringSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(time.Hour)
	r := gin.New()
	r.GET("/events", func(c *gin.Context) {
		hub.Serve(c, "client_1", []string{"sos_1"}, func() *Event {
			// a transition commits after the state was read but before it is written out
			snap := &Event{Name: "snapshot", Payload: map[string]interface{}{"status": "pending", "version": 1}}
			hub.BroadcastToGroup("sos_1", "status_update", map[string]interface{}{"status": "assigned", "version": 2})
			return snap
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body := bufio.NewReader(resp.Body)
	assert.JSONEq(t, `{"status":"pending","version":1}`, nextEvent(t, body, "snapshot"))
	assert.JSONEq(t, `{"status":"assigned","version":2}`, nextEvent(t, body, "status_update"))
}

func TestCloseEndsStreams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(time.Hour)
	r := gin.New()
	r.GET("/events", func(c *gin.Context) { hub.Serve(c, "client_1", []string{"sos_1"}, nil) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
