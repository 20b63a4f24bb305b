package handler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/config"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/registry"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/relay"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8087},
		SSE: config.SSEConfig{
			HeartbeatInterval: 50 * time.Millisecond,
		},
		WebSocket: config.WebSocketConfig{
			PingInterval:   500 * time.Millisecond,
			PongWait:       2 * time.Second,
			WriteWait:      time.Second,
			MaxMessageSize: 65536,
		},
		Registry: config.RegistryConfig{SendBuffer: 16},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	reg := registry.New(registry.Config{SendBuffer: cfg.Registry.SendBuffer})
	bc := relay.NewBroadcaster(reg, nil)
	relay.Wire(reg, bc)

	h := New(reg, bc, cfg)
	r := gin.New()
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Name string
	Data []byte
}

// sseStream reads a live event stream in the background.
type sseStream struct {
	resp     *http.Response
	events   chan sseEvent
	comments chan string
}

func dialSSE(t *testing.T, baseURL, roomID string) *sseStream {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/rooms/%s/events", baseURL, roomID))
	if err != nil {
		t.Fatalf("dial sse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sse status=%d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content-type=%q, want text/event-stream", ct)
	}

	s := &sseStream{
		resp:     resp,
		events:   make(chan sseEvent, 32),
		comments: make(chan string, 32),
	}
	t.Cleanup(func() { resp.Body.Close() })

	go s.readLoop()
	return s
}

func (s *sseStream) readLoop() {
	defer close(s.events)

	br := bufio.NewReader(s.resp.Body)
	var name string
	var data []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "":
			if name != "" || data != nil {
				s.events <- sseEvent{Name: name, Data: data}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			select {
			case s.comments <- strings.TrimSpace(line[1:]):
			default:
			}
		case strings.HasPrefix(line, "event: "):
			name = line[len("event: "):]
		case strings.HasPrefix(line, "data: "):
			data = []byte(line[len("data: "):])
		}
	}
}

func (s *sseStream) nextEvent(t *testing.T) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-s.events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sse event")
		return sseEvent{}
	}
}

// connectionID reads the stream's initial join event and returns the
// announced connection id.
func (s *sseStream) connectionID(t *testing.T) string {
	t.Helper()
	ev := s.nextEvent(t)
	if ev.Name != "join" {
		t.Fatalf("first event=%q, want join", ev.Name)
	}
	var frame struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(ev.Data, &frame); err != nil {
		t.Fatalf("parse join event: %v", err)
	}
	if frame.ConnectionID == "" {
		t.Fatal("join event missing connectionId")
	}
	return frame.ConnectionID
}

func postMessage(t *testing.T, baseURL, roomID string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(
		fmt.Sprintf("%s/api/v1/rooms/%s/messages", baseURL, roomID),
		"application/json",
		bytes.NewReader(data),
	)
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
