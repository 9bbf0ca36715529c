package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/protocol"
)

// fakeGateway records every message agents send and lets tests push
// messages back or drop connections.
type fakeGateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	paths    []string
	received []*protocol.Message
	conns    []*websocket.Conn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.paths = append(g.paths, r.URL.Path)
	g.conns = append(g.conns, ws)
	g.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		g.mu.Lock()
		g.received = append(g.received, msg)
		g.mu.Unlock()
	}
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) messages() []*protocol.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*protocol.Message(nil), g.received...)
}

func (g *fakeGateway) count(typ protocol.MessageType) int {
	n := 0
	for _, m := range g.messages() {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (g *fakeGateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// last returns the most recent connection.
func (g *fakeGateway) last() *websocket.Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[len(g.conns)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.StudentID = "S100"
	cfg.ExamCode = "MATH101"
	cfg.AgentID = "laptop-7"
	cfg.HeartbeatInterval = time.Hour
	cfg.ReconnectDelay = 20 * time.Millisecond
	return cfg
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing url", func(c *Config) { c.URL = "" }, true},
		{"bad url", func(c *Config) { c.URL = "not a url" }, true},
		{"missing student", func(c *Config) { c.StudentID = "" }, true},
		{"zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }, true},
		{"negative attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("ws://localhost:8080")
			tt.mutate(&cfg)
			_, err := New(cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_GeneratesAgentID(t *testing.T) {
	cfg := testConfig("ws://localhost:8080")
	cfg.AgentID = ""
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Config().AgentID == "" {
		t.Error("AgentID should default to a generated ID")
	}
}

func TestConfig_Endpoint(t *testing.T) {
	cfg := testConfig("ws://proctor.local:8080/")
	cfg.AgentID = "room 4"
	if got, want := cfg.Endpoint(), "ws://proctor.local:8080/ws/agent/room%204"; got != want {
		t.Errorf("Endpoint() = %s, want %s", got, want)
	}
}

func TestClient_NotConnected(t *testing.T) {
	c, err := New(testConfig("ws://localhost:1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SendFrame(nil); err != ErrNotConnected {
		t.Errorf("SendFrame error = %v, want ErrNotConnected", err)
	}
	if err := c.SendHeartbeat(); err != ErrNotConnected {
		t.Errorf("SendHeartbeat error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on idle client = %v", err)
	}
}

func TestClient_SessionMessages(t *testing.T) {
	g := newFakeGateway(t)
	c, err := New(testConfig(g.url()), nil)
	if err != nil {
		t.Fatal(err)
	}

	var connected bool
	c.OnConnect = func() { connected = true }
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !connected || !c.IsConnected() {
		t.Error("client should report connected")
	}

	if err := c.SendFrame(landmarks.Set{{X: 0.5, Y: 0.25, Z: -0.1}}); err != nil {
		t.Fatal(err)
	}
	if err := c.SendFrame(nil); err != nil {
		t.Fatal(err)
	}
	v := proctor.Violation{Label: behavior.LookingLeft, Confidence: 0.876}
	if err := c.OnViolation(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "disconnect", func() bool { return g.count(protocol.TypeDisconnect) == 1 })
	msgs := g.messages()
	wantTypes := []protocol.MessageType{
		protocol.TypeConnect, protocol.TypeFrame, protocol.TypeFrame,
		protocol.TypeViolation, protocol.TypeDisconnect,
	}
	if len(msgs) != len(wantTypes) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantTypes))
	}
	for i, want := range wantTypes {
		if msgs[i].Type != want {
			t.Errorf("message %d type = %s, want %s", i, msgs[i].Type, want)
		}
	}

	if g.paths[0] != "/ws/agent/laptop-7" {
		t.Errorf("path = %s", g.paths[0])
	}

	hello, _ := msgs[0].GetConnectData()
	if hello.StudentID != "S100" || hello.ExamCode != "MATH101" || hello.AgentID != "laptop-7" {
		t.Errorf("connect = %+v", hello)
	}

	first, _ := msgs[1].GetFrameData()
	if first.FrameID != 1 || len(first.Set()) != 1 || first.Set()[0].Y != 0.25 {
		t.Errorf("first frame = %+v", first)
	}
	second, _ := msgs[2].GetFrameData()
	if second.FrameID != 2 || second.Set() != nil {
		t.Errorf("no-face frame = %+v", second)
	}

	vd, _ := msgs[3].GetViolationData()
	if vd.Behavior != int(behavior.LookingLeft) || vd.BehaviorName != behavior.LookingLeft.Message() || vd.Confidence != 0.88 {
		t.Errorf("violation = %+v", vd)
	}
	if c.IsConnected() {
		t.Error("client should be disconnected after Close")
	}
}

func TestClient_OnStatus(t *testing.T) {
	g := newFakeGateway(t)
	c, err := New(testConfig(g.url()), nil)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan protocol.StatusUpdateData, 1)
	c.OnStatus = func(s protocol.StatusUpdateData) { got <- s }
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	waitFor(t, "gateway connection", func() bool { return g.connCount() == 1 })

	msg, _ := protocol.NewStatusUpdateMessage(protocol.StatusUpdateData{
		StudentID: "S100", Status: "violation", Color: proctor.ColorCheating, Violation: true,
	})
	data, _ := msg.Bytes()
	g.last().WriteMessage(websocket.TextMessage, data)

	select {
	case s := <-got:
		if s.Color != proctor.ColorCheating || !s.Violation {
			t.Errorf("status = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnStatus not called")
	}
}

func TestClient_RunHeartbeatAndReconnect(t *testing.T) {
	g := newFakeGateway(t)
	cfg := testConfig(g.url())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "heartbeats", func() bool { return g.count(protocol.TypeHeartbeat) >= 2 })

	// Server-side drop; the client should come back with a fresh connect.
	g.last().Close()
	waitFor(t, "reconnect", func() bool { return g.count(protocol.TypeConnect) == 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	waitFor(t, "disconnect", func() bool { return g.count(protocol.TypeDisconnect) == 1 })
}

func TestClient_RunGivesUp(t *testing.T) {
	g := newFakeGateway(t)
	url := g.url()
	g.srv.Close()

	cfg := testConfig(url)
	cfg.MaxReconnectAttempts = 3
	cfg.ReconnectDelay = time.Millisecond
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = c.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "giving up after 3 attempts") {
		t.Errorf("Run() error = %v", err)
	}
}
