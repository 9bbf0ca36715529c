package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/geometry"
	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/store"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

var base = time.Date(2026, 9, 14, 8, 30, 0, 0, time.UTC)

type pitchExtractor struct{}

// Extract reads the pitch from the first landmark's X.
func (pitchExtractor) Extract(set landmarks.Set) (geometry.Features, geometry.Gaze) {
	return geometry.Features{Pitch: set[0].X, EyeRatio: 0.5}, geometry.Gaze{}
}

type fixture struct {
	srv     *Server
	monitor *proctor.Monitor
	clock   *violation.ManualClock
	store   *store.MemoryStore
}

// face returns a full mesh whose first point carries the pitch.
func face(pitch float64) [][3]float64 {
	pts := make([][3]float64, landmarks.MeshSize)
	pts[0][0] = pitch
	return pts
}

func newFixture(t *testing.T, addr string) *fixture {
	t.Helper()
	c, err := behavior.NewClassifier(behavior.NewMockModel(behavior.Normal, 0.7, 0.05, 0.05, 0.2), behavior.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}
	clock := violation.NewManualClock(base)
	st := store.NewMemoryStore()
	m, err := proctor.NewMonitor(pitchExtractor{}, c, violation.DefaultConfig(),
		proctor.WithClock(clock), proctor.WithSink(st))
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(addr, m, st)
	m.AddSink(srv)
	m.AddFrameSink(srv)
	return &fixture{srv: srv, monitor: m, clock: clock, store: st}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.App().Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestSessionsAPI(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing subject", "POST", "/api/sessions/", map[string]string{"exam_code": "X"}, http.StatusBadRequest},
		{"exam code too long", "POST", "/api/sessions/", map[string]string{"subject_id": "s", "exam_code": strings.Repeat("x", 33)}, http.StatusBadRequest},
		{"start", "POST", "/api/sessions/", StartSessionRequest{SubjectID: "S1", ExamCode: "MATH101"}, http.StatusCreated},
		{"duplicate", "POST", "/api/sessions/", StartSessionRequest{SubjectID: "S1"}, http.StatusConflict},
		{"get", "GET", "/api/sessions/S1", nil, http.StatusOK},
		{"get unknown", "GET", "/api/sessions/nobody", nil, http.StatusNotFound},
		{"state", "GET", "/api/sessions/S1/state", nil, http.StatusOK},
		{"reset", "POST", "/api/sessions/S1/reset", nil, http.StatusOK},
		{"reset unknown", "POST", "/api/sessions/nobody/reset", nil, http.StatusNotFound},
		{"frame unknown", "POST", "/api/sessions/nobody/frames", FrameRequest{}, http.StatusNotFound},
		{"stop", "DELETE", "/api/sessions/S1", nil, http.StatusOK},
		{"stop again", "DELETE", "/api/sessions/S1", nil, http.StatusNotFound},
		{"health", "GET", "/api/health", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, tt.method, tt.path, tt.body)
			if code != tt.want {
				t.Errorf("status = %d, want %d (body %v)", code, tt.want, body)
			}
			if code >= 400 && body["error"] == nil {
				t.Errorf("error responses should carry an error field: %v", body)
			}
		})
	}
}

func TestStartSessionView(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, "POST", "/api/sessions/", StartSessionRequest{SubjectID: "S2", ExamCode: "PHYS"})
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	if body["subject_id"] != "S2" || body["exam_code"] != "PHYS" || body["color"] != proctor.ColorNormal {
		t.Errorf("view = %v", body)
	}

	f.srv.SetPresence("S2", false)
	_, body = f.do(t, "GET", "/api/sessions/S2", nil)
	if body["online"] != false || body["color"] != proctor.ColorOffline {
		t.Errorf("offline view = %v", body)
	}

	_, body = f.do(t, "GET", "/api/sessions/", nil)
	if body["count"] != float64(1) {
		t.Errorf("list = %v", body)
	}
}

func TestFrameAPI(t *testing.T) {
	f := newFixture(t, "")
	f.do(t, "POST", "/api/sessions/", StartSessionRequest{SubjectID: "S3", ExamCode: "CHEM"})

	code, body := f.do(t, "POST", "/api/sessions/S3/frames", FrameRequest{})
	if code != http.StatusOK || body["status"] != "no_face" {
		t.Errorf("empty frame = %d %v", code, body)
	}

	var last map[string]any
	for i := 0; i <= 20; i++ {
		code, last = f.do(t, "POST", "/api/sessions/S3/frames", FrameRequest{Landmarks: face(30)})
		if code != http.StatusOK {
			t.Fatalf("frame %d status = %d", i, code)
		}
		f.clock.Advance(100 * time.Millisecond)
	}
	if last["status"] != "violation" || last["label_name"] != "Head Down" {
		t.Errorf("last frame = %v", last)
	}

	_, body = f.do(t, "GET", "/api/violations?subject=S3", nil)
	if body["count"] != float64(1) {
		t.Fatalf("violations = %v", body)
	}

	_, body = f.do(t, "GET", "/api/stats?exam=CHEM", nil)
	stored, _ := body["stored"].(map[string]any)
	if stored["HEAD_DOWN"] != float64(1) {
		t.Errorf("stats = %v", body)
	}

	_, body = f.do(t, "GET", "/api/sessions/S3/state", nil)
	if body["description"] == "" {
		t.Errorf("state = %v", body)
	}

	tests := []struct {
		name   string
		points int
		want   int
	}{
		{"three points", 3, http.StatusBadRequest},
		{"one short of the mesh", landmarks.MeshSize - 1, http.StatusBadRequest},
		{"oversized", 1001, http.StatusBadRequest},
		{"full mesh", landmarks.MeshSizeWithIris, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := FrameRequest{Landmarks: make([][3]float64, tt.points)}
			if code, _ := f.do(t, "POST", "/api/sessions/S3/frames", req); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
	if st := f.monitor.Stats(); st.Frames != 23 {
		t.Errorf("frames = %d, want 23: rejected frames must not reach the pipeline", st.Frames)
	}
}

func TestViolationQueryValidation(t *testing.T) {
	f := newFixture(t, "")
	for _, path := range []string{"/api/violations?since=yesterday", "/api/violations?limit=-1", "/api/stats?since=x"} {
		if code, _ := f.do(t, "GET", path, nil); code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", path, code)
		}
	}
	code, body := f.do(t, "GET", "/api/violations?since=2026-01-01T00:00:00Z&limit=5", nil)
	if code != http.StatusOK || body["count"] != float64(0) {
		t.Errorf("empty query = %d %v", code, body)
	}
}

func readMsg(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestWebSocketStreams(t *testing.T) {
	f := newFixture(t, ":18191")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.srv.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	f.monitor.Start("S4", "BIO")
	// Recorded before the client joins, replayed on connect
	f.monitor.Report(ctx, "S4", behavior.Talking, 0.8)
	time.Sleep(20 * time.Millisecond)

	events, _, err := websocket.DefaultDialer.Dial("ws://localhost:18191/ws/events", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer events.Close()

	msg := readMsg(t, events)
	if msg.Type != protocol.TypeViolation || !strings.Contains(string(msg.Data), `"label_name":"Talking"`) {
		t.Errorf("replayed event = %s %s", msg.Type, msg.Data)
	}

	status, _, err := websocket.DefaultDialer.Dial("ws://localhost:18191/ws/status", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer status.Close()

	msg = readMsg(t, status)
	if msg.Type != typeSnapshot || !strings.Contains(string(msg.Data), `"subject_id":"S4"`) {
		t.Errorf("snapshot = %s %s", msg.Type, msg.Data)
	}

	time.Sleep(50 * time.Millisecond) // let the hubs register both clients

	f.monitor.ProcessFrame(ctx, "S4", landmarks.Set{{X: 30}})
	msg = readMsg(t, status)
	st, err := msg.GetStatusUpdateData()
	if err != nil || msg.Type != protocol.TypeStatusUpdate {
		t.Fatalf("status message = %s %v", msg.Type, err)
	}
	if st.StudentID != "S4" || st.Status != "warning" || st.Color != proctor.ColorWarning {
		t.Errorf("status update = %+v", st)
	}

	f.srv.SetPresence("S4", false)
	msg = readMsg(t, events)
	if msg.Type != protocol.TypeDisconnect {
		t.Errorf("presence type = %s, want disconnect", msg.Type)
	}
}
