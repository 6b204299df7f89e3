package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/nodes"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
)

type fakeController struct {
	mu         sync.Mutex
	active     bool
	starts     int
	stops      int
	calibrates int
	tested     []ranging.NodeID
	position   geometry.Position
	solver     *geometry.Solver
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()

	anchors, err := geometry.NewAnchorConfig(
		geometry.Anchor{ID: 1, Point: geometry.Point{X: -200, Y: 300}},
		geometry.Anchor{ID: 2, Point: geometry.Point{X: 200, Y: 300}},
	)
	if err != nil {
		t.Fatalf("Failed to create anchors: %v", err)
	}

	return &fakeController{
		position: geometry.Position{X: 12.5, Y: 40, Accuracy: 3, Valid: true, Timestamp: time.UnixMilli(1714564800000)},
		solver:   geometry.NewSolver(anchors, geometry.WithReference(geometry.Point{X: 0, Y: 350})),
	}
}

func (f *fakeController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return cycle.ErrCycleAlreadyActive
	}
	f.active = true
	f.starts++
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.stops++
}

func (f *fakeController) Calibrate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return cycle.ErrCycleAlreadyActive
	}
	f.calibrates++
	return nil
}

func (f *fakeController) Test(node ranging.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return cycle.ErrCycleAlreadyActive
	}
	if _, ok := f.solver.Anchors().Lookup(int(node)); !ok && !node.IsObject() {
		return cycle.ErrUnknownNode
	}
	f.tested = append(f.tested, node)
	return nil
}

func (f *fakeController) Position() (geometry.Position, bool) {
	return f.position, true
}

func (f *fakeController) Status() cycle.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		node := ranging.NodeID(1)
		return cycle.Status{State: cycle.StatePolling, CycleID: 1, ActiveNode: &node}
	}
	return cycle.Status{State: cycle.StateIdle}
}

func (f *fakeController) Solver() *geometry.Solver {
	return f.solver
}

func newTestServer(t *testing.T, options ...func(*Server)) (*Server, *fakeController) {
	t.Helper()

	ctrl := newFakeController(t)
	s := NewServer(ctrl, options...)
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
	})
	return s, ctrl
}

func doRequest(t *testing.T, app *fiber.App, method, path string, out any) int {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(method, path, nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Reading body: %v", err)
	}
	if out != nil {
		if err = json.Unmarshal(body, out); err != nil {
			t.Fatalf("Decoding %s: %v", body, err)
		}
	}
	return resp.StatusCode
}

func TestServer_API(t *testing.T) {
	registry := nodes.NewRegistry([]ranging.NodeID{ranging.ObjectNode, 1, 2})
	registry.Update(ranging.StatusReport{Node: 1, Sensor: "OK", State: "IDLE", ReceivedAt: time.Now()})

	s, ctrl := newTestServer(t, WithNodes(registry))
	app := s.App()

	var pos positionMessage
	if code := doRequest(t, app, "GET", "/api/position", &pos); code != fiber.StatusOK {
		t.Fatalf("Status = %d, want 200", code)
	}
	if pos.X != 12.5 || pos.Y != 40 || !pos.Valid || pos.Timestamp != 1714564800000 || pos.Type != typePosition {
		t.Errorf("Unexpected position %+v", pos)
	}

	var reply replyMessage
	if code := doRequest(t, app, "POST", "/api/start", &reply); code != fiber.StatusOK || reply.Error {
		t.Errorf("Start: status %d, reply %+v", code, reply)
	}
	if code := doRequest(t, app, "POST", "/api/start", &reply); code != fiber.StatusConflict || !reply.Error {
		t.Errorf("Second start: status %d, reply %+v", code, reply)
	}
	if code := doRequest(t, app, "POST", "/api/calibrate", &reply); code != fiber.StatusConflict {
		t.Errorf("Calibrate while busy: status %d, want 409", code)
	}

	var status map[string]any
	doRequest(t, app, "GET", "/api/status", &status)
	if status["measuring"] != true || status["state"] != "polling" || status["type"] != typeStatus {
		t.Errorf("Unexpected status %v", status)
	}

	if code := doRequest(t, app, "POST", "/api/stop", &reply); code != fiber.StatusOK {
		t.Errorf("Stop: status %d", code)
	}
	if code := doRequest(t, app, "POST", "/api/calibrate", &reply); code != fiber.StatusOK {
		t.Errorf("Calibrate: status %d", code)
	}
	if ctrl.starts != 1 || ctrl.stops != 1 || ctrl.calibrates != 1 {
		t.Errorf("Unexpected controller calls: %+v", ctrl)
	}

	var layout layoutMessage
	doRequest(t, app, "GET", "/api/anchors", &layout)
	if len(layout.Anchors) != 2 || layout.Receiver == nil || layout.Receiver.Y != 350 {
		t.Errorf("Unexpected layout %+v", layout)
	}

	var list []map[string]any
	doRequest(t, app, "GET", "/api/nodes", &list)
	if len(list) != 3 {
		t.Fatalf("Expected 3 nodes, got %d", len(list))
	}
	if list[1]["name"] != "anchor 1" || list[1]["online"] != true || list[1]["sensor"] != "OK" {
		t.Errorf("Unexpected anchor node %v", list[1])
	}
	if list[2]["online"] != false || list[2]["seen"] != "never" {
		t.Errorf("Unexpected silent node %v", list[2])
	}

	if code := doRequest(t, app, "GET", "/ws", nil); code != fiber.StatusUpgradeRequired {
		t.Errorf("Plain request to /ws: status %d, want 426", code)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Index: status %d", resp.StatusCode)
	}
}

func TestServer_SelfTest(t *testing.T) {
	s, ctrl := newTestServer(t)
	app := s.App()

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "anchor", path: "/api/test/2", want: fiber.StatusOK},
		{name: "object", path: "/api/test/object", want: fiber.StatusOK},
		{name: "not a node", path: "/api/test/abc", want: fiber.StatusBadRequest},
		{name: "unknown anchor", path: "/api/test/7", want: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reply replyMessage
			code := doRequest(t, app, "POST", tt.path, &reply)
			if code != tt.want {
				t.Errorf("Status = %d, want %d", code, tt.want)
			}
			if reply.Error != (tt.want != fiber.StatusOK) {
				t.Errorf("Unexpected reply %+v", reply)
			}
		})
	}

	if len(ctrl.tested) != 2 || ctrl.tested[0] != 2 || ctrl.tested[1] != ranging.ObjectNode {
		t.Errorf("Unexpected self-test targets %v", ctrl.tested)
	}

	var reply replyMessage
	doRequest(t, app, "POST", "/api/start", &reply)
	if code := doRequest(t, app, "POST", "/api/test/1", &reply); code != fiber.StatusConflict {
		t.Errorf("Self-test while busy: status %d, want 409", code)
	}
}

func listen(t *testing.T, s *Server) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go func() {
		_ = s.App().Listener(ln)
	}()
	return "ws://" + ln.Addr().String() + "/ws"
}

func readJSON(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Reading websocket: %v", err)
	}
	if err = json.Unmarshal(data, out); err != nil {
		t.Fatalf("Decoding %s: %v", data, err)
	}
}

func TestServer_WebSocket(t *testing.T) {
	s, ctrl := newTestServer(t)
	url := listen(t, s)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer conn.Close()

	var pos positionMessage
	readJSON(t, conn, &pos)
	if pos.Type != typePosition || pos.X != 12.5 {
		t.Errorf("Expected the current position on connect, got %+v", pos)
	}

	if err = conn.WriteMessage(websocket.TextMessage, []byte("START")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	var reply replyMessage
	readJSON(t, conn, &reply)
	if reply.Type != typeStatus || reply.Message != "Measurements started" || reply.Error {
		t.Errorf("Unexpected reply %+v", reply)
	}

	if err = conn.WriteMessage(websocket.TextMessage, []byte("START")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	readJSON(t, conn, &reply)
	if !reply.Error {
		t.Errorf("Expected an error reply, got %+v", reply)
	}

	if err = conn.WriteMessage(websocket.TextMessage, []byte("stop")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	readJSON(t, conn, &reply)
	if reply.Message != "Measurements stopped" {
		t.Errorf("Unexpected reply %+v", reply)
	}

	if err = conn.WriteMessage(websocket.TextMessage, []byte("test object")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	readJSON(t, conn, &reply)
	if reply.Message != "Self-test requested from object" || reply.Error {
		t.Errorf("Unexpected reply %+v", reply)
	}

	if ctrl.starts != 1 || ctrl.stops != 1 {
		t.Errorf("Unexpected controller calls: starts %d, stops %d", ctrl.starts, ctrl.stops)
	}

	// broadcasts reach the connected client
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	s.PublishPosition(geometry.Position{X: -5, Y: 7, Accuracy: geometry.AccuracyUnknown})
	readJSON(t, conn, &pos)
	if pos.X != -5 || pos.Y != 7 || pos.Valid || pos.Accuracy != geometry.AccuracyUnknown {
		t.Errorf("Unexpected broadcast %+v", pos)
	}

	s.PublishStatus(cycle.Status{State: cycle.StateIdle, CycleID: 4, Message: "cycle timed out after 10s"})
	var status map[string]any
	readJSON(t, conn, &status)
	if status["type"] != typeStatus || status["message"] != "cycle timed out after 10s" || status["cycle"] != float64(4) {
		t.Errorf("Unexpected status broadcast %v", status)
	}
}
