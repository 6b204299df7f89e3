package nodes

import (
	"testing"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
)

func TestRegistry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry([]ranging.NodeID{2, 1, ranging.ObjectNode}, WithClock(func() time.Time { return now }))

	n, ok := r.Get(1)
	if !ok {
		t.Fatal("Expected pre-registered node")
	}
	if n.Online(now, time.Minute) {
		t.Error("Node that was never seen must be offline")
	}

	r.Handle(ranging.Message{Event: &ranging.Event{Node: 1, Arrived: 1458, ReceivedAt: now}})
	r.Handle(ranging.Message{Event: &ranging.Event{Node: 1, Arrived: 1458}})
	r.Handle(ranging.Message{Status: &ranging.StatusReport{Node: 2, Sensor: "OK", State: "IDLE", ReceivedAt: now.Add(-time.Second)}})

	n, _ = r.Get(1)
	if n.Reports != 2 || !n.LastSeen.Equal(now) {
		t.Errorf("Unexpected node 1: %+v", n)
	}
	if !n.Online(now.Add(30*time.Second), time.Minute) {
		t.Error("Expected node 1 to be online")
	}
	if n.Online(now.Add(2*time.Minute), time.Minute) {
		t.Error("Expected node 1 to be offline after the TTL")
	}

	n, _ = r.Get(2)
	if n.Sensor != "OK" || n.State != "IDLE" || n.Reports != 0 {
		t.Errorf("Unexpected node 2: %+v", n)
	}

	// unknown nodes are registered on first contact
	r.Touch(7, now)
	if _, ok = r.Get(7); !ok {
		t.Error("Expected node 7 to be registered")
	}

	snapshot := r.Snapshot()
	expected := []ranging.NodeID{ranging.ObjectNode, 1, 2, 7}
	if len(snapshot) != len(expected) {
		t.Fatalf("Expected %d nodes, got %d", len(expected), len(snapshot))
	}
	for i, id := range expected {
		if snapshot[i].ID != id {
			t.Errorf("Snapshot %d: expected %s, got %s", i, id, snapshot[i].ID)
		}
	}
}
