package ranging

import (
	"testing"
)

func TestQueue_Ordering(t *testing.T) {
	q, err := NewQueue(10, 5)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	events := []Event{
		{Node: 2, Arrived: 900},
		{Node: 1, Arrived: 100},
		{Node: ObjectNode, Arrived: 500},
	}

	for i, e := range events {
		if dropped := q.Push(e); dropped != 0 {
			t.Errorf("Push %d: expected no drops, got %d", i, dropped)
		}
	}

	if size := q.Size(); size != len(events) {
		t.Errorf("Expected queue size %d, got %d", len(events), size)
	}

	results := q.Drain()
	if len(results) != len(events) {
		t.Fatalf("Expected %d results, got %d", len(events), len(results))
	}

	for i, e := range events {
		if results[i] != e {
			t.Errorf("Result %d: expected %+v, got %+v", i, e, results[i])
		}
	}

	if q.Size() != 0 {
		t.Errorf("Expected empty queue after drain, got %d", q.Size())
	}
}

func TestQueue_FlushBehavior(t *testing.T) {
	q, err := NewQueue(3, 2)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	for i := 1; i <= 3; i++ {
		q.Push(Event{Node: NodeID(i)})
	}

	if size := q.Size(); size != 3 {
		t.Errorf("Expected a full queue of 3, got %d", size)
	}

	if dropped := q.Push(Event{Node: 4}); dropped != 2 {
		t.Errorf("Expected 2 dropped events, got %d", dropped)
	}
	if q.Dropped() != 2 {
		t.Errorf("Expected dropped counter 2, got %d", q.Dropped())
	}

	results := q.Drain()
	expected := []NodeID{3, 4}
	if len(results) != len(expected) {
		t.Fatalf("Expected %d results, got %d", len(expected), len(results))
	}
	for i, id := range expected {
		if results[i].Node != id {
			t.Errorf("Result %d: expected node %d, got %d", i, id, results[i].Node)
		}
	}
}

func TestQueue_EdgeCases(t *testing.T) {
	if _, err := NewQueue(0, 1); err == nil {
		t.Error("Expected error for zero capacity")
	}
	if _, err := NewQueue(2, 3); err == nil {
		t.Error("Expected error for flush count above capacity")
	}

	q, err := NewQueue(5, 2)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	if q.Drain() != nil {
		t.Error("Drain on empty queue should return nil")
	}
	if q.Dropped() != 0 {
		t.Errorf("Expected no drops on a fresh queue, got %d", q.Dropped())
	}

	q.Push(Event{Node: 1})
	q.Push(Event{Node: 2})
	q.Drain()
	if q.Size() != 0 {
		t.Errorf("Expected empty queue after drain, got %d", q.Size())
	}

	q.Push(Event{Node: 3})
	if results := q.Drain(); len(results) != 1 || results[0].Node != 3 {
		t.Errorf("Expected single event from node 3 after drain, got %+v", results)
	}
}
