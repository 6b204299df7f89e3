package ranging

import (
	"fmt"
	"sync"
)

// node is an internal linked list node of the event queue.
type node struct {
	event Event
	next  *node
}

// Queue is a thread-safe FIFO of ranging events. Transports push from their own
// goroutines and the coordinator drains it on every tick. When the queue reaches
// capacity the oldest flushCount events are discarded to make room.
type Queue struct {
	capacity   int // Maximum number of events to store
	flushCount int // Number of events to discard when the queue is full

	mu      sync.Mutex
	head    *node
	tail    *node
	size    int
	dropped uint64
}

// NewQueue creates an event queue holding up to capacity events.
// Returns an error if parameters are invalid.
func NewQueue(capacity, flushCount int) (*Queue, error) {
	if capacity <= 0 || flushCount <= 0 || flushCount > capacity {
		return nil, fmt.Errorf("invalid queue parameters: capacity=%d, flushCount=%d", capacity, flushCount)
	}
	return &Queue{
		capacity:   capacity,
		flushCount: flushCount,
	}, nil
}

// Push appends an event. It returns the number of old events discarded to make room.
func (q *Queue) Push(e Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var discarded int
	if q.size >= q.capacity {
		discarded = q.discard(q.flushCount)
	}

	n := &node{event: e}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.size++

	return discarded
}

// Drain removes and returns all queued events in arrival order.
// Returns nil if the queue is empty.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == nil || q.size == 0 {
		return nil
	}

	results := make([]Event, 0, q.size)
	for current := q.head; current != nil; current = current.next {
		results = append(results, current.event)
	}

	q.head, q.tail = nil, nil
	q.size = 0
	return results
}

// Size returns the current number of queued events.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns the number of events discarded on overflow since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// discard drops up to count events from the head. Callers hold the lock.
func (q *Queue) discard(count int) int {
	count = min(count, q.size)

	current := q.head
	for i := 0; i < count && current != nil; i++ {
		current = current.next
	}

	q.head = current
	if q.head == nil {
		q.tail = nil
	}
	q.size -= count
	q.dropped += uint64(count)
	return count
}
