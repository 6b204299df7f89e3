package nodes

import (
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
)

// Provider gives read access to the known nodes.
type Provider interface {
	Get(id ranging.NodeID) (Node, bool)
	Snapshot() []Node
}

// Node is the last known state of a ranging node.
type Node struct {
	ID         ranging.NodeID `json:"id"`
	Name       string         `json:"name"`
	Sensor     string         `json:"sensor,omitempty"`     // Detector state from the last status report
	State      string         `json:"state,omitempty"`      // Node state from the last status report
	LastSeen   time.Time      `json:"lastSeen,omitempty"`   // Last message of any kind
	LastStatus time.Time      `json:"lastStatus,omitempty"` // Last status report
	Reports    uint64         `json:"reports"`              // Ranging reports received
}

// Online reports whether the node was heard from within ttl.
func (n Node) Online(now time.Time, ttl time.Duration) bool {
	return !n.LastSeen.IsZero() && now.Sub(n.LastSeen) <= ttl
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) func(*Registry) {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock sets the time source used when a message carries no receive time
func WithClock(now func() time.Time) func(*Registry) {
	return func(r *Registry) {
		r.now = now
	}
}

var _ Provider = (*Registry)(nil)

// Registry tracks every node the positioner has heard from.
type Registry struct {
	mu    sync.RWMutex
	nodes map[ranging.NodeID]*Node

	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates a Registry with the given nodes pre-registered.
func NewRegistry(known []ranging.NodeID, options ...func(*Registry)) *Registry {
	r := Registry{
		nodes:  make(map[ranging.NodeID]*Node, len(known)),
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&r)
	}

	for _, id := range known {
		r.nodes[id] = &Node{ID: id, Name: id.String()}
	}

	return &r
}

func (r *Registry) node(id ranging.NodeID) *Node {
	n, ok := r.nodes[id]
	if !ok {
		n = &Node{ID: id, Name: id.String()}
		r.nodes[id] = n
		r.logger.Info("new node", slog.String("node", n.Name))
	}
	return n
}

func (r *Registry) stamp(at time.Time) time.Time {
	if at.IsZero() {
		return r.now()
	}
	return at
}

// Update stores a status report.
func (r *Registry) Update(s ranging.StatusReport) {
	at := r.stamp(s.ReceivedAt)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.node(s.Node)
	if n.State != s.State || n.Sensor != s.Sensor {
		r.logger.Info("node status changed",
			slog.String("node", n.Name),
			slog.String("state", s.State),
			slog.String("sensor", s.Sensor))
	}

	n.Sensor = s.Sensor
	n.State = s.State
	n.LastStatus = at
	if at.After(n.LastSeen) {
		n.LastSeen = at
	}
}

// Touch records that a ranging report arrived from the node.
func (r *Registry) Touch(id ranging.NodeID, at time.Time) {
	at = r.stamp(at)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.node(id)
	n.Reports++
	if at.After(n.LastSeen) {
		n.LastSeen = at
	}
}

// Handle records a decoded message. It matches ranging.Handler.
func (r *Registry) Handle(msg ranging.Message) {
	switch {
	case msg.Event != nil:
		r.Touch(msg.Event.Node, msg.Event.ReceivedAt)
	case msg.Status != nil:
		r.Update(*msg.Status)
	}
}

// Get returns the node with the given ID.
func (r *Registry) Get(id ranging.NodeID) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Snapshot returns every known node: the object first, then the receiver and the
// anchors in ascending ID order.
func (r *Registry) Snapshot() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	slices.SortFunc(out, func(a, b Node) int {
		return int(a.ID) - int(b.ID)
	})
	return out
}
