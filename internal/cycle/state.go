package cycle

import (
	"fmt"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
)

const (
	StateIdle State = iota
	StatePolling
	StateAwaitingObject
	StateResolving
)

const (
	OutcomeResolved Outcome = "resolved"  // a position was computed, valid or not
	OutcomeFailed   Outcome = "failed"    // the solver rejected the geometry
	OutcomeTimedOut Outcome = "timed-out" // a node did not answer in time
	OutcomeStopped  Outcome = "stopped"   // cancelled by an operator
)

// State is the coordinator phase.
type State int

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateAwaitingObject:
		return "awaiting-object"
	case StateResolving:
		return "resolving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome describes how a cycle ended.
type Outcome string

// Status is a snapshot of the coordinator, published on every transition.
type Status struct {
	State      State           `json:"state"`
	CycleID    uint64          `json:"cycle"`
	Step       int             `json:"step"`                 // anchor index while polling
	ActiveNode *ranging.NodeID `json:"activeNode,omitempty"` // node the coordinator waits for
	Elapsed    time.Duration   `json:"elapsed"`
	Samples    int             `json:"samples"`
	Dropped    uint64          `json:"dropped"` // events lost to queue overflow since startup
	Message    string          `json:"message,omitempty"`
}

// Active reports whether a cycle is in flight.
func (s Status) Active() bool {
	return s.State != StateIdle
}

// Report is the record of one finished cycle.
type Report struct {
	CycleID    uint64
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Samples    []ranging.Sample   // in polling order, object last
	Position   *geometry.Position // nil unless the solver ran
	Error      string
}
