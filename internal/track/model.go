package track

import (
	"time"
)

// Session represents a single positioning run with a fixed anchor layout.
// Each session captures metadata about when and how the positioning was performed.
type Session struct {
	ID        int64     `json:"ID"`                       // Unique identifier for the session
	StartTime time.Time `json:"startTime"`                // When the session began
	RunID     string    `json:"runID"`                    // Unique identifier of the positioner run
	Layout    *string   `json:"layout,string,omitempty"` // Anchor layout in JSON format
}

// Sample is a single range measurement taken during a cycle.
type Sample struct {
	NodeID     int       `json:"node"`       // Anchor ID, or -1 for the object
	FlightUS   int64     `json:"flightUS"`   // Time of flight in microseconds
	DistanceCM float64   `json:"distanceCM"` // Distance derived from the time of flight
	CapturedAt time.Time `json:"capturedAt"` // When the host received the report
}

// Point is a stored position fix.
type Point struct {
	CycleID   uint64    `json:"cycle"`             // Coordinator cycle counter
	Timestamp time.Time `json:"timestamp"`         // When the position was computed
	X         float64   `json:"x"`                 // X coordinate in cm
	Y         float64   `json:"y"`                 // Y coordinate in cm
	Accuracy  float64   `json:"accuracy"`          // Residual error in cm, -1 if unknown
	Valid     bool      `json:"valid"`             // Accuracy is under the threshold
	Outcome   string    `json:"outcome"`           // How the cycle ended
	Samples   []Sample  `json:"samples,omitempty"` // Ranges the position was computed from
}

// Age returns how long ago the point was computed.
func (p Point) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}
