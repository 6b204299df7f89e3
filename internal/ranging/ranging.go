package ranging

import (
	"strconv"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
)

const (
	// ObjectNode identifies the mobile object. Anchor IDs are always positive.
	ObjectNode NodeID = -1

	// ReceiverNode identifies the fixed receiver.
	ReceiverNode NodeID = 0

	CommandStartRanging CommandKind = "START"
	CommandStatus       CommandKind = "STATUS"
	CommandCalibrate    CommandKind = "CALIBRATE"
	CommandTest         CommandKind = "TEST"
)

// NodeID identifies a node taking part in a measurement cycle.
type NodeID int

// IsObject reports whether n is the mobile object.
func (n NodeID) IsObject() bool {
	return n == ObjectNode
}

func (n NodeID) String() string {
	switch n {
	case ObjectNode:
		return "object"
	case ReceiverNode:
		return "receiver"
	default:
		return "anchor " + strconv.Itoa(int(n))
	}
}

// Micros is a node timestamp in microseconds. It wraps at 2^32, roughly every 71 minutes.
type Micros uint32

// Since returns the time elapsed from ref to m. A single wrap between the two is
// absorbed by the unsigned subtraction.
func (m Micros) Since(ref Micros) time.Duration {
	return time.Duration(uint32(m-ref)) * time.Microsecond
}

// Event is a ranging report from a node. Emitted is the reference event, the start of
// the node's ranging pulse, and Arrived its detection. Firmware that reports the flight
// time directly leaves Emitted at zero.
type Event struct {
	Node       NodeID
	Emitted    Micros
	Arrived    Micros
	ReceivedAt time.Time // host time the report was read
}

// Flight returns the one-way time of flight carried by the event.
func (e Event) Flight() time.Duration {
	return e.Arrived.Since(e.Emitted)
}

// CommandKind is the verb sent to a node.
type CommandKind string

func (k CommandKind) String() string {
	return string(k)
}

// Command instructs a single node.
type Command struct {
	Target NodeID
	Kind   CommandKind
}

// StatusReport is a node's answer to a STATUS probe.
type StatusReport struct {
	Node       NodeID
	Sensor     string
	State      string
	ReceivedAt time.Time
}

// Sample is one distance measurement, from an anchor to the object or from the
// object to the receiver.
type Sample struct {
	Node       NodeID        `json:"node"`
	Flight     time.Duration `json:"flight"`
	DistanceCM float64       `json:"distance"`
	CapturedAt time.Time     `json:"capturedAt"`
}

// NewSample converts an event into a distance using the given speed of sound in cm/s.
func NewSample(e Event, speedOfSound float64) Sample {
	flight := e.Flight()
	return Sample{
		Node:       e.Node,
		Flight:     flight,
		DistanceCM: geometry.DistanceCM(flight, speedOfSound),
		CapturedAt: e.ReceivedAt,
	}
}
