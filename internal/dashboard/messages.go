package dashboard

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/nodes"
)

const (
	typePosition = "position"
	typeStatus   = "status"
)

// positionMessage is the wire form of a position. Timestamp is in Unix milliseconds.
type positionMessage struct {
	Type      string  `json:"type"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Accuracy  float64 `json:"accuracy"`
	Valid     bool    `json:"valid"`
	Timestamp int64   `json:"timestamp"`
}

func newPositionMessage(p geometry.Position) positionMessage {
	return positionMessage{
		Type:      typePosition,
		X:         p.X,
		Y:         p.Y,
		Accuracy:  p.Accuracy,
		Valid:     p.Valid,
		Timestamp: p.Timestamp.UnixMilli(),
	}
}

type statusMessage struct {
	Type      string `json:"type"`
	Measuring bool   `json:"measuring"`
	*cycle.Status
}

func newStatusMessage(s cycle.Status) statusMessage {
	return statusMessage{
		Type:      typeStatus,
		Measuring: s.Active(),
		Status:    &s,
	}
}

// replyMessage answers a websocket command.
type replyMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Error   bool   `json:"error,omitempty"`
}

type nodeMessage struct {
	nodes.Node
	Online bool   `json:"online"`
	Seen   string `json:"seen"`
}

func newNodeMessages(list []nodes.Node, now time.Time, ttl time.Duration) []nodeMessage {
	out := make([]nodeMessage, 0, len(list))
	for _, n := range list {
		seen := "never"
		if !n.LastSeen.IsZero() {
			seen = humanize.RelTime(n.LastSeen, now, "ago", "from now")
		}
		out = append(out, nodeMessage{Node: n, Online: n.Online(now, ttl), Seen: seen})
	}
	return out
}

type anchorMessage struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type layoutMessage struct {
	Anchors  []anchorMessage `json:"anchors"`
	Receiver *geometry.Point `json:"receiver,omitempty"`
}

func newLayoutMessage(s *geometry.Solver) layoutMessage {
	var m layoutMessage
	for _, a := range s.Anchors().Anchors() {
		m.Anchors = append(m.Anchors, anchorMessage{ID: a.ID, X: a.X, Y: a.Y})
	}
	if p, ok := s.Reference(); ok {
		m.Receiver = &p
	}
	return m
}
