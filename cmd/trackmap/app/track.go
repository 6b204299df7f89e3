package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/track"
)

// margin added around the scene bounds, in cm
const sceneMargin = 50.0

var errNoLayout = errors.New("session has no anchor layout")

// Layout is the anchor layout stored with every session.
type Layout struct {
	Anchors           []geometry.Anchor `json:"anchors"`
	Receiver          *geometry.Point   `json:"receiver,omitempty"`
	SpeedOfSound      float64           `json:"speedOfSound"`
	AccuracyThreshold float64           `json:"accuracyThreshold"`
	TieBreak          string            `json:"tieBreak"`
}

// ParseLayout decodes the session layout.
func ParseLayout(session *track.Session) (*Layout, error) {
	if session.Layout == nil || *session.Layout == "" {
		return nil, errNoLayout
	}

	var layout Layout
	if err := json.Unmarshal([]byte(*session.Layout), &layout); err != nil {
		return nil, fmt.Errorf("decoding layout of session %d: %w", session.ID, err)
	}
	if len(layout.Anchors) == 0 {
		return nil, errNoLayout
	}
	if layout.AccuracyThreshold <= 0 {
		layout.AccuracyThreshold = geometry.AccuracyThresholdCM
	}
	return &layout, nil
}

// TrackData accumulates the positions of a session and the extent of the scene.
type TrackData struct {
	Session *track.Session
	Layout  *Layout
	Points  []*track.Point

	Min, Max geometry.Point

	TimestampStart time.Time
	TimestampEnd   time.Time

	Valid   int // positions under the accuracy threshold
	Invalid int // positions over the threshold
	Unknown int // cycles where the solver failed
}

func NewTrackData(session *track.Session, layout *Layout) *TrackData {
	t := &TrackData{
		Session: session,
		Layout:  layout,
		Min:     geometry.Point{X: math.Inf(1), Y: math.Inf(1)},
		Max:     geometry.Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}

	for _, a := range layout.Anchors {
		t.extend(a.Point)
	}
	if layout.Receiver != nil {
		t.extend(*layout.Receiver)
	}
	return t
}

func (t *TrackData) extend(p geometry.Point) {
	t.Min.X = math.Min(t.Min.X, p.X)
	t.Min.Y = math.Min(t.Min.Y, p.Y)
	t.Max.X = math.Max(t.Max.X, p.X)
	t.Max.Y = math.Max(t.Max.Y, p.Y)
}

// Update adds a position to the track.
func (t *TrackData) Update(p *track.Point) {
	if t.TimestampStart.IsZero() || p.Timestamp.Before(t.TimestampStart) {
		t.TimestampStart = p.Timestamp
	}
	if p.Timestamp.After(t.TimestampEnd) {
		t.TimestampEnd = p.Timestamp
	}

	switch {
	case p.Accuracy == geometry.AccuracyUnknown:
		// coordinates of a failed solve carry no information
		t.Unknown++
		return
	case p.Valid:
		t.Valid++
	default:
		t.Invalid++
	}

	t.Points = append(t.Points, p)
	t.extend(geometry.Point{X: p.X, Y: p.Y})
}

// Total returns the number of positions read, drawn or not.
func (t *TrackData) Total() int {
	return t.Valid + t.Invalid + t.Unknown
}

// Bounds returns the scene extent with a margin on every side.
func (t *TrackData) Bounds() (geometry.Point, geometry.Point) {
	min := geometry.Point{X: t.Min.X - sceneMargin, Y: t.Min.Y - sceneMargin}
	max := geometry.Point{X: t.Max.X + sceneMargin, Y: t.Max.Y + sceneMargin}
	return min, max
}

// Projection maps scene coordinates in cm onto a pixel area. Scene Y grows up,
// image Y grows down.
type Projection struct {
	Left, Top int
	Scale     float64 // pixels per cm
	Min, Max  geometry.Point
}

// NewProjection fits the scene into a width x height area keeping the aspect ratio.
func NewProjection(min, max geometry.Point, left, top, width, height int) Projection {
	spanX := math.Max(max.X-min.X, 1)
	spanY := math.Max(max.Y-min.Y, 1)
	scale := math.Min(float64(width)/spanX, float64(height)/spanY)

	return Projection{Left: left, Top: top, Scale: scale, Min: min, Max: max}
}

// Pixel returns the image coordinates of a scene point.
func (p Projection) Pixel(pt geometry.Point) (int, int) {
	x := p.Left + int(math.Round((pt.X-p.Min.X)*p.Scale))
	y := p.Top + int(math.Round((p.Max.Y-pt.Y)*p.Scale))
	return x, y
}

// Width returns the projected scene width in pixels.
func (p Projection) Width() int {
	return int(math.Round((p.Max.X - p.Min.X) * p.Scale))
}

// Height returns the projected scene height in pixels.
func (p Projection) Height() int {
	return int(math.Round((p.Max.Y - p.Min.Y) * p.Scale))
}
