package geometry

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	// ErrDuplicateAnchor is returned when two anchors share the same identifier
	ErrDuplicateAnchor = errors.New("duplicate anchor id")

	// ErrInvalidAnchor is returned for an anchor with a non-positive identifier or non-finite coordinates
	ErrInvalidAnchor = errors.New("invalid anchor")
)

// Point is a location on the 2D plane, in centimetres.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Sub returns the vector p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

func (p Point) finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Anchor is a fixed node at a known position.
type Anchor struct {
	ID int `json:"id" yaml:"id"`
	Point
}

// AnchorConfig is the immutable, ID-ordered set of anchors a deployment polls.
// The zero value holds no anchors.
type AnchorConfig struct {
	anchors []Anchor
}

// NewAnchorConfig validates the anchors and returns them sorted by ascending ID.
func NewAnchorConfig(anchors ...Anchor) (AnchorConfig, error) {
	if len(anchors) < MinAnchors {
		return AnchorConfig{}, fmt.Errorf("%w: got %d, need at least %d", ErrInsufficientAnchors, len(anchors), MinAnchors)
	}

	sorted := slices.Clone(anchors)
	slices.SortFunc(sorted, func(a, b Anchor) int { return a.ID - b.ID })

	for i, a := range sorted {
		if a.ID <= 0 {
			return AnchorConfig{}, fmt.Errorf("%w: id must be positive, got %d", ErrInvalidAnchor, a.ID)
		}
		if !a.finite() {
			return AnchorConfig{}, fmt.Errorf("%w: anchor %d has non-finite coordinates", ErrInvalidAnchor, a.ID)
		}
		if i > 0 && sorted[i-1].ID == a.ID {
			return AnchorConfig{}, fmt.Errorf("%w: %d", ErrDuplicateAnchor, a.ID)
		}
	}

	return AnchorConfig{anchors: sorted}, nil
}

// Len returns the number of anchors.
func (c AnchorConfig) Len() int {
	return len(c.anchors)
}

// At returns the anchor at polling position i.
func (c AnchorConfig) At(i int) Anchor {
	return c.anchors[i]
}

// Anchors returns a copy of the anchors in polling order.
func (c AnchorConfig) Anchors() []Anchor {
	return slices.Clone(c.anchors)
}

// Lookup returns the anchor with the given ID.
func (c AnchorConfig) Lookup(id int) (Anchor, bool) {
	i, found := slices.BinarySearchFunc(c.anchors, id, func(a Anchor, id int) int { return a.ID - id })
	if !found {
		return Anchor{}, false
	}
	return c.anchors[i], true
}
