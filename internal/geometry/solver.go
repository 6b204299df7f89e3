package geometry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

const (
	// TieBreakLargerY picks the intersection with the larger Y coordinate. It assumes
	// the object moves on the far side of the anchor baseline, away from the room origin.
	// On a vertical baseline both candidates share Y and the larger X wins.
	TieBreakLargerY TieBreak = "larger-y"

	// TieBreakSmallerY picks the intersection with the smaller Y coordinate, or the
	// smaller X on a vertical baseline.
	TieBreakSmallerY TieBreak = "smaller-y"

	// baselineEpsilon is the smallest anchor separation treated as non-degenerate, in cm.
	baselineEpsilon = 1e-9

	// collinearEpsilon bounds the normalised cross product under which anchors are collinear.
	collinearEpsilon = 1e-9
)

var (
	// ErrInsufficientAnchors is returned when fewer than MinAnchors are configured
	ErrInsufficientAnchors = errors.New("insufficient anchors")

	// ErrDegenerateBaseline is returned when the anchors are coincident or collinear
	ErrDegenerateBaseline = errors.New("degenerate anchor baseline")

	// ErrNoIntersection is returned when the range circles do not intersect
	ErrNoIntersection = errors.New("range circles do not intersect")

	// ErrInvalidRange is returned for a negative or non-finite distance
	ErrInvalidRange = errors.New("invalid range")

	// ErrRangeCount is returned when the number of distances does not match the anchors
	ErrRangeCount = errors.New("range count mismatch")
)

// TieBreak selects one of the two candidate points of a two-anchor solve.
type TieBreak string

func (t TieBreak) String() string {
	return string(t)
}

// Valid reports whether t is a known tie-break rule.
func (t TieBreak) Valid() bool {
	return t == TieBreakLargerY || t == TieBreakSmallerY
}

// WithTieBreak sets the rule used to choose between two intersection points
func WithTieBreak(tb TieBreak) func(*Solver) {
	return func(s *Solver) {
		s.tieBreak = tb
	}
}

// WithAccuracyThreshold sets the residual, in cm, below which a Position is valid
func WithAccuracyThreshold(cm float64) func(*Solver) {
	return func(s *Solver) {
		s.threshold = cm
	}
}

// WithReference adds a fixed reference point, the receiver, to the solve. Solve then
// expects one extra distance after the anchor distances.
func WithReference(p Point) func(*Solver) {
	return func(s *Solver) {
		s.reference = &p
	}
}

// WithClock sets the time source used to stamp positions
func WithClock(now func() time.Time) func(*Solver) {
	return func(s *Solver) {
		s.now = now
	}
}

// Solver turns per-anchor distances into a Position. It holds no mutable state
// and is safe for concurrent use.
type Solver struct {
	anchors   AnchorConfig
	reference *Point
	tieBreak  TieBreak
	threshold float64
	now       func() time.Time
}

// NewSolver creates a Solver for the given anchor layout
func NewSolver(anchors AnchorConfig, options ...func(*Solver)) *Solver {
	s := Solver{
		anchors:   anchors,
		tieBreak:  TieBreakLargerY,
		threshold: AccuracyThresholdCM,
		now:       time.Now,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Anchors returns the anchor layout the solver was created with.
func (s *Solver) Anchors() AnchorConfig {
	return s.anchors
}

// Reference returns the receiver position, if one takes part in the solve.
func (s *Solver) Reference() (Point, bool) {
	if s.reference == nil {
		return Point{}, false
	}
	return *s.reference, true
}

// Ranges returns the number of distances Solve expects.
func (s *Solver) Ranges() int {
	if s.reference != nil {
		return s.anchors.Len() + 1
	}
	return s.anchors.Len()
}

// Solve estimates the object position from one distance per anchor, in polling order,
// followed by the receiver distance when a reference is configured.
//
// Geometric failures return an invalid Position together with the error, so callers
// can publish it as-is. The returned coordinates are never NaN.
func (s *Solver) Solve(distances []float64) (Position, error) {
	invalid := Position{Accuracy: AccuracyUnknown, Timestamp: s.now()}

	if s.anchors.Len() < MinAnchors {
		return invalid, fmt.Errorf("%w: got %d, need at least %d", ErrInsufficientAnchors, s.anchors.Len(), MinAnchors)
	}
	if len(distances) != s.Ranges() {
		return invalid, fmt.Errorf("%w: got %d distances for %d ranges", ErrRangeCount, len(distances), s.Ranges())
	}
	for i, d := range distances {
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return invalid, fmt.Errorf("%w: distance %d is %f", ErrInvalidRange, i, d)
		}
	}

	points := make([]Point, 0, s.Ranges())
	for _, a := range s.anchors.anchors {
		points = append(points, a.Point)
	}
	if s.reference != nil {
		points = append(points, *s.reference)
	}

	var p Point
	var accuracy float64
	var err error
	if len(points) == 2 {
		p, accuracy, err = Intersect(points[0], points[1], distances[0], distances[1], s.tieBreak)
	} else {
		p, accuracy, err = Multilaterate(points, distances)
	}
	if err != nil {
		return invalid, err
	}

	return Position{
		X:         p.X,
		Y:         p.Y,
		Accuracy:  accuracy,
		Timestamp: invalid.Timestamp,
		Valid:     accuracy < s.threshold,
	}, nil
}

// Intersect solves the two-circle intersection of ranges d1 around a1 and d2 around a2.
// It returns the candidate selected by tb and the mean absolute residual.
func Intersect(a1, a2 Point, d1, d2 float64, tb TieBreak) (Point, float64, error) {
	d := a1.Dist(a2)
	if d < baselineEpsilon {
		return Point{}, 0, fmt.Errorf("%w: anchors %.2f cm apart", ErrDegenerateBaseline, d)
	}
	if d > d1+d2 || d < math.Abs(d1-d2) {
		return Point{}, 0, fmt.Errorf("%w: baseline %.2f cm, ranges %.2f cm and %.2f cm", ErrNoIntersection, d, d1, d2)
	}

	a := (d1*d1 - d2*d2 + d*d) / (2 * d)

	// rounding can push h² slightly below zero at tangency
	h2 := d1*d1 - a*a
	if h2 < 0 {
		h2 = 0
	}
	h := math.Sqrt(h2)

	e := a2.Sub(a1)
	ex, ey := e.X/d, e.Y/d

	base := Point{X: a1.X + a*ex, Y: a1.Y + a*ey}
	p1 := Point{X: base.X - h*ey, Y: base.Y + h*ex}
	p2 := Point{X: base.X + h*ey, Y: base.Y - h*ex}

	// signed preference of p2 over p1
	pref := p2.Y - p1.Y
	if math.Abs(pref) < baselineEpsilon {
		pref = p2.X - p1.X
	}
	if tb == TieBreakSmallerY {
		pref = -pref
	}

	p := p1
	if pref > 0 {
		p = p2
	}

	accuracy := (math.Abs(p.Dist(a1)-d1) + math.Abs(p.Dist(a2)-d2)) / 2
	return p, accuracy, nil
}

// Multilaterate solves three or more ranges in the least-squares sense. The circle
// equation of the first anchor is subtracted from the others, leaving an overdetermined
// linear system in (x, y). It returns the estimate and the RMS residual of the ranges.
func Multilaterate(anchors []Point, distances []float64) (Point, float64, error) {
	n := len(anchors)
	if n < 3 {
		return Point{}, 0, fmt.Errorf("%w: multilateration needs 3 ranges, got %d", ErrInsufficientAnchors, n)
	}
	if len(distances) != n {
		return Point{}, 0, fmt.Errorf("%w: got %d distances for %d anchors", ErrRangeCount, len(distances), n)
	}
	if collinear(anchors) {
		return Point{}, 0, fmt.Errorf("%w: anchors are collinear", ErrDegenerateBaseline)
	}

	a0, d0 := anchors[0], distances[0]
	k0 := a0.X*a0.X + a0.Y*a0.Y

	A := mat.NewDense(n-1, 2, nil)
	b := mat.NewVecDense(n-1, nil)
	for i := 1; i < n; i++ {
		ai, di := anchors[i], distances[i]
		A.Set(i-1, 0, 2*(ai.X-a0.X))
		A.Set(i-1, 1, 2*(ai.Y-a0.Y))
		b.SetVec(i-1, d0*d0-di*di+ai.X*ai.X+ai.Y*ai.Y-k0)
	}

	var qr mat.QR
	qr.Factorize(A)

	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return Point{}, 0, fmt.Errorf("%w: %w", ErrDegenerateBaseline, err)
	}

	p := Point{X: x.AtVec(0), Y: x.AtVec(1)}
	if !p.finite() {
		return Point{}, 0, fmt.Errorf("%w: solution is not finite", ErrDegenerateBaseline)
	}

	var sum float64
	for i, a := range anchors {
		r := p.Dist(a) - distances[i]
		sum += r * r
	}

	return p, math.Sqrt(sum / float64(n)), nil
}

// collinear reports whether all points lie on one line, including the case
// where every point coincides.
func collinear(points []Point) bool {
	origin := points[0]

	var far Point
	var farDist float64
	for _, p := range points[1:] {
		if d := p.Dist(origin); d > farDist {
			far, farDist = p, d
		}
	}
	if farDist < baselineEpsilon {
		return true
	}

	u := far.Sub(origin)
	for _, p := range points[1:] {
		v := p.Sub(origin)
		vl := math.Hypot(v.X, v.Y)
		if vl < baselineEpsilon {
			continue
		}
		if math.Abs(u.X*v.Y-u.Y*v.X)/(farDist*vl) > collinearEpsilon {
			return false
		}
	}

	return true
}
