package geometry

import (
	"time"
)

const (
	// SpeedOfSoundCMPerS is the speed of sound in air at about 20°C, in cm/s.
	// No temperature compensation is applied.
	SpeedOfSoundCMPerS = 34300.0

	// AccuracyThresholdCM is the residual below which a Position is considered valid.
	AccuracyThresholdCM = 50.0

	// AccuracyUnknown marks a Position that could not be computed.
	AccuracyUnknown = -1.0

	// InitialAccuracy is reported before the first cycle resolves.
	InitialAccuracy = 100.0

	// MinAnchors is the smallest deployment that can produce a fix.
	MinAnchors = 2
)

// Position is the estimated location of the mobile object.
type Position struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Accuracy  float64   `json:"accuracy"` // residual in cm, AccuracyUnknown if the solve failed
	Timestamp time.Time `json:"timestamp"`
	Valid     bool      `json:"valid"`
}

// Unset returns the placeholder Position published before any cycle has completed.
func Unset(now time.Time) Position {
	return Position{Accuracy: InitialAccuracy, Timestamp: now}
}

// DistanceCM converts a one-way time of flight to a distance in centimetres.
func DistanceCM(flight time.Duration, speedOfSound float64) float64 {
	return flight.Seconds() * speedOfSound
}
