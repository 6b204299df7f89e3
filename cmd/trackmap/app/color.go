package app

import (
	"image/color"
	"math"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	hueExact   = 120.0 // green, no residual
	hueLimit   = 60.0  // yellow, residual at the accuracy threshold
	hueInvalid = 0.0   // red, residual at twice the threshold and above

	valueOldest = 0.45
	valueNewest = 0.95
)

var (
	gridColor     = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	axisColor     = color.RGBA{R: 0x90, G: 0x90, B: 0x90, A: 0xff}
	anchorColor   = colorful.Hsv(210, 0.9, 0.8)
	receiverColor = colorful.Hsv(280, 0.7, 0.7)
	pathColor     = color.RGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff}
)

// accuracyHue maps a residual onto a green to red hue. Residuals up to the
// threshold stay between green and yellow.
func accuracyHue(accuracy, threshold float64) float64 {
	if threshold <= 0 || accuracy <= 0 {
		return hueExact
	}

	ratio := math.Min(accuracy/threshold, 2)
	if ratio <= 1 {
		return hueExact - ratio*(hueExact-hueLimit)
	}
	return hueLimit - (ratio-1)*(hueLimit-hueInvalid)
}

// ageValue dims older positions. age is measured back from the newest position
// of a track spanning span.
func ageValue(age, span time.Duration) float64 {
	if span <= 0 || age <= 0 {
		return valueNewest
	}

	ratio := math.Min(float64(age)/float64(span), 1)
	return valueNewest - ratio*(valueNewest-valueOldest)
}

// pointColor returns the marker color of a position.
func pointColor(accuracy, threshold float64, age, span time.Duration) color.Color {
	return colorful.Hsv(accuracyHue(accuracy, threshold), 0.9, ageValue(age, span))
}
