package app

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/track"
)

const layoutJSON = `{"anchors":[{"id":1,"x":-200,"y":300},{"id":2,"x":200,"y":300}],"receiver":{"x":0,"y":350},"speedOfSound":34300,"accuracyThreshold":50,"tieBreak":"larger-y"}`

func testSession() *track.Session {
	layout := layoutJSON
	return &track.Session{ID: 7, StartTime: time.Now(), RunID: "run", Layout: &layout}
}

func TestParseLayout(t *testing.T) {
	layout, err := ParseLayout(testSession())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(layout.Anchors) != 2 || layout.Anchors[1].X != 200 {
		t.Errorf("Unexpected anchors: %+v", layout.Anchors)
	}
	if layout.Receiver == nil || layout.Receiver.Y != 350 {
		t.Errorf("Unexpected receiver: %+v", layout.Receiver)
	}

	empty := ""
	for name, s := range map[string]*track.Session{
		"nil":   {ID: 1},
		"empty": {ID: 2, Layout: &empty},
	} {
		if _, err = ParseLayout(s); !errors.Is(err, errNoLayout) {
			t.Errorf("%s: expected errNoLayout, got %v", name, err)
		}
	}

	broken := "{"
	if _, err = ParseLayout(&track.Session{ID: 3, Layout: &broken}); err == nil {
		t.Error("Expected error for malformed layout")
	}
}

func TestParseLayout_DefaultThreshold(t *testing.T) {
	raw := `{"anchors":[{"id":1,"x":0,"y":0}]}`
	layout, err := ParseLayout(&track.Session{ID: 1, Layout: &raw})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if layout.AccuracyThreshold != geometry.AccuracyThresholdCM {
		t.Errorf("Expected default threshold %v, got %v", geometry.AccuracyThresholdCM, layout.AccuracyThreshold)
	}
}

func TestTrackData_Update(t *testing.T) {
	s := testSession()
	layout, _ := ParseLayout(s)
	data := NewTrackData(s, layout)

	if data.Min.X != -200 || data.Max.X != 200 || data.Min.Y != 300 || data.Max.Y != 350 {
		t.Fatalf("Unexpected layout bounds: %+v %+v", data.Min, data.Max)
	}

	start := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	data.Update(&track.Point{CycleID: 2, Timestamp: start.Add(time.Second), X: 10, Y: 100, Accuracy: 4, Valid: true})
	data.Update(&track.Point{CycleID: 1, Timestamp: start, X: -300, Y: 50, Accuracy: 80})
	data.Update(&track.Point{CycleID: 3, Timestamp: start.Add(2 * time.Second), X: 5000, Y: 5000, Accuracy: geometry.AccuracyUnknown})

	if data.Valid != 1 || data.Invalid != 1 || data.Unknown != 1 || data.Total() != 3 {
		t.Errorf("Unexpected counters: valid %d, invalid %d, unknown %d", data.Valid, data.Invalid, data.Unknown)
	}
	if len(data.Points) != 2 {
		t.Errorf("Expected failed solves to be left out, got %d points", len(data.Points))
	}
	if !data.TimestampStart.Equal(start) || !data.TimestampEnd.Equal(start.Add(2*time.Second)) {
		t.Errorf("Unexpected time span: %s - %s", data.TimestampStart, data.TimestampEnd)
	}
	if data.Min.X != -300 || data.Min.Y != 50 || data.Max.X != 200 {
		t.Errorf("Unexpected bounds: %+v %+v", data.Min, data.Max)
	}

	min, max := data.Bounds()
	if min.X != -300-sceneMargin || max.Y != 350+sceneMargin {
		t.Errorf("Expected margin around bounds, got %+v %+v", min, max)
	}
}

func TestProjection(t *testing.T) {
	proj := NewProjection(geometry.Point{X: -100, Y: 0}, geometry.Point{X: 100, Y: 50}, 10, 20, 400, 400)

	if proj.Scale != 2 {
		t.Fatalf("Expected scale 2, got %v", proj.Scale)
	}
	if proj.Width() != 400 || proj.Height() != 100 {
		t.Errorf("Expected 400x100, got %dx%d", proj.Width(), proj.Height())
	}

	tests := []struct {
		name string
		pt   geometry.Point
		x, y int
	}{
		{"top left", geometry.Point{X: -100, Y: 50}, 10, 20},
		{"bottom right", geometry.Point{X: 100, Y: 0}, 410, 120},
		{"origin", geometry.Point{}, 210, 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := proj.Pixel(tt.pt)
			if x != tt.x || y != tt.y {
				t.Errorf("Expected (%d, %d), got (%d, %d)", tt.x, tt.y, x, y)
			}
		})
	}
}

func TestAccuracyHue(t *testing.T) {
	tests := []struct {
		accuracy float64
		hue      float64
	}{
		{0, hueExact},
		{25, 90},
		{50, hueLimit},
		{75, 30},
		{100, hueInvalid},
		{1000, hueInvalid},
	}

	for _, tt := range tests {
		if got := accuracyHue(tt.accuracy, 50); math.Abs(got-tt.hue) > 1e-9 {
			t.Errorf("accuracy %v: expected hue %v, got %v", tt.accuracy, tt.hue, got)
		}
	}
}

func TestAgeValue(t *testing.T) {
	if v := ageValue(0, time.Minute); v != valueNewest {
		t.Errorf("Expected newest value, got %v", v)
	}
	if v := ageValue(time.Minute, time.Minute); v != valueOldest {
		t.Errorf("Expected oldest value, got %v", v)
	}
	if v := ageValue(time.Second, 0); v != valueNewest {
		t.Errorf("Expected newest value for a single point track, got %v", v)
	}
}

func TestNiceGridStep(t *testing.T) {
	tests := []struct {
		span  float64
		width int
		step  float64
	}{
		{500, 1000, 50},
		{800, 1000, 100},
		{40, 400, 10},
		{1e6, 100, 5_000},
	}
	for _, tt := range tests {
		if got := niceGridStep(tt.span, tt.width); got != tt.step {
			t.Errorf("span %v over %dpx: expected step %v, got %v", tt.span, tt.width, tt.step, got)
		}
	}
}
