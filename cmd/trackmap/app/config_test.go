package app

import (
	"io"
	"testing"
	"time"
)

func TestParseFlags(t *testing.T) {
	c, err := ParseFlags("trackmap", []string{"-db", "positions.db", "-s", "3", "-o", "out", "-f", "JPG", "-valid-only", "-tz", "UTC",
		"-from", "2026-10-18 10:00:00", "-to", "2026-10-18 11:00:00"}, io.Discard)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if c.SessionID != 3 || !c.ValidOnly {
		t.Errorf("Unexpected config: %+v", c)
	}
	if c.Format != ImageJPEG || c.OutputFile != "out.jpeg" {
		t.Errorf("Expected out.jpeg, got %s (%s)", c.OutputFile, c.Format)
	}
	if c.Width != defaultWidth || c.Height != defaultHeight {
		t.Errorf("Expected default plot size, got %dx%d", c.Width, c.Height)
	}

	expected := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	if c.StartTime == nil || !c.StartTime.Equal(expected) {
		t.Errorf("Expected start time %s, got %v", expected, c.StartTime)
	}
	if c.EndTime == nil || !c.EndTime.Equal(expected.Add(time.Hour)) {
		t.Errorf("Expected end time %s, got %v", expected.Add(time.Hour), c.EndTime)
	}
}

func TestParseFlags_List(t *testing.T) {
	c, err := ParseFlags("trackmap", []string{"-db", "positions.db", "-list"}, io.Discard)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !c.ListSessions || c.OutputFile != "" {
		t.Errorf("Unexpected config: %+v", c)
	}
}

func TestParseFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing db", []string{"-o", "out"}},
		{"missing output", []string{"-db", "positions.db"}},
		{"bad session", []string{"-db", "positions.db", "-o", "out", "-s", "0"}},
		{"bad format", []string{"-db", "positions.db", "-o", "out", "-f", "gif"}},
		{"small plot", []string{"-db", "positions.db", "-o", "out", "-width", "10"}},
		{"bad time", []string{"-db", "positions.db", "-o", "out", "-from", "yesterday"}},
		{"bad zone", []string{"-db", "positions.db", "-o", "out", "-tz", "Nowhere/Atlantis"}},
		{"reversed range", []string{"-db", "positions.db", "-o", "out", "-from", "2026-10-18 11:00:00", "-to", "2026-10-18 10:00:00"}},
		{"unknown flag", []string{"-db", "positions.db", "-o", "out", "-frequency", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFlags("trackmap", tt.args, io.Discard); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
