package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
)

const (
	anchorsYAML = `
  anchors:
    - {id: 2, x: 200, y: 300, address: "127.0.0.1:1002"}
    - {id: 1, x: -200, y: 300, address: "127.0.0.1:1001"}
`
	objectYAML = `
object:
  address: "127.0.0.1:1003"
`
	minimalConfig = "geometry:" + anchorsYAML + objectYAML
)

func TestParseConfig_Defaults(t *testing.T) {
	config, err := ParseConfig([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if config.Settings.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info log level, got %s", config.Settings.LogLevel)
	}
	if config.Settings.CycleTimeout.Duration() != cycle.DefaultCycleTimeout {
		t.Errorf("Expected default cycle timeout, got %s", config.Settings.CycleTimeout)
	}
	if config.Settings.StepTimeout != 0 || config.Settings.AutoStart != 0 {
		t.Errorf("Expected step timeout and auto start disabled, got %+v", config.Settings)
	}
	if config.Geometry.SpeedOfSound != geometry.SpeedOfSoundCMPerS || config.Geometry.TieBreak != geometry.TieBreakLargerY {
		t.Errorf("Unexpected geometry defaults %+v", config.Geometry)
	}
	if config.Transport.Listen != defaultListen || config.Transport.ReadBuffer != ranging.DefaultReadBuffer {
		t.Errorf("Unexpected transport defaults %+v", config.Transport)
	}

	layout, err := config.Geometry.Layout()
	if err != nil {
		t.Fatalf("Unexpected layout error: %v", err)
	}
	if layout.At(0).ID != 1 || layout.At(1).ID != 2 {
		t.Errorf("Expected anchors sorted by ID, got %+v", layout.Anchors())
	}

	addresses := config.Addresses()
	if len(addresses) != 3 || addresses[ranging.ObjectNode] != "127.0.0.1:1003" || addresses[2] != "127.0.0.1:1002" {
		t.Errorf("Unexpected addresses %v", addresses)
	}
}

func TestParseConfig_Overrides(t *testing.T) {
	data := objectYAML + `
settings:
  logLevel: debug
  tickInterval: 5ms
  cycleTimeout: 3s
  stepTimeout: 500ms
  autoStart: 250ms
geometry:
  tieBreak: smaller-y
  accuracyThreshold: 20
  receiver: {x: 0, y: 350}
  anchors:
    - {id: 1, x: -200, y: 300, address: "127.0.0.1:1001"}
    - {id: 2, x: 200, y: 300, address: "127.0.0.1:1002"}
    - {id: 3, x: 0, y: -100, address: "127.0.0.1:1004"}
`
	config, err := ParseConfig([]byte(data))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if config.Settings.LogLevel != slog.LevelDebug {
		t.Errorf("Expected debug log level, got %s", config.Settings.LogLevel)
	}
	if config.Settings.TickInterval.Duration() != 5*time.Millisecond ||
		config.Settings.StepTimeout.Duration() != 500*time.Millisecond ||
		config.Settings.AutoStart.Duration() != 250*time.Millisecond {
		t.Errorf("Unexpected durations %+v", config.Settings)
	}
	if config.Geometry.Receiver == nil || config.Geometry.Receiver.Y != 350 {
		t.Errorf("Expected receiver, got %+v", config.Geometry.Receiver)
	}

	solver, err := createSolver(&config.Geometry)
	if err != nil {
		t.Fatalf("Unexpected solver error: %v", err)
	}
	if solver.Ranges() != 4 {
		t.Errorf("Expected 3 anchors plus the receiver, got %d ranges", solver.Ranges())
	}

	record := newLayoutRecord(solver, config)
	if len(record.Anchors) != 3 || record.Receiver == nil || record.TieBreak != "smaller-y" {
		t.Errorf("Unexpected layout record %+v", record)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errMsg string
	}{
		{
			name:   "single anchor",
			data:   "geometry:\n  anchors:\n    - {id: 1, x: 0, y: 0, address: \"a:1\"}\nobject:\n  address: \"b:1\"\n",
			errMsg: "insufficient anchors",
		},
		{
			name:   "missing object",
			data:   strings.Replace(minimalConfig, `address: "127.0.0.1:1003"`, `address: ""`, 1),
			errMsg: "object address is required",
		},
		{
			name:   "bad tie break",
			data:   "geometry:\n  tieBreak: leftmost" + anchorsYAML + objectYAML,
			errMsg: "tieBreak",
		},
		{
			name:   "negative duration",
			data:   minimalConfig + "settings:\n  stepTimeout: -1s\n",
			errMsg: "must not be negative",
		},
		{
			name:   "bad duration",
			data:   minimalConfig + "settings:\n  cycleTimeout: soon\n",
			errMsg: "failed to parse",
		},
		{
			name:   "serial without device",
			data:   minimalConfig + "serial:\n  enabled: true\n  device: \"\"\n",
			errMsg: "serial device is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalConfig), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestTimeDuration(t *testing.T) {
	d := NewTimeDuration(1500 * time.Millisecond)

	data, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(data) != `"1.5s"` {
		t.Errorf("Expected \"1.5s\", got %s", data)
	}

	var back TimeDuration
	if err = back.UnmarshalJSON(data); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if back != d {
		t.Errorf("Expected %s, got %s", d, back)
	}
	if err = NewTimeDuration(-time.Second).Validate(); err == nil {
		t.Error("Expected error for a negative duration")
	}
}
