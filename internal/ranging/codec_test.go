package ranging

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		event  *Event
		status *StatusReport
	}{
		{
			name:  "beacon flight time",
			line:  "BEACON_TIME:1:1458",
			event: &Event{Node: 1, Arrived: 1458},
		},
		{
			name:  "beacon emitted and arrived",
			line:  "BEACON_TIME:2:1000:2458",
			event: &Event{Node: 2, Emitted: 1000, Arrived: 2458},
		},
		{
			name:  "object flight time with trailing newline",
			line:  "OBJECT_TIME:2915\r\n",
			event: &Event{Node: ObjectNode, Arrived: 2915},
		},
		{
			name:  "object across wrap",
			line:  "OBJECT_TIME:4294967000:500",
			event: &Event{Node: ObjectNode, Emitted: 4294967000, Arrived: 500},
		},
		{
			name:   "beacon status",
			line:   "BEACON_STATUS:1:KY-006:ONLINE",
			status: &StatusReport{Node: 1, Sensor: "KY-006", State: "ONLINE"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.line)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if tt.event != nil {
				if msg.Event == nil {
					t.Fatalf("Expected event, got %+v", msg)
				}
				if *msg.Event != *tt.event {
					t.Errorf("Expected event %+v, got %+v", *tt.event, *msg.Event)
				}
			}
			if tt.status != nil {
				if msg.Status == nil {
					t.Fatalf("Expected status, got %+v", msg)
				}
				if *msg.Status != *tt.status {
					t.Errorf("Expected status %+v, got %+v", *tt.status, *msg.Status)
				}
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{name: "empty", line: "  ", want: ErrMalformedMessage},
		{name: "unknown prefix", line: "HELLO:1", want: ErrUnknownMessage},
		{name: "missing time", line: "BEACON_TIME:1", want: ErrMalformedMessage},
		{name: "too many fields", line: "OBJECT_TIME:1:2:3", want: ErrMalformedMessage},
		{name: "non numeric id", line: "BEACON_TIME:x:100", want: ErrMalformedMessage},
		{name: "zero id", line: "BEACON_TIME:0:100", want: ErrMalformedMessage},
		{name: "negative time", line: "OBJECT_TIME:-5", want: ErrMalformedMessage},
		{name: "time overflows 32 bits", line: "OBJECT_TIME:4294967296", want: ErrMalformedMessage},
		{name: "short status", line: "BEACON_STATUS:1:KY-006", want: ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.line); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFormatCommand(t *testing.T) {
	if got := FormatCommand(Command{Target: 1, Kind: CommandStartRanging}); got != "START" {
		t.Errorf("Expected %q, got %q", "START", got)
	}
	if got := FormatCommand(Command{Target: 2, Kind: CommandTest}); got != "TEST" {
		t.Errorf("Expected %q, got %q", "TEST", got)
	}
}

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		input   string
		want    NodeID
		wantErr bool
	}{
		{input: "object", want: ObjectNode},
		{input: " OBJECT ", want: ObjectNode},
		{input: "3", want: 3},
		{input: "0", wantErr: true},
		{input: "-2", wantErr: true},
		{input: "receiver", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNodeID(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Fatalf("Expected ErrMalformedMessage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMicros_Since(t *testing.T) {
	tests := []struct {
		name    string
		ref, at Micros
		want    time.Duration
	}{
		{name: "plain", ref: 1000, at: 2458, want: 1458 * time.Microsecond},
		{name: "across wrap", ref: math.MaxUint32 - 99, at: 400, want: 500 * time.Microsecond},
		{name: "equal", ref: 77, at: 77, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.at.Since(tt.ref); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNewSample(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSample(Event{Node: 2, Emitted: math.MaxUint32 - 457, Arrived: 1000, ReceivedAt: at}, 34300)

	if s.Flight != 1458*time.Microsecond {
		t.Errorf("Expected flight 1458µs, got %s", s.Flight)
	}
	if math.Abs(s.DistanceCM-50.0094) > 1e-3 {
		t.Errorf("Expected 50.0094 cm, got %f", s.DistanceCM)
	}
	if s.Node != 2 || !s.CapturedAt.Equal(at) {
		t.Errorf("Unexpected sample metadata: %+v", s)
	}
}
