package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = ":1234"
	defaultDashboardListen = ":8080"
	defaultStatusInterval  = 30 * time.Second
)

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Geometry  GeometryConfig  `yaml:"geometry"`
	Object    NodeConfig      `yaml:"object"`
	Transport TransportConfig `yaml:"transport"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Serial    SerialConfig    `yaml:"serial"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel       slog.Level   `yaml:"logLevel"`
	TickInterval   TimeDuration `yaml:"tickInterval"`
	CycleTimeout   TimeDuration `yaml:"cycleTimeout"`
	StepTimeout    TimeDuration `yaml:"stepTimeout"`
	AutoStart      TimeDuration `yaml:"autoStart"`      // idle time between automatic cycles, 0 disables
	StatusInterval TimeDuration `yaml:"statusInterval"` // node STATUS probe period, 0 disables
	Console        bool         `yaml:"console"`
}

// GeometryConfig describes the room layout
type GeometryConfig struct {
	SpeedOfSound      float64           `yaml:"speedOfSound"`      // cm/s
	AccuracyThreshold float64           `yaml:"accuracyThreshold"` // cm
	TieBreak          geometry.TieBreak `yaml:"tieBreak"`
	Anchors           []AnchorConfig    `yaml:"anchors"`
	Receiver          *geometry.Point   `yaml:"receiver"` // joins the solve when set
}

// AnchorConfig is a fixed beacon
type AnchorConfig struct {
	ID      int     `yaml:"id"`
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Address string  `yaml:"address"`
}

// NodeConfig is a node reachable over UDP
type NodeConfig struct {
	Address string `yaml:"address"`
}

// TransportConfig represents the UDP link to the nodes
type TransportConfig struct {
	Listen     string `yaml:"listen"`
	ReadBuffer int    `yaml:"readBuffer"`
}

// BridgeConfig runs an external program that prints node reports to stdout
type BridgeConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// SerialConfig reads node reports from a receiver on a serial port
type SerialConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baudRate"`
}

// DashboardConfig represents the web dashboard
type DashboardConfig struct {
	Enabled bool         `yaml:"enabled"`
	Listen  string       `yaml:"listen"`
	NodeTTL TimeDuration `yaml:"nodeTTL"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DataDirectory string `yaml:"dataDirectory"`
	QueueSize     int    `yaml:"queueSize"`
}

// LoadConfig reads, defaults and validates the configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes, defaults and validates a YAML configuration
func ParseConfig(data []byte) (*Config, error) {
	config := Config{
		Settings: Settings{
			LogLevel:       slog.LevelInfo,
			TickInterval:   NewTimeDuration(cycle.DefaultTickInterval),
			CycleTimeout:   NewTimeDuration(cycle.DefaultCycleTimeout),
			StatusInterval: NewTimeDuration(defaultStatusInterval),
		},
		Geometry: GeometryConfig{
			SpeedOfSound:      geometry.SpeedOfSoundCMPerS,
			AccuracyThreshold: geometry.AccuracyThresholdCM,
			TieBreak:          geometry.TieBreakLargerY,
		},
		Transport: TransportConfig{
			Listen:     defaultListen,
			ReadBuffer: ranging.DefaultReadBuffer,
		},
		Serial: SerialConfig{
			BaudRate: ranging.DefaultBaudRate,
		},
		Dashboard: DashboardConfig{
			Listen: defaultDashboardListen,
		},
		Storage: StorageConfig{
			QueueSize: defaultRecorderQueue,
		},
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("decoding YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error

	for name, d := range map[string]TimeDuration{
		"tickInterval":   c.Settings.TickInterval,
		"cycleTimeout":   c.Settings.CycleTimeout,
		"stepTimeout":    c.Settings.StepTimeout,
		"autoStart":      c.Settings.AutoStart,
		"statusInterval": c.Settings.StatusInterval,
		"nodeTTL":        c.Dashboard.NodeTTL,
	} {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("settings %s: %w", name, err))
		}
	}
	if c.Settings.TickInterval <= 0 {
		errs = append(errs, errors.New("settings tickInterval must be positive"))
	}
	if c.Settings.CycleTimeout <= 0 {
		errs = append(errs, errors.New("settings cycleTimeout must be positive"))
	}

	if c.Geometry.SpeedOfSound <= 0 {
		errs = append(errs, fmt.Errorf("geometry speedOfSound must be positive, got %f", c.Geometry.SpeedOfSound))
	}
	if c.Geometry.AccuracyThreshold <= 0 {
		errs = append(errs, fmt.Errorf("geometry accuracyThreshold must be positive, got %f", c.Geometry.AccuracyThreshold))
	}
	if !c.Geometry.TieBreak.Valid() {
		errs = append(errs, fmt.Errorf("geometry tieBreak %q is not supported", c.Geometry.TieBreak))
	}
	if _, err := c.Geometry.Layout(); err != nil {
		errs = append(errs, fmt.Errorf("geometry anchors: %w", err))
	}
	for _, a := range c.Geometry.Anchors {
		if a.Address == "" {
			errs = append(errs, fmt.Errorf("anchor %d has no address", a.ID))
		}
	}
	if c.Object.Address == "" {
		errs = append(errs, errors.New("object address is required"))
	}

	if c.Transport.Listen == "" {
		errs = append(errs, errors.New("transport listen address is required"))
	}
	if c.Bridge.Enabled && c.Bridge.Command == "" {
		errs = append(errs, errors.New("bridge command is required"))
	}
	if c.Serial.Enabled && c.Serial.Device == "" {
		errs = append(errs, errors.New("serial device is required"))
	}
	if c.Dashboard.Enabled && c.Dashboard.Listen == "" {
		errs = append(errs, errors.New("dashboard listen address is required"))
	}
	if c.Storage.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("storage queueSize must be positive, got %d", c.Storage.QueueSize))
	}

	return errors.Join(errs...)
}

// Layout returns the validated anchor layout
func (g *GeometryConfig) Layout() (geometry.AnchorConfig, error) {
	anchors := make([]geometry.Anchor, 0, len(g.Anchors))
	for _, a := range g.Anchors {
		anchors = append(anchors, geometry.Anchor{ID: a.ID, Point: geometry.Point{X: a.X, Y: a.Y}})
	}
	return geometry.NewAnchorConfig(anchors...)
}

// Addresses maps every node to its UDP address
func (c *Config) Addresses() map[ranging.NodeID]string {
	addresses := make(map[ranging.NodeID]string, len(c.Geometry.Anchors)+1)
	for _, a := range c.Geometry.Anchors {
		addresses[ranging.NodeID(a.ID)] = a.Address
	}
	addresses[ranging.ObjectNode] = c.Object.Address
	return addresses
}
