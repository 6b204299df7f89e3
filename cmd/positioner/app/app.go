package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/dashboard"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/nodes"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/storage"
)

const (
	storageDir = "data"
)

// layoutRecord is stored with every session so a track can be rendered later.
type layoutRecord struct {
	Anchors      []geometry.Anchor `json:"anchors"`
	Receiver     *geometry.Point   `json:"receiver,omitempty"`
	SpeedOfSound float64           `json:"speedOfSound"`
	Threshold    float64           `json:"accuracyThreshold"`
	TieBreak     string            `json:"tieBreak"`
}

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	solver, err := createSolver(&config.Geometry)
	if err != nil {
		return fmt.Errorf("failed to create solver: %w", err)
	}

	transport, err := ranging.NewUDPTransport(config.Transport.Listen, config.Addresses(),
		ranging.WithLogger(logger),
		ranging.WithReadBuffer(config.Transport.ReadBuffer))
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	defer transport.Close()

	registry := nodes.NewRegistry(transport.Nodes(), nodes.WithLogger(logger))
	sinks := &fanout{}

	options := []func(*cycle.Coordinator){
		cycle.WithLogger(logger),
		cycle.WithCycleTimeout(config.Settings.CycleTimeout.Duration()),
		cycle.WithStepTimeout(config.Settings.StepTimeout.Duration()),
		cycle.WithAutoStart(config.Settings.AutoStart.Duration()),
		cycle.WithSpeedOfSound(config.Geometry.SpeedOfSound),
		cycle.WithSink(sinks),
	}

	if config.Storage.Enabled {
		store, err := createStorage(&config.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer store.Close()

		runID := uuid.NewString()
		sessionID, err := store.CreateSession(ctx, runID, newLayoutRecord(solver, config))
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		logger.Info("session created", slog.Int64("session", sessionID), slog.String("run", runID))

		recorder := NewRecorder(store, sessionID, config.Storage.QueueSize, logger)
		defer func() {
			recorder.Close()
			stored, dropped, failures := recorder.Stats()
			logger.Info("recorder closed",
				slog.Uint64("stored", stored),
				slog.Uint64("dropped", dropped),
				slog.Uint64("failures", failures))
		}()

		options = append(options, cycle.WithRecorder(recorder))
	}

	coordinator, err := cycle.NewCoordinator(solver, transport, options...)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	handler := func(msg ranging.Message) {
		registry.Handle(msg)
		coordinator.Handle(msg)
	}

	o := NewOrchestrator(ctx, logger)

	o.Go("transport", func(ctx context.Context) error {
		return transport.Run(ctx, handler)
	})

	if config.Serial.Enabled {
		serial := ranging.NewSerial(config.Serial.Device, config.Serial.BaudRate, ranging.WithLogger(logger))
		o.Go("serial", func(ctx context.Context) error {
			return serial.Run(ctx, handler)
		})
	}

	if config.Bridge.Enabled {
		bridge := ranging.NewBridge("bridge", config.Bridge.Command, config.Bridge.Args, ranging.WithLogger(logger))
		o.Go(bridge.Name(), func(ctx context.Context) error {
			done, err := bridge.Begin(ctx, handler)
			if err != nil {
				return err
			}
			return <-done
		})
	}

	nodeTTL := config.Dashboard.NodeTTL.Duration()
	if nodeTTL == 0 {
		nodeTTL = dashboard.DefaultNodeTTL
	}

	if config.Dashboard.Enabled {
		server := dashboard.NewServer(coordinator,
			dashboard.WithLogger(logger),
			dashboard.WithNodes(registry),
			dashboard.WithNodeTTL(nodeTTL))
		sinks.Add(server)

		o.Go("dashboard", func(ctx context.Context) error {
			return server.Listen(ctx, config.Dashboard.Listen)
		})
	}

	if config.Settings.Console {
		console := NewConsole(coordinator, registry, nodeTTL, os.Stdout)
		sinks.Add(console)

		o.Go("console", func(ctx context.Context) error {
			return console.Run(ctx, os.Stdin)
		})
	}

	if interval := config.Settings.StatusInterval.Duration(); interval > 0 {
		o.Go("status probe", func(ctx context.Context) error {
			probeStatus(ctx, transport, interval, logger)
			return nil
		})
	}

	o.Go("coordinator", func(ctx context.Context) error {
		coordinator.Run(ctx, config.Settings.TickInterval.Duration())
		return nil
	})

	logger.Info("positioner started",
		slog.Int("anchors", solver.Anchors().Len()),
		slog.String("listen", transport.Addr().String()))

	return o.Wait()
}

func createSolver(config *GeometryConfig) (*geometry.Solver, error) {
	layout, err := config.Layout()
	if err != nil {
		return nil, err
	}

	options := []func(*geometry.Solver){
		geometry.WithTieBreak(config.TieBreak),
		geometry.WithAccuracyThreshold(config.AccuracyThreshold),
	}
	if config.Receiver != nil {
		options = append(options, geometry.WithReference(*config.Receiver))
	}

	return geometry.NewSolver(layout, options...), nil
}

func newLayoutRecord(solver *geometry.Solver, config *Config) layoutRecord {
	r := layoutRecord{
		Anchors:      solver.Anchors().Anchors(),
		SpeedOfSound: config.Geometry.SpeedOfSound,
		Threshold:    config.Geometry.AccuracyThreshold,
		TieBreak:     config.Geometry.TieBreak.String(),
	}
	if p, ok := solver.Reference(); ok {
		r.Receiver = &p
	}
	return r
}

// probeStatus asks every node for its status at the given interval. Replies are
// picked up by the node registry.
func probeStatus(ctx context.Context, transport *ranging.UDPTransport, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range transport.Nodes() {
				if err := transport.Send(ranging.Command{Target: id, Kind: ranging.CommandStatus}); err != nil {
					logger.Warn(fmt.Sprintf("probing node status: %s", err.Error()), slog.String("node", id.String()))
				}
			}
		}
	}
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dir := config.DataDirectory
	if dir == "" {
		dir = storageDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dir, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("positions_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}
