package cycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
)

const (
	// DefaultCycleTimeout bounds a whole measurement cycle.
	DefaultCycleTimeout = 10 * time.Second

	// DefaultTickInterval is how often Run drains events and checks the timeout.
	DefaultTickInterval = 20 * time.Millisecond

	defaultQueueCapacity = 256
	defaultQueueFlush    = 64
)

var (
	// ErrCycleAlreadyActive is returned when a cycle is requested while another is in flight
	ErrCycleAlreadyActive = errors.New("measurement cycle already active")

	// ErrUnknownNode is returned when a command targets a node the deployment does not poll
	ErrUnknownNode = errors.New("unknown node")

	// ErrOutOfOrderSample marks an event from a node the coordinator is not waiting for
	ErrOutOfOrderSample = errors.New("out of order sample")

	// ErrCycleTimeout is recorded on a cycle that was aborted because a node did not answer
	ErrCycleTimeout = errors.New("measurement cycle timed out")
)

// Commander delivers commands to nodes. Send must not block on a reply.
type Commander interface {
	Send(cmd ranging.Command) error
}

// Sink receives coordinator output. Implementations must not block and must not
// call back into the coordinator synchronously.
type Sink interface {
	PublishPosition(p geometry.Position)
	PublishStatus(s Status)
}

// Recorder receives one report per finished cycle.
type Recorder interface {
	RecordCycle(r Report)
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) func(*Coordinator) {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithCycleTimeout bounds the duration of a whole cycle
func WithCycleTimeout(d time.Duration) func(*Coordinator) {
	return func(c *Coordinator) {
		c.cycleTimeout = d
	}
}

// WithStepTimeout bounds the wait for a single node. Zero disables it.
func WithStepTimeout(d time.Duration) func(*Coordinator) {
	return func(c *Coordinator) {
		c.stepTimeout = d
	}
}

// WithAutoStart starts a new cycle once the coordinator has been idle for the
// given interval. Zero disables it.
func WithAutoStart(interval time.Duration) func(*Coordinator) {
	return func(c *Coordinator) {
		c.autoStart = interval
	}
}

// WithSpeedOfSound overrides the speed of sound, in cm/s
func WithSpeedOfSound(cmPerS float64) func(*Coordinator) {
	return func(c *Coordinator) {
		c.speedOfSound = cmPerS
	}
}

// WithClock sets the time source. It must be monotonic.
func WithClock(now func() time.Time) func(*Coordinator) {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithSink adds an output sink
func WithSink(sink Sink) func(*Coordinator) {
	return func(c *Coordinator) {
		c.sinks = append(c.sinks, sink)
	}
}

// WithRecorder sets the cycle recorder
func WithRecorder(r Recorder) func(*Coordinator) {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithQueue sets the inbound event queue
func WithQueue(q *ranging.Queue) func(*Coordinator) {
	return func(c *Coordinator) {
		c.queue = q
	}
}

// Coordinator sequences a measurement cycle: it polls every anchor in ascending ID
// order, then the object, and hands the collected distances to the solver.
//
// Events arrive from transport goroutines through Enqueue and are applied on the
// next Tick. At most one cycle is active at a time.
type Coordinator struct {
	solver    *geometry.Solver
	anchors   geometry.AnchorConfig
	commander Commander
	sinks     []Sink
	recorder  Recorder
	queue     *ranging.Queue

	speedOfSound float64
	cycleTimeout time.Duration
	stepTimeout  time.Duration
	autoStart    time.Duration
	now          func() time.Time
	logger       *slog.Logger

	// deliverMu is taken before mu and held until the effects of a transition have
	// been delivered, so sinks and nodes observe transitions in the order they happen.
	deliverMu sync.Mutex

	mu            sync.Mutex
	state         State
	step          int
	cycleID       uint64
	startedAt     time.Time
	stepStartedAt time.Time
	finishedAt    time.Time
	samples       map[ranging.NodeID]ranging.Sample

	position atomic.Pointer[geometry.Position]
}

// NewCoordinator creates an idle Coordinator with a discard logger
func NewCoordinator(solver *geometry.Solver, commander Commander, options ...func(*Coordinator)) (*Coordinator, error) {
	if solver == nil {
		return nil, errors.New("solver is required")
	}
	if commander == nil {
		return nil, errors.New("commander is required")
	}

	c := Coordinator{
		solver:       solver,
		anchors:      solver.Anchors(),
		commander:    commander,
		speedOfSound: geometry.SpeedOfSoundCMPerS,
		cycleTimeout: DefaultCycleTimeout,
		now:          time.Now,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		samples:      make(map[ranging.NodeID]ranging.Sample),
	}

	for _, option := range options {
		option(&c)
	}

	if c.anchors.Len() < geometry.MinAnchors {
		return nil, fmt.Errorf("%w: got %d", geometry.ErrInsufficientAnchors, c.anchors.Len())
	}
	if c.cycleTimeout <= 0 {
		return nil, fmt.Errorf("cycle timeout must be positive, got %s", c.cycleTimeout)
	}
	if c.stepTimeout < 0 || c.autoStart < 0 {
		return nil, errors.New("step timeout and auto start interval must not be negative")
	}
	if c.speedOfSound <= 0 {
		return nil, fmt.Errorf("speed of sound must be positive, got %f", c.speedOfSound)
	}
	if c.queue == nil {
		q, err := ranging.NewQueue(defaultQueueCapacity, defaultQueueFlush)
		if err != nil {
			return nil, fmt.Errorf("creating event queue: %w", err)
		}
		c.queue = q
	}

	c.finishedAt = c.now()
	return &c, nil
}

// effects collects the output of a transition so it can be delivered after the lock is released.
type effects struct {
	commands []ranging.Command
	statuses []Status
	position *geometry.Position
	reports  []Report
}

func (c *Coordinator) deliver(e *effects) {
	for _, cmd := range e.commands {
		if err := c.commander.Send(cmd); err != nil {
			// no retries, the cycle times out instead
			c.logger.Error(fmt.Sprintf("sending command: %s", err.Error()), slog.String("node", cmd.Target.String()))
		}
	}
	if e.position != nil {
		for _, s := range c.sinks {
			s.PublishPosition(*e.position)
		}
	}
	for _, st := range e.statuses {
		for _, s := range c.sinks {
			s.PublishStatus(st)
		}
	}
	if c.recorder != nil {
		for _, r := range e.reports {
			c.recorder.RecordCycle(r)
		}
	}
}

// Start begins a new cycle. It returns ErrCycleAlreadyActive if one is in flight.
func (c *Coordinator) Start() error {
	var e effects

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrCycleAlreadyActive
	}
	c.begin(&e)
	c.mu.Unlock()

	c.deliver(&e)
	return nil
}

// Stop cancels the active cycle and discards its samples. It is a no-op when idle.
func (c *Coordinator) Stop() {
	var e effects

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.state != StateIdle {
		c.logger.Info("cycle stopped", slog.Uint64("cycle", c.cycleID))
		c.finish(&e, OutcomeStopped, nil, "stopped by operator")
	}
	c.mu.Unlock()

	c.deliver(&e)
}

// Calibrate asks every node to re-baseline its detector. Nodes cannot calibrate while
// ranging, so it is rejected with ErrCycleAlreadyActive during a cycle.
func (c *Coordinator) Calibrate() error {
	// held across the sends so a cycle cannot start while nodes calibrate
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	active := c.state != StateIdle
	c.mu.Unlock()

	if active {
		return ErrCycleAlreadyActive
	}

	var errs []error
	for _, a := range c.anchors.Anchors() {
		if err := c.commander.Send(ranging.Command{Target: ranging.NodeID(a.ID), Kind: ranging.CommandCalibrate}); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.commander.Send(ranging.Command{Target: ranging.ObjectNode, Kind: ranging.CommandCalibrate}); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("calibration requested", slog.Int("nodes", c.anchors.Len()+1))
	return errors.Join(errs...)
}

// Test asks a single node to run its self-test and answer with a status report.
// Like Calibrate it is rejected with ErrCycleAlreadyActive during a cycle.
func (c *Coordinator) Test(node ranging.NodeID) error {
	if !node.IsObject() {
		if _, ok := c.anchors.Lookup(int(node)); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, node)
		}
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	active := c.state != StateIdle
	c.mu.Unlock()

	if active {
		return ErrCycleAlreadyActive
	}

	c.logger.Info("self-test requested", slog.String("node", node.String()))
	return c.commander.Send(ranging.Command{Target: node, Kind: ranging.CommandTest})
}

// Enqueue hands a ranging event to the coordinator. It is safe to call from any goroutine.
func (c *Coordinator) Enqueue(e ranging.Event) {
	if dropped := c.queue.Push(e); dropped > 0 {
		c.logger.Warn("event queue overflow",
			slog.Int("dropped", dropped),
			slog.Uint64("totalDropped", c.queue.Dropped()))
	}
}

// Handle enqueues the event part of a decoded message. It matches ranging.Handler.
func (c *Coordinator) Handle(msg ranging.Message) {
	if msg.Event != nil {
		c.Enqueue(*msg.Event)
	}
}

// Tick evaluates the timeouts, applies queued events in arrival order, then
// evaluates the automatic start. A cycle past its deadline is aborted before any
// late report can resolve it.
func (c *Coordinator) Tick() {
	var e effects

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	events := c.queue.Drain()

	c.mu.Lock()
	c.checkTimeouts(&e)
	for _, ev := range events {
		if err := c.apply(&e, ev); err != nil {
			c.logger.Warn(err.Error(),
				slog.String("state", c.state.String()),
				slog.String("node", ev.Node.String()))
		}
	}
	if c.state == StateIdle && c.autoStart > 0 && c.now().Sub(c.finishedAt) >= c.autoStart {
		c.begin(&e)
	}
	c.mu.Unlock()

	c.deliver(&e)
}

// Run ticks at the given interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Position returns the latest computed position. The boolean is false until the
// first cycle resolves.
func (c *Coordinator) Position() (geometry.Position, bool) {
	if p := c.position.Load(); p != nil {
		return *p, true
	}
	return geometry.Unset(c.now()), false
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status("")
}

// Anchors returns the polled anchor layout.
func (c *Coordinator) Anchors() geometry.AnchorConfig {
	return c.anchors
}

// Solver returns the solver used to resolve cycles.
func (c *Coordinator) Solver() *geometry.Solver {
	return c.solver
}

// status builds a Status. Callers hold the lock.
func (c *Coordinator) status(message string) Status {
	s := Status{
		State:   c.state,
		CycleID: c.cycleID,
		Step:    c.step,
		Samples: len(c.samples),
		Dropped: c.queue.Dropped(),
		Message: message,
	}

	if c.state != StateIdle {
		s.Elapsed = c.now().Sub(c.startedAt)
	}
	if node, ok := c.expected(); ok {
		s.ActiveNode = &node
	}

	return s
}

// expected returns the node the current state waits for. Callers hold the lock.
func (c *Coordinator) expected() (ranging.NodeID, bool) {
	switch c.state {
	case StatePolling:
		return ranging.NodeID(c.anchors.At(c.step).ID), true
	case StateAwaitingObject:
		return ranging.ObjectNode, true
	default:
		return 0, false
	}
}

// begin moves from idle to polling the first anchor. Callers hold the lock.
func (c *Coordinator) begin(e *effects) {
	now := c.now()

	c.cycleID++
	c.state = StatePolling
	c.step = 0
	c.startedAt = now
	c.stepStartedAt = now
	clear(c.samples)

	c.logger.Info("cycle started", slog.Uint64("cycle", c.cycleID))

	c.command(e, ranging.NodeID(c.anchors.At(0).ID))
	e.statuses = append(e.statuses, c.status(""))
}

func (c *Coordinator) command(e *effects, node ranging.NodeID) {
	e.commands = append(e.commands, ranging.Command{Target: node, Kind: ranging.CommandStartRanging})
}

// apply handles one event. Callers hold the lock.
func (c *Coordinator) apply(e *effects, ev ranging.Event) error {
	expected, ok := c.expected()
	if !ok {
		return fmt.Errorf("%w: no cycle is active", ErrOutOfOrderSample)
	}
	if ev.Node != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrOutOfOrderSample, expected, ev.Node)
	}
	if !ev.ReceivedAt.IsZero() && ev.ReceivedAt.Before(c.stepStartedAt) {
		return fmt.Errorf("%w: %s report predates its command", ErrOutOfOrderSample, ev.Node)
	}

	sample := ranging.NewSample(ev, c.speedOfSound)
	c.samples[ev.Node] = sample

	c.logger.Debug("sample stored",
		slog.Uint64("cycle", c.cycleID),
		slog.String("node", ev.Node.String()),
		slog.Float64("distance", sample.DistanceCM))

	c.stepStartedAt = c.now()

	if c.state == StatePolling {
		c.step++
		if c.step < c.anchors.Len() {
			c.command(e, ranging.NodeID(c.anchors.At(c.step).ID))
		} else {
			c.state = StateAwaitingObject
			c.command(e, ranging.ObjectNode)
		}
		e.statuses = append(e.statuses, c.status(""))
		return nil
	}

	c.state = StateResolving
	e.statuses = append(e.statuses, c.status(""))
	c.resolve(e)
	return nil
}

// resolve runs the solver over the collected samples. Callers hold the lock.
func (c *Coordinator) resolve(e *effects) {
	distances := make([]float64, 0, c.solver.Ranges())
	for _, a := range c.anchors.Anchors() {
		distances = append(distances, c.samples[ranging.NodeID(a.ID)].DistanceCM)
	}
	if _, ok := c.solver.Reference(); ok {
		distances = append(distances, c.samples[ranging.ObjectNode].DistanceCM)
	}

	pos, err := c.solver.Solve(distances)

	c.position.Store(&pos)
	e.position = &pos

	if err != nil {
		c.logger.Warn(fmt.Sprintf("solving position: %s", err.Error()), slog.Uint64("cycle", c.cycleID))
		c.finish(e, OutcomeFailed, &pos, err.Error())
		return
	}

	c.logger.Info("position resolved",
		slog.Uint64("cycle", c.cycleID),
		slog.Float64("x", pos.X),
		slog.Float64("y", pos.Y),
		slog.Float64("accuracy", pos.Accuracy),
		slog.Bool("valid", pos.Valid))

	c.finish(e, OutcomeResolved, &pos, "")
}

// checkTimeouts aborts the cycle when it or the current step ran too long. Callers hold the lock.
func (c *Coordinator) checkTimeouts(e *effects) {
	if c.state == StateIdle {
		return
	}

	now := c.now()
	switch {
	case now.Sub(c.startedAt) > c.cycleTimeout:
		c.logger.Warn("cycle timed out", slog.Uint64("cycle", c.cycleID), slog.Duration("timeout", c.cycleTimeout))
		c.finish(e, OutcomeTimedOut, nil, fmt.Errorf("%w after %s", ErrCycleTimeout, c.cycleTimeout).Error())

	case c.stepTimeout > 0 && now.Sub(c.stepStartedAt) > c.stepTimeout:
		node, _ := c.expected()
		c.logger.Warn("step timed out", slog.Uint64("cycle", c.cycleID), slog.String("node", node.String()))
		c.finish(e, OutcomeTimedOut, nil, fmt.Errorf("%w: %s did not answer within %s", ErrCycleTimeout, node, c.stepTimeout).Error())
	}
}

// finish records the cycle and returns to idle. Callers hold the lock.
func (c *Coordinator) finish(e *effects, outcome Outcome, pos *geometry.Position, message string) {
	now := c.now()

	report := Report{
		CycleID:    c.cycleID,
		StartedAt:  c.startedAt,
		FinishedAt: now,
		Outcome:    outcome,
		Position:   pos,
		Error:      message,
	}
	for _, a := range c.anchors.Anchors() {
		if s, ok := c.samples[ranging.NodeID(a.ID)]; ok {
			report.Samples = append(report.Samples, s)
		}
	}
	if s, ok := c.samples[ranging.ObjectNode]; ok {
		report.Samples = append(report.Samples, s)
	}
	e.reports = append(e.reports, report)

	c.state = StateIdle
	c.step = 0
	c.finishedAt = now
	clear(c.samples)

	if outcome == OutcomeResolved {
		message = ""
	}
	e.statuses = append(e.statuses, c.status(message))
}
