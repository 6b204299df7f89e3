package dashboard

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/nodes"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
)

// DefaultNodeTTL is how long a silent node is still reported online.
const DefaultNodeTTL = 30 * time.Second

//go:embed index.html
var indexHTML []byte

// Controller is the part of the coordinator the dashboard drives.
type Controller interface {
	Start() error
	Stop()
	Calibrate() error
	Test(node ranging.NodeID) error
	Position() (geometry.Position, bool)
	Status() cycle.Status
	Solver() *geometry.Solver
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithNodes exposes node state on /api/nodes
func WithNodes(p nodes.Provider) func(*Server) {
	return func(s *Server) {
		s.nodes = p
	}
}

// WithNodeTTL sets how long a silent node is reported online
func WithNodeTTL(ttl time.Duration) func(*Server) {
	return func(s *Server) {
		s.nodeTTL = ttl
	}
}

var _ cycle.Sink = (*Server)(nil)

// Server is the positioning dashboard: a JSON API and a websocket feed of positions
// and cycle status.
type Server struct {
	app        *fiber.App
	hub        *Hub
	controller Controller
	nodes      nodes.Provider
	nodeTTL    time.Duration
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the dashboard. The hub starts immediately and stops on Shutdown.
func NewServer(controller Controller, options ...func(*Server)) *Server {
	s := Server{
		controller: controller,
		nodeTTL:    DefaultNodeTTL,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.hub = NewHub("dashboard", s.logger)
	go s.hub.Run(s.ctx)

	app := fiber.New(fiber.Config{
		AppName:               "Ultrasonic Positioning",
		DisableStartupMessage: true,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.Send(indexHTML)
	})

	api := app.Group("/api")
	api.Get("/position", s.handlePosition)
	api.Get("/status", s.handleStatus)
	api.Get("/nodes", s.handleNodes)
	api.Get("/anchors", s.handleAnchors)
	api.Post("/start", s.handleStart)
	api.Post("/stop", s.handleStop)
	api.Post("/calibrate", s.handleCalibrate)
	api.Post("/test/:node", s.handleTest)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleWS))

	s.app = app
	return &s
}

// App returns the underlying fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

// Clients returns the number of connected websocket clients
func (s *Server) Clients() int {
	return s.hub.ClientCount()
}

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", slog.String("address", addr))
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutting down dashboard: %w", err)
	}
	return nil
}

// PublishPosition implements cycle.Sink
func (s *Server) PublishPosition(p geometry.Position) {
	if err := s.hub.BroadcastJSON(newPositionMessage(p)); err != nil {
		s.logger.Error(fmt.Sprintf("encoding position: %s", err.Error()))
	}
}

// PublishStatus implements cycle.Sink
func (s *Server) PublishStatus(st cycle.Status) {
	if err := s.hub.BroadcastJSON(newStatusMessage(st)); err != nil {
		s.logger.Error(fmt.Sprintf("encoding status: %s", err.Error()))
	}
}

func (s *Server) currentPosition() positionMessage {
	p, _ := s.controller.Position()
	return newPositionMessage(p)
}

func (s *Server) handlePosition(c *fiber.Ctx) error {
	return c.JSON(s.currentPosition())
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(newStatusMessage(s.controller.Status()))
}

func (s *Server) handleNodes(c *fiber.Ctx) error {
	if s.nodes == nil {
		return c.JSON([]nodeMessage{})
	}
	return c.JSON(newNodeMessages(s.nodes.Snapshot(), time.Now(), s.nodeTTL))
}

func (s *Server) handleAnchors(c *fiber.Ctx) error {
	return c.JSON(newLayoutMessage(s.controller.Solver()))
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.controller.Start(); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, cycle.ErrCycleAlreadyActive) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(replyMessage{Type: typeStatus, Message: err.Error(), Error: true})
	}
	return c.JSON(replyMessage{Type: typeStatus, Message: "Measurements started"})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	s.controller.Stop()
	return c.JSON(replyMessage{Type: typeStatus, Message: "Measurements stopped"})
}

func (s *Server) handleTest(c *fiber.Ctx) error {
	node, err := ranging.ParseNodeID(c.Params("node"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(replyMessage{Type: typeStatus, Message: err.Error(), Error: true})
	}

	if err := s.controller.Test(node); err != nil {
		status := fiber.StatusBadGateway
		switch {
		case errors.Is(err, cycle.ErrUnknownNode):
			status = fiber.StatusBadRequest
		case errors.Is(err, cycle.ErrCycleAlreadyActive):
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(replyMessage{Type: typeStatus, Message: err.Error(), Error: true})
	}
	return c.JSON(replyMessage{Type: typeStatus, Message: fmt.Sprintf("Self-test requested from %s", node)})
}

func (s *Server) handleCalibrate(c *fiber.Ctx) error {
	if err := s.controller.Calibrate(); err != nil {
		status := fiber.StatusBadGateway
		if errors.Is(err, cycle.ErrCycleAlreadyActive) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(replyMessage{Type: typeStatus, Message: err.Error(), Error: true})
	}
	return c.JSON(replyMessage{Type: typeStatus, Message: "Calibration requested"})
}

func (s *Server) handleWS(conn *websocket.Conn) {
	client, ok := NewClient(s.ctx, s.hub, conn, s.handleCommand)
	if !ok {
		return
	}

	if data, err := json.Marshal(s.currentPosition()); err == nil {
		client.Reply(data)
	}

	client.Run(s.ctx)
}

// handleCommand executes a text command received over the websocket.
func (s *Server) handleCommand(client *Client, data []byte) {
	command := strings.ToUpper(strings.TrimSpace(string(data)))
	s.logger.Info("websocket command", slog.String("command", command))

	reply := replyMessage{Type: typeStatus}
	verb, arg, _ := strings.Cut(command, " ")
	switch verb {
	case "START":
		if err := s.controller.Start(); err != nil {
			reply.Message, reply.Error = err.Error(), true
		} else {
			reply.Message = "Measurements started"
		}
	case "STOP":
		s.controller.Stop()
		reply.Message = "Measurements stopped"
	case "CALIBRATE":
		if err := s.controller.Calibrate(); err != nil {
			reply.Message, reply.Error = err.Error(), true
		} else {
			reply.Message = "Calibration requested"
		}
	case "TEST":
		node, err := ranging.ParseNodeID(arg)
		if err == nil {
			err = s.controller.Test(node)
		}
		if err != nil {
			reply.Message, reply.Error = err.Error(), true
		} else {
			reply.Message = fmt.Sprintf("Self-test requested from %s", node)
		}
	default:
		reply.Message, reply.Error = fmt.Sprintf("unknown command %q", command), true
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	client.Reply(data)
}
