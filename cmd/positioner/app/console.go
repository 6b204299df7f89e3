package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/dashboard"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/nodes"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
)

const consoleHelp = `commands:
  start      begin a measurement cycle
  stop       cancel the active cycle
  status     show the coordinator state
  position   show the last position
  calibrate  re-baseline every node detector
  test <n>   run the self-test on anchor n or the object
  nodes      list known nodes
  help       show this help`

// Console is an operator prompt on a line-oriented stream, usually stdin.
type Console struct {
	controller dashboard.Controller
	nodes      nodes.Provider
	nodeTTL    time.Duration
	out        io.Writer

	infoc *color.Color
	okc   *color.Color
	errc  *color.Color
}

// NewConsole creates a console writing to out
func NewConsole(controller dashboard.Controller, provider nodes.Provider, nodeTTL time.Duration, out io.Writer) *Console {
	return &Console{
		controller: controller,
		nodes:      provider,
		nodeTTL:    nodeTTL,
		out:        out,
		infoc:      color.New(color.FgBlue, color.Bold),
		okc:        color.New(color.FgGreen),
		errc:       color.New(color.FgRed, color.Bold),
	}
}

// Run executes commands read from in until ctx is cancelled or in is exhausted.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	_, _ = c.infoc.Fprintln(c.out, "type 'help' for commands")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			c.Execute(line)
		}
	}
}

// Execute runs a single command line.
func (c *Console) Execute(line string) {
	command, arg, _ := strings.Cut(strings.ToLower(strings.TrimSpace(line)), " ")

	switch command {
	case "":
	case "start":
		if err := c.controller.Start(); err != nil {
			c.fail(err)
			return
		}
		_, _ = c.okc.Fprintln(c.out, "measurement cycle started")

	case "stop":
		c.controller.Stop()
		_, _ = c.okc.Fprintln(c.out, "measurements stopped")

	case "calibrate":
		if err := c.controller.Calibrate(); err != nil {
			c.fail(err)
			return
		}
		_, _ = c.okc.Fprintln(c.out, "calibration requested")

	case "test":
		node, err := ranging.ParseNodeID(arg)
		if err != nil {
			c.fail(fmt.Errorf("usage: test <anchor id|object>: %w", err))
			return
		}
		if err = c.controller.Test(node); err != nil {
			c.fail(err)
			return
		}
		_, _ = c.okc.Fprintf(c.out, "self-test requested from %s\n", node)

	case "status":
		st := c.controller.Status()
		_, _ = c.infoc.Fprintf(c.out, "state %s, cycle %d", st.State, st.CycleID)
		if st.ActiveNode != nil {
			_, _ = fmt.Fprintf(c.out, ", waiting for %s (%d samples, %s elapsed)", st.ActiveNode, st.Samples, st.Elapsed.Round(time.Millisecond))
		}
		if st.Dropped > 0 {
			_, _ = fmt.Fprintf(c.out, ", %s events dropped", humanize.Comma(int64(st.Dropped)))
		}
		_, _ = fmt.Fprintln(c.out)

	case "position":
		p, ok := c.controller.Position()
		if !ok {
			_, _ = c.infoc.Fprintln(c.out, "no position yet")
			return
		}
		c.printPosition(p)

	case "nodes":
		c.printNodes()

	case "help":
		_, _ = fmt.Fprintln(c.out, consoleHelp)

	default:
		c.fail(fmt.Errorf("unknown command %q, type 'help'", command))
	}
}

func (c *Console) printPosition(p geometry.Position) {
	accuracy := "unknown"
	if p.Accuracy >= 0 {
		accuracy = fmt.Sprintf("%.1f cm", p.Accuracy)
	}

	printer := c.okc
	if !p.Valid {
		printer = c.errc
	}
	_, _ = printer.Fprintf(c.out, "X=%.1f cm, Y=%.1f cm, accuracy %s, valid %t, %s\n",
		p.X, p.Y, accuracy, p.Valid, humanize.Time(p.Timestamp))
}

func (c *Console) printNodes() {
	if c.nodes == nil {
		return
	}

	now := time.Now()
	for _, n := range c.nodes.Snapshot() {
		seen := "never"
		if !n.LastSeen.IsZero() {
			seen = humanize.RelTime(n.LastSeen, now, "ago", "from now")
		}

		printer := c.okc
		if !n.Online(now, c.nodeTTL) {
			printer = c.errc
		}
		_, _ = printer.Fprintf(c.out, "%-10s", n.Name)
		_, _ = fmt.Fprintf(c.out, " state=%s sensor=%s reports=%s seen %s\n",
			orDash(n.State), orDash(n.Sensor), humanize.Comma(int64(n.Reports)), seen)
	}
}

func (c *Console) fail(err error) {
	_, _ = c.errc.Fprintf(c.out, "error: %s\n", err)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PublishPosition implements cycle.Sink
func (c *Console) PublishPosition(p geometry.Position) {
	c.printPosition(p)
}

// PublishStatus implements cycle.Sink. Only transitions that carry a message are printed.
func (c *Console) PublishStatus(st cycle.Status) {
	if st.Message != "" {
		_, _ = c.infoc.Fprintf(c.out, "cycle %d: %s\n", st.CycleID, st.Message)
	}
}
