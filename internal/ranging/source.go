package ranging

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"
)

const (
	// ParseErrorsThreshold defines the number of consecutive parse errors allowed
	ParseErrorsThreshold = 5

	// DefaultReadBuffer is the datagram read buffer size in bytes
	DefaultReadBuffer = 2048
)

var (
	// ErrTooManyParseErrors is returned when the number of consecutive parse errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrBrokenPipe is returned when there's an error reading from a line source
	ErrBrokenPipe = errors.New("broken pipe")
)

// Handler receives every decoded message, already stamped with the host receive time.
type Handler func(Message)

// Option configures a transport or line source
type Option func(*options)

type options struct {
	logger               *slog.Logger
	parseErrorsThreshold uint8
	readBuffer           int
	now                  func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		parseErrorsThreshold: ParseErrorsThreshold,
		readBuffer:           DefaultReadBuffer,
		now:                  time.Now,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors
func WithParseErrorsThreshold(threshold uint8) Option {
	return func(o *options) {
		o.parseErrorsThreshold = threshold
	}
}

// WithReadBuffer sets the datagram read buffer size
func WithReadBuffer(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.readBuffer = size
		}
	}
}

// WithClock sets the time source used to stamp received messages
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// stamp sets the host receive time on whichever part of the message is present.
func stamp(msg *Message, at time.Time) {
	if msg.Event != nil {
		msg.Event.ReceivedAt = at
	}
	if msg.Status != nil {
		msg.Status.ReceivedAt = at
	}
}

// scanMessages reads r line by line, decodes and delivers messages. It gives up with
// ErrTooManyParseErrors after the configured number of consecutive bad lines.
func (o *options) scanMessages(r io.Reader, handler Handler) error {
	var parseErrors uint8

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		msg, err := Parse(line)
		if err != nil {
			parseErrors++
			o.logger.Warn(fmt.Sprintf("error parsing message: %s", err.Error()), slog.String("line", line))

			if parseErrors >= o.parseErrorsThreshold {
				return ErrTooManyParseErrors
			}

			continue
		}

		parseErrors = 0 // reset counter

		stamp(&msg, o.now())
		handler(msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrBrokenPipe, err)
	}

	return nil
}
