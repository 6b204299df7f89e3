package ranging

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tarm/serial"
)

// DefaultBaudRate matches the receiver firmware console.
const DefaultBaudRate = 115200

// Serial reads node protocol lines from a receiver attached over a serial port.
type Serial struct {
	config *serial.Config
	open   func(*serial.Config) (io.ReadWriteCloser, error)

	options
}

// NewSerial creates a serial line source for the given device path
func NewSerial(device string, baud int, opts ...Option) *Serial {
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	s := Serial{
		config:  &serial.Config{Name: device, Baud: baud},
		open:    openSerialPort,
		options: newOptions(opts),
	}
	s.logger = s.logger.With(slog.String("serial", device))

	return &s
}

func openSerialPort(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(c)
}

// Run opens the port and delivers decoded messages until ctx is cancelled, the port
// fails, or too many consecutive lines fail to parse.
func (s *Serial) Run(ctx context.Context, handler Handler) error {
	port, err := s.open(s.config)
	if err != nil {
		return fmt.Errorf("opening serial port %s: %w", s.config.Name, err)
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = port.Close() // unblocks the pending read
	}()

	s.logger.Info("reading serial port", slog.Int("baud", s.config.Baud))

	if err = s.scanMessages(port, handler); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading serial port %s: %w", s.config.Name, err)
	}

	return nil
}
