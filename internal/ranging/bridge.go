package ranging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
)

// Bridge runs an external helper process, typically a serial or radio gateway,
// and decodes the node protocol lines it prints on stdout.
type Bridge struct {
	name    string
	command string
	args    []string

	isRunning atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	options
}

// NewBridge creates a new Bridge for the given command line
func NewBridge(name, command string, args []string, opts ...Option) *Bridge {
	b := Bridge{
		name:    name,
		command: command,
		args:    args,
		options: newOptions(opts),
	}
	b.logger = b.logger.With(slog.String("bridge", name))

	return &b
}

// Name returns the bridge name.
func (b *Bridge) Name() string {
	return b.name
}

// Begin starts the helper process and delivers decoded messages to handler. The returned
// channel is closed when the process exits, after receiving any error it produced.
func (b *Bridge) Begin(ctx context.Context, handler Handler) (<-chan error, error) {
	if !b.isRunning.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("bridge %s is already running", b.name)
	}

	ctx, b.cancel = context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, b.command, b.args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.isRunning.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		b.isRunning.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		b.isRunning.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error starting command: %w", err)
	}

	stopped := make(chan error, 1)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(stopped)

		b.logger.Info("bridge started", slog.String("command", b.command))

		var errs []error
		var mu sync.Mutex
		collect := func(err error) {
			if err == nil {
				return
			}
			b.cancel() // cancel context on error
			b.logger.Error(err.Error())

			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}

		// Wait closes the pipes, so both readers have to finish first
		var readers sync.WaitGroup
		readers.Add(2)
		go func() {
			defer readers.Done()
			collect(b.scanMessages(stdout, handler))
		}()
		go func() {
			defer readers.Done()
			collect(b.handleStderr(stderr))
		}()
		readers.Wait()

		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			collect(fmt.Errorf("command exited with error: %w", err))
		}

		b.logger.Info("bridge stopped")
		b.isRunning.Store(false)

		if len(errs) > 0 {
			stopped <- errors.Join(errs...)
		}
	}()

	return stopped, nil
}

// Stop terminates the helper process and waits for the readers to finish.
func (b *Bridge) Stop() {
	if !b.isRunning.Load() {
		return // already stopped
	}

	b.cancel()
	b.wg.Wait()
}

// IsRunning returns true if the helper process is running
func (b *Bridge) IsRunning() bool {
	return b.isRunning.Load()
}

// handleStderr reads from stderr and logs it.
func (b *Bridge) handleStderr(stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		b.logger.Warn(fmt.Sprintf("%s >> %s", b.name, line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("%w: error reading stderr: %w", ErrBrokenPipe, err)
	}

	return nil
}
