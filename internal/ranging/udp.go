package ranging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// DefaultPort is the UDP port the node firmware listens and reports on.
const DefaultPort = 1234

// ErrUnknownNode is returned when a command targets a node without a known address
var ErrUnknownNode = errors.New("unknown node")

// UDPTransport talks to the nodes over a single UDP socket: it receives their
// reports and sends them commands.
type UDPTransport struct {
	conn  *net.UDPConn
	nodes map[NodeID]*net.UDPAddr

	options
}

// NewUDPTransport binds the listen address and resolves every node address
func NewUDPTransport(listen string, nodes map[NodeID]string, opts ...Option) (*UDPTransport, error) {
	t := UDPTransport{
		nodes:   make(map[NodeID]*net.UDPAddr, len(nodes)),
		options: newOptions(opts),
	}

	for id, address := range nodes {
		addr, err := net.ResolveUDPAddr("udp", address)
		if err != nil {
			return nil, fmt.Errorf("resolving %s address %q: %w", id, address, err)
		}
		t.nodes[id] = addr
	}

	addr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address %q: %w", listen, err)
	}

	if t.conn, err = net.ListenUDP("udp", addr); err != nil {
		return nil, fmt.Errorf("listening on %s: %w", listen, err)
	}

	t.logger = t.logger.With(slog.String("udp", t.conn.LocalAddr().String()))
	return &t, nil
}

// Addr returns the bound local address.
func (t *UDPTransport) Addr() net.Addr {
	return t.conn.LocalAddr()
}

// Run reads datagrams and delivers decoded messages until ctx is cancelled.
// Malformed datagrams are logged and skipped.
func (t *UDPTransport) Run(ctx context.Context, handler Handler) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = t.conn.Close() // unblocks ReadFromUDP
		case <-done:
		}
	}()

	buf := make([]byte, t.readBuffer)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading datagram: %w", err)
		}

		now := t.now()
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			msg, err := Parse(line)
			if err != nil {
				t.logger.Warn(fmt.Sprintf("error parsing datagram: %s", err.Error()),
					slog.String("from", from.String()),
					slog.String("line", line))
				continue
			}

			stamp(&msg, now)
			handler(msg)
		}
	}
}

// Send writes a command to its target node. It does not wait for a reply.
func (t *UDPTransport) Send(cmd Command) error {
	addr, ok := t.nodes[cmd.Target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, cmd.Target)
	}

	if _, err := t.conn.WriteToUDP([]byte(FormatCommand(cmd)), addr); err != nil {
		return fmt.Errorf("sending %s to %s: %w", cmd.Kind, cmd.Target, err)
	}

	t.logger.Debug("command sent", slog.String("node", cmd.Target.String()), slog.String("command", cmd.Kind.String()))
	return nil
}

// Nodes returns the IDs of every addressable node.
func (t *UDPTransport) Nodes() []NodeID {
	ids := make([]NodeID, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Close releases the socket.
func (t *UDPTransport) Close() error {
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
