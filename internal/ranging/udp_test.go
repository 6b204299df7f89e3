package ranging

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestUDPTransport_RoundTrip(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to create peer: %v", err)
	}
	defer peer.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	transport, err := NewUDPTransport("127.0.0.1:0",
		map[NodeID]string{1: peer.LocalAddr().String()},
		WithClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}
	defer transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages := make(chan Message, 4)
	runErr := make(chan error, 1)
	go func() {
		runErr <- transport.Run(ctx, func(m Message) { messages <- m })
	}()

	// a malformed line in the same datagram is skipped
	payload := "BEACON_TIME:1:1458\nGARBAGE\nBEACON_STATUS:1:KY-006:ONLINE\n"
	if _, err = peer.WriteTo([]byte(payload), transport.Addr()); err != nil {
		t.Fatalf("Failed to write datagram: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case m := <-messages:
			switch {
			case m.Event != nil:
				if m.Event.Node != 1 || m.Event.Arrived != 1458 || !m.Event.ReceivedAt.Equal(at) {
					t.Errorf("Unexpected event: %+v", *m.Event)
				}
			case m.Status != nil:
				if m.Status.State != "ONLINE" || !m.Status.ReceivedAt.Equal(at) {
					t.Errorf("Unexpected status: %+v", *m.Status)
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for message %d", i)
		}
	}

	if err = transport.Send(Command{Target: 1, Kind: CommandStartRanging}); err != nil {
		t.Fatalf("Failed to send command: %v", err)
	}

	buf := make([]byte, 64)
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := peer.ReadFrom(buf)
	if err != nil {
		t.Fatalf("Failed to read command: %v", err)
	}
	if got := string(buf[:n]); got != "START" {
		t.Errorf("Expected START, got %q", got)
	}

	if err = transport.Send(Command{Target: 9, Kind: CommandStatus}); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Expected ErrUnknownNode, got %v", err)
	}

	cancel()
	select {
	case err = <-runErr:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for transport to stop")
	}
}

func TestNewUDPTransport_BadAddress(t *testing.T) {
	if _, err := NewUDPTransport("127.0.0.1:0", map[NodeID]string{1: "not an address"}); err == nil {
		t.Error("Expected error for unresolvable node address")
	}
}
