package ranging

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	beaconTimePrefix   = "BEACON_TIME"
	objectTimePrefix   = "OBJECT_TIME"
	beaconStatusPrefix = "BEACON_STATUS"

	fieldSeparator = ":"
)

var (
	// ErrMalformedMessage is returned when a known message has the wrong shape
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownMessage is returned for a message with an unrecognised prefix
	ErrUnknownMessage = errors.New("unknown message")
)

// Message is a decoded inbound line. Exactly one of Event and Status is set.
type Message struct {
	Event  *Event
	Status *StatusReport
}

// Parse decodes a single inbound line of the node text protocol:
//
//	BEACON_TIME:<id>:<flight µs>
//	BEACON_TIME:<id>:<emitted µs>:<arrived µs>
//	OBJECT_TIME:<flight µs>
//	OBJECT_TIME:<emitted µs>:<arrived µs>
//	BEACON_STATUS:<id>:<sensor>:<state>
func Parse(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Message{}, fmt.Errorf("%w: empty line", ErrMalformedMessage)
	}

	fields := strings.Split(line, fieldSeparator)
	switch fields[0] {
	case beaconTimePrefix:
		if len(fields) != 3 && len(fields) != 4 {
			return Message{}, fmt.Errorf("%w: %s expects 2 or 3 fields, got %d", ErrMalformedMessage, beaconTimePrefix, len(fields)-1)
		}

		id, err := parseAnchorID(fields[1])
		if err != nil {
			return Message{}, err
		}

		e, err := parseTimes(fields[2:])
		if err != nil {
			return Message{}, err
		}
		e.Node = id
		return Message{Event: &e}, nil

	case objectTimePrefix:
		if len(fields) != 2 && len(fields) != 3 {
			return Message{}, fmt.Errorf("%w: %s expects 1 or 2 fields, got %d", ErrMalformedMessage, objectTimePrefix, len(fields)-1)
		}

		e, err := parseTimes(fields[1:])
		if err != nil {
			return Message{}, err
		}
		e.Node = ObjectNode
		return Message{Event: &e}, nil

	case beaconStatusPrefix:
		if len(fields) != 4 {
			return Message{}, fmt.Errorf("%w: %s expects 3 fields, got %d", ErrMalformedMessage, beaconStatusPrefix, len(fields)-1)
		}

		id, err := parseAnchorID(fields[1])
		if err != nil {
			return Message{}, err
		}
		return Message{Status: &StatusReport{Node: id, Sensor: fields[2], State: fields[3]}}, nil

	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, fields[0])
	}
}

// FormatCommand encodes a command. Nodes are addressed individually, so the verb is the whole payload.
func FormatCommand(c Command) string {
	return c.Kind.String()
}

// ParseNodeID reads a node address as typed by an operator: "object" or a positive anchor id.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == ObjectNode.String() {
		return ObjectNode, nil
	}
	return parseAnchorID(s)
}

func parseAnchorID(s string) (NodeID, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid node id %q: %w", ErrMalformedMessage, s, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: node id must be positive, got %d", ErrMalformedMessage, id)
	}
	return NodeID(id), nil
}

func parseTimes(fields []string) (Event, error) {
	values := make([]Micros, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return Event{}, fmt.Errorf("%w: invalid timestamp %q: %w", ErrMalformedMessage, f, err)
		}
		values[i] = Micros(v)
	}

	if len(values) == 1 {
		return Event{Arrived: values[0]}, nil
	}
	return Event{Emitted: values[0], Arrived: values[1]}, nil
}
