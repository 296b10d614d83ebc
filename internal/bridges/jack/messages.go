package jack

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
)

// MQTT payloads exchanged with the relay.

// PortRecord is the retained state of one port.
// Topic: {prefix}/port/{handle}
type PortRecord struct {
	Handle uint32 `json:"handle"`

	// Name is the canonical "<client>:<port>" name.
	Name string `json:"name"`

	// Type is the JACK port type string, e.g. "32 bit float mono audio".
	Type string `json:"type"`

	// Direction is "input" or "output".
	Direction string `json:"direction"`

	Physical bool     `json:"physical"`
	Aliases  []string `json:"aliases,omitempty"`

	// Connections lists the canonical names of connected ports.
	Connections []string `json:"connections,omitempty"`
}

// PortEventMessage reports a port (un)registration.
// Topic: {prefix}/event/port
type PortEventMessage struct {
	Handle     uint32 `json:"handle"`
	Registered bool   `json:"registered"`
}

// ConnectEventMessage reports a connection change between two handles.
// Topic: {prefix}/event/connect
type ConnectEventMessage struct {
	A         uint32 `json:"a"`
	B         uint32 `json:"b"`
	Connected bool   `json:"connected"`
}

// RelayStatus values.
const (
	RelayOnline  = "online"
	RelayOffline = "offline"
)

// StatusMessage is the relay's retained availability.
// Topic: {prefix}/status
type StatusMessage struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CommandMessage asks the relay to connect or disconnect two ports.
// Topic: {prefix}/command/connect or {prefix}/command/disconnect
type CommandMessage struct {
	// ID correlates the command in relay logs.
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Timestamp   time.Time `json:"timestamp"`
}

// GraphEventMessage is a graph notification as published by GraphPublisher.
// Topic: patchbay/graph/{type}
type GraphEventMessage struct {
	graph.Event
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// ParsePortRecord decodes a retained record and checks it against the
// handle taken from its topic.
func ParsePortRecord(handle uint32, payload []byte) (PortRecord, error) {
	var rec PortRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return PortRecord{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if rec.Handle == 0 {
		rec.Handle = handle
	}
	if rec.Handle != handle {
		return PortRecord{}, fmt.Errorf("%w: handle %d published on topic for %d", ErrInvalidRecord, rec.Handle, handle)
	}
	if rec.Name == "" {
		return PortRecord{}, fmt.Errorf("%w: handle %d has no name", ErrInvalidRecord, handle)
	}
	return rec, nil
}

// ParseDirection maps the relay's direction string to a graph direction.
func ParseDirection(s string) graph.Direction {
	switch s {
	case "input":
		return graph.DirectionInput
	case "output":
		return graph.DirectionOutput
	default:
		return graph.DirectionUndefined
	}
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}
