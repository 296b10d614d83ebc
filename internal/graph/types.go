package graph

// Direction is the signal direction of a port.
type Direction string

// Port directions.
const (
	DirectionInput     Direction = "input"
	DirectionOutput    Direction = "output"
	DirectionUndefined Direction = "undefined"
)

// Medium classifies what a port carries.
type Medium string

// Port media.
const (
	MediumAudio Medium = "audio"
	MediumMIDI  Medium = "midi"
	// MediumBridgedMIDI marks hardware MIDI ports exposed through the ALSA
	// bridge client, grouped by their original device rather than the bridge.
	MediumBridgedMIDI Medium = "bridged_midi"
	MediumUndefined   Medium = "undefined"
)

// Group is a set of ports owned by one client or hardware device.
type Group struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// Split is set once a physical port joins the group and is never reset.
	Split bool `json:"split"`
}

// Port is a single endpoint of the graph.
type Port struct {
	ID            int       `json:"id"`
	CanonicalName string    `json:"canonical_name"`
	DisplayName   string    `json:"display_name"`
	GroupID       int       `json:"group_id"`
	Direction     Direction `json:"direction"`
	Medium        Medium    `json:"medium"`
	Physical      bool      `json:"physical"`
}

// Connection is a directed edge from an output port to an input port.
type Connection struct {
	ID                int `json:"id"`
	SourcePortID      int `json:"source_port_id"`
	DestinationPortID int `json:"destination_port_id"`
}

// PortSpec describes a port to add. GroupName selects (or creates) the owning
// group; CanonicalName is the key used by every later lookup.
type PortSpec struct {
	CanonicalName string
	DisplayName   string
	GroupName     string
	Direction     Direction
	Medium        Medium
	Physical      bool
}

// Snapshot is a point-in-time copy of the whole model, ordered by id.
type Snapshot struct {
	Groups      []Group      `json:"groups"`
	Ports       []Port       `json:"ports"`
	Connections []Connection `json:"connections"`
}

// Stats counts live entities.
type Stats struct {
	Groups      int `json:"groups"`
	Ports       int `json:"ports"`
	Connections int `json:"connections"`
}
