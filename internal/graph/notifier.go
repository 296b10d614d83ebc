package graph

// Notifier receives every model mutation, in the order it happened.
//
// Implementations must not call back into the Model. A presentation layer
// that needs more detail than the arguments carry should take it from a
// Snapshot.
type Notifier interface {
	GroupCreated(id int, name string)
	GroupRemoved(id int)
	GroupMarkedHardware(id int)
	PortCreated(id, groupID int, displayName string, direction Direction, medium Medium)
	PortRemoved(id int)
	ConnectionCreated(id, sourcePortID, destinationPortID int)
	ConnectionRemoved(id int)
}

// EventType names a model mutation.
type EventType string

// Event types, one per Notifier method.
const (
	EventGroupCreated        EventType = "group_created"
	EventGroupRemoved        EventType = "group_removed"
	EventGroupMarkedHardware EventType = "group_marked_hardware"
	EventPortCreated         EventType = "port_created"
	EventPortRemoved         EventType = "port_removed"
	EventConnectionCreated   EventType = "connection_created"
	EventConnectionRemoved   EventType = "connection_removed"
)

// Valid reports whether t names one of the Notifier methods.
func (t EventType) Valid() bool {
	switch t {
	case EventGroupCreated, EventGroupRemoved, EventGroupMarkedHardware,
		EventPortCreated, EventPortRemoved,
		EventConnectionCreated, EventConnectionRemoved:
		return true
	}
	return false
}

// Event is a value form of a single Notifier call, used by adapters that
// queue, persist, or broadcast mutations.
type Event struct {
	Type              EventType `json:"type"`
	GroupID           int       `json:"group_id,omitempty"`
	PortID            int       `json:"port_id,omitempty"`
	ConnectionID      int       `json:"connection_id,omitempty"`
	SourcePortID      int       `json:"source_port_id,omitempty"`
	DestinationPortID int       `json:"destination_port_id,omitempty"`
	Name              string    `json:"name,omitempty"`
	Direction         Direction `json:"direction,omitempty"`
	Medium            Medium    `json:"medium,omitempty"`
}

// EventFunc adapts a function to the Notifier interface.
type EventFunc func(Event)

// GroupCreated implements Notifier.
func (f EventFunc) GroupCreated(id int, name string) {
	f(Event{Type: EventGroupCreated, GroupID: id, Name: name})
}

// GroupRemoved implements Notifier.
func (f EventFunc) GroupRemoved(id int) {
	f(Event{Type: EventGroupRemoved, GroupID: id})
}

// GroupMarkedHardware implements Notifier.
func (f EventFunc) GroupMarkedHardware(id int) {
	f(Event{Type: EventGroupMarkedHardware, GroupID: id})
}

// PortCreated implements Notifier.
func (f EventFunc) PortCreated(id, groupID int, displayName string, direction Direction, medium Medium) {
	f(Event{
		Type:      EventPortCreated,
		PortID:    id,
		GroupID:   groupID,
		Name:      displayName,
		Direction: direction,
		Medium:    medium,
	})
}

// PortRemoved implements Notifier.
func (f EventFunc) PortRemoved(id int) {
	f(Event{Type: EventPortRemoved, PortID: id})
}

// ConnectionCreated implements Notifier.
func (f EventFunc) ConnectionCreated(id, sourcePortID, destinationPortID int) {
	f(Event{
		Type:              EventConnectionCreated,
		ConnectionID:      id,
		SourcePortID:      sourcePortID,
		DestinationPortID: destinationPortID,
	})
}

// ConnectionRemoved implements Notifier.
func (f EventFunc) ConnectionRemoved(id int) {
	f(Event{Type: EventConnectionRemoved, ConnectionID: id})
}

// Apply replays e against n.
func (e Event) Apply(n Notifier) {
	switch e.Type {
	case EventGroupCreated:
		n.GroupCreated(e.GroupID, e.Name)
	case EventGroupRemoved:
		n.GroupRemoved(e.GroupID)
	case EventGroupMarkedHardware:
		n.GroupMarkedHardware(e.GroupID)
	case EventPortCreated:
		n.PortCreated(e.PortID, e.GroupID, e.Name, e.Direction, e.Medium)
	case EventPortRemoved:
		n.PortRemoved(e.PortID)
	case EventConnectionCreated:
		n.ConnectionCreated(e.ConnectionID, e.SourcePortID, e.DestinationPortID)
	case EventConnectionRemoved:
		n.ConnectionRemoved(e.ConnectionID)
	}
}

// Fanout forwards every call to each Notifier in order.
type Fanout []Notifier

// GroupCreated implements Notifier.
func (f Fanout) GroupCreated(id int, name string) {
	for _, n := range f {
		n.GroupCreated(id, name)
	}
}

// GroupRemoved implements Notifier.
func (f Fanout) GroupRemoved(id int) {
	for _, n := range f {
		n.GroupRemoved(id)
	}
}

// GroupMarkedHardware implements Notifier.
func (f Fanout) GroupMarkedHardware(id int) {
	for _, n := range f {
		n.GroupMarkedHardware(id)
	}
}

// PortCreated implements Notifier.
func (f Fanout) PortCreated(id, groupID int, displayName string, direction Direction, medium Medium) {
	for _, n := range f {
		n.PortCreated(id, groupID, displayName, direction, medium)
	}
}

// PortRemoved implements Notifier.
func (f Fanout) PortRemoved(id int) {
	for _, n := range f {
		n.PortRemoved(id)
	}
}

// ConnectionCreated implements Notifier.
func (f Fanout) ConnectionCreated(id, sourcePortID, destinationPortID int) {
	for _, n := range f {
		n.ConnectionCreated(id, sourcePortID, destinationPortID)
	}
}

// ConnectionRemoved implements Notifier.
func (f Fanout) ConnectionRemoved(id int) {
	for _, n := range f {
		n.ConnectionRemoved(id)
	}
}

// nopNotifier discards everything. Used when NewModel is given nil.
type nopNotifier struct{}

func (nopNotifier) GroupCreated(int, string)                        {}
func (nopNotifier) GroupRemoved(int)                                {}
func (nopNotifier) GroupMarkedHardware(int)                         {}
func (nopNotifier) PortCreated(int, int, string, Direction, Medium) {}
func (nopNotifier) PortRemoved(int)                                 {}
func (nopNotifier) ConnectionCreated(int, int, int)                 {}
func (nopNotifier) ConnectionRemoved(int)                           {}
