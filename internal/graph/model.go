package graph

import (
	"fmt"
	"sort"
)

// Logger defines the logging interface used by the Model.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// endpoints identifies a connection by its two port ids.
type endpoints struct {
	source      int
	destination int
}

// Model is the authoritative graph. See the package documentation for its
// invariants.
type Model struct {
	ids IDAllocator

	groups     map[int]*Group
	groupIDs   map[string]int
	groupPorts map[int]int

	ports   map[int]*Port
	portIDs map[string]int

	conns     map[int]*Connection
	connIDs   map[endpoints]int
	portConns map[int]map[int]struct{}

	notifier Notifier
	logger   Logger
}

// NewModel creates an empty model reporting to notifier. A nil notifier
// discards all notifications.
func NewModel(notifier Notifier) *Model {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	m := &Model{
		notifier: notifier,
		logger:   noopLogger{},
	}
	m.reset()
	return m
}

// SetLogger sets the logger for the model.
func (m *Model) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

func (m *Model) reset() {
	m.groups = make(map[int]*Group)
	m.groupIDs = make(map[string]int)
	m.groupPorts = make(map[int]int)
	m.ports = make(map[int]*Port)
	m.portIDs = make(map[string]int)
	m.conns = make(map[int]*Connection)
	m.connIDs = make(map[endpoints]int)
	m.portConns = make(map[int]map[int]struct{})
	m.ids.Reset()
}

// AddGroup returns the id of the group called name, creating it (and
// notifying GroupCreated) if it does not exist yet.
func (m *Model) AddGroup(name string) int {
	if id, ok := m.groupIDs[name]; ok {
		return id
	}

	id := m.ids.Next(KindGroup)
	m.groups[id] = &Group{ID: id, Name: name}
	m.groupIDs[name] = id
	m.groupPorts[id] = 0

	m.logger.Debug("group created", "group_id", id, "name", name)
	m.notifier.GroupCreated(id, name)
	return id
}

// RemoveGroup removes the group called name and notifies GroupRemoved.
// It reports false if no such group exists, or if the group still owns ports
// (removing it would orphan them).
func (m *Model) RemoveGroup(name string) bool {
	id, ok := m.groupIDs[name]
	if !ok {
		m.logger.Warn("remove group failed", "name", name, "reason", "not found")
		return false
	}
	if n := m.groupPorts[id]; n > 0 {
		m.logger.Warn("remove group failed", "name", name, "reason", "group has ports", "ports", n)
		return false
	}

	m.dropGroup(id)
	return true
}

func (m *Model) dropGroup(id int) {
	g := m.groups[id]
	delete(m.groups, id)
	delete(m.groupIDs, g.Name)
	delete(m.groupPorts, id)

	m.logger.Debug("group removed", "group_id", id, "name", g.Name)
	m.notifier.GroupRemoved(id)
}

// AddPort adds the port described by spec, creating its group on demand.
//
// Adding a canonical name that is already live changes nothing and returns
// the existing id with ErrPortExists. The first physical port to join a group
// marks the group as hardware (split).
//
// Returns:
//   - int: Id of the new (or existing) port; 0 if spec is invalid
//   - error: nil, ErrPortExists, or ErrInvalidPort
func (m *Model) AddPort(spec PortSpec) (int, error) {
	if spec.CanonicalName == "" || spec.GroupName == "" {
		return 0, fmt.Errorf("%w: canonical %q group %q", ErrInvalidPort, spec.CanonicalName, spec.GroupName)
	}
	if id, ok := m.portIDs[spec.CanonicalName]; ok {
		return id, ErrPortExists
	}
	if spec.Direction == "" {
		spec.Direction = DirectionUndefined
	}
	if spec.Medium == "" {
		spec.Medium = MediumUndefined
	}
	if spec.DisplayName == "" {
		spec.DisplayName = spec.CanonicalName
	}

	groupID := m.AddGroup(spec.GroupName)

	id := m.ids.Next(KindPort)
	m.ports[id] = &Port{
		ID:            id,
		CanonicalName: spec.CanonicalName,
		DisplayName:   spec.DisplayName,
		GroupID:       groupID,
		Direction:     spec.Direction,
		Medium:        spec.Medium,
		Physical:      spec.Physical,
	}
	m.portIDs[spec.CanonicalName] = id
	m.groupPorts[groupID]++

	m.logger.Debug("port created",
		"port_id", id,
		"group_id", groupID,
		"name", spec.CanonicalName,
		"direction", spec.Direction,
		"medium", spec.Medium,
	)
	m.notifier.PortCreated(id, groupID, spec.DisplayName, spec.Direction, spec.Medium)

	if g := m.groups[groupID]; spec.Physical && !g.Split {
		g.Split = true
		m.notifier.GroupMarkedHardware(groupID)
	}
	return id, nil
}

// RemovePort removes a port together with every connection touching it, then
// its group if it was the group's last port. Reports false for an unknown id.
func (m *Model) RemovePort(id int) bool {
	p, ok := m.ports[id]
	if !ok {
		return false
	}

	for _, connID := range sortedKeys(m.portConns[id]) {
		m.dropConnection(connID)
	}
	delete(m.portConns, id)

	delete(m.ports, id)
	delete(m.portIDs, p.CanonicalName)
	m.groupPorts[p.GroupID]--

	m.logger.Debug("port removed", "port_id", id, "name", p.CanonicalName)
	m.notifier.PortRemoved(id)

	if m.groupPorts[p.GroupID] == 0 {
		m.RemoveGroup(m.groups[p.GroupID].Name)
	}
	return true
}

// RemovePortByName removes the live port with the given canonical name.
func (m *Model) RemovePortByName(name string) bool {
	id, ok := m.portIDs[name]
	if !ok {
		return false
	}
	return m.RemovePort(id)
}

// Connect records a connection from the output port source to the input
// port destination, both given by canonical name.
//
// Returns:
//   - int: Id of the new connection
//   - error: ErrPortNotFound, ErrInvalidDirection or ErrConnectionExists
func (m *Model) Connect(source, destination string) (int, error) {
	src, dst, err := m.endpointsByName(source, destination)
	if err != nil {
		return 0, err
	}
	if src.Direction != DirectionOutput || dst.Direction != DirectionInput {
		return 0, fmt.Errorf("%w: %s (%s) -> %s (%s)",
			ErrInvalidDirection, source, src.Direction, destination, dst.Direction)
	}

	key := endpoints{source: src.ID, destination: dst.ID}
	if existing, ok := m.connIDs[key]; ok {
		return existing, ErrConnectionExists
	}

	id := m.ids.Next(KindConnection)
	m.conns[id] = &Connection{ID: id, SourcePortID: src.ID, DestinationPortID: dst.ID}
	m.connIDs[key] = id
	m.linkPort(src.ID, id)
	m.linkPort(dst.ID, id)

	m.logger.Debug("connection created", "connection_id", id, "source", source, "destination", destination)
	m.notifier.ConnectionCreated(id, src.ID, dst.ID)
	return id, nil
}

// Disconnect removes the connection from source to destination.
//
// Returns:
//   - int: Id of the removed connection
//   - error: ErrPortNotFound or ErrConnectionNotFound
func (m *Model) Disconnect(source, destination string) (int, error) {
	src, dst, err := m.endpointsByName(source, destination)
	if err != nil {
		return 0, err
	}

	id, ok := m.connIDs[endpoints{source: src.ID, destination: dst.ID}]
	if !ok {
		return 0, fmt.Errorf("%w: %s -> %s", ErrConnectionNotFound, source, destination)
	}

	m.dropConnection(id)
	return id, nil
}

func (m *Model) endpointsByName(source, destination string) (*Port, *Port, error) {
	srcID, ok := m.portIDs[source]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPortNotFound, source)
	}
	dstID, ok := m.portIDs[destination]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPortNotFound, destination)
	}
	return m.ports[srcID], m.ports[dstID], nil
}

func (m *Model) linkPort(portID, connID int) {
	set, ok := m.portConns[portID]
	if !ok {
		set = make(map[int]struct{})
		m.portConns[portID] = set
	}
	set[connID] = struct{}{}
}

func (m *Model) dropConnection(id int) {
	c := m.conns[id]
	delete(m.conns, id)
	delete(m.connIDs, endpoints{source: c.SourcePortID, destination: c.DestinationPortID})
	delete(m.portConns[c.SourcePortID], id)
	delete(m.portConns[c.DestinationPortID], id)

	m.logger.Debug("connection removed", "connection_id", id)
	m.notifier.ConnectionRemoved(id)
}

// Resync empties the model. Every connection, port, and group is announced
// as removed (in that order, each by ascending id) before the id counters
// restart, so a presentation never sees a reused id for a live item.
func (m *Model) Resync() {
	for _, id := range sortedKeys(m.conns) {
		m.notifier.ConnectionRemoved(id)
	}
	for _, id := range sortedKeys(m.ports) {
		m.notifier.PortRemoved(id)
	}
	for _, id := range sortedKeys(m.groups) {
		m.notifier.GroupRemoved(id)
	}

	m.logger.Info("graph reset",
		"groups", len(m.groups),
		"ports", len(m.ports),
		"connections", len(m.conns),
	)
	m.reset()
}

// Group returns the group with the given id.
func (m *Model) Group(id int) (Group, bool) {
	g, ok := m.groups[id]
	if !ok {
		return Group{}, false
	}
	return *g, true
}

// GroupByName returns the group with the given name.
func (m *Model) GroupByName(name string) (Group, bool) {
	id, ok := m.groupIDs[name]
	if !ok {
		return Group{}, false
	}
	return *m.groups[id], true
}

// Port returns the port with the given id.
func (m *Model) Port(id int) (Port, bool) {
	p, ok := m.ports[id]
	if !ok {
		return Port{}, false
	}
	return *p, true
}

// PortByName returns the live port with the given canonical name.
func (m *Model) PortByName(name string) (Port, bool) {
	id, ok := m.portIDs[name]
	if !ok {
		return Port{}, false
	}
	return *m.ports[id], true
}

// Connection returns the connection with the given id.
func (m *Model) Connection(id int) (Connection, bool) {
	c, ok := m.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Connected reports whether source is connected to destination.
func (m *Model) Connected(source, destination string) bool {
	src, dst, err := m.endpointsByName(source, destination)
	if err != nil {
		return false
	}
	_, ok := m.connIDs[endpoints{source: src.ID, destination: dst.ID}]
	return ok
}

// GroupPortCount returns the number of live ports owned by group id.
func (m *Model) GroupPortCount(id int) int {
	return m.groupPorts[id]
}

// Stats returns live entity counts.
func (m *Model) Stats() Stats {
	return Stats{
		Groups:      len(m.groups),
		Ports:       len(m.ports),
		Connections: len(m.conns),
	}
}

// Snapshot copies the whole model, ordered by id.
func (m *Model) Snapshot() Snapshot {
	s := Snapshot{
		Groups:      make([]Group, 0, len(m.groups)),
		Ports:       make([]Port, 0, len(m.ports)),
		Connections: make([]Connection, 0, len(m.conns)),
	}
	for _, id := range sortedKeys(m.groups) {
		s.Groups = append(s.Groups, *m.groups[id])
	}
	for _, id := range sortedKeys(m.ports) {
		s.Ports = append(s.Ports, *m.ports[id])
	}
	for _, id := range sortedKeys(m.conns) {
		s.Connections = append(s.Connections, *m.conns[id])
	}
	return s
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
