package jack

import (
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/nerrad567/gray-logic-patchbay/internal/reconciler"
)

const (
	// retiredCapacity bounds how many retired handles are remembered at once.
	retiredCapacity = 4096

	// maxPendingPerHandle bounds the unclaimed retirements kept per handle.
	maxPendingPerHandle = 8
)

// retirement is a name retired from a handle. announced is set once the
// matching unregistration event has been forwarded.
type retirement struct {
	name      string
	announced bool
}

// Mirror is the local copy of the relay's port records.
//
// It implements reconciler.Server. All methods are safe for concurrent use.
type Mirror struct {
	mu     sync.RWMutex
	ports  map[uint32]PortRecord
	byName map[string]uint32

	// pending holds retirements per handle, oldest first, until the
	// reconciler claims them for the unregistration event.
	pending map[uint32][]retirement

	// retired maps recently unregistered handles to their last name.
	// Nil when the grace period is disabled.
	retired *ttlcache.Cache[uint32, string]
}

// NewMirror creates an empty mirror. Retired handles stay resolvable for
// grace; a non-positive grace forgets them immediately.
//
// Call Start to begin expiring retired handles and Stop to release them.
func NewMirror(grace time.Duration) *Mirror {
	m := &Mirror{
		ports:   make(map[uint32]PortRecord),
		byName:  make(map[string]uint32),
		pending: make(map[uint32][]retirement),
	}
	if grace > 0 {
		m.retired = ttlcache.New[uint32, string](
			ttlcache.WithTTL[uint32, string](grace),
			ttlcache.WithCapacity[uint32, string](retiredCapacity),
			ttlcache.WithDisableTouchOnHit[uint32, string](),
		)
	}
	return m
}

// Start runs the expiry loop. It blocks until Stop is called.
func (m *Mirror) Start() {
	if m.retired != nil {
		m.retired.Start()
	}
}

// Stop ends the expiry loop.
func (m *Mirror) Stop() {
	if m.retired != nil {
		m.retired.Stop()
	}
}

// Upsert stores a port record. A reused handle with a different name retires
// the old name first.
func (m *Mirror) Upsert(rec PortRecord) {
	rec.Aliases = slices.Clone(rec.Aliases)
	rec.Connections = slices.Clone(rec.Connections)

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.ports[rec.Handle]; ok && old.Name != rec.Name {
		delete(m.byName, old.Name)
	}
	if prev, ok := m.byName[rec.Name]; ok && prev != rec.Handle {
		delete(m.ports, prev)
	}
	m.ports[rec.Handle] = rec
	m.byName[rec.Name] = rec.Handle
	if m.retired != nil {
		m.retired.Delete(rec.Handle)
	}
}

// Retire removes a port record, as the tombstone of a retained record does.
// The handle keeps resolving to its name for the grace period. It reports
// whether the handle was live.
func (m *Mirror) Retire(handle uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retireLocked(handle, false)
}

// Unregister handles an unregistration event for handle. If the tombstone
// already retired the port that retirement is marked announced; otherwise
// the live record is retired now.
func (m *Mirror) Unregister(handle uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.pending[handle] {
		if !r.announced {
			m.pending[handle][i].announced = true
			return
		}
	}
	m.retireLocked(handle, true)
}

// ClaimRetired returns and forgets the oldest announced name retired from
// handle, even if a new port has reused the handle since.
func (m *Mirror) ClaimRetired(handle uint32) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.pending[handle]
	i := slices.IndexFunc(q, func(r retirement) bool { return r.announced })
	if i < 0 {
		return "", false
	}
	name := q[i].name
	if q = slices.Delete(q, i, i+1); len(q) == 0 {
		delete(m.pending, handle)
	} else {
		m.pending[handle] = q
	}
	return name, true
}

func (m *Mirror) retireLocked(handle uint32, announced bool) bool {
	rec, ok := m.ports[handle]
	if !ok {
		return false
	}
	delete(m.ports, handle)
	delete(m.byName, rec.Name)
	for h, other := range m.ports {
		if slices.Contains(other.Connections, rec.Name) {
			other.Connections = slices.DeleteFunc(slices.Clone(other.Connections), func(n string) bool { return n == rec.Name })
			m.ports[h] = other
		}
	}

	q := append(m.pending[handle], retirement{name: rec.Name, announced: announced})
	if len(q) > maxPendingPerHandle {
		q = q[len(q)-maxPendingPerHandle:]
	}
	m.pending[handle] = q

	if m.retired != nil {
		m.retired.Set(handle, rec.Name, ttlcache.DefaultTTL)
	}
	return true
}

// SetConnected records a connection change between two live handles on both
// records. It reports false if either handle is unknown.
func (m *Mirror) SetConnected(a, b uint32, connected bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ra, okA := m.ports[a]
	rb, okB := m.ports[b]
	if !okA || !okB {
		return false
	}
	ra.Connections = setPeer(ra.Connections, rb.Name, connected)
	rb.Connections = setPeer(rb.Connections, ra.Name, connected)
	m.ports[a] = ra
	m.ports[b] = rb
	return true
}

func setPeer(peers []string, name string, connected bool) []string {
	has := slices.Contains(peers, name)
	switch {
	case connected && !has:
		return append(slices.Clone(peers), name)
	case !connected && has:
		return slices.DeleteFunc(slices.Clone(peers), func(n string) bool { return n == name })
	default:
		return peers
	}
}

// Clear forgets every port, including retired handles.
func (m *Mirror) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.ports)
	clear(m.byName)
	clear(m.pending)
	if m.retired != nil {
		m.retired.DeleteAll()
	}
}

// Len returns the number of live ports.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ports)
}

// Record returns the live record for a handle.
func (m *Mirror) Record(handle uint32) (PortRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.ports[handle]
	return rec, ok
}

// EnumeratePorts lists live ports in registration (handle) order.
func (m *Mirror) EnumeratePorts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handles := make([]uint32, 0, len(m.ports))
	for h := range m.ports {
		handles = append(handles, h)
	}
	slices.Sort(handles)

	names := make([]string, len(handles))
	for i, h := range handles {
		names[i] = m.ports[h].Name
	}
	return names
}

// PortInfo describes a live port by canonical name.
func (m *Mirror) PortInfo(name string) (reconciler.PortInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.byName[name]
	if !ok {
		return reconciler.PortInfo{}, false
	}
	rec := m.ports[h]
	return reconciler.PortInfo{
		Name:      rec.Name,
		Type:      rec.Type,
		Direction: ParseDirection(rec.Direction),
		Physical:  rec.Physical,
		Aliases:   slices.Clone(rec.Aliases),
	}, true
}

// ConnectedPeers lists the canonical names connected to a live port.
func (m *Mirror) ConnectedPeers(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.byName[name]
	if !ok {
		return nil
	}
	return slices.Clone(m.ports[h].Connections)
}

// HandleToName resolves a live handle, or one retired within the grace period.
func (m *Mirror) HandleToName(handle uint32) (string, bool) {
	m.mu.RLock()
	rec, ok := m.ports[handle]
	m.mu.RUnlock()
	if ok {
		return rec.Name, true
	}
	if m.retired == nil {
		return "", false
	}
	if item := m.retired.Get(handle); item != nil {
		return item.Value(), true
	}
	return "", false
}

var (
	_ reconciler.Server       = (*Mirror)(nil)
	_ reconciler.RetiredNames = (*Mirror)(nil)
)
