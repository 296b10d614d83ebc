package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/portname"
)

// DefaultQueueSize is the event queue capacity used when Config.QueueSize is
// not positive.
const DefaultQueueSize = 1024

// errPortInfoUnavailable is returned when the server no longer describes a
// port it just resolved.
var errPortInfoUnavailable = errors.New("reconciler: port info unavailable")

// Logger defines the logging interface used by the Reconciler.
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

// Config configures a Reconciler.
type Config struct {
	QueueSize int
	Resolver  portname.Resolver
}

// Stats is a point-in-time view of the reconciler.
type Stats struct {
	Graph         graph.Stats `json:"graph"`
	Received      uint64      `json:"events_received"`
	Applied       uint64      `json:"events_applied"`
	Dropped       uint64      `json:"events_dropped"`
	Resyncs       uint64      `json:"resyncs"`
	QueueDepth    int         `json:"queue_depth"`
	QueueCapacity int         `json:"queue_capacity"`
}

type eventKind uint8

const (
	eventPort eventKind = iota
	eventConnect
	eventResync
	eventCall
)

// States of a queued call. A caller that gives up while its call is still
// pending marks it abandoned and the loop skips it.
const (
	callPending int32 = iota
	callRunning
	callAbandoned
)

// event is one queue entry. Server events only fill a, b and flag so that
// the callback side never allocates.
type event struct {
	kind  eventKind
	a, b  uint32
	flag  bool
	call  func(*graph.Model)
	state *atomic.Int32
	done  chan struct{}
}

// Reconciler owns a graph.Model and applies server events to it on a single
// goroutine (see Run).
type Reconciler struct {
	server     Server
	controller Controller
	resolver   portname.Resolver
	model      *graph.Model

	queue        chan event
	wake         chan struct{}
	resyncWanted atomic.Bool

	received atomic.Uint64
	applied  atomic.Uint64
	dropped  atomic.Uint64
	resyncs  atomic.Uint64

	logger  Logger
	metrics *Metrics
}

// New creates a reconciler reading from server and reporting model
// mutations to notifier. Call Run to start processing.
func New(cfg Config, server Server, notifier graph.Notifier) *Reconciler {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Reconciler{
		server:   server,
		resolver: cfg.Resolver,
		model:    graph.NewModel(notifier),
		queue:    make(chan event, size),
		wake:     make(chan struct{}, 1),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the reconciler and its model.
// Must be called before Run.
func (r *Reconciler) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
	r.model.SetLogger(logger)
}

// SetController routes user connect/disconnect requests to the server
// instead of applying them to the model directly. Must be called before Run.
func (r *Reconciler) SetController(c Controller) {
	r.controller = c
}

// SetMetrics enables Prometheus instrumentation. Must be called before Run.
func (r *Reconciler) SetMetrics(m *Metrics) {
	r.metrics = m
}

// ============================================================================
// Server callbacks (non-blocking)
// ============================================================================

// OnPortRegistration records a port (un)registration. It never blocks.
func (r *Reconciler) OnPortRegistration(handle uint32, registered bool) {
	r.enqueue(event{kind: eventPort, a: handle, flag: registered}, "port")
}

// OnConnect records a connection change between two port handles, in either
// order. It never blocks.
func (r *Reconciler) OnConnect(a, b uint32, connected bool) {
	r.enqueue(event{kind: eventConnect, a: a, b: b, flag: connected}, "connect")
}

// RequestResync schedules a full resynchronisation. It never blocks.
func (r *Reconciler) RequestResync() {
	select {
	case r.queue <- event{kind: eventResync}:
	default:
		r.scheduleResync()
	}
}

func (r *Reconciler) enqueue(ev event, kind string) {
	select {
	case r.queue <- ev:
		r.received.Add(1)
		r.metrics.eventReceived(kind)
	default:
		r.dropped.Add(1)
		r.metrics.eventDropped(kind, reasonQueueFull)
		r.scheduleResync()
	}
}

func (r *Reconciler) scheduleResync() {
	r.resyncWanted.Store(true)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// ============================================================================
// Processing loop
// ============================================================================

// Run populates the model from the server and then applies queued work until
// ctx is cancelled. It must be started exactly once.
func (r *Reconciler) Run(ctx context.Context) {
	r.resync("startup")

	for {
		if r.resyncWanted.Swap(false) {
			r.catchUp("queue_overflow")
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-r.wake:
		case ev := <-r.queue:
			r.handle(ev)
		}
		r.observe()
	}
}

func (r *Reconciler) handle(ev event) {
	switch ev.kind {
	case eventPort:
		r.applyPort(ev.a, ev.flag)
	case eventConnect:
		r.applyConnect(ev.a, ev.b, ev.flag)
	case eventResync:
		r.resync("requested")
	case eventCall:
		if ev.state.CompareAndSwap(callPending, callRunning) {
			ev.call(r.model)
		}
		close(ev.done)
	}
}

// catchUp resynchronises after events were lost. Server events still queued
// predate the server state the resync reads, so they are discarded instead of
// being replayed on top of it. Queued calls run against the rebuilt model.
func (r *Reconciler) catchUp(reason string) {
	var calls []event
	// Run is the only receiver, so len(r.queue) entries are ready.
	for n := len(r.queue); n > 0; n-- {
		ev := <-r.queue
		switch ev.kind {
		case eventCall:
			calls = append(calls, ev)
		case eventPort:
			if !ev.flag {
				// Consume the retirement the event would have claimed.
				_, _ = r.unregisteredName(ev.a)
			}
			r.drop("port", reasonSuperseded, "handle", ev.a)
		case eventConnect:
			r.drop("connect", reasonSuperseded, "handle_a", ev.a, "handle_b", ev.b)
		}
	}

	r.resync(reason)
	for _, ev := range calls {
		r.handle(ev)
	}
}

func (r *Reconciler) applyPort(handle uint32, registered bool) {
	var name string
	var ok bool
	if registered {
		name, ok = r.server.HandleToName(handle)
	} else {
		name, ok = r.unregisteredName(handle)
	}
	if !ok {
		r.drop("port", reasonUnresolved, "handle", handle)
		return
	}

	if registered {
		if err := r.addPort(name); err != nil {
			r.drop("port", reasonFor(err), "port", name, "error", err)
			return
		}
	} else if !r.model.RemovePortByName(name) {
		r.drop("port", reasonUnknownPort, "port", name)
		return
	}

	r.applied.Add(1)
	r.metrics.eventApplied("port")
}

// unregisteredName resolves the handle of an unregistration event. The
// name the handle carried when it was retired wins over a port that has
// since reused it.
func (r *Reconciler) unregisteredName(handle uint32) (string, bool) {
	if rs, ok := r.server.(RetiredNames); ok {
		if name, ok := rs.ClaimRetired(handle); ok {
			return name, true
		}
	}
	return r.server.HandleToName(handle)
}

func (r *Reconciler) applyConnect(a, b uint32, connected bool) {
	nameA, okA := r.server.HandleToName(a)
	nameB, okB := r.server.HandleToName(b)
	if !okA || !okB {
		r.drop("connect", reasonUnresolved, "handle_a", a, "handle_b", b)
		return
	}

	src, dst := orient(r.model, nameA, nameB)

	var err error
	if connected {
		_, err = r.model.Connect(src, dst)
	} else {
		_, err = r.model.Disconnect(src, dst)
	}
	if err != nil {
		r.drop("connect", reasonFor(err), "source", src, "destination", dst, "error", err)
		return
	}

	r.applied.Add(1)
	r.metrics.eventApplied("connect")
}

// addPort resolves name through the server and the naming rules and adds
// it to the model.
func (r *Reconciler) addPort(name string) error {
	info, ok := r.server.PortInfo(name)
	if !ok {
		return fmt.Errorf("%w: %s", errPortInfoUnavailable, name)
	}

	res := r.resolver.Resolve(portname.Input{Name: name, Type: info.Type, Aliases: info.Aliases})
	if res.Malformed {
		r.logger.Debug("port name does not match naming grammar", "port", name, "group", res.GroupName)
	}

	_, err := r.model.AddPort(graph.PortSpec{
		CanonicalName: name,
		DisplayName:   res.DisplayName,
		GroupName:     res.GroupName,
		Direction:     info.Direction,
		Medium:        res.Medium,
		Physical:      info.Physical,
	})
	return err
}

// resync empties the model and rebuilds it from the server's current state.
func (r *Reconciler) resync(reason string) {
	r.model.Resync()

	ordered := bridgedLast(r.server.EnumeratePorts(), r.resolver.IsBridged)

	for _, name := range ordered {
		if err := r.addPort(name); err != nil {
			r.logger.Debug("resync skipped port", "port", name, "error", err)
		}
	}

	// Only the output side is walked, so each edge is connected once.
	for _, name := range ordered {
		p, ok := r.model.PortByName(name)
		if !ok || p.Direction != graph.DirectionOutput {
			continue
		}
		for _, peer := range r.server.ConnectedPeers(name) {
			if _, err := r.model.Connect(name, peer); err != nil {
				r.logger.Debug("resync skipped connection", "source", name, "destination", peer, "error", err)
			}
		}
	}

	r.resyncs.Add(1)
	r.metrics.resynced()

	s := r.model.Stats()
	r.logger.Info("graph resynchronised",
		"reason", reason,
		"groups", s.Groups,
		"ports", s.Ports,
		"connections", s.Connections,
	)
}

func (r *Reconciler) drop(kind, reason string, args ...any) {
	r.dropped.Add(1)
	r.metrics.eventDropped(kind, reason)
	r.logger.Debug("event dropped", append([]any{"kind", kind, "reason", reason}, args...)...)
}

func (r *Reconciler) observe() {
	if r.metrics == nil {
		return
	}
	s := r.model.Stats()
	r.metrics.observe(len(r.queue), s.Groups, s.Ports, s.Connections)
}

// bridgedLast moves bridged names after all native names, keeping the
// relative order inside each partition.
func bridgedLast(names []string, isBridged func(string) bool) []string {
	ordered := make([]string, 0, len(names))
	var bridged []string
	for _, name := range names {
		if isBridged(name) {
			bridged = append(bridged, name)
			continue
		}
		ordered = append(ordered, name)
	}
	return append(ordered, bridged...)
}

// orient returns (a, b) as (output, input) when the server reported the
// input side first. Unknown ports are returned unchanged.
func orient(m *graph.Model, a, b string) (string, string) {
	if p, ok := m.PortByName(a); ok && p.Direction == graph.DirectionInput {
		return b, a
	}
	return a, b
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, graph.ErrPortExists), errors.Is(err, graph.ErrConnectionExists):
		return reasonDuplicate
	case errors.Is(err, graph.ErrPortNotFound), errors.Is(err, errPortInfoUnavailable):
		return reasonUnknownPort
	case errors.Is(err, graph.ErrConnectionNotFound):
		return reasonNoConnection
	default:
		return reasonInvalid
	}
}
