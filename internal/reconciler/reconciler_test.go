package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/portname"
)

// fakeServer is an in-memory Server.
type fakeServer struct {
	mu      sync.Mutex
	order   []string
	handles map[uint32]string
	info    map[string]PortInfo
	peers   map[string][]string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		handles: make(map[uint32]string),
		info:    make(map[string]PortInfo),
		peers:   make(map[string][]string),
	}
}

func (f *fakeServer) addPort(handle uint32, name string, dir graph.Direction, physical bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, name)
	f.handles[handle] = name
	f.info[name] = PortInfo{Name: name, Type: portname.TypeAudio, Direction: dir, Physical: physical}
}

func (f *fakeServer) retire(handle uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handles, handle)
}

func (f *fakeServer) link(a, b string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[a] = append(f.peers[a], b)
	f.peers[b] = append(f.peers[b], a)
}

func (f *fakeServer) EnumeratePorts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeServer) PortInfo(name string) (PortInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.info[name]
	return info, ok
}

func (f *fakeServer) ConnectedPeers(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.peers[name]...)
}

func (f *fakeServer) HandleToName(handle uint32) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.handles[handle]
	return name, ok
}

// fakeController records forwarded commands.
type fakeController struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *fakeController) ConnectPorts(_ context.Context, src, dst string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "connect "+src+" "+dst)
	return c.err
}

func (c *fakeController) DisconnectPorts(_ context.Context, src, dst string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "disconnect "+src+" "+dst)
	return c.err
}

// eventLog collects notifications from the processing goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []graph.Event
}

func (l *eventLog) notifier() graph.Notifier {
	return graph.EventFunc(func(e graph.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, e)
	})
}

func (l *eventLog) count(t graph.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func startReconciler(t *testing.T, srv Server, cfg Config) (*Reconciler, *eventLog) {
	t.Helper()
	log := &eventLog{}
	if cfg.Resolver.BridgeClient == "" {
		cfg.Resolver = portname.New("", portname.AliasNone)
	}
	r := New(cfg, srv, log.notifier())
	run(t, r)
	return r, log
}

func run(t *testing.T, r *Reconciler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func snapshot(t *testing.T, r *Reconciler) graph.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return s
}

func stats(t *testing.T, r *Reconciler) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := r.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	return s
}

// block occupies the processing goroutine until the returned func is called.
func block(t *testing.T, r *Reconciler) func() {
	t.Helper()
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.do(context.Background(), func(*graph.Model) {
			close(entered)
			<-release
		})
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("processing goroutine did not pick up the call")
	}

	var once sync.Once
	unblock := func() {
		once.Do(func() {
			close(release)
			<-done
		})
	}
	t.Cleanup(unblock)
	return unblock
}

// ============================================================================
// Initial population
// ============================================================================

func TestRun_InitialPopulation(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "appA:out1", graph.DirectionOutput, false)
	srv.addPort(2, "appB:in1", graph.DirectionInput, false)
	srv.link("appA:out1", "appB:in1")

	r, _ := startReconciler(t, srv, Config{})
	s := snapshot(t, r)

	if len(s.Groups) != 2 || len(s.Ports) != 2 || len(s.Connections) != 1 {
		t.Fatalf("populated %d groups, %d ports, %d connections; want 2, 2, 1",
			len(s.Groups), len(s.Ports), len(s.Connections))
	}
	c := s.Connections[0]
	if c.SourcePortID != s.Ports[0].ID || c.DestinationPortID != s.Ports[1].ID {
		t.Errorf("connection = %+v, want appA:out1 -> appB:in1", c)
	}
}

func TestRun_BridgedPortsPopulatedLast(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "a2j:Keystation (capture): Keystation MIDI 1", graph.DirectionOutput, true)
	srv.addPort(2, "system:capture_1", graph.DirectionOutput, true)

	r, log := startReconciler(t, srv, Config{})
	s := snapshot(t, r)

	if len(s.Ports) != 2 {
		t.Fatalf("ports = %d, want 2", len(s.Ports))
	}
	if s.Ports[0].CanonicalName != "system:capture_1" {
		t.Errorf("first port = %q, want native port first", s.Ports[0].CanonicalName)
	}
	if s.Ports[1].Medium != graph.MediumBridgedMIDI {
		t.Errorf("bridged port medium = %q, want %q", s.Ports[1].Medium, graph.MediumBridgedMIDI)
	}
	if s.Groups[1].Name != "Keystation" {
		t.Errorf("bridged group = %q, want %q", s.Groups[1].Name, "Keystation")
	}
	if n := log.count(graph.EventGroupMarkedHardware); n != 2 {
		t.Errorf("hardware notifications = %d, want 2", n)
	}
}

// ============================================================================
// Server events
// ============================================================================

func TestPortEvents(t *testing.T) {
	srv := newFakeServer()
	r, log := startReconciler(t, srv, Config{})

	srv.addPort(7, "synth:out_L", graph.DirectionOutput, false)
	r.OnPortRegistration(7, true)
	r.OnPortRegistration(7, true)

	s := snapshot(t, r)
	if len(s.Ports) != 1 || s.Ports[0].DisplayName != "out_L" {
		t.Fatalf("ports = %+v, want one synth:out_L", s.Ports)
	}

	r.OnPortRegistration(7, false)
	s = snapshot(t, r)
	if len(s.Ports) != 0 || len(s.Groups) != 0 {
		t.Errorf("after unregister: %d ports, %d groups; want 0, 0", len(s.Ports), len(s.Groups))
	}
	if n := log.count(graph.EventGroupRemoved); n != 1 {
		t.Errorf("group removals = %d, want 1", n)
	}

	st := stats(t, r)
	if st.Applied != 2 || st.Dropped != 1 {
		t.Errorf("Stats() applied = %d dropped = %d, want 2 and 1", st.Applied, st.Dropped)
	}
}

func TestPortEvent_RetiredHandleDropped(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(3, "app:out", graph.DirectionOutput, false)
	r, _ := startReconciler(t, srv, Config{})
	before := snapshot(t, r)

	srv.retire(3)
	r.OnPortRegistration(3, false)
	r.OnConnect(3, 4, true)

	after := snapshot(t, r)
	if len(after.Ports) != len(before.Ports) || len(after.Groups) != len(before.Groups) {
		t.Errorf("stale events changed the model: before %+v, after %+v", before, after)
	}
	if st := stats(t, r); st.Dropped != 2 {
		t.Errorf("Stats().Dropped = %d, want 2", st.Dropped)
	}
}

func TestConnectEvents_EitherOrder(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "a:out", graph.DirectionOutput, false)
	srv.addPort(2, "b:in", graph.DirectionInput, false)
	r, _ := startReconciler(t, srv, Config{})

	r.OnConnect(2, 1, true)
	s := snapshot(t, r)
	if len(s.Connections) != 1 {
		t.Fatalf("connections = %d, want 1", len(s.Connections))
	}
	if s.Connections[0].SourcePortID != 1 || s.Connections[0].DestinationPortID != 2 {
		t.Errorf("connection = %+v, want 1 -> 2", s.Connections[0])
	}

	r.OnConnect(1, 2, false)
	if s := snapshot(t, r); len(s.Connections) != 0 {
		t.Errorf("connections after disconnect = %d, want 0", len(s.Connections))
	}
}

func TestRequestResync_RebuildsFromServer(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "a:out", graph.DirectionOutput, false)
	r, log := startReconciler(t, srv, Config{})

	srv.addPort(2, "b:in", graph.DirectionInput, false)
	srv.link("a:out", "b:in")
	r.RequestResync()

	s := snapshot(t, r)
	if len(s.Ports) != 2 || len(s.Connections) != 1 {
		t.Errorf("after resync: %d ports, %d connections; want 2, 1", len(s.Ports), len(s.Connections))
	}
	if n := log.count(graph.EventPortRemoved); n != 1 {
		t.Errorf("port removals announced = %d, want 1", n)
	}
	if st := stats(t, r); st.Resyncs != 2 {
		t.Errorf("Stats().Resyncs = %d, want 2", st.Resyncs)
	}
}

func TestQueueOverflow_SchedulesResync(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "a:out", graph.DirectionOutput, false)

	r := New(Config{QueueSize: 1, Resolver: portname.New("", portname.AliasNone)}, srv, nil)
	r.OnPortRegistration(1, true)
	r.OnPortRegistration(1, true)

	if !r.resyncWanted.Load() {
		t.Fatal("overflow did not schedule a resync")
	}
	run(t, r)

	st := stats(t, r)
	if st.Resyncs != 2 {
		t.Errorf("Stats().Resyncs = %d, want startup plus overflow", st.Resyncs)
	}
	if st.Received != 1 || st.Dropped < 2 {
		t.Errorf("Stats() received = %d dropped = %d, want 1 and >= 2", st.Received, st.Dropped)
	}
	if st.Graph.Ports != 1 {
		t.Errorf("Stats().Graph.Ports = %d, want 1", st.Graph.Ports)
	}
}

func TestQueueOverflow_DiscardsEventsOlderThanResync(t *testing.T) {
	tests := []struct {
		name     string
		overflow func(r *Reconciler)
	}{
		{"lost event", func(r *Reconciler) { r.OnConnect(1, 2, true) }},
		{"resync request", func(r *Reconciler) { r.RequestResync() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer()
			srv.addPort(1, "a:out", graph.DirectionOutput, false)
			srv.addPort(2, "b:in", graph.DirectionInput, false)
			srv.link("a:out", "b:in")
			r, _ := startReconciler(t, srv, Config{QueueSize: 1})
			release := block(t, r)

			// The server dropped and restored the link; only the first event fits.
			r.OnConnect(1, 2, false)
			tt.overflow(r)
			release()

			if s := snapshot(t, r); len(s.Connections) != 1 {
				t.Errorf("connections = %d, want 1 as on the server", len(s.Connections))
			}
			if st := stats(t, r); st.Resyncs != 2 {
				t.Errorf("Stats().Resyncs = %d, want 2", st.Resyncs)
			}
		})
	}
}

func TestQueueOverflow_QueuedCallsStillAnswered(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "a:out", graph.DirectionOutput, false)
	r, _ := startReconciler(t, srv, Config{QueueSize: 2})
	release := block(t, r)

	srv.addPort(2, "b:in", graph.DirectionInput, false)
	r.OnPortRegistration(2, true)

	snaps := make(chan graph.Snapshot, 1)
	go func() {
		s, _ := r.Snapshot(context.Background())
		snaps <- s
	}()
	for deadline := time.Now().Add(5 * time.Second); len(r.queue) < 2; {
		if time.Now().After(deadline) {
			t.Fatal("snapshot request was not queued")
		}
		time.Sleep(time.Millisecond)
	}
	r.OnPortRegistration(2, true)
	release()

	if s := <-snaps; len(s.Ports) != 2 {
		t.Errorf("queued snapshot ports = %d, want 2", len(s.Ports))
	}
}

// ============================================================================
// User requests
// ============================================================================

func TestConnect_AppliesDirectlyWithoutController(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "a:out", graph.DirectionOutput, false)
	srv.addPort(2, "b:in", graph.DirectionInput, false)
	r, _ := startReconciler(t, srv, Config{})
	ctx := context.Background()

	if err := r.Connect(ctx, "b:in", "a:out"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := r.Connect(ctx, "a:out", "b:in"); !errors.Is(err, graph.ErrConnectionExists) {
		t.Errorf("second Connect() error = %v, want ErrConnectionExists", err)
	}
	if err := r.Disconnect(ctx, "a:out", "b:in"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if s := snapshot(t, r); len(s.Connections) != 0 {
		t.Errorf("connections after round trip = %d, want 0", len(s.Connections))
	}
}

func TestConnect_Validation(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "a:out", graph.DirectionOutput, false)
	srv.addPort(2, "b:out", graph.DirectionOutput, false)
	r, _ := startReconciler(t, srv, Config{})
	ctx := context.Background()

	if err := r.Connect(ctx, "a:out", "nope:in"); !errors.Is(err, graph.ErrPortNotFound) {
		t.Errorf("Connect(unknown) error = %v, want ErrPortNotFound", err)
	}
	if err := r.Connect(ctx, "a:out", "b:out"); !errors.Is(err, graph.ErrInvalidDirection) {
		t.Errorf("Connect(out, out) error = %v, want ErrInvalidDirection", err)
	}
	if err := r.Disconnect(ctx, "a:out", "b:out"); !errors.Is(err, graph.ErrInvalidDirection) {
		t.Errorf("Disconnect(out, out) error = %v, want ErrInvalidDirection", err)
	}
}

func TestConnect_ForwardsToController(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "a:out", graph.DirectionOutput, false)
	srv.addPort(2, "b:in", graph.DirectionInput, false)

	ctrl := &fakeController{}
	r := New(Config{Resolver: portname.New("", portname.AliasNone)}, srv, nil)
	r.SetController(ctrl)
	run(t, r)
	ctx := context.Background()

	if err := r.Connect(ctx, "b:in", "a:out"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s := snapshot(t, r); len(s.Connections) != 0 {
		t.Error("model changed before server confirmation")
	}

	ctrl.mu.Lock()
	calls := append([]string(nil), ctrl.calls...)
	ctrl.mu.Unlock()
	if len(calls) != 1 || calls[0] != "connect a:out b:in" {
		t.Errorf("controller calls = %v, want one oriented connect", calls)
	}

	r.OnConnect(1, 2, true)
	if s := snapshot(t, r); len(s.Connections) != 1 {
		t.Error("confirmation event did not create the connection")
	}

	ctrl.err = errors.New("broker down")
	if err := r.Disconnect(ctx, "a:out", "b:in"); err == nil {
		t.Error("Disconnect() error = nil, want controller failure")
	}
}

func TestConnect_CancelledWhileQueuedIsNotApplied(t *testing.T) {
	srv := newFakeServer()
	srv.addPort(1, "a:out", graph.DirectionOutput, false)
	srv.addPort(2, "b:in", graph.DirectionInput, false)
	r, _ := startReconciler(t, srv, Config{})
	release := block(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- r.Connect(ctx, "a:out", "b:in") }()

	for deadline := time.Now().Add(5 * time.Second); len(r.queue) == 0; {
		if time.Now().After(deadline) {
			t.Fatal("connect request was not queued")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect() error = %v, want context.Canceled", err)
	}
	release()

	if s := snapshot(t, r); len(s.Connections) != 0 {
		t.Errorf("connections = %d, want 0 after the caller gave up", len(s.Connections))
	}
}

func TestSnapshot_CancelledContext(t *testing.T) {
	r := New(Config{QueueSize: 1}, newFakeServer(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Snapshot(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Snapshot() error = %v, want context.Canceled", err)
	}
}

// ============================================================================
// Helpers and metrics
// ============================================================================

func TestBridgedLast(t *testing.T) {
	isBridged := func(s string) bool { return s[0] == 'x' }
	got := bridgedLast([]string{"x1", "a", "x2", "b"}, isBridged)
	want := []string{"a", "b", "x1", "x2"}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bridgedLast() = %v, want %v", got, want)
		}
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Error("second NewMetrics() on same registry error = nil")
	}

	srv := newFakeServer()
	srv.addPort(1, "a:out", graph.DirectionOutput, false)
	r := New(Config{Resolver: portname.New("", portname.AliasNone)}, srv, nil)
	r.SetMetrics(m)
	run(t, r)

	r.OnPortRegistration(99, true)
	stats(t, r)

	if got := testutil.ToFloat64(m.resyncs); got != 1 {
		t.Errorf("resyncs_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("port", reasonUnresolved)); got != 1 {
		t.Errorf("events_dropped_total{port,unresolved} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.entities.WithLabelValues("ports")); got != 1 {
		t.Errorf("graph_entities{ports} = %v, want 1", got)
	}

	var nilMetrics *Metrics
	nilMetrics.eventReceived("port")
}
