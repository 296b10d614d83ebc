package jack

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-patchbay/internal/portname"
	"github.com/nerrad567/gray-logic-patchbay/internal/reconciler"
)

// fakeMQTT records subscriptions and publishes and lets tests deliver messages.
type fakeMQTT struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	order        []string
	published    []published
	unsubscribed []string
	subscribeErr error
	publishErr   error
}

type published struct {
	topic    string
	payload  []byte
	retained bool
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic, slices.Clone(payload), retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.handlers[topic] = handler
	f.order = append(f.order, topic)
	return nil
}

func (f *fakeMQTT) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeMQTT) IsConnected() bool { return true }

// deliver routes a message to the handler subscribed on filter.
func (f *fakeMQTT) deliver(t *testing.T, filter, topic string, v any) error {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[filter]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler subscribed on %s", filter)
	}
	var payload []byte
	switch p := v.(type) {
	case nil:
	case []byte:
		payload = p
	default:
		var err error
		if payload, err = json.Marshal(v); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	return h(topic, payload)
}

func (f *fakeMQTT) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// fakeSink records forwarded events.
type fakeSink struct {
	mu       sync.Mutex
	ports    []PortEventMessage
	connects []ConnectEventMessage
	resyncs  int
}

func (s *fakeSink) OnPortRegistration(handle uint32, registered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports = append(s.ports, PortEventMessage{Handle: handle, Registered: registered})
}

func (s *fakeSink) OnConnect(a, b uint32, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects = append(s.connects, ConnectEventMessage{A: a, B: b, Connected: connected})
}

func (s *fakeSink) RequestResync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncs++
}

func (s *fakeSink) resyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncs
}

func startBridge(t *testing.T, sink EventSink) (*Bridge, *fakeMQTT) {
	t.Helper()
	client := newFakeMQTT()
	b, err := NewBridge(BridgeOptions{MQTT: client, Events: sink})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, client
}

func record(handle uint32, name, direction string, peers ...string) PortRecord {
	return PortRecord{
		Handle:      handle,
		Name:        name,
		Type:        portname.TypeAudio,
		Direction:   direction,
		Connections: peers,
	}
}

// =============================================================================
// Construction and lifecycle
// =============================================================================

func TestNewBridge_Validation(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{Events: &fakeSink{}}); err == nil {
		t.Error("NewBridge() without MQTT error = nil, want error")
	}
	if _, err := NewBridge(BridgeOptions{MQTT: newFakeMQTT()}); err == nil {
		t.Error("NewBridge() without event sink error = nil, want error")
	}
}

func TestBridge_StartSubscribesRecordsFirst(t *testing.T) {
	_, client := startBridge(t, &fakeSink{})

	want := []string{
		"patchbay/jack/port/+",
		"patchbay/jack/event/port",
		"patchbay/jack/event/connect",
		"patchbay/jack/status",
	}
	if !slices.Equal(client.order, want) {
		t.Errorf("subscriptions = %v, want %v", client.order, want)
	}
}

func TestBridge_StartSubscribeError(t *testing.T) {
	client := newFakeMQTT()
	client.subscribeErr = mqtt.ErrNotConnected
	b, err := NewBridge(BridgeOptions{MQTT: client, Events: &fakeSink{}})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Start() error = %v, want ErrNotConnected", err)
	}
	b.Stop()
}

func TestBridge_StopUnsubscribesOnce(t *testing.T) {
	client := newFakeMQTT()
	b, _ := NewBridge(BridgeOptions{MQTT: client, Events: &fakeSink{}})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	b.Stop()
	b.Stop()

	if len(client.unsubscribed) != 4 {
		t.Errorf("unsubscribed = %v, want 4 topics", client.unsubscribed)
	}
}

// =============================================================================
// Relay messages
// =============================================================================

func TestBridge_PortRecords(t *testing.T) {
	b, client := startBridge(t, &fakeSink{})
	filter := b.Topics().AllPorts()

	if err := client.deliver(t, filter, "patchbay/jack/port/3", record(3, "system:capture_1", "output")); err != nil {
		t.Fatalf("record error = %v", err)
	}
	if got := b.Mirror().EnumeratePorts(); !slices.Equal(got, []string{"system:capture_1"}) {
		t.Errorf("EnumeratePorts() = %v", got)
	}

	// Tombstone.
	if err := client.deliver(t, filter, "patchbay/jack/port/3", nil); err != nil {
		t.Fatalf("tombstone error = %v", err)
	}
	if b.Mirror().Len() != 0 {
		t.Errorf("Len() after tombstone = %d, want 0", b.Mirror().Len())
	}
}

func TestBridge_PortRecordErrors(t *testing.T) {
	b, client := startBridge(t, &fakeSink{})
	filter := b.Topics().AllPorts()

	tests := []struct {
		name    string
		topic   string
		payload any
	}{
		{"bad topic", "patchbay/jack/port/x", record(1, "a:b", "output")},
		{"not json", "patchbay/jack/port/1", []byte("{")},
		{"handle mismatch", "patchbay/jack/port/1", record(2, "a:b", "output")},
		{"no name", "patchbay/jack/port/1", record(1, "", "output")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.deliver(t, filter, tt.topic, tt.payload); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("deliver() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
	if b.Mirror().Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Mirror().Len())
	}
}

func TestBridge_PortEventForwarded(t *testing.T) {
	sink := &fakeSink{}
	b, client := startBridge(t, sink)
	_ = client.deliver(t, b.Topics().AllPorts(), "patchbay/jack/port/5", record(5, "synth:out", "output"))

	if err := client.deliver(t, b.Topics().PortEvent(), b.Topics().PortEvent(), PortEventMessage{Handle: 5, Registered: false}); err != nil {
		t.Fatalf("port event error = %v", err)
	}

	if len(sink.ports) != 1 || sink.ports[0] != (PortEventMessage{Handle: 5}) {
		t.Errorf("forwarded = %+v, want one unregistration of 5", sink.ports)
	}
	if b.Mirror().Len() != 0 {
		t.Error("unregistration did not retire the record")
	}
	if name, ok := b.Mirror().HandleToName(5); !ok || name != "synth:out" {
		t.Errorf("HandleToName(5) within grace = %q, %v; want synth:out, true", name, ok)
	}
}

func TestBridge_ConnectEventUpdatesMirror(t *testing.T) {
	sink := &fakeSink{}
	b, client := startBridge(t, sink)
	_ = client.deliver(t, b.Topics().AllPorts(), "patchbay/jack/port/1", record(1, "synth:out", "output"))
	_ = client.deliver(t, b.Topics().AllPorts(), "patchbay/jack/port/2", record(2, "system:playback_1", "input"))

	topic := b.Topics().ConnectEvent()
	if err := client.deliver(t, topic, topic, ConnectEventMessage{A: 1, B: 2, Connected: true}); err != nil {
		t.Fatalf("connect event error = %v", err)
	}

	if got := b.Mirror().ConnectedPeers("synth:out"); !slices.Equal(got, []string{"system:playback_1"}) {
		t.Errorf("ConnectedPeers(synth:out) = %v", got)
	}
	if got := b.Mirror().ConnectedPeers("system:playback_1"); !slices.Equal(got, []string{"synth:out"}) {
		t.Errorf("ConnectedPeers(system:playback_1) = %v", got)
	}
	if len(sink.connects) != 1 {
		t.Errorf("forwarded connects = %d, want 1", len(sink.connects))
	}

	_ = client.deliver(t, topic, topic, ConnectEventMessage{A: 2, B: 1, Connected: false})
	if got := b.Mirror().ConnectedPeers("synth:out"); len(got) != 0 {
		t.Errorf("ConnectedPeers after disconnect = %v, want none", got)
	}
}

func TestBridge_InvalidEventPayloads(t *testing.T) {
	b, client := startBridge(t, &fakeSink{})
	for _, topic := range []string{b.Topics().PortEvent(), b.Topics().ConnectEvent(), b.Topics().RelayStatus()} {
		if err := client.deliver(t, topic, topic, []byte("not json")); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("deliver(%s) error = %v, want ErrInvalidMessage", topic, err)
		}
	}
}

func TestBridge_RelayStatus(t *testing.T) {
	sink := &fakeSink{}
	b, client := startBridge(t, sink)
	topic := b.Topics().RelayStatus()
	_ = client.deliver(t, b.Topics().AllPorts(), "patchbay/jack/port/1", record(1, "synth:out", "output"))

	_ = client.deliver(t, topic, topic, StatusMessage{Status: RelayOnline})
	_ = client.deliver(t, topic, topic, StatusMessage{Status: RelayOnline})
	if sink.resyncCount() != 1 {
		t.Errorf("resyncs after repeated online = %d, want 1", sink.resyncCount())
	}
	if !b.RelayOnline() {
		t.Error("RelayOnline() = false after online status")
	}

	_ = client.deliver(t, topic, topic, StatusMessage{Status: RelayOffline})
	if sink.resyncCount() != 2 {
		t.Errorf("resyncs after offline = %d, want 2", sink.resyncCount())
	}
	if b.Mirror().Len() != 0 {
		t.Error("offline status did not clear the mirror")
	}

	if err := client.deliver(t, topic, topic, StatusMessage{Status: "sleeping"}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("unknown status error = %v, want ErrInvalidMessage", err)
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestBridge_ConnectPorts(t *testing.T) {
	b, client := startBridge(t, &fakeSink{})
	ctx := context.Background()

	if err := b.ConnectPorts(ctx, "synth:out", "system:playback_1"); !errors.Is(err, ErrRelayOffline) {
		t.Errorf("ConnectPorts() while offline error = %v, want ErrRelayOffline", err)
	}

	status := b.Topics().RelayStatus()
	_ = client.deliver(t, status, status, StatusMessage{Status: RelayOnline})

	if err := b.ConnectPorts(ctx, "synth:out", "system:playback_1"); err != nil {
		t.Fatalf("ConnectPorts() error = %v", err)
	}
	if err := b.DisconnectPorts(ctx, "synth:out", "system:playback_1"); err != nil {
		t.Fatalf("DisconnectPorts() error = %v", err)
	}

	for _, topic := range []string{b.Topics().ConnectCommand(), b.Topics().DisconnectCommand()} {
		msgs := client.publishedTo(topic)
		if len(msgs) != 1 {
			t.Fatalf("published to %s = %d, want 1", topic, len(msgs))
		}
		if msgs[0].retained {
			t.Errorf("command on %s was retained", topic)
		}
		var cmd CommandMessage
		if err := json.Unmarshal(msgs[0].payload, &cmd); err != nil {
			t.Fatalf("command payload: %v", err)
		}
		if cmd.Source != "synth:out" || cmd.Destination != "system:playback_1" || cmd.ID == "" {
			t.Errorf("command = %+v", cmd)
		}
	}
}

func TestBridge_ConnectPortsErrors(t *testing.T) {
	b, client := startBridge(t, &fakeSink{})
	status := b.Topics().RelayStatus()
	_ = client.deliver(t, status, status, StatusMessage{Status: RelayOnline})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.ConnectPorts(ctx, "a:out", "b:in"); !errors.Is(err, context.Canceled) {
		t.Errorf("ConnectPorts(cancelled) error = %v, want context.Canceled", err)
	}

	client.publishErr = mqtt.ErrPublishFailed
	if err := b.ConnectPorts(context.Background(), "a:out", "b:in"); !errors.Is(err, mqtt.ErrPublishFailed) {
		t.Errorf("ConnectPorts() error = %v, want ErrPublishFailed", err)
	}
}

// =============================================================================
// End to end with the reconciler
// =============================================================================

func TestBridge_DrivesReconciler(t *testing.T) {
	client := newFakeMQTT()
	sink := &lateSink{}
	b, err := NewBridge(BridgeOptions{MQTT: client, Events: sink})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	rec := reconciler.New(reconciler.Config{Resolver: portname.New("", portname.AliasNone)}, b.Mirror(), nil)
	rec.SetController(b)
	sink.set(rec)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	ports := b.Topics().AllPorts()
	_ = client.deliver(t, ports, "patchbay/jack/port/1", record(1, "synth:out", "output", "system:playback_1"))
	_ = client.deliver(t, ports, "patchbay/jack/port/2", record(2, "system:playback_1", "input", "synth:out"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	status := b.Topics().RelayStatus()
	_ = client.deliver(t, status, status, StatusMessage{Status: RelayOnline})

	var snap graph.Snapshot
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err = rec.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if len(snap.Connections) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(snap.Groups) != 2 || len(snap.Ports) != 2 || len(snap.Connections) != 1 {
		t.Fatalf("snapshot = %d groups, %d ports, %d connections; want 2, 2, 1",
			len(snap.Groups), len(snap.Ports), len(snap.Connections))
	}

	// A user connect is forwarded to the relay instead of applied locally.
	_ = client.deliver(t, ports, "patchbay/jack/port/3", record(3, "system:playback_2", "input"))
	ev := b.Topics().PortEvent()
	_ = client.deliver(t, ev, ev, PortEventMessage{Handle: 3, Registered: true})

	if err := rec.Connect(context.Background(), "synth:out", "system:playback_2"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := client.publishedTo(b.Topics().ConnectCommand()); len(got) != 1 {
		t.Errorf("connect commands published = %d, want 1", len(got))
	}
}

// startWithReconciler starts a bridge whose events drive a running
// reconciler. seed runs before the reconciler's startup resync.
func startWithReconciler(t *testing.T, seed func(b *Bridge, client *fakeMQTT)) (*Bridge, *fakeMQTT, *reconciler.Reconciler) {
	t.Helper()
	client := newFakeMQTT()
	sink := &lateSink{}
	b, err := NewBridge(BridgeOptions{MQTT: client, Events: sink})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	rec := reconciler.New(reconciler.Config{Resolver: portname.New("", portname.AliasNone)}, b.Mirror(), nil)
	sink.set(rec)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	if seed != nil {
		seed(b, client)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b, client, rec
}

// portNames waits until the reconciler's ports satisfy ok and returns them.
func portNames(t *testing.T, rec *reconciler.Reconciler, ok func([]string) bool) []string {
	t.Helper()
	var names []string
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := rec.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		names = names[:0]
		for _, p := range snap.Ports {
			names = append(names, p.CanonicalName)
		}
		if ok(names) || time.Now().After(deadline) {
			return names
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBridge_UnregisterSurvivesHandleReuse(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{"event first", []string{"unregister", "tombstone", "record", "register"}},
		{"tombstone first", []string{"tombstone", "record", "unregister", "register"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			b, client := startBridge(t, sink)
			portsFilter, events := b.Topics().AllPorts(), b.Topics().PortEvent()
			_ = client.deliver(t, portsFilter, "patchbay/jack/port/5", record(5, "old:out", "output"))

			rec := reconciler.New(reconciler.Config{Resolver: portname.New("", portname.AliasNone)}, b.Mirror(), nil)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				rec.Run(ctx)
			}()
			defer func() {
				cancel()
				<-done
			}()
			if got := portNames(t, rec, func(n []string) bool { return len(n) == 1 }); !slices.Equal(got, []string{"old:out"}) {
				t.Fatalf("ports before = %v, want [old:out]", got)
			}

			// The relay reuses handle 5 before the reconciler sees any event.
			for _, step := range tt.order {
				var err error
				switch step {
				case "unregister":
					err = client.deliver(t, events, events, PortEventMessage{Handle: 5, Registered: false})
				case "tombstone":
					err = client.deliver(t, portsFilter, "patchbay/jack/port/5", nil)
				case "record":
					err = client.deliver(t, portsFilter, "patchbay/jack/port/5", record(5, "new:out", "output"))
				case "register":
					err = client.deliver(t, events, events, PortEventMessage{Handle: 5, Registered: true})
				}
				if err != nil {
					t.Fatalf("%s error = %v", step, err)
				}
			}

			sink.mu.Lock()
			forwarded := slices.Clone(sink.ports)
			sink.mu.Unlock()
			for _, ev := range forwarded {
				rec.OnPortRegistration(ev.Handle, ev.Registered)
			}

			want := []string{"new:out"}
			if got := portNames(t, rec, func(n []string) bool { return slices.Equal(n, want) }); !slices.Equal(got, want) {
				t.Errorf("ports after reuse = %v, want %v", got, want)
			}
		})
	}
}

func TestBridge_BrokerReconnectResyncs(t *testing.T) {
	status := "patchbay/jack/status"
	b, client, rec := startWithReconciler(t, func(b *Bridge, client *fakeMQTT) {
		ports := b.Topics().AllPorts()
		_ = client.deliver(t, ports, "patchbay/jack/port/1", record(1, "synth:out", "output", "system:playback_1"))
		_ = client.deliver(t, ports, "patchbay/jack/port/2", record(2, "system:playback_1", "input", "synth:out"))
		_ = client.deliver(t, status, status, StatusMessage{Status: RelayOnline})
	})
	if got := portNames(t, rec, func(n []string) bool { return len(n) == 2 }); len(got) != 2 {
		t.Fatalf("ports before outage = %v, want 2", got)
	}

	// While the broker was unreachable the relay retired port 2; its retained
	// record is gone, so only port 1 and the status are replayed.
	b.BrokerReconnected()
	if b.RelayOnline() {
		t.Error("RelayOnline() = true before the relay status is replayed")
	}
	_ = client.deliver(t, b.Topics().AllPorts(), "patchbay/jack/port/1", record(1, "synth:out", "output"))
	_ = client.deliver(t, status, status, StatusMessage{Status: RelayOnline})

	want := []string{"synth:out"}
	if got := portNames(t, rec, func(n []string) bool { return slices.Equal(n, want) }); !slices.Equal(got, want) {
		t.Errorf("ports after reconnect = %v, want %v", got, want)
	}
	if b.Mirror().Len() != 1 {
		t.Errorf("mirror Len() = %d, want 1", b.Mirror().Len())
	}
	if !b.RelayOnline() {
		t.Error("RelayOnline() = false after replayed status")
	}
}

// lateSink forwards to a reconciler set after the bridge is built.
type lateSink struct {
	mu  sync.Mutex
	rec *reconciler.Reconciler
}

func (s *lateSink) set(r *reconciler.Reconciler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = r
}

func (s *lateSink) get() *reconciler.Reconciler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *lateSink) OnPortRegistration(h uint32, r bool) { s.get().OnPortRegistration(h, r) }
func (s *lateSink) OnConnect(a, b uint32, c bool)       { s.get().OnConnect(a, b, c) }
func (s *lateSink) RequestResync()                      { s.get().RequestResync() }
