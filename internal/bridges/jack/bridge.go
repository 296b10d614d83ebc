package jack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-patchbay/internal/reconciler"
)

const (
	// defaultHandleGrace is how long a retired handle stays resolvable.
	defaultHandleGrace = 5 * time.Second

	// qosState is used for retained records and events.
	qosState byte = 1
)

// MQTTClient is the subset of the MQTT client used by the bridge.
// *mqtt.Client satisfies it; tests use a fake.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// EventSink receives server events. *reconciler.Reconciler satisfies it.
type EventSink interface {
	OnPortRegistration(handle uint32, registered bool)
	OnConnect(a, b uint32, connected bool)
	RequestResync()
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// MQTT is the broker connection. Required.
	MQTT MQTTClient

	// Events receives port and connect events. Required.
	Events EventSink

	// TopicPrefix is the relay's topic root (default "patchbay/jack").
	TopicPrefix string

	// HandleGrace keeps retired handles resolvable (default 5s, negative disables).
	HandleGrace time.Duration

	Logger Logger
}

// Bridge connects the relay's MQTT topics to the reconciler.
type Bridge struct {
	mqtt   MQTTClient
	events EventSink
	topics mqtt.Topics
	mirror *Mirror
	logger Logger

	online atomic.Bool

	stopOnce sync.Once
	wg       sync.WaitGroup
	started  atomic.Bool
}

// NewBridge validates opts and creates a bridge. It does not subscribe
// until Start.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, errors.New("jack: mqtt client is required")
	}
	if opts.Events == nil {
		return nil, errors.New("jack: event sink is required")
	}

	grace := opts.HandleGrace
	if grace == 0 {
		grace = defaultHandleGrace
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Bridge{
		mqtt:   opts.MQTT,
		events: opts.Events,
		topics: mqtt.NewTopics(opts.TopicPrefix),
		mirror: NewMirror(grace),
		logger: logger,
	}, nil
}

// Mirror returns the port table; pass it to reconciler.New as the Server.
func (b *Bridge) Mirror() *Mirror {
	return b.mirror
}

// Topics returns the relay topics in use.
func (b *Bridge) Topics() mqtt.Topics {
	return b.topics
}

// RelayOnline reports whether the relay last announced itself online.
func (b *Bridge) RelayOnline() bool {
	return b.online.Load()
}

// Start subscribes to the relay topics. Port records are subscribed first so
// that retained records land before the retained status triggers a resync.
func (b *Bridge) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.AllPorts(), b.handlePortRecord},
		{b.topics.PortEvent(), b.handlePortEvent},
		{b.topics.ConnectEvent(), b.handleConnectEvent},
		{b.topics.RelayStatus(), b.handleStatus},
	}
	for _, s := range subs {
		if err := b.mqtt.Subscribe(s.topic, qosState, s.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.mirror.Start()
	}()
	b.started.Store(true)

	b.logger.Info("jack bridge started", "prefix", b.topics.Prefix())
	return nil
}

// Stop unsubscribes and stops the mirror's expiry loop. Safe to call twice.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		for _, topic := range []string{
			b.topics.AllPorts(),
			b.topics.PortEvent(),
			b.topics.ConnectEvent(),
			b.topics.RelayStatus(),
		} {
			if err := b.mqtt.Unsubscribe(topic); err != nil {
				b.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
			}
		}
		if b.started.Load() {
			b.mirror.Stop()
		}
		b.wg.Wait()
		b.logger.Info("jack bridge stopped")
	})
}

// handlePortRecord mirrors a retained record. An empty payload is the
// tombstone for an unregistered port.
func (b *Bridge) handlePortRecord(topic string, payload []byte) error {
	handle, ok := b.topics.ParsePortHandle(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidRecord, topic)
	}
	if len(payload) == 0 {
		b.mirror.Retire(handle)
		return nil
	}
	rec, err := ParsePortRecord(handle, payload)
	if err != nil {
		return err
	}
	b.mirror.Upsert(rec)
	return nil
}

func (b *Bridge) handlePortEvent(_ string, payload []byte) error {
	var msg PortEventMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	if !msg.Registered {
		b.mirror.Unregister(msg.Handle)
	}
	b.events.OnPortRegistration(msg.Handle, msg.Registered)
	return nil
}

func (b *Bridge) handleConnectEvent(_ string, payload []byte) error {
	var msg ConnectEventMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	b.mirror.SetConnected(msg.A, msg.B, msg.Connected)
	b.events.OnConnect(msg.A, msg.B, msg.Connected)
	return nil
}

func (b *Bridge) handleStatus(_ string, payload []byte) error {
	var msg StatusMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}

	switch msg.Status {
	case RelayOnline:
		if !b.online.Swap(true) {
			b.logger.Info("jack relay online")
			b.events.RequestResync()
		}
	case RelayOffline:
		if b.online.Swap(false) {
			b.logger.Warn("jack relay offline")
		}
		b.mirror.Clear()
		b.events.RequestResync()
	default:
		return fmt.Errorf("%w: unknown relay status %q", ErrInvalidMessage, msg.Status)
	}
	return nil
}

// BrokerReconnected forgets what the relay told the bridge before the broker
// connection dropped. Events published during the outage are lost, so the
// retained records and status replayed on resubscribe rebuild the mirror and
// request a resync. Run it before subscriptions are restored.
func (b *Bridge) BrokerReconnected() {
	b.mirror.Clear()
	b.online.Store(false)
	b.logger.Info("broker reconnected, waiting for relay state")
}

// ConnectPorts asks the relay to connect source to destination.
func (b *Bridge) ConnectPorts(ctx context.Context, source, destination string) error {
	return b.sendCommand(ctx, b.topics.ConnectCommand(), source, destination)
}

// DisconnectPorts asks the relay to disconnect source from destination.
func (b *Bridge) DisconnectPorts(ctx context.Context, source, destination string) error {
	return b.sendCommand(ctx, b.topics.DisconnectCommand(), source, destination)
}

func (b *Bridge) sendCommand(ctx context.Context, topic, source, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.online.Load() {
		return ErrRelayOffline
	}

	cmd := CommandMessage{
		ID:          uuid.NewString(),
		Source:      source,
		Destination: destination,
		Timestamp:   time.Now().UTC(),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}
	if err := b.mqtt.Publish(topic, payload, qosState, false); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}

	b.logger.Debug("command sent", "topic", topic, "id", cmd.ID, "source", source, "destination", destination)
	return nil
}

var _ reconciler.Controller = (*Bridge)(nil)
