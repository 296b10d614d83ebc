package mqtt

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/config"
)

// Client is patchbay's broker connection. It remembers subscriptions so a
// reconnect restores them, and keeps patchbay/system/status current. All
// methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// subscriptions are kept in the order they were made and replayed in
	// that order on reconnect.
	subMu         sync.RWMutex
	subscriptions []subscription

	// mu guards the fields below.
	mu           sync.RWMutex
	connected    bool
	connects     int
	onConnect    func()
	onReconnect  func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. It runs on a paho goroutine and
// should return quickly; a returned error is only logged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits up to the connect timeout.
//
// Auto-reconnect is enabled. Every successful (re)connect restores
// subscriptions, marks patchbay online on the status topic and runs the
// OnConnect callback.
//
// Returns:
//   - *Client: connected and ready to subscribe
//   - error: wraps ErrConnectionFailed
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// paho fires OnConnect on its own goroutine; callers may subscribe
	// before it has run.
	c.setConnected(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{cfg: cfg}
}

// await waits for a paho token and wraps a timeout or broker error in
// sentinel.
func await(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: no reply within %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) handleConnect() {
	c.mu.Lock()
	c.connected = true
	c.connects++
	reconnect, onReconnect, onConnect := c.connects > 1, c.onReconnect, c.onConnect
	c.mu.Unlock()

	// Retained messages arrive as soon as subscriptions are restored, so
	// state they rebuild is reset first.
	if reconnect && onReconnect != nil {
		onReconnect()
	}
	c.resubscribe()
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload(StatusOnline, c.cfg.Broker.ClientID, ""))

	if onConnect != nil {
		onConnect()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	fn, logger := c.onDisconnect, c.logger
	c.mu.Unlock()

	if logger != nil {
		logger.Warn("broker connection lost", "error", err)
	}
	if fn != nil {
		fn(err)
	}
}

// resubscribe replays every remembered subscription in its original order
// without waiting for acknowledgement.
func (c *Client) resubscribe() {
	for _, sub := range c.subscribed() {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

func (c *Client) subscribed() []subscription {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return slices.Clone(c.subscriptions)
}

// Close marks patchbay offline with reason graceful_shutdown, then
// disconnects. The retained will covers the ungraceful case.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload(StatusOffline, c.cfg.Broker.ClientID, "graceful_shutdown")).
			WaitTimeout(defaultOperationTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected combines the tracked state with paho's own view.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers fn to run after the first connect and each reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnReconnect registers fn to run on each reconnect before subscriptions
// are restored. Use it to drop state that retained messages will rebuild.
func (c *Client) SetOnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger receives lost connections and failing or panicking handlers.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) currentLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, logging its error and containing any panic so one
// bad payload cannot take down paho's router.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	logger := c.currentLogger()
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("message handler panic", "topic", topic, "panic", r)
		}
	}()

	if err := handler(topic, payload); err != nil && logger != nil {
		logger.Warn("message handler failed", "topic", topic, "error", err)
	}
}
