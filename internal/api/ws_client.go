package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-patchbay/internal/audit"
	"github.com/nerrad567/gray-logic-patchbay/internal/auth"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/config"
)

// WSClient is one attached canvas.
type WSClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}

	// claims come from the redeemed ticket.
	claims *auth.CustomClaims
	// graph serves snapshot and patch requests; nil disables them.
	graph GraphService
	// record stores patch requests; nil skips auditing.
	record func(audit.AuditLog)
}

// wsTiming holds the keepalive schedule derived from config.
type wsTiming struct {
	readLimit int64
	ping      time.Duration
	// idle is how long the read side waits for any frame, pongs included.
	idle time.Duration
	// write bounds a single frame write.
	write time.Duration
}

func newWSTiming(cfg config.WebSocketConfig) wsTiming {
	ping := time.Duration(cfg.PingInterval) * time.Second
	pong := time.Duration(cfg.PongTimeout) * time.Second
	return wsTiming{
		readLimit: int64(cfg.MaxMessageSize),
		ping:      ping,
		idle:      ping + pong,
		write:     pong,
	}
}

// readLoop dispatches inbound frames until the peer goes away or stops
// answering pings, then detaches the client.
func (c *WSClient) readLoop(t wsTiming) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(t.idle)) }

	c.conn.SetReadLimit(t.readLimit)
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("canvas read failed", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("canvas closed", "client_id", c.id, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		c.dispatch(frame)
	}
}

// writeLoop drains the send queue and keeps the connection alive with pings.
// A closed queue means the hub detached the client.
func (c *WSClient) writeLoop(t wsTiming) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(t.write)) //nolint:errcheck // the write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case frame, open := <-c.send:
			if !open {
				write(websocket.CloseMessage, nil) //nolint:errcheck // peer may already be gone
				return
			}
			err = write(websocket.TextMessage, frame)
		case <-ticker.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// dispatch routes one inbound frame by its type.
func (c *WSClient) dispatch(frame []byte) {
	var msg WSMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe:
		c.handleChannels(msg, true)
	case WSTypeUnsubscribe:
		c.handleChannels(msg, false)
	case WSTypeSnapshot:
		c.handleSnapshot(msg)
	case WSTypeConnect:
		c.handlePatch(msg, audit.ActionConnect)
	case WSTypeDisconnect:
		c.handlePatch(msg, audit.ActionDisconnect)
	default:
		c.fail(msg.ID, "unknown message type: %s", msg.Type)
	}
}

// decodePayload re-encodes the loosely typed payload into v.
func decodePayload(msg WSMessage, v any) error {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// handleChannels adds or removes subscriptions and echoes the channel list.
func (c *WSClient) handleChannels(msg WSMessage, add bool) {
	var body WSSubscribePayload
	if err := decodePayload(msg, &body); err != nil {
		c.fail(msg.ID, "invalid %s payload", msg.Type)
		return
	}

	c.mu.Lock()
	for _, ch := range body.Channels {
		if add {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
		c.hub.logger.Info("canvas subscribed", "client_id", c.id, "channels", body.Channels)
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: body.Channels})
}

// handleSnapshot replies with the whole graph. Clients request one after
// subscribing, and again whenever Seq skips.
func (c *WSClient) handleSnapshot(msg WSMessage) {
	if !c.ready(msg.ID, auth.PermGraphRead) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), graphRequestTimeout)
	defer cancel()
	snap, err := c.graph.Snapshot(ctx)
	if err != nil {
		c.fail(msg.ID, "%s", err)
		return
	}
	c.reply(msg.ID, WSTypeSnapshot, snap)
}

// handlePatch forwards a connect or disconnect request from the canvas.
func (c *WSClient) handlePatch(msg WSMessage, action audit.Action) {
	if !c.ready(msg.ID, auth.PermGraphPatch) {
		return
	}

	var req ConnectionRequest
	if err := decodePayload(msg, &req); err != nil || req.Source == "" || req.Destination == "" {
		c.fail(msg.ID, "source and destination are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), graphRequestTimeout)
	defer cancel()

	var err error
	if action == audit.ActionConnect {
		err = c.graph.Connect(ctx, req.Source, req.Destination)
	} else {
		err = c.graph.Disconnect(ctx, req.Source, req.Destination)
	}

	if c.record != nil {
		outcome, reason := auditOutcome(err)
		c.record(audit.AuditLog{
			Action:      action,
			Via:         audit.ViaWebSocket,
			Source:      req.Source,
			Destination: req.Destination,
			Outcome:     outcome,
			Reason:      reason,
		})
	}

	if err != nil {
		c.fail(msg.ID, "%s", err)
		return
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{
		"status":      "accepted",
		"source":      req.Source,
		"destination": req.Destination,
	})
}

// ready checks the ticket's role and graph availability, answering with an
// error frame when either is missing.
func (c *WSClient) ready(id string, perm auth.Permission) bool {
	if c.claims == nil || !auth.HasPermission(c.claims.Role, perm) {
		c.fail(id, "missing permission %s", perm)
		return false
	}
	if c.graph == nil {
		c.fail(id, "graph unavailable")
		return false
	}
	return true
}

// trySend queues a frame without blocking. A full queue drops the frame; a
// queue closed by a concurrent Unregister is ignored.
func (c *WSClient) trySend(frame []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a closed queue
	}()

	select {
	case c.send <- frame:
	default:
	}
}

// isSubscribed matches channel exactly or by its family, the part before the
// first dot.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subscriptions[channel]; ok {
		return true
	}
	family, _, dotted := strings.Cut(channel, ".")
	if !dotted {
		return false
	}
	_, ok := c.subscriptions[family]
	return ok
}

func (c *WSClient) reply(id, kind string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(frame)
}

func (c *WSClient) fail(id, format string, args ...any) {
	c.reply(id, WSTypeError, map[string]string{"message": fmt.Sprintf(format, args...)})
}
