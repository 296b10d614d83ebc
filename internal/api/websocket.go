package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-patchbay/internal/audit"
	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/logging"
)

// Canvas message types. Requests arrive as subscribe, unsubscribe, ping,
// snapshot, connect or disconnect; the server answers with response, pong,
// snapshot or error and pushes graph mutations as event.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeSnapshot    = "snapshot"
	WSTypeConnect     = "connect"
	WSTypeDisconnect  = "disconnect"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelGraph receives every graph.* channel.
	ChannelGraph = "graph"

	// Frames queued per canvas before broadcasts start being dropped.
	wsSendBufferSize = 256
)

// WSMessage is the single envelope used in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	// Seq increases by one per broadcast so clients can spot a dropped event
	// and refetch the graph.
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the channels a subscribe or unsubscribe names.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// GraphChannel returns the channel a graph event type is broadcast on.
func GraphChannel(t graph.EventType) string {
	return ChannelGraph + "." + string(t)
}

// Hub tracks connected canvases and fans graph events out to them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	seq     atomic.Uint64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 10,
	WriteBufferSize: 1 << 10,
	// CORS middleware has already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub returns an empty hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: map[*WSClient]struct{}{}}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.disconnectAll()
}

// Notifier returns a graph.Notifier that broadcasts each mutation on its
// graph.<type> channel. It never blocks: a client whose buffer is full
// misses the event.
func (h *Hub) Notifier() graph.Notifier {
	return graph.EventFunc(func(e graph.Event) {
		h.Broadcast(GraphChannel(e.Type), e)
	})
}

// Register starts delivering broadcasts to client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("canvas attached", "client_id", client.id, "clients", n)
}

// Unregister detaches client. It is safe to call more than once; the send
// channel is closed only by the call that actually removed the client.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	if present {
		delete(h.clients, client)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}
	close(client.send)
	h.logger.Debug("canvas detached", "client_id", client.id, "clients", n)
}

// Broadcast stamps payload with the next sequence number and queues it for
// every client subscribed to channel or to its family.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Seq:       h.seq.Add(1),
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding graph event", "channel", channel, "error", err)
		return
	}

	// Client locks are taken only after the hub lock is released.
	delivered := 0
	for _, c := range h.members() {
		if c.isSubscribed(channel) {
			c.trySend(frame)
			delivered++
		}
	}
	if delivered > 0 {
		h.logger.Debug("graph event sent", "channel", channel, "recipients", delivered)
	}
}

// ClientCount reports how many canvases are attached.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) members() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// disconnectAll closes every send channel so write loops exit, then drops
// the underlying connections.
func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// handleWebSocket redeems a one-shot ticket from POST /auth/ws-ticket and
// upgrades the request into a canvas session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	claims, ok := s.tickets.redeem(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("canvas upgrade rejected", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &WSClient{
		id:            uuid.NewString(),
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{},
		claims:        claims,
		graph:         s.graph,
	}
	client.record = func(entry audit.AuditLog) {
		s.recordAudit(context.Background(), claims, entry)
	}
	s.hub.Register(client)

	timing := newWSTiming(s.wsCfg)
	go client.writeLoop(timing)
	go client.readLoop(timing)
}

func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
