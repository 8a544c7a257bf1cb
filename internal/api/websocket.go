package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/config"
	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/logging"
)

// Message types for the WebSocket protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelMotorState carries coordinator snapshots pushed on every state
// or position change.
const ChannelMotorState = "motor.state"

// knownChannels is the set of channels the server publishes. Subscribe
// requests for anything else are reported back rather than silently
// accepted, so a typo in a client shows up immediately.
var knownChannels = map[string]struct{}{
	ChannelMotorState: {},
}

// wsSendBufferSize bounds the per-client outbound queue. A client that
// falls this far behind starts dropping events rather than stalling the
// broadcaster.
const wsSendBufferSize = 256

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the channels a subscribe or unsubscribe
// request applies to.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub tracks connected WebSocket clients and fans events out to them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one upgraded connection. Keepalive timing is fixed at
// construction so the pumps never touch config.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	pingInterval time.Duration
	readWait     time.Duration
	writeWait    time.Duration

	mu            sync.RWMutex
	closed        bool
	subscriptions map[string]struct{}

	// subject is the authenticated caller from the ticket. Empty when
	// auth is disabled.
	subject string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin policy is enforced by the CORS middleware.
		return true
	},
}

// NewHub creates an empty hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
}

// Register adds a client to the broadcast set.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and tears down its send channel. Safe to
// call more than once; only the caller that actually removes the client
// performs the teardown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		client.shutdown()
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload as an event frame to every client subscribed
// to channel. The client list is snapshotted under the hub lock and
// released before any per-client work, so a slow client never holds up
// registration.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.enqueueIfSubscribed(channel, data) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the HTTP connection. Browsers cannot set an
// Authorization header on WebSocket requests, so auth is via a one-shot
// ticket minted by POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.validateTicket(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		pingInterval:  pingInterval,
		readWait:      pingInterval + pongWait,
		writeWait:     pongWait,
		subscriptions: make(map[string]struct{}),
		subject:       entry.subject,
	}
	conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))

	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump consumes frames until the connection drops, then unregisters.
func (c *WSClient) readPump() {
	defer c.hub.Unregister(c)

	c.resetReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.resetReadDeadline()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any inbound frame counts as liveness, not just protocol pongs.
		// Browser clients often answer pings at the JS level instead.
		c.resetReadDeadline()
		c.handleMessage(message)
	}
}

func (c *WSClient) resetReadDeadline() {
	//nolint:errcheck // Best-effort; a dead connection fails on the next read.
	c.conn.SetReadDeadline(time.Now().Add(c.readWait))
}

// writePump drains the send channel and emits keepalive pings. It owns
// all writes to the connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close frame on teardown.
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error below covers a dead connection.
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error below covers a dead connection.
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeChannels extracts the channel list from a subscribe/unsubscribe
// payload, which arrives as an untyped map after the envelope decode.
func decodeChannels(payload any) ([]string, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, false
	}
	return sub.Channels, true
}

// handleSubscribe adds the requested channels. Channels the server never
// publishes are echoed back under "unknown" instead of being added.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, ok := decodeChannels(msg.Payload)
	if !ok {
		c.replyError(msg.ID, "invalid subscribe payload")
		return
	}

	var accepted, unknown []string
	for _, ch := range channels {
		if _, known := knownChannels[ch]; !known {
			unknown = append(unknown, ch)
			continue
		}
		accepted = append(accepted, ch)
	}

	c.mu.Lock()
	for _, ch := range accepted {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "channels", accepted)

	result := map[string]any{"subscribed": accepted}
	if len(unknown) > 0 {
		result["unknown"] = unknown
	}
	c.reply(msg.ID, WSTypeResponse, result)
}

// handleUnsubscribe removes the requested channels. Removing a channel
// the client never subscribed to is a no-op, not an error.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, ok := decodeChannels(msg.Payload)
	if !ok {
		c.replyError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": channels,
	})
}

// enqueueIfSubscribed queues data for the client when it is subscribed
// to channel. The subscription check and the send share one lock hold so
// a concurrent shutdown cannot close the channel in between. A full
// buffer drops the frame; snapshots are superseded by the next one.
func (c *WSClient) enqueueIfSubscribed(channel string, data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	if _, ok := c.subscriptions[channel]; !ok {
		return false
	}
	select {
	case c.send <- data:
	default:
	}
	return true
}

// enqueue queues data unconditionally, for direct replies.
func (c *WSClient) enqueue(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// shutdown closes the send channel exactly once and drops the
// connection. Callers must have already removed the client from the hub.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
	if c.conn != nil {
		c.conn.Close()
	}
}

// reply sends a response frame correlated to the request ID.
func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
