package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fleetwatch-core/internal/device"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Channel names beyond the event types themselves.
const (
	// ChannelAll receives every event.
	ChannelAll = "*"

	// channelDevicePrefix + device id receives every event for one device.
	channelDevicePrefix = "device:"
)

const (
	wsSendBufferSize = 256

	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second
)

// WSMessage is a frame exchanged with WebSocket clients.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
//
//	{"type":"subscribe","id":"1","payload":{"channels":["device.log_appended","device:lt-0042"]}}
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans registry events out to WebSocket clients.
//
// It implements device.EventSink. Clients choose what they receive by
// subscribing to event types ("device.registered"), single devices
// ("device:lt-0042") or everything ("*").
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}


// NewHub creates a hub.
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
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that removes it closes its
// send channel, so racing with closeAll cannot double-close.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// HandleEvent implements device.EventSink.
func (h *Hub) HandleEvent(e device.Event) {
	h.broadcast(string(e.Type), e, string(e.Type), channelDevicePrefix+e.DeviceID, ChannelAll)
}

// Broadcast sends payload as an event of type channel to clients subscribed
// to that channel or to ChannelAll.
func (h *Hub) Broadcast(channel string, payload any) {
	h.broadcast(channel, payload, channel, ChannelAll)
}

// broadcast delivers one event frame to every client subscribed to any of
// the given channels. Slow clients miss frames rather than block the caller.
func (h *Hub) broadcast(eventType string, payload any, channels ...string) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("marshalling broadcast failed", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.subscribedToAny(channels) {
			c.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// wsTimings returns the configured limits with defaults for unset values.
func (h *Hub) wsTimings() (maxMessage int64, pingInterval, pongWait time.Duration) {
	maxMessage = int64(h.cfg.MaxMessageSize)
	if maxMessage <= 0 {
		maxMessage = defaultWSMaxMessageSize
	}
	pingInterval = time.Duration(h.cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = defaultWSPingInterval
	}
	pongWait = time.Duration(h.cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = defaultWSPongTimeout
	}
	return maxMessage, pingInterval, pongWait
}

// handleWebSocket upgrades to a WebSocket event stream.
//
// Query parameters:
//   - channels: comma-separated channels to subscribe to immediately
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkWSOrigin,
	}
	// A rejected origin has already been answered with 403.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	if v := r.URL.Query().Get("channels"); v != "" {
		for _, ch := range strings.Split(v, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				client.subscriptions[ch] = struct{}{}
			}
		}
	}

	s.hub.Register(client)
	go client.writePump()
	go client.readPump()
}

// checkWSOrigin decides whether a browser page may open the event stream.
// Browsers do not apply CORS to WebSocket upgrades.
//
// Requests without an Origin header come from non-browser clients and are
// allowed. With api.cors.allowed_origins set, the origin must be listed;
// otherwise it must name the host the request was sent to.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		return s.isAllowedOrigin(origin)
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	maxMessage, pingInterval, pongWait := c.hub.wsTimings()
	c.conn.SetReadLimit(maxMessage)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any frame keeps the client alive.
		//nolint:errcheck // as above
		extend()
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	_, pingInterval, pongWait := c.hub.wsTimings()
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // closing anyway
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // a failed deadline surfaces as a write error
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // as above
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) handleSubscription(msg WSMessage) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil || len(sub.Channels) == 0 {
		c.sendError(msg.ID, "payload must list channels")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if msg.Type == WSTypeSubscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "subscribed"
	if msg.Type == WSTypeUnsubscribe {
		key = "unsubscribed"
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

// trySend queues data without blocking. Frames for a full buffer or a client
// that disconnected mid-broadcast are dropped.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by Unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) subscribedToAny(channels []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range channels {
		if _, ok := c.subscriptions[ch]; ok {
			return true
		}
	}
	return false
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
