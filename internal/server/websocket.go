package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	wshandler "github.com/brightclass/speech_service/internal/handler/ws"
	"github.com/brightclass/speech_service/internal/service"
)

const (
	// writeWait bounds each write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before the read
	// side gives up; pings go out often enough to keep a live peer inside
	// that window.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Configure appropriately for production
	},
}

// WebSocketMessage represents a WebSocket message.
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client represents a WebSocket client with its analysis subscriptions.
type Client struct {
	id   string
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte

	// sendMu serializes sends against the one close of the send channel.
	sendMu sync.Mutex
	closed bool

	mu   sync.Mutex
	subs map[string]bool
}

// ID returns the client's connection ID.
func (c *Client) ID() string {
	return c.id
}

// Subscribe registers interest in one analysis's status updates.
func (c *Client) Subscribe(analysisID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[analysisID] = true
}

// Unsubscribe removes interest in one analysis.
func (c *Client) Unsubscribe(analysisID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, analysisID)
}

func (c *Client) subscribedTo(analysisID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[analysisID]
}

// trySend queues a message for the write pump. Returns false when the
// client is closed or its buffer is full; it never panics, whichever
// goroutine closed the channel first.
func (c *Client) trySend(message []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once, ending the write pump.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WebSocketHub manages WebSocket connections and fans analysis status
// updates out to subscribed clients. Implements service.StatusNotifier.
type WebSocketHub struct {
	clients    map[*Client]bool
	statuses   chan *service.AnalysisStatus
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        zerolog.Logger
}

// NewWebSocketHub creates a new WebSocket hub.
func NewWebSocketHub(log zerolog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		statuses:   make(chan *service.AnalysisStatus, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run starts the WebSocket hub.
func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("WebSocket hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Info().Str("client_id", client.id).Msg("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()
			h.log.Info().Str("client_id", client.id).Msg("Client disconnected")

		case status := <-h.statuses:
			h.fanOut(status)
		}
	}
}

// fanOut pushes one status snapshot to every subscribed client. Clients
// with full send buffers are dropped.
func (h *WebSocketHub) fanOut(status *service.AnalysisStatus) {
	message, err := json.Marshal(WebSocketMessage{
		Type:    wshandler.TypeStatus,
		Payload: mustMarshal(status),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode status message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.subscribedTo(status.AnalysisID) {
			continue
		}
		if !client.trySend(message) {
			client.closeSend()
			delete(h.clients, client)
		}
	}
}

// NotifyStatus queues a status snapshot for fan-out. Never blocks the
// pipeline; updates are dropped when the hub is saturated.
func (h *WebSocketHub) NotifyStatus(status *service.AnalysisStatus) {
	select {
	case h.statuses <- status:
	default:
		h.log.Warn().Str("analysis_id", status.AnalysisID).Msg("Status fan-out queue full, dropping update")
	}
}

// HandleWebSocket handles WebSocket upgrade and connection.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request, handler *wshandler.Handler) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID := r.Header.Get("X-Request-ID")
	if clientID == "" {
		clientID = "client_" + uuid.New().String()[:8]
	}

	client := &Client{
		id:   clientID,
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		subs: make(map[string]bool),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(handler)
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) readPump(handler *wshandler.Handler) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Msg("WebSocket read error")
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.Error().Err(err).Msg("Failed to parse WebSocket message")
			continue
		}

		response, err := handler.Handle(c, msg.Type, msg.Payload)
		if err != nil {
			c.hub.log.Error().Err(err).Str("type", msg.Type).Msg("Failed to handle message")
			continue
		}

		// Replies go through trySend: the hub may have dropped this client
		// between the read and here, and a reply to a dropped client is
		// not worth keeping.
		if response != nil {
			c.trySend(response)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			w.Close()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
