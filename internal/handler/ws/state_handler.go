package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"riffline-calling/internal/middleware"
	"riffline-calling/internal/service/call"
	"riffline-calling/pkg/constants"
	"riffline-calling/pkg/errors"
	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
	"riffline-calling/pkg/response"
)

// DefaultMaxConnections bounds concurrent state subscribers
const DefaultMaxConnections = 32

// StateHub pushes call manager events to local UI clients
type StateHub struct {
	manager *call.Manager
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	// Registered clients
	clients map[*StateClient]bool
	mu      sync.Mutex

	// Channels
	register   chan *StateClient
	unregister chan *StateClient
	broadcast  chan []byte
	done       chan struct{}
	closeOnce  sync.Once

	unsubscribe []func()

	maxConnections int
	semaphore      chan struct{}
}

// StateClient represents a WebSocket client following call state
type StateClient struct {
	hub  *StateHub
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger
}

// StateMessage is the frame written to clients
type StateMessage struct {
	Type      call.EventKind `json:"type"`
	Event     call.Event     `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewStateHub creates a hub subscribed to every manager event kind.
// m may be nil when WebSocket metrics are not collected.
func NewStateHub(manager *call.Manager, m *metrics.Metrics, allowedOrigins []string, maxConns int) *StateHub {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}

	allowed := make(map[string]bool)
	for _, origin := range append(append([]string(nil), middleware.DefaultAllowedOrigins...), allowedOrigins...) {
		allowed[origin] = true
	}

	hub := &StateHub{
		manager: manager,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowed, r.Header.Get("Origin"))
			},
		},
		clients:        make(map[*StateClient]bool),
		register:       make(chan *StateClient),
		unregister:     make(chan *StateClient),
		broadcast:      make(chan []byte, 256),
		done:           make(chan struct{}),
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}

	for _, kind := range []call.EventKind{call.EventStateChanged, call.EventSignalReceived, call.EventCallFailed} {
		hub.unsubscribe = append(hub.unsubscribe, manager.Subscribe(kind, hub.publish))
	}

	go hub.run()

	return hub
}

// Close unsubscribes from the manager and disconnects every client
func (h *StateHub) Close() {
	h.closeOnce.Do(func() {
		for _, unsub := range h.unsubscribe {
			unsub()
		}
		close(h.done)
	})
}

// Clients returns the number of connected clients
func (h *StateHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// publish encodes ev and queues it for broadcast. It never blocks the
// manager: a full queue drops the event.
func (h *StateHub) publish(ev call.Event) {
	payload, err := encodeEvent(ev)
	if err != nil {
		logger.Warn("Failed to encode call event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.done:
	default:
		logger.Warn("State broadcast queue full, dropping event", zap.String("kind", string(ev.Kind)))
	}
}

func encodeEvent(ev call.Event) ([]byte, error) {
	return json.Marshal(StateMessage{
		Type:      ev.Kind,
		Event:     ev,
		Timestamp: time.Now().UTC(),
	})
}

// run handles hub operations
func (h *StateHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ServeWS upgrades the request and streams call events, starting with the
// current snapshot
// GET /v1/calls/ws/state
func (h *StateHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		response.FromError(c, errors.ServiceUnavailableError("Server at capacity, please try again later").
			WithDetails(map[string]int{"max_connections": h.maxConnections}))
		return
	}

	select {
	case <-h.done:
		<-h.semaphore
		response.FromError(c, errors.ServiceUnavailableError("Shutting down"))
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			logger.UserID(c.GetString("user_id")),
			zap.Error(err))
		return
	}

	client := &StateClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		log:  logger.With(logger.UserID(c.GetString("user_id")), zap.String("remote_addr", c.ClientIP())),
	}

	snap := h.manager.Snapshot()
	if initial, err := encodeEvent(call.Event{Kind: call.EventStateChanged, Snapshot: &snap}); err == nil {
		client.send <- initial
	}

	select {
	case h.register <- client:
	case <-h.done:
		<-h.semaphore
		conn.Close()
		return
	}

	if h.metrics != nil {
		h.metrics.WebSocketOpened()
	}

	go client.writePump()
	go client.readPump()
}

// readPump keeps the read deadline alive and detects disconnects. Clients
// drive calls through the HTTP routes, so inbound frames are ignored.
func (c *StateClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		<-c.hub.semaphore
		if c.hub.metrics != nil {
			c.hub.metrics.WebSocketClosed()
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("WebSocket connection closed", zap.Error(err))
			}
			return
		}
		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage("inbound")
		}
	}
}

// writePump writes messages to the WebSocket
func (c *StateClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("WebSocket write failed", zap.Error(err))
				return
			}
			if c.hub.metrics != nil {
				c.hub.metrics.RecordWebSocketMessage("state")
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
