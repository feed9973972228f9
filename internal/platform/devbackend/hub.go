package devbackend

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one stream subscriber. Topic is the authenticated user, so a
// reading is only pushed to its owner's devices.
type Client struct {
	ID    string
	Topic string
	Send  chan []byte
	conn  Conn
}

func newClient(topic string, conn Conn) *Client {
	return &Client{
		ID:    uuid.New().String(),
		Topic: topic,
		Send:  make(chan []byte, 256),
		conn:  conn,
	}
}

// Hub tracks stream subscribers per user. All operations are thread-safe
// via sync.RWMutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	logger  zerolog.Logger
}

// NewHub creates a Hub ready to manage stream clients.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Register adds a client under its topic.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.Topic] == nil {
		h.clients[client.Topic] = make(map[*Client]struct{})
	}
	h.clients[client.Topic][client] = struct{}{}
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := subscribers[client]; !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, client.Topic)
	}
	close(client.Send)
}

// Broadcast sends v as JSON to every client subscribed to topic.
func (h *Hub) Broadcast(topic string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client", client.ID).Msg("client buffer full, dropping message")
		}
	}
}

// ClientCount returns the number of clients subscribed to topic.
func (h *Hub) ClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// enqueue hands data to a single client, dropping it if the buffer is full.
func (h *Hub) enqueue(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.Topic][client]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// readPump answers keepalive pings and unregisters the client when the
// socket goes away. Anything else the client sends is ignored.
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if string(message) == "ping" {
			h.enqueue(client, pongFrame)
		}
	}
}

// writePump writes messages from the Send channel to the socket.
func (h *Hub) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}

var pongFrame = []byte(`{"type":"pong"}`)

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
