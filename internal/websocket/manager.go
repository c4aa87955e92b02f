package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxFrame   = 64 * 1024
)

// Manager is the registry of live connections and the broadcaster over
// them. A connection leaves the registry when it closes or when its send
// buffer is full.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, sendBuffer), // buffered for non-blocking sends
	}
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		clients: make(map[string]*Client),
		logger:  logger.With("component", "connections"),
	}
}

// Register adds a client and starts its writer
func (m *Manager) Register(client *Client) {
	m.mu.Lock()
	m.clients[client.ID] = client
	total := len(m.clients)
	m.mu.Unlock()

	m.logger.Debug("client connected", "conn_id", client.ID, "connections", total)

	if client.Conn != nil {
		go client.writePump()
	}
}

// Unregister removes a client and closes its send channel, which makes the
// writer close the socket. Calling it twice is harmless.
func (m *Manager) Unregister(client *Client) {
	m.mu.Lock()
	if cur, ok := m.clients[client.ID]; ok && cur == client {
		delete(m.clients, client.ID)
	}
	total := len(m.clients)
	m.mu.Unlock()

	if client.close() {
		m.logger.Debug("client disconnected", "conn_id", client.ID, "connections", total)
	}
}

// Broadcast sends payload to every live connection. A client whose buffer
// is full is dropped so one slow reader cannot hold up the rest.
func (m *Manager) Broadcast(payload []byte) {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(payload) {
			m.logger.Warn("send buffer full, dropping client", "conn_id", c.ID)
			m.Unregister(c)
		}
	}
}

// SendTo delivers payload to one connection. It reports false when the
// connection is gone or could not take the frame.
func (m *Manager) SendTo(connID string, payload []byte) bool {
	m.mu.RLock()
	c, ok := m.clients[connID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if !c.trySend(payload) {
		m.logger.Warn("send buffer full, dropping client", "conn_id", c.ID)
		m.Unregister(c)
		return false
	}
	return true
}

// Count returns the number of live connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CloseAll disconnects every client, for shutdown
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// close reports whether this call did the closing
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.Send)
	return true
}

// writePump pumps messages from the Send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
