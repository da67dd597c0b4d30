package devserver

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatlink/internal/metrics"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// Connection represents a single client WebSocket connection.
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	// writeMu serializes frames written by drain and the close path.
	writeMu sync.Mutex
}

// Hub manages client connections, indexed by user once a frame names the user.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// users maps user_id to set of connection IDs
	users map[string]map[string]bool

	unregister chan *Connection
	broadcast  chan *UserMessage
	done       chan struct{}
	stopOnce   sync.Once

	logger *zap.Logger
	mu     sync.RWMutex
}

// UserMessage is used to broadcast a message to every connection of a user.
type UserMessage struct {
	UserID string
	Data   []byte
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		users:       make(map[string]map[string]bool),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *UserMessage, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if conn.UserID != "" && h.users[conn.UserID] != nil {
					delete(h.users[conn.UserID], conn.ID)
					if len(h.users[conn.UserID]) == 0 {
						delete(h.users, conn.UserID)
					}
				}
				close(conn.Send)
				metrics.DevserverConnections.Dec()
			}
			h.mu.Unlock()
			h.logger.Debug("connection unregistered", zap.String("conn_id", conn.ID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.users[msg.UserID] {
				if conn, exists := h.connections[connID]; exists {
					select {
					case conn.Send <- msg.Data:
					default:
						h.logger.Warn("connection buffer full, closing", zap.String("conn_id", connID))
						go h.Unregister(conn)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends the main loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// NewConnection wraps an upgraded socket.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

// Register adds a connection to the hub. The connection is visible to
// senders as soon as Register returns.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
	metrics.DevserverConnections.Inc()
	h.logger.Debug("connection registered", zap.String("conn_id", conn.ID))
}

// Unregister removes a connection and closes its send channel.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindUser attaches a connection to a user.
func (h *Hub) BindUser(conn *Connection, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.UserID == userID {
		return
	}
	if conn.UserID != "" && h.users[conn.UserID] != nil {
		delete(h.users[conn.UserID], conn.ID)
		if len(h.users[conn.UserID]) == 0 {
			delete(h.users, conn.UserID)
		}
	}

	conn.UserID = userID
	if h.users[userID] == nil {
		h.users[userID] = make(map[string]bool)
	}
	h.users[userID][conn.ID] = true
}

// BroadcastJSON sends a JSON message to all connections of a user.
func (h *Hub) BroadcastJSON(userID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &UserMessage{UserID: userID, Data: data}:
	case <-h.done:
	}
	return nil
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		// Already unregistered; its send channel is closed.
		return nil
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// CloseAll closes every socket; each read pump then unregisters its connection.
func (h *Hub) CloseAll() int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetUserCount returns the number of users with at least one connection.
func (h *Hub) GetUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// HasActiveConnections checks if a user has any active connections.
func (h *Hub) HasActiveConnections(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
