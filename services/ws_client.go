package services

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chartstream-backend/models"
)

// WebSocket tuning
const (
	MaxWebSocketClients   = 100
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
	clientSendBuffer      = 256
	maxInboundMessageSize = 1024
)

var errSendBufferFull = errors.New("client send buffer full")

// clientMessage is the inbound control frame. A frame carrying only symbols
// is treated as a subscribe, which is how clients announce their initial
// watchlist right after connecting.
type clientMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Client is one WebSocket connection. It satisfies the registry's
// Connection interface: Send never blocks, a full buffer is an error and
// gets the client evicted by the caller.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(id, userID string, conn *websocket.Conn) *Client {
	return &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		closed: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send marshals v and queues it for the write pump. Fails fast when the
// buffer is full or the client is closing.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return errors.New("client closed")
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// WebSocketHandler upgrades realtime stream connections and runs their pumps
type WebSocketHandler struct {
	registry *SubscriptionRegistry
	store    *QuoteStore
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(registry *SubscriptionRegistry, store *QuoteStore) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		store:    store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the connection for GET /ws/realtime/:client_id. The user
// identity comes from the auth middleware when a token was presented,
// otherwise the client id doubles as the user id.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	clientID := c.Param("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id is required"})
		return
	}

	if h.registry.ConnectionCount() >= MaxWebSocketClients {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	userID := c.GetString("user_id")
	if userID == "" {
		userID = clientID
	}

	client := newClient(clientID, userID, conn)
	log.Printf("WebSocket client connected: %s (user %s)", clientID, userID)

	// Register the user mapping up front so alert delivery works even
	// before the first subscribe frame arrives.
	h.registry.Subscribe(client, userID, nil)

	client.Send(map[string]any{
		"type":      "connection_established",
		"client_id": clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	go client.writePump()
	go h.readPump(client)
}

// readPump consumes control frames until the peer goes away, then tears
// down all registry state for the connection.
func (h *WebSocketHandler) readPump(c *Client) {
	defer func() {
		h.registry.Unsubscribe(c)
		c.Close()
		log.Printf("WebSocket client disconnected: %s", c.id)
	}()

	c.conn.SetReadLimit(maxInboundMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error for %s: %v", c.id, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "", "subscribe":
			if len(msg.Symbols) == 0 {
				continue
			}
			h.registry.Subscribe(c, c.userID, msg.Symbols)
			h.sendSnapshots(c, msg.Symbols)
		case "unsubscribe":
			h.registry.UnsubscribeSymbols(c, msg.Symbols)
		}
	}
}

// sendSnapshots pushes the cached quote for each newly subscribed symbol so
// the client renders immediately instead of waiting for the next poll.
func (h *WebSocketHandler) sendSnapshots(c *Client, symbols []string) {
	for _, symbol := range symbols {
		if snap := h.store.Snapshot(symbol); snap != nil {
			if err := c.Send(snap); err != nil {
				return
			}
		}
	}
}

// writePump owns all writes to the connection: queued messages, the
// periodic heartbeat frame and protocol pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			heartbeat, err := json.Marshal(models.NewHeartbeat(time.Now().UTC()))
			if err == nil {
				if err := c.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
					return
				}
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
