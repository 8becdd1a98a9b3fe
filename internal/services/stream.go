package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamMessage is one frame on the live execution feed.
type StreamMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// StreamClient is one connected dashboard.
type StreamClient struct {
	ID   string
	Conn *websocket.Conn
	Send chan StreamMessage
	Hub  *StreamHub
}

// StreamHub fans execution outcomes out to connected websocket clients.
// Broadcast never blocks the dispatcher: slow clients drop frames.
type StreamHub struct {
	clients    map[string]*StreamClient
	broadcast  chan StreamMessage
	register   chan *StreamClient
	unregister chan *StreamClient
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin checks belong to the deployment's proxy
	},
}

func NewStreamHub(logger *logrus.Logger) *StreamHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &StreamHub{
		clients:    make(map[string]*StreamClient),
		broadcast:  make(chan StreamMessage, 64),
		register:   make(chan *StreamClient),
		unregister: make(chan *StreamClient),
		logger:     logger,
	}
}

func (h *StreamHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			h.mutex.Unlock()
			h.logger.Infof("stream client %s connected", client.ID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				h.logger.Infof("stream client %s disconnected", client.ID)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.RLock()
			for _, client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Client can't keep up; drop the frame.
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// Broadcast queues a message for all clients without blocking the caller.
func (h *StreamHub) Broadcast(message StreamMessage) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Debug("stream broadcast buffer full, frame dropped")
	}
}

// HandleWebSocket upgrades the request and runs the client pumps.
func (h *StreamHub) HandleWebSocket(c *gin.Context) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("stream upgrade failed: %v", err)
		return
	}
	client := &StreamClient{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan StreamMessage, 16),
		Hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *StreamHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// readPump only watches for close; the feed is one-way.
func (c *StreamClient) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *StreamClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
