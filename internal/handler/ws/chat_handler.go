package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/internal/service/router"
	"mediconnect-backend/pkg/logger"
)

// PresenceService is the presence surface the hub drives from socket
// lifecycle and heartbeats.
type PresenceService interface {
	Activate(ctx context.Context, conversationID, userID uuid.UUID) (time.Time, error)
	Deactivate(ctx context.Context, conversationID, userID uuid.UUID, observedActivation time.Time) (bool, error)
	Heartbeat(ctx context.Context, conversationID, userID uuid.UUID) error
}

// RouterService is the message routing surface the hub needs.
type RouterService interface {
	UpdateStatus(ctx context.Context, input *router.UpdateStatusInput) (*domain.MessageStatus, error)
	MarkDeliveredOnReconnect(ctx context.Context, conversationID, recipientID uuid.UUID) (int, error)
}

// ChatHub fans conversation events out to connected WebSocket clients.
// Events originate from the router via Redis Pub/Sub, so every backend
// instance sees every conversation's traffic.
type ChatHub struct {
	conversations map[uuid.UUID]map[*Client]bool

	// One Pub/Sub bridge per conversation with local clients; closed
	// when the last of them unregisters.
	bridges map[uuid.UUID]chan struct{}

	redisClient *redis.Client
	presence    PresenceService
	router      RouterService

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Frame
}

// Client represents a WebSocket client
type Client struct {
	hub            *ChatHub
	conn           *websocket.Conn
	send           chan []byte
	userID         uuid.UUID
	conversationID uuid.UUID
	activatedAt    time.Time
}

// Frame types
const (
	FrameTypeEvent      = "event"
	FrameTypeTyping     = "typing"
	FrameTypeHeartbeat  = "heartbeat"
	FrameTypeStatus     = "status"
	FrameTypeUserJoined = "user_joined"
	FrameTypeUserLeft   = "user_left"
)

// Frame is one WebSocket frame in either direction. Inbound frames
// carry heartbeat, status, or typing; outbound frames additionally
// carry routed conversation events.
type Frame struct {
	Type           string        `json:"type"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	SenderID       uuid.UUID     `json:"sender_id,omitempty"`
	MessageID      uuid.UUID     `json:"message_id,omitempty"`
	Status         string        `json:"status,omitempty"`
	Event          *router.Event `json:"payload,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev, restrict in production
	},
}

// NewChatHub creates a new chat hub
func NewChatHub(redisClient *redis.Client, presenceService PresenceService, routerService RouterService) *ChatHub {
	hub := &ChatHub{
		conversations: make(map[uuid.UUID]map[*Client]bool),
		bridges:       make(map[uuid.UUID]chan struct{}),
		redisClient:   redisClient,
		presence:      presenceService,
		router:        routerService,
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *Frame, 256),
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *ChatHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.conversations[client.conversationID] == nil {
				h.conversations[client.conversationID] = make(map[*Client]bool)

				// First client for this conversation on this
				// instance: start the Pub/Sub bridge.
				stop := make(chan struct{})
				h.bridges[client.conversationID] = stop
				go h.subscribeToConversation(client.conversationID, stop)
			}
			h.conversations[client.conversationID][client] = true
			h.mu.Unlock()

			h.broadcast <- &Frame{
				Type:           FrameTypeUserJoined,
				ConversationID: client.conversationID,
				SenderID:       client.userID,
				Timestamp:      time.Now(),
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.conversations[client.conversationID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)

					h.broadcast <- &Frame{
						Type:           FrameTypeUserLeft,
						ConversationID: client.conversationID,
						SenderID:       client.userID,
						Timestamp:      time.Now(),
					}

					if len(clients) == 0 {
						delete(h.conversations, client.conversationID)
						if stop, ok := h.bridges[client.conversationID]; ok {
							close(stop)
							delete(h.bridges, client.conversationID)
						}
					}
				}
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.conversations[frame.ConversationID]; ok {
				frameJSON, _ := json.Marshal(frame)
				for client := range clients {
					select {
					case client.send <- frameJSON:
					default:
						close(client.send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToConversation bridges the router's Redis channel onto the
// hub. stop is closed by the hub when the last local client leaves, so
// the bridge exits without waiting for further traffic.
func (h *ChatHub) subscribeToConversation(conversationID uuid.UUID, stop <-chan struct{}) {
	ctx := context.Background()
	channel := router.ConversationChannel(conversationID)

	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event router.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Log.Warn("dropping malformed conversation event",
					zap.String("channel", channel),
					zap.Error(err))
				continue
			}

			h.broadcast <- &Frame{
				Type:           FrameTypeEvent,
				ConversationID: conversationID,
				Event:          &event,
				Timestamp:      time.Now(),
			}
		}
	}
}

// ServeWS handles WebSocket requests
// GET /v1/ws/chat?conversation_id=uuid
func (h *ChatHub) ServeWS(c *gin.Context) {
	conversationIDStr := c.Query("conversation_id")
	if conversationIDStr == "" {
		c.JSON(400, gin.H{"error": "conversation_id required"})
		return
	}

	conversationID, err := uuid.Parse(conversationIDStr)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid conversation_id"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(401, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(500, gin.H{"error": "invalid user_id"})
		return
	}

	// Connecting activates presence. Non-participants are rejected
	// before the upgrade.
	activatedAt, err := h.presence.Activate(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(403, gin.H{"error": "not a participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, 256),
		userID:         userID,
		conversationID: conversationID,
		activatedAt:    activatedAt,
	}

	client.hub.register <- client

	// Reconnect catch-up: anything fanned out as sent while this
	// recipient was away is promoted to delivered.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		promoted, err := h.router.MarkDeliveredOnReconnect(ctx, conversationID, userID)
		if err != nil {
			logger.Log.Warn("reconnect catch-up failed",
				zap.String("conversation_id", conversationID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err))
			return
		}
		if promoted > 0 {
			logger.Log.Debug("reconnect catch-up promoted messages",
				zap.String("user_id", userID.String()),
				zap.Int("promoted", promoted))
		}
	}()

	go client.writePump()
	go client.readPump()
}

// readPump reads frames from the WebSocket
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()

		// Stale-guarded deactivation: a newer activation from a
		// reconnect wins over this disconnect.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.hub.presence.Deactivate(ctx, c.conversationID, c.userID, c.activatedAt); err != nil {
			logger.Log.Warn("presence deactivation failed",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Log.Debug("invalid frame format", zap.Error(err))
			continue
		}

		c.handleFrame(&frame)
	}
}

// handleFrame dispatches one inbound client frame.
func (c *Client) handleFrame(frame *Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch frame.Type {
	case FrameTypeHeartbeat:
		if err := c.hub.presence.Heartbeat(ctx, c.conversationID, c.userID); err != nil {
			logger.Log.Debug("heartbeat failed", zap.Error(err))
		}

	case FrameTypeStatus:
		_, err := c.hub.router.UpdateStatus(ctx, &router.UpdateStatusInput{
			ConversationID: c.conversationID,
			MessageID:      frame.MessageID,
			RecipientID:    c.userID,
			Status:         domain.DeliveryState(frame.Status),
		})
		if err != nil {
			logger.Log.Debug("status report rejected",
				zap.String("message_id", frame.MessageID.String()),
				zap.String("status", frame.Status),
				zap.Error(err))
		}

	case FrameTypeTyping:
		frame.SenderID = c.userID
		frame.ConversationID = c.conversationID
		frame.Timestamp = time.Now()
		c.hub.broadcast <- frame

	default:
		logger.Log.Debug("unknown frame type", zap.String("type", frame.Type))
	}
}

// writePump writes frames to the WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
