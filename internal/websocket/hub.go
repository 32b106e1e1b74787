package sessionws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

// Event is one realtime notification on a session topic.
type Event struct {
	Type      string `json:"type"`
	Topic     string `json:"topic"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SessionTopic names the topic all events for one session flow through.
func SessionTopic(sessionID int64) string {
	return fmt.Sprintf("session:%d", sessionID)
}

type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
	logger     *zap.Logger
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	topic  string
	userID int64
	send   chan []byte
}

// presenceRecorder is the slice of the session service the read pump
// needs: record a joined/left event and fan out the refreshed snapshot.
type presenceRecorder interface {
	RecordPresence(ctx context.Context, sessionID, userID int64, event string) error
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 64),
		logger:     logger,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, topic string, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		topic:  topic,
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.topic]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.topic] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.topic]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.topic)
			}
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Publish queues an event for every subscriber of the topic. Delivery is
// best effort: a full broadcast queue drops the event rather than block
// the publishing request.
func (h *Hub) Publish(topic, eventType string, payload any) {
	event := &Event{
		Type:      eventType,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("session hub broadcast queue full, dropping event",
			zap.String("topic", topic),
			zap.String("type", eventType),
		)
	}
}

func (h *Hub) deliver(event *Event) {
	encoded, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("session hub encode event", zap.Error(err))
		return
	}

	set, ok := h.clients[event.Topic]
	if !ok {
		return
	}
	for client := range set {
		select {
		case client.send <- encoded:
		default:
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, event.Topic)
	}
}

// ReadPump consumes presence messages from the client until the socket
// closes. Joining and leaving are recorded through the session service so
// the snapshot and the ledgered history stay consistent.
func (c *Client) ReadPump(service presenceRecorder) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming struct {
			Type  string `json:"type"`
			Event string `json:"event"`
		}
		if err := json.Unmarshal(payload, &incoming); err != nil {
			continue
		}
		if incoming.Type != "presence" {
			continue
		}
		if incoming.Event != "joined" && incoming.Event != "left" {
			continue
		}

		var sessionID int64
		if _, err := fmt.Sscanf(c.topic, "session:%d", &sessionID); err != nil {
			continue
		}
		if err := service.RecordPresence(context.Background(), sessionID, c.userID, incoming.Event); err != nil {
			c.hub.logger.Warn("record presence", zap.Int64("session_id", sessionID), zap.Error(err))
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
