package voicecall

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one live call update pushed to watchers of a session. State
// events track the call lifecycle, transcript events carry final
// utterances, volume and speaking events are ephemeral UI state and are
// never persisted.
type Event struct {
	SessionID string  `json:"session_id"`
	Type      string  `json:"type"` // "state", "transcript", "volume", "speaking", "ended"
	State     string  `json:"state,omitempty"`
	Role      string  `json:"role,omitempty"`
	Text      string  `json:"text,omitempty"`
	Volume    float64 `json:"volume,omitempty"`
	Speaking  bool    `json:"speaking,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

type Hub struct {
	sessions   map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan Event
	mu         sync.RWMutex
}

type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string
}

func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan Event, 256),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.sessions[client.SessionID] == nil {
				h.sessions[client.SessionID] = make(map[*Client]bool)
			}
			h.sessions[client.SessionID][client] = true
			h.mu.Unlock()
			slog.Info("Live-call client registered", "session_id", client.SessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.sessions[client.SessionID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.sessions, client.SessionID)
					}
				}
			}
			h.mu.Unlock()
			slog.Info("Live-call client unregistered", "session_id", client.SessionID)

		case event := <-h.events:
			payload, err := json.Marshal(event)
			if err != nil {
				slog.Error("Failed to marshal live-call event", "error", err)
				continue
			}
			h.mu.RLock()
			for client := range h.sessions[event.SessionID] {
				select {
				case client.Send <- payload:
				default:
					// Slow consumer; drop it rather than block the hub.
					close(client.Send)
					delete(h.sessions[event.SessionID], client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues an event for all watchers of its session. Non-blocking;
// events are dropped if the hub queue is full.
func (h *Hub) Publish(event Event) {
	select {
	case h.events <- event:
	default:
		slog.Warn("Live-call event dropped, hub queue full", "session_id", event.SessionID, "type", event.Type)
	}
}

// RegisterClient attaches a websocket connection as a watcher of a session.
func (h *Hub) RegisterClient(conn *websocket.Conn, sessionID string) *Client {
	client := &Client{
		Hub:       h,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		SessionID: sessionID,
	}
	h.register <- client
	return client
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Watchers only receive; reads exist to detect close and pings.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("Live-call websocket error", "error", err)
			}
			break
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
