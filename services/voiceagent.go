package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voxprep/backend/models"
)

// AgentEventType enumerates the signals the voice-call provider emits.
type AgentEventType string

const (
	EventCallStart   AgentEventType = "call-start"
	EventCallEnd     AgentEventType = "call-end"
	EventMessage     AgentEventType = "message"
	EventVolumeLevel AgentEventType = "volume-level"
	EventSpeechStart AgentEventType = "speech-start"
	EventSpeechEnd   AgentEventType = "speech-end"
)

// Transcript kinds carried by message events. Only final utterances are
// accumulated; partial text is display-only.
const (
	TranscriptPartial = "partial"
	TranscriptFinal   = "final"
)

// AgentEvent is one decoded event from the provider stream.
type AgentEvent struct {
	Type           AgentEventType `json:"type"`
	Role           string         `json:"role,omitempty"`
	TranscriptType string         `json:"transcript_type,omitempty"`
	Text           string         `json:"text,omitempty"`
	Volume         float64        `json:"volume,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Timestamp      time.Time      `json:"timestamp,omitempty"`
}

// AgentOverrides carry entity metadata and type-specific variables passed
// as context to the agent when the call starts.
type AgentOverrides struct {
	EntityTitle string            `json:"entity_title"`
	EntityType  string            `json:"entity_type"`
	VoiceID     string            `json:"voice_id,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// BuildAgentOverrides assembles the provider overrides for an entity,
// including the type-specific variables (domain/seniority for interviews,
// category/difficulty for trainings) and a deterministic voice.
func BuildAgentOverrides(entity *models.Entity) AgentOverrides {
	vars := make(map[string]string)
	switch entity.Type {
	case models.EntityTypeInterview:
		if entity.Domain != "" {
			vars["domain"] = entity.Domain
		}
		if entity.Seniority != "" {
			vars["seniority"] = entity.Seniority
		}
	case models.EntityTypeTraining:
		if entity.Category != "" {
			vars["category"] = entity.Category
		}
		if entity.Difficulty != "" {
			vars["difficulty"] = entity.Difficulty
		}
	}
	return AgentOverrides{
		EntityTitle: entity.Title,
		EntityType:  entity.Type,
		VoiceID:     PickEntityVoice(entity),
		Variables:   vars,
	}
}

// VoiceAgent is the external real-time call provider. Start returns the
// event stream for one call; the channel is closed when the call ends or
// the connection drops. Stop tears the call down.
type VoiceAgent interface {
	Start(ctx context.Context, agentID string, overrides AgentOverrides) (<-chan AgentEvent, error)
	Stop(ctx context.Context) error
}

// VoiceAgentFactory creates one agent handle per call so two calls never
// share a connection.
type VoiceAgentFactory func(credential string) VoiceAgent

// WebsocketVoiceAgent drives a call over the provider's websocket API.
type WebsocketVoiceAgent struct {
	url        string
	apiKey     string
	credential string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebsocketVoiceAgent(url, apiKey, credential string) *WebsocketVoiceAgent {
	return &WebsocketVoiceAgent{
		url:        url,
		apiKey:     apiKey,
		credential: credential,
	}
}

// NewWebsocketVoiceAgentFactory returns a factory bound to the configured
// provider endpoint.
func NewWebsocketVoiceAgentFactory(url, apiKey string) VoiceAgentFactory {
	return func(credential string) VoiceAgent {
		return NewWebsocketVoiceAgent(url, apiKey, credential)
	}
}

type agentStartFrame struct {
	Type      string         `json:"type"`
	AgentID   string         `json:"agent_id"`
	Overrides AgentOverrides `json:"overrides"`
}

// Start dials the provider, sends the start frame and spawns a reader that
// decodes events into the returned channel. The channel closes when the
// provider closes the stream or a read fails.
func (a *WebsocketVoiceAgent) Start(ctx context.Context, agentID string, overrides AgentOverrides) (<-chan AgentEvent, error) {
	header := http.Header{}
	if a.apiKey != "" {
		header.Set("Authorization", "Bearer "+a.apiKey)
	}
	if a.credential != "" {
		header.Set("X-Agent-Credential", a.credential)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to voice agent: %w", err)
	}

	start := agentStartFrame{Type: "start", AgentID: agentID, Overrides: overrides}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start voice agent call: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	events := make(chan AgentEvent, 64)
	go a.readLoop(conn, events)

	slog.Info("Voice agent call started", "agent_id", agentID, "entity_title", overrides.EntityTitle)
	return events, nil
}

func (a *WebsocketVoiceAgent) readLoop(conn *websocket.Conn, events chan<- AgentEvent) {
	defer close(events)
	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("Voice agent stream error", "error", err)
			}
			return
		}

		var event AgentEvent
		if err := json.Unmarshal(messageBytes, &event); err != nil {
			slog.Error("Failed to unmarshal voice agent event", "error", err)
			continue
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}
		events <- event
	}
}

// Stop sends the stop frame and closes the connection. Safe to call more
// than once.
func (a *WebsocketVoiceAgent) Stop(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn == nil {
		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		slog.Warn("Failed to send stop frame to voice agent", "error", err)
	}
	return conn.Close()
}
