package ws

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// MessageType constants
const (
	TypePing        = "ping"
	TypePong        = "pong"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeStatus      = "status"
	TypeError       = "error"
)

// Subscriber is one connected client's subscription surface. The hub's
// client type implements it.
type Subscriber interface {
	ID() string
	Subscribe(analysisID string)
	Unsubscribe(analysisID string)
}

// Handler handles WebSocket messages.
type Handler struct {
	log zerolog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(log zerolog.Logger) *Handler {
	return &Handler{log: log}
}

// Response represents a WebSocket response.
type Response struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SubscribePayload names the analysis a client wants updates for.
type SubscribePayload struct {
	AnalysisID string `json:"analysis_id"`
}

// Handle processes incoming WebSocket messages.
func (h *Handler) Handle(sub Subscriber, msgType string, payload json.RawMessage) ([]byte, error) {
	h.log.Debug().
		Str("client_id", sub.ID()).
		Str("type", msgType).
		Msg("Handling WebSocket message")

	switch msgType {
	case TypePing:
		return h.response(TypePong, map[string]string{"message": "pong"})

	case TypeSubscribe:
		return h.handleSubscribe(sub, payload)

	case TypeUnsubscribe:
		return h.handleUnsubscribe(sub, payload)

	default:
		return h.errorResponse("unknown message type: " + msgType)
	}
}

func (h *Handler) handleSubscribe(sub Subscriber, payload json.RawMessage) ([]byte, error) {
	var req SubscribePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.AnalysisID == "" {
		return h.errorResponse("subscribe requires an analysis_id")
	}

	sub.Subscribe(req.AnalysisID)

	h.log.Info().
		Str("client_id", sub.ID()).
		Str("analysis_id", req.AnalysisID).
		Msg("Client subscribed to analysis updates")

	return h.response(TypeSubscribe, map[string]string{
		"analysis_id": req.AnalysisID,
		"state":       "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(sub Subscriber, payload json.RawMessage) ([]byte, error) {
	var req SubscribePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.AnalysisID == "" {
		return h.errorResponse("unsubscribe requires an analysis_id")
	}

	sub.Unsubscribe(req.AnalysisID)

	return h.response(TypeUnsubscribe, map[string]string{
		"analysis_id": req.AnalysisID,
		"state":       "unsubscribed",
	})
}

func (h *Handler) response(msgType string, payload interface{}) ([]byte, error) {
	resp := Response{
		Type:    msgType,
		Payload: payload,
	}
	return json.Marshal(resp)
}

func (h *Handler) errorResponse(message string) ([]byte, error) {
	return h.response(TypeError, map[string]string{
		"error": message,
	})
}
