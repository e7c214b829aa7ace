package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wshandler "github.com/brightclass/speech_service/internal/handler/ws"
	"github.com/brightclass/speech_service/internal/repository"
	"github.com/brightclass/speech_service/internal/service"
)

func newHubClient(hub *WebSocketHub, id string, buffer int, analysisIDs ...string) *Client {
	client := &Client{
		id:   id,
		hub:  hub,
		send: make(chan []byte, buffer),
		subs: make(map[string]bool),
	}
	for _, analysisID := range analysisIDs {
		client.subs[analysisID] = true
	}
	hub.clients[client] = true
	return client
}

func processingStatus(analysisID string) *service.AnalysisStatus {
	return &service.AnalysisStatus{
		AnalysisID: analysisID,
		Status:     repository.AttemptStatusProcessing,
		Stage:      repository.AttemptStageScoring,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

func TestFanOutDeliversToSubscribedClients(t *testing.T) {
	hub := NewWebSocketHub(zerolog.Nop())
	subscribed := newHubClient(hub, "client_sub", 4, "analysis-1")
	other := newHubClient(hub, "client_other", 4, "analysis-2")

	hub.fanOut(processingStatus("analysis-1"))

	require.Len(t, subscribed.send, 1)
	assert.Empty(t, other.send)

	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(<-subscribed.send, &msg))
	assert.Equal(t, wshandler.TypeStatus, msg.Type)

	var status service.AnalysisStatus
	require.NoError(t, json.Unmarshal(msg.Payload, &status))
	assert.Equal(t, "analysis-1", status.AnalysisID)
	assert.Equal(t, repository.AttemptStageScoring, status.Stage)
}

func TestFanOutDropsSlowClient(t *testing.T) {
	hub := NewWebSocketHub(zerolog.Nop())
	client := newHubClient(hub, "client_slow", 1, "analysis-1")

	// The first push fills the buffer; the second finds it full and drops
	// the client.
	hub.fanOut(processingStatus("analysis-1"))
	hub.fanOut(processingStatus("analysis-1"))
	assert.Equal(t, 0, hub.ClientCount())

	// A reply still in flight for the dropped client is discarded, not sent
	// on the closed channel.
	assert.False(t, client.trySend([]byte(`{"type":"pong"}`)))

	// A late unregister finds nothing left to close.
	client.closeSend()
}

func TestFanOutConcurrentWithReplies(t *testing.T) {
	hub := NewWebSocketHub(zerolog.Nop())
	client := newHubClient(hub, "client_busy", 1, "analysis-1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			client.trySend([]byte(`{"type":"pong"}`))
		}
	}()

	for i := 0; i < 200; i++ {
		hub.fanOut(processingStatus("analysis-1"))
	}
	wg.Wait()

	assert.Equal(t, 0, hub.ClientCount())
	assert.False(t, client.trySend([]byte(`{"type":"pong"}`)))
}

func TestWebSocketStatusStream(t *testing.T) {
	hub := NewWebSocketHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	handler := wshandler.NewHandler(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, handler)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    wshandler.TypeSubscribe,
		"payload": map[string]string{"analysis_id": "analysis-1"},
	}))

	// The subscribe ack confirms the hub saw the subscription before any
	// status is pushed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, wshandler.TypeSubscribe, ack.Type)

	hub.NotifyStatus(processingStatus("analysis-1"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var push struct {
		Type    string                 `json:"type"`
		Payload service.AnalysisStatus `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&push))
	assert.Equal(t, wshandler.TypeStatus, push.Type)
	assert.Equal(t, "analysis-1", push.Payload.AnalysisID)
	assert.Equal(t, repository.AttemptStatusProcessing, push.Payload.Status)
	assert.Equal(t, repository.AttemptStageScoring, push.Payload.Stage)
}
