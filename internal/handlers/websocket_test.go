package handlers

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/models"
)

func dialHandler(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event models.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestWebSocketHandler_BroadcastsEvents(t *testing.T) {
	handler := NewWebSocketHandler(arbor.NewLogger(), &common.WebSocketConfig{})
	conn := dialHandler(t, handler)

	require.NoError(t, handler.Publish(context.Background(),
		models.NewProgressEvent(models.ProgressBatchCompleted, "done", "b1").WithPercentage(100)))

	event := readEvent(t, conn)
	assert.Equal(t, models.EventProgress, event.Type)
	assert.Equal(t, models.ProgressBatchCompleted, event.Status)
	assert.Equal(t, "b1", event.BatchID)
	require.NotNil(t, event.Percentage)
	assert.Equal(t, 100.0, *event.Percentage)
}

func TestWebSocketHandler_ThrottlesOnlyHighFrequencyProgress(t *testing.T) {
	handler := NewWebSocketHandler(arbor.NewLogger(), &common.WebSocketConfig{ProgressThrottle: "1h"})
	conn := dialHandler(t, handler)
	ctx := context.Background()

	// First step event passes, the second is dropped by the limiter
	require.NoError(t, handler.Publish(ctx, models.NewProgressEvent(models.ProgressStepCompleted, "step 1", "b1")))
	require.NoError(t, handler.Publish(ctx, models.NewProgressEvent(models.ProgressStepCompleted, "step 2", "b1")))
	require.NoError(t, handler.Publish(ctx, models.NewProgressEvent(models.ProgressRecordCompleted, "record", "b1")))
	require.NoError(t, handler.Publish(ctx, models.NewResultEvent(models.StatusSuccess, "done", nil)))

	assert.Equal(t, "step 1", readEvent(t, conn).Message)
	assert.Equal(t, models.ProgressRecordCompleted, readEvent(t, conn).Status)
	assert.Equal(t, models.EventResult, readEvent(t, conn).Type)
}

func TestWebSocketHandler_InvalidThrottleDisablesThrottling(t *testing.T) {
	handler := NewWebSocketHandler(arbor.NewLogger(), &common.WebSocketConfig{ProgressThrottle: "soon"})
	assert.Nil(t, handler.progressThrottler)
}

func TestWebSocketHandler_FramesReachCommandSink(t *testing.T) {
	handler := NewWebSocketHandler(arbor.NewLogger(), nil)

	var (
		mu    sync.Mutex
		lines []string
	)
	handler.SetCommandSink(func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})

	conn := dialHandler(t, handler)
	command, err := json.Marshal(map[string]string{"action": "ping"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, command))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.JSONEq(t, `{"action":"ping"}`, lines[0])
	mu.Unlock()
}

func TestWebSocketHandler_DisconnectRemovesClient(t *testing.T) {
	handler := NewWebSocketHandler(arbor.NewLogger(), nil)
	conn := dialHandler(t, handler)

	conn.Close()
	assert.Eventually(t, func() bool { return handler.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
