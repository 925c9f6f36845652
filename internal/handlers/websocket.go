package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local operator tooling
	},
}

const writeTimeout = 10 * time.Second

// CommandSink receives raw command lines read from WebSocket clients
type CommandSink func(line string)

// throttledStatuses are the high-frequency progress statuses that may be dropped
// for WebSocket clients. Record outcomes and batch terminals are always delivered.
var throttledStatuses = map[string]bool{
	models.ProgressNavigating:    true,
	models.ProgressPageLoaded:    true,
	models.ProgressRecordStarted: true,
	models.ProgressStepStarted:   true,
	models.ProgressStepCompleted: true,
}

// WebSocketHandler mirrors the outbound event stream to connected clients and
// feeds text frames from clients into the command loop.
type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	sinkMu            sync.RWMutex
	commandSink       CommandSink
	progressThrottler *rate.Limiter // nil = no throttling
}

func NewWebSocketHandler(logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:      logger,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
	}

	if config != nil && config.ProgressThrottle != "" {
		if duration, err := time.ParseDuration(config.ProgressThrottle); err == nil && duration > 0 {
			h.progressThrottler = rate.NewLimiter(rate.Every(duration), 1)
			logger.Debug().
				Str("interval", config.ProgressThrottle).
				Msg("Throttler initialized for progress events")
		} else if err != nil {
			logger.Warn().
				Err(err).
				Str("interval", config.ProgressThrottle).
				Msg("Failed to parse progress throttle interval - throttler disabled")
		}
	}

	return h
}

// SetCommandSink sets where inbound client frames are delivered
func (h *WebSocketHandler) SetCommandSink(sink CommandSink) {
	h.sinkMu.Lock()
	defer h.sinkMu.Unlock()
	h.commandSink = sink
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		h.sinkMu.RLock()
		sink := h.commandSink
		h.sinkMu.RUnlock()

		if sink == nil {
			h.logger.Warn().Msg("WebSocket command dropped - no command sink configured")
			continue
		}
		sink(string(data))
	}
}

// Publish broadcasts the event to every connected client. It never fails the
// publisher: a client that cannot be written to is logged and dropped on its
// next read error.
func (h *WebSocketHandler) Publish(ctx context.Context, event *models.Event) error {
	if event.Type == models.EventProgress && throttledStatuses[event.Status] &&
		h.progressThrottler != nil && !h.progressThrottler.Allow() {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	h.broadcast(data)
	return nil
}

func (h *WebSocketHandler) broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send event to client")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
