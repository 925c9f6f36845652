package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
)

// StatusProvider reports the batches currently running
type StatusProvider interface {
	ActiveBatches() []string
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Version       string   `json:"version"`
	Build         string   `json:"build"`
	Uptime        string   `json:"uptime"`
	ActiveBatches []string `json:"active_batches"`
	Forms         []string `json:"forms"`
	Clients       int      `json:"clients"`
}

// FormLister lists the loaded form definitions
type FormLister interface {
	Names() []string
}

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	status    StatusProvider
	forms     FormLister
	ws        *WebSocketHandler
	startedAt time.Time
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(status StatusProvider, forms FormLister, ws *WebSocketHandler, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		status:    status,
		forms:     forms,
		ws:        ws,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	active := h.status.ActiveBatches()
	if active == nil {
		active = []string{}
	}

	response := StatusResponse{
		Version:       common.GetVersion(),
		Build:         common.GetBuild(),
		Uptime:        time.Since(h.startedAt).Round(time.Second).String(),
		ActiveBatches: active,
		Forms:         []string{},
	}
	if h.forms != nil {
		response.Forms = h.forms.Names()
	}
	if h.ws != nil {
		response.Clients = h.ws.ClientCount()
	}

	WriteJSON(w, http.StatusOK, response)
}

// HealthHandler handles GET /health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
