package models

import (
	"encoding/json"
	"strings"
)

// Action names accepted on the command stream
const (
	ActionStartBatch  = "start-batch"
	ActionLegacyBatch = "processTaqeemBatch" // accepted alias for start-batch
	ActionPause       = "pause"
	ActionResume      = "resume"
	ActionStop        = "stop"
	ActionPing        = "ping"
	ActionStatus      = "status"
	ActionClose       = "close"
)

// SupportedActions is reported back when an unknown action arrives
var SupportedActions = []string{
	ActionStartBatch, ActionPause, ActionResume, ActionStop, ActionPing, ActionStatus, ActionClose,
}

// Command is one line of the inbound command stream.
// CommandID is kept raw so it is echoed back exactly as the caller sent it
// (callers use both numeric and string correlation ids).
type Command struct {
	Action    string          `json:"action" validate:"required"`
	CommandID json.RawMessage `json:"commandId,omitempty"`
	BatchID   string          `json:"batchId,omitempty" validate:"omitempty,max=256"`
	Workers   int             `json:"workers,omitempty" validate:"gte=0"`
	FormName  string          `json:"form,omitempty"`
	RecordIDs []string        `json:"reportIds,omitempty"`
}

// NormalizedAction maps aliases onto canonical action names
func (c *Command) NormalizedAction() string {
	action := strings.TrimSpace(c.Action)
	if action == ActionLegacyBatch {
		return ActionStartBatch
	}
	return action
}

// RequiresBatch reports whether the action addresses a specific batch
func (c *Command) RequiresBatch() bool {
	switch c.NormalizedAction() {
	case ActionStartBatch, ActionPause, ActionResume, ActionStop:
		return true
	}
	return false
}

// IsSupported reports whether the action is one the dispatcher handles
func (c *Command) IsSupported() bool {
	action := c.NormalizedAction()
	for _, supported := range SupportedActions {
		if action == supported {
			return true
		}
	}
	return false
}

// CorrelationID renders the command id for logging
func (c *Command) CorrelationID() string {
	return strings.Trim(string(c.CommandID), `"`)
}
