package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique batch task ID with the "task_" prefix
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewRecordID generates a unique record ID with the "rec_" prefix
func NewRecordID() string {
	return "rec_" + uuid.New().String()
}

// NewTabID generates a unique identifier for a browser tab handle
func NewTabID() string {
	return "tab_" + uuid.New().String()[:8]
}
