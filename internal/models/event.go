package models

import (
	"encoding/json"
	"math"
	"time"
)

// EventType tags outbound events
type EventType string

const (
	EventProgress EventType = "PROGRESS"
	EventResult   EventType = "RESULT"
)

// Result statuses (terminal or acknowledgement responses to commands)
const (
	StatusAcknowledged = "ACKNOWLEDGED"
	StatusSuccess      = "SUCCESS"
	StatusFailed       = "FAILED"
	StatusPaused       = "PAUSED"
	StatusResumed      = "RESUMED"
	StatusStopped      = "STOPPED"
	StatusNoRecords    = "NO_RECORDS"
)

// Progress statuses
const (
	ProgressStarted         = "STARTED"
	ProgressFetchingData    = "FETCHING_DATA"
	ProgressDataFetched     = "DATA_FETCHED"
	ProgressNoRecords       = "NO_RECORDS"
	ProgressNavigating      = "NAVIGATING"
	ProgressPageLoaded      = "PAGE_LOADED"
	ProgressRecordStarted   = "RECORD_STARTED"
	ProgressRecordSkipped   = "RECORD_SKIPPED"
	ProgressStepStarted     = "STEP_STARTED"
	ProgressStepCompleted   = "STEP_COMPLETED"
	ProgressStepFailed      = "STEP_FAILED"
	ProgressRecordSuccess   = "RECORD_SUCCESS"
	ProgressRecordCompleted = "RECORD_COMPLETED"
	ProgressRecordFailed    = "RECORD_FAILED"
	ProgressWorkerStopped   = "WORKER_STOPPED"
	ProgressBatchCompleted  = "BATCH_COMPLETED"
	ProgressBatchFailed     = "BATCH_FAILED"
)

// Event is one line of the outbound event stream
type Event struct {
	Type             EventType       `json:"type"`
	Status           string          `json:"status"`
	Message          string          `json:"message,omitempty"`
	BatchID          string          `json:"batchId,omitempty"`
	RecordID         string          `json:"recordId,omitempty"`
	CommandID        json.RawMessage `json:"commandId,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	Current          *int            `json:"current,omitempty"`
	Total            *int            `json:"total,omitempty"`
	Percentage       *float64        `json:"percentage,omitempty"`
	Step             *int            `json:"step,omitempty"`
	TotalSteps       *int            `json:"total_steps,omitempty"`
	Worker           *int            `json:"worker,omitempty"`
	ResultID         string          `json:"resultId,omitempty"`
	Error            string          `json:"error,omitempty"`
	SuccessCount     *int            `json:"success_count,omitempty"`
	FailedCount      *int            `json:"failed_count,omitempty"`
	Workers          *int            `json:"workers,omitempty"`
	SupportedActions []string        `json:"supported_actions,omitempty"`
	ActiveBatches    []string        `json:"active_batches,omitempty"`
	Received         string          `json:"received,omitempty"`
}

// NewProgressEvent creates a PROGRESS event for a batch
func NewProgressEvent(status, message, batchID string) *Event {
	return &Event{
		Type:      EventProgress,
		Status:    status,
		Message:   message,
		BatchID:   batchID,
		Timestamp: time.Now(),
	}
}

// NewResultEvent creates a RESULT event answering a command
func NewResultEvent(status, message string, commandID json.RawMessage) *Event {
	return &Event{
		Type:      EventResult,
		Status:    status,
		Message:   message,
		CommandID: commandID,
		Timestamp: time.Now(),
	}
}

// WithBatch sets the batch id
func (e *Event) WithBatch(batchID string) *Event {
	e.BatchID = batchID
	return e
}

// WithRecord sets the record id
func (e *Event) WithRecord(recordID string) *Event {
	e.RecordID = recordID
	return e
}

// WithCommand sets the correlation id
func (e *Event) WithCommand(commandID json.RawMessage) *Event {
	e.CommandID = commandID
	return e
}

// WithCounts sets current/total
func (e *Event) WithCounts(current, total int) *Event {
	e.Current = &current
	e.Total = &total
	return e
}

// DerivePercentage fills in the percentage of a PROGRESS event from current/total
// when none was set explicitly
func (e *Event) DerivePercentage() *Event {
	if e.Type != EventProgress || e.Percentage != nil || e.Current == nil || e.Total == nil || *e.Total <= 0 {
		return e
	}
	p := RoundPercentage(float64(*e.Current) / float64(*e.Total) * 100)
	e.Percentage = &p
	return e
}

// WithPercentage sets an explicit percentage, overriding any derived value
func (e *Event) WithPercentage(p float64) *Event {
	p = RoundPercentage(p)
	e.Percentage = &p
	return e
}

// WithStep sets the step number and step count
func (e *Event) WithStep(step, totalSteps int) *Event {
	e.Step = &step
	e.TotalSteps = &totalSteps
	return e
}

// WithWorker sets the worker index that produced the event
func (e *Event) WithWorker(worker int) *Event {
	e.Worker = &worker
	return e
}

// WithError sets the error text
func (e *Event) WithError(err string) *Event {
	e.Error = err
	return e
}

// WithResultID sets the form result identifier
func (e *Event) WithResultID(resultID string) *Event {
	e.ResultID = resultID
	return e
}

// WithOutcome sets success/failed counts and worker count
func (e *Event) WithOutcome(success, failed, workers int) *Event {
	e.SuccessCount = &success
	e.FailedCount = &failed
	e.Workers = &workers
	return e
}

// IsTerminal reports whether the event closes a batch
func (e *Event) IsTerminal() bool {
	if e.Type == EventResult {
		return e.Status != StatusAcknowledged
	}
	return e.Status == ProgressBatchCompleted || e.Status == ProgressBatchFailed
}

// RoundPercentage rounds to two decimals
func RoundPercentage(p float64) float64 {
	return math.Round(p*100) / 100
}
