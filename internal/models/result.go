package models

// StepOutcome is the result of applying one step to one record
type StepOutcome string

const (
	StepContinue      StepOutcome = "continue"
	StepSaved         StepOutcome = "saved"
	StepFailed        StepOutcome = "failed"
	StepNoFurtherStep StepOutcome = "no-further-step" // advance control absent; the configured steps disagree with the page
)

// Failure reasons reported with StepFailed
const (
	ReasonValidationExceeded = "validation error exceeded retries"
	ReasonSaveControlAbsent  = "save control absent"
	ReasonAdvanceAbsent      = "advance control absent"
	ReasonNoResultID         = "no result identifier after save"
)

// StepResult is returned by the step executor; faults are folded into it
type StepResult struct {
	Outcome  StepOutcome `json:"outcome"`
	ResultID string      `json:"result_id,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Attempts int         `json:"attempts"`
}

// Succeeded reports whether the record may proceed to its next step
func (r StepResult) Succeeded() bool {
	return r.Outcome == StepContinue || r.Outcome == StepSaved
}

// WorkerResult are the counts of one worker's slice
type WorkerResult struct {
	Worker  int  `json:"worker"`
	Success int  `json:"success"`
	Failed  int  `json:"failed"`
	Stopped bool `json:"stopped"`
}

// BatchOutcome is the final result of a batch task
type BatchOutcome struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"` // StatusSuccess, StatusNoRecords, StatusStopped, StatusFailed
	Message string `json:"message"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
	Workers int    `json:"workers"`
	Error   string `json:"error,omitempty"`
}
