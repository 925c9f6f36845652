package models

import (
	"sort"
	"time"
)

// Record is one submission unit of a batch. Fields is opaque to the orchestrator;
// only ResultID (the completion marker) is interpreted.
type Record struct {
	ID          string            `json:"id" yaml:"id" badgerhold:"key"`
	BatchID     string            `json:"batch_id" yaml:"batch_id" badgerhold:"index"`
	RowNumber   int               `json:"row_number" yaml:"row_number"`
	Fields      map[string]string `json:"fields" yaml:"fields"`
	ResultID    string            `json:"result_id,omitempty" yaml:"result_id,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
}

// IsCompleted reports whether the record already carries a result identifier
func (r *Record) IsCompleted() bool {
	return r.ResultID != ""
}

// Value returns the raw value of a field and whether the record has it
func (r *Record) Value(name string) (string, bool) {
	if r.Fields == nil {
		return "", false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// SortRecords orders records by row number, then ID, so a batch is always processed
// in the order it was imported.
func SortRecords(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].RowNumber != records[j].RowNumber {
			return records[i].RowNumber < records[j].RowNumber
		}
		return records[i].ID < records[j].ID
	})
}

// RecordStats summarises the record store
type RecordStats struct {
	Records int `json:"records"`
	Pending int `json:"pending"`
}
