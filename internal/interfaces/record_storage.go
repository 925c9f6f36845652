package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/formrunner/internal/models"
)

// ErrRecordNotFound is returned when a record id does not exist
var ErrRecordNotFound = errors.New("record not found")

// RecordStorage is the document store holding one record per submission, keyed by
// batch. Per-record writes are independent and idempotent.
type RecordStorage interface {
	// FindByBatch returns every record of a batch ordered by row number
	FindByBatch(ctx context.Context, batchID string) ([]*models.Record, error)

	// MarkRecordResult stores the result identifier (completion marker) on a record
	MarkRecordResult(ctx context.Context, recordID, resultID string) error

	SaveRecord(ctx context.Context, record *models.Record) error
	GetRecord(ctx context.Context, recordID string) (*models.Record, error)
	DeleteBatch(ctx context.Context, batchID string) (int, error)
}
