package interfaces

import (
	"context"

	"github.com/ternarybob/formrunner/internal/models"
)

// StorageManager owns the database connection and the stores built on it
type StorageManager interface {
	RecordStorage() RecordStorage

	// LoadRecordsFromFile imports a JSON or YAML record file, returning the count saved
	LoadRecordsFromFile(ctx context.Context, path, batchID string) (int, error)

	// RecordStats counts stored records and those without a result
	RecordStats() (models.RecordStats, error)

	DB() interface{}
	Close() error
}
