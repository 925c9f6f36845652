package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RecordStorage implements interfaces.RecordStorage for Badger
type RecordStorage struct {
	db     *RecordDB
	logger arbor.ILogger
}

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *RecordDB, logger arbor.ILogger) interfaces.RecordStorage {
	return &RecordStorage{
		db:     db,
		logger: logger,
	}
}

// FindByBatch returns all records of a batch in row order
func (s *RecordStorage) FindByBatch(ctx context.Context, batchID string) ([]*models.Record, error) {
	var found []models.Record
	query := badgerhold.Where("BatchID").Eq(batchID).Index("BatchID")
	if err := s.db.Store().Find(&found, query); err != nil {
		return nil, fmt.Errorf("failed to find records for batch %s: %w", batchID, err)
	}

	records := make([]*models.Record, len(found))
	for i := range found {
		records[i] = &found[i]
	}
	models.SortRecords(records)

	return records, nil
}

// MarkRecordResult sets the completion marker. A record that already carries a
// result keeps it: the marker transitions exactly once.
func (s *RecordStorage) MarkRecordResult(ctx context.Context, recordID, resultID string) error {
	if resultID == "" {
		return fmt.Errorf("empty result id for record %s", recordID)
	}

	var record models.Record
	err := s.db.Store().Get(recordID, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get record %s: %w", recordID, err)
	}

	if record.ResultID != "" {
		if record.ResultID != resultID {
			s.logger.Warn().
				Str("record_id", recordID).
				Str("existing_result_id", record.ResultID).
				Str("new_result_id", resultID).
				Msg("Record already completed - keeping existing result id")
		}
		return nil
	}

	now := time.Now()
	record.ResultID = resultID
	record.CompletedAt = &now

	if err := s.db.Store().Update(recordID, &record); err != nil {
		return fmt.Errorf("failed to update record %s: %w", recordID, err)
	}

	s.logger.Debug().
		Str("record_id", recordID).
		Str("result_id", resultID).
		Msg("Record marked completed")

	return nil
}

// SaveRecord inserts or replaces a record, assigning an id when missing
func (s *RecordStorage) SaveRecord(ctx context.Context, record *models.Record) error {
	if record.ID == "" {
		record.ID = common.NewRecordID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save record %s: %w", record.ID, err)
	}
	return nil
}

// GetRecord retrieves a record by id
func (s *RecordStorage) GetRecord(ctx context.Context, recordID string) (*models.Record, error) {
	var record models.Record
	err := s.db.Store().Get(recordID, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", recordID, err)
	}
	return &record, nil
}

// DeleteBatch removes every record of a batch and returns how many were deleted
func (s *RecordStorage) DeleteBatch(ctx context.Context, batchID string) (int, error) {
	records, err := s.FindByBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, record := range records {
		if err := s.db.Store().Delete(record.ID, &models.Record{}); err != nil {
			s.logger.Warn().Err(err).Str("record_id", record.ID).Msg("Failed to delete record during DeleteBatch")
			continue
		}
		deleted++
	}

	s.logger.Info().Str("batch_id", batchID).Int("count", deleted).Msg("Deleted batch records")
	return deleted, nil
}
