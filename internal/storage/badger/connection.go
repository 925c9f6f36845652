package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RecordDB is the Badger-backed record store connection
type RecordDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// OpenRecordDB opens (creating if needed) the record database at config.Path.
// With reset_on_startup the previous database is removed first, so every run
// starts without imported batches.
func OpenRecordDB(logger arbor.ILogger, config *common.BadgerConfig) (*RecordDB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("storage.badger.path is empty")
	}

	if config.ResetOnStartup {
		if err := os.RemoveAll(config.Path); err != nil {
			logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to remove record database")
		} else {
			logger.Info().Str("path", config.Path).Msg("Record database reset (reset_on_startup=true)")
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create record database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // badger's own logger is replaced by arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open record database %s: %w", config.Path, err)
	}

	db := &RecordDB{store: store, logger: logger, config: config}

	stats, err := db.Stats()
	if err != nil {
		logger.Warn().Err(err).Str("path", config.Path).Msg("Record database opened but counting records failed")
		return db, nil
	}
	logger.Info().
		Str("path", config.Path).
		Int("records", stats.Records).
		Int("pending", stats.Pending).
		Msg("Record database opened")

	return db, nil
}

// Store returns the underlying badgerhold store
func (db *RecordDB) Store() *badgerhold.Store {
	return db.store
}

// Stats counts stored records and those still without a result identifier. The
// batch_id index serves batch lookups; these counts scan the record bucket.
func (db *RecordDB) Stats() (models.RecordStats, error) {
	total, err := db.store.Count(&models.Record{}, nil)
	if err != nil {
		return models.RecordStats{}, fmt.Errorf("failed to count records: %w", err)
	}
	pending, err := db.store.Count(&models.Record{}, badgerhold.Where("ResultID").Eq(""))
	if err != nil {
		return models.RecordStats{}, fmt.Errorf("failed to count pending records: %w", err)
	}
	return models.RecordStats{Records: int(total), Pending: int(pending)}, nil
}

// Close closes the database
func (db *RecordDB) Close() error {
	if db.store == nil {
		return nil
	}
	return db.store.Close()
}
