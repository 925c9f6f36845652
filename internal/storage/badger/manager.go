package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *RecordDB
	records interfaces.RecordStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := OpenRecordDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		records: NewRecordStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// RecordStorage returns the Record storage interface
func (m *Manager) RecordStorage() interfaces.RecordStorage {
	return m.records
}

// LoadRecordsFromFile imports records from a JSON or YAML file
func (m *Manager) LoadRecordsFromFile(ctx context.Context, path, batchID string) (int, error) {
	return LoadRecordsFromFile(ctx, m.records, path, batchID, m.logger)
}

// RecordStats counts stored and pending records
func (m *Manager) RecordStats() (models.RecordStats, error) {
	return m.db.Stats()
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
