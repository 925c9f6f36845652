package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
	"gopkg.in/yaml.v3"
)

// Reserved keys of an import row; everything else becomes a record field
const (
	rowKeyID       = "id"
	rowKeyBatchID  = "batch_id"
	rowKeyRow      = "row_number"
	rowKeyResultID = "result_id"
	rowKeyFormID   = "form_id"
)

// LoadRecordsFromFile imports a JSON or YAML array of flat rows as records of batchID.
// A row's own batch_id wins when batchID is empty. Returns the number of records saved.
func LoadRecordsFromFile(ctx context.Context, storage interfaces.RecordStorage, path, batchID string, logger arbor.ILogger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read records file %s: %w", path, err)
	}

	rows, err := parseRows(data, filepath.Ext(path))
	if err != nil {
		return 0, fmt.Errorf("failed to parse records file %s: %w", path, err)
	}

	logger.Info().Str("file", path).Int("rows", len(rows)).Msg("Importing records")

	saved := 0
	for i, row := range rows {
		record := rowToRecord(row, i+1)
		if batchID != "" {
			record.BatchID = batchID
		}
		if record.BatchID == "" {
			logger.Warn().Int("row", i+1).Msg("Row has no batch id - skipping")
			continue
		}

		if err := storage.SaveRecord(ctx, record); err != nil {
			logger.Warn().Err(err).Int("row", i+1).Msg("Failed to save imported record")
			continue
		}
		saved++
	}

	logger.Info().Str("file", path).Int("saved", saved).Msg("Records imported")
	return saved, nil
}

func parseRows(data []byte, ext string) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rows); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported records file extension %q (expected .json, .yaml or .yml)", ext)
	}
	return rows, nil
}

func rowToRecord(row map[string]interface{}, rowNumber int) *models.Record {
	record := &models.Record{
		RowNumber: rowNumber,
		Fields:    make(map[string]string, len(row)),
	}

	for key, raw := range row {
		value := stringifyValue(raw)
		switch key {
		case rowKeyID:
			record.ID = value
		case rowKeyBatchID:
			record.BatchID = value
		case rowKeyRow:
			if n, err := strconv.Atoi(value); err == nil {
				record.RowNumber = n
			}
		case rowKeyResultID, rowKeyFormID:
			record.ResultID = value
		default:
			record.Fields[key] = value
		}
	}

	return record
}

// stringifyValue flattens scalar and list values; lists are joined with commas
func stringifyValue(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := stringifyValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}
