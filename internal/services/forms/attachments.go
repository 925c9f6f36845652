package forms

import (
	"os"
	"strings"

	"github.com/ternarybob/formrunner/internal/models"
)

// MissingAttachment is a record whose attachment field names a file that cannot be read
type MissingAttachment struct {
	RecordID  string
	RowNumber int
	Field     string
	Path      string
	Reason    string
}

// CheckAttachments reports every attachment-kind field of def whose file is absent
// for a record. Empty values are not reported; the field is optional at submit time.
func CheckAttachments(def *models.FormDefinition, records []*models.Record) []MissingAttachment {
	var fields []string
	for _, step := range def.Steps {
		for _, spec := range step.Fields {
			if spec.Kind == models.FieldAttachment {
				fields = append(fields, spec.Name)
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}

	var missing []MissingAttachment
	for _, record := range records {
		for _, field := range fields {
			path, _ := record.Value(field)
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}

			info, err := os.Stat(path)
			switch {
			case err != nil:
				missing = append(missing, MissingAttachment{RecordID: record.ID, RowNumber: record.RowNumber, Field: field, Path: path, Reason: err.Error()})
			case info.IsDir():
				missing = append(missing, MissingAttachment{RecordID: record.ID, RowNumber: record.RowNumber, Field: field, Path: path, Reason: "is a directory"})
			}
		}
	}
	return missing
}
