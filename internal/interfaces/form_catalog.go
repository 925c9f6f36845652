package interfaces

import (
	"errors"

	"github.com/ternarybob/formrunner/internal/models"
)

// ErrFormNotFound is returned when no definition carries the requested name
var ErrFormNotFound = errors.New("form definition not found")

// FormCatalog resolves form definitions by name
type FormCatalog interface {
	Get(name string) (*models.FormDefinition, error)
	Names() []string
}
