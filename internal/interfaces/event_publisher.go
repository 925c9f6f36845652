package interfaces

import (
	"context"

	"github.com/ternarybob/formrunner/internal/models"
)

// EventPublisher delivers outbound events. Implementations must be safe for
// concurrent use by every worker of every batch.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// EventHandler receives published events
type EventHandler func(ctx context.Context, event *models.Event) error
