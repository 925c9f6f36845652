package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/models"
)

func TestNewLoggerSubscriber(t *testing.T) {
	subscriber := NewLoggerSubscriber(arbor.NewLogger())
	ctx := context.Background()

	events := []*models.Event{
		models.NewProgressEvent(models.ProgressRecordStarted, "Processing record", "b1").WithRecord("r1"),
		models.NewProgressEvent(models.ProgressBatchCompleted, "Batch done", "b1").WithPercentage(100),
		models.NewResultEvent(models.StatusFailed, "Unknown action", nil).WithError("bad"),
		models.NewResultEvent(models.StatusAcknowledged, "", nil),
	}

	for _, event := range events {
		assert.NoError(t, subscriber(ctx, event), event.Status)
	}
}
