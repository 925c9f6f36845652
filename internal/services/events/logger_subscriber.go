package events

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
)

// NewLoggerSubscriber creates an event handler that mirrors events into the log.
// Terminal and failure events are logged at info/warn, everything else at debug.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event *models.Event) error {
		logEvent := logger.Debug()
		switch {
		case event.Status == models.StatusFailed || event.Status == models.ProgressBatchFailed:
			logEvent = logger.Warn()
		case event.IsTerminal():
			logEvent = logger.Info()
		}

		logEvent = logEvent.
			Str("type", string(event.Type)).
			Str("status", event.Status)

		if event.BatchID != "" {
			logEvent = logEvent.Str("batch_id", event.BatchID)
		}
		if event.RecordID != "" {
			logEvent = logEvent.Str("record_id", event.RecordID)
		}
		if event.Percentage != nil {
			logEvent = logEvent.Float64("percentage", *event.Percentage)
		}
		if event.Error != "" {
			logEvent = logEvent.Str("error", event.Error)
		}

		logEvent.Msg(event.Message)
		return nil
	}
}
