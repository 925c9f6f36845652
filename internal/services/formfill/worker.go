package formfill

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
	"github.com/ternarybob/formrunner/internal/services/control"
	"github.com/ternarybob/formrunner/internal/services/progress"
)

// Batch is the state shared by every worker of one running batch
type Batch struct {
	ID        string
	Form      *models.FormDefinition
	State     *control.State
	Tracker   *progress.Tracker
	Executor  *StepExecutor
	Publisher interfaces.EventPublisher
}

// Worker processes one contiguous slice of a batch on one tab
type Worker struct {
	index           int
	navigationDelay time.Duration
	readyTimeout    time.Duration
	logger          arbor.ILogger
}

// NewWorker creates the worker with the given index; index 0 is the primary worker
func NewWorker(index int, navigationDelay, readyTimeout time.Duration, logger arbor.ILogger) *Worker {
	return &Worker{
		index:           index,
		navigationDelay: navigationDelay,
		readyTimeout:    readyTimeout,
		logger:          logger,
	}
}

// Run drives every record of the slice through the form. Record faults are counted
// as failures and processing continues. Only a stop (or a cancelled context) ends
// the loop early; the partial counts are returned along with the error.
func (w *Worker) Run(ctx context.Context, tab interfaces.Tab, records []*models.Record, batch *Batch, isPrimary bool) (models.WorkerResult, error) {
	result := models.WorkerResult{Worker: w.index}

	w.logger.Info().
		Str("batch_id", batch.ID).
		Int("worker", w.index).
		Int("records", len(records)).
		Bool("primary", isPrimary).
		Msg("Worker started")

	for i, record := range records {
		if err := batch.State.Checkpoint(ctx); err != nil {
			return w.stopped(ctx, batch, result, err)
		}

		if record.IsCompleted() {
			result.Success++
			batch.Tracker.RecordCompleted()
			w.publish(ctx, batch, models.NewProgressEvent(models.ProgressRecordSkipped, "Record already has a result", batch.ID).
				WithRecord(record.ID).
				WithResultID(record.ResultID).
				WithWorker(w.index).
				WithCounts(batch.Tracker.Completed(), batch.Tracker.Total()).
				WithPercentage(batch.Tracker.Percentage(isPrimary, 1, i+1, len(records))))
			continue
		}

		ok, err := w.processRecord(ctx, tab, record, i, len(records), batch, isPrimary)
		if err != nil && isStop(err) {
			return w.stopped(ctx, batch, result, err)
		}

		batch.Tracker.RecordCompleted()
		percentage := batch.Tracker.Percentage(isPrimary, 1, i+1, len(records))

		if ok {
			result.Success++
			w.publish(ctx, batch, models.NewProgressEvent(models.ProgressRecordCompleted, "Record submitted", batch.ID).
				WithRecord(record.ID).
				WithWorker(w.index).
				WithCounts(batch.Tracker.Completed(), batch.Tracker.Total()).
				WithPercentage(percentage))
			continue
		}

		result.Failed++
		message := "Record failed"
		if err != nil {
			message = err.Error()
		}
		w.publish(ctx, batch, models.NewProgressEvent(models.ProgressRecordFailed, message, batch.ID).
			WithRecord(record.ID).
			WithWorker(w.index).
			WithCounts(batch.Tracker.Completed(), batch.Tracker.Total()).
			WithPercentage(percentage))
	}

	w.logger.Info().
		Str("batch_id", batch.ID).
		Int("worker", w.index).
		Int("success", result.Success).
		Int("failed", result.Failed).
		Msg("Worker finished")

	return result, nil
}

// processRecord navigates to the form and runs every step. A false result with a
// nil error is a record failure that has already been reported at step level.
// A panic is recovered and reported as a record fault.
func (w *Worker) processRecord(ctx context.Context, tab interfaces.Tab, record *models.Record, index, count int, batch *Batch, isPrimary bool) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			w.logger.Error().
				Str("batch_id", batch.ID).
				Str("record_id", record.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Recovered from panic while processing record")
			ok = false
			err = fmt.Errorf("record processing panicked: %v", r)
		}
	}()

	form := batch.Form
	totalSteps := len(form.Steps)

	w.publish(ctx, batch, models.NewProgressEvent(models.ProgressRecordStarted, fmt.Sprintf("Processing record %d of %d", index+1, count), batch.ID).
		WithRecord(record.ID).
		WithWorker(w.index))

	if err := tab.Navigate(ctx, form.EntryURL); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("navigation failed: %w", err)
	}
	if err := sleepContext(ctx, w.navigationDelay); err != nil {
		return false, err
	}
	if form.Controls.Ready != "" {
		ready, err := tab.Locate(ctx, form.Controls.Ready, w.readyTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("page did not load: %w", err)
		}
		if ready == nil {
			return false, fmt.Errorf("page did not load: %s not found", form.Controls.Ready)
		}
	}
	if isPrimary {
		w.publish(ctx, batch, models.NewProgressEvent(models.ProgressPageLoaded, "Form page loaded", batch.ID).
			WithRecord(record.ID).
			WithWorker(w.index))
	}

	for _, step := range form.Steps {
		if isPrimary {
			w.publish(ctx, batch, models.NewProgressEvent(models.ProgressStepStarted, fmt.Sprintf("Step %d of %d", step.Number, totalSteps), batch.ID).
				WithRecord(record.ID).
				WithWorker(w.index).
				WithStep(step.Number, totalSteps).
				WithPercentage(batch.Tracker.Percentage(true, step.Number, index, count)))
		}

		stepResult, err := batch.Executor.Execute(ctx, tab, record, step, form.IsTerminal(step), batch.State)
		if err != nil {
			return false, err
		}

		if !stepResult.Succeeded() {
			w.logger.Warn().
				Str("batch_id", batch.ID).
				Str("record_id", record.ID).
				Int("step", step.Number).
				Str("outcome", string(stepResult.Outcome)).
				Str("reason", stepResult.Reason).
				Int("attempts", stepResult.Attempts).
				Msg("Step failed")
			w.publish(ctx, batch, models.NewProgressEvent(models.ProgressStepFailed, stepResult.Reason, batch.ID).
				WithRecord(record.ID).
				WithWorker(w.index).
				WithStep(step.Number, totalSteps).
				WithError(stepResult.Reason))
			return false, nil
		}

		if isPrimary {
			w.publish(ctx, batch, models.NewProgressEvent(models.ProgressStepCompleted, fmt.Sprintf("Step %d of %d completed", step.Number, totalSteps), batch.ID).
				WithRecord(record.ID).
				WithWorker(w.index).
				WithStep(step.Number, totalSteps).
				WithPercentage(batch.Tracker.Percentage(true, step.Number+1, index, count)))
		}

		if stepResult.Outcome == models.StepSaved {
			record.ResultID = stepResult.ResultID
			w.publish(ctx, batch, models.NewProgressEvent(models.ProgressRecordSuccess, "Form saved", batch.ID).
				WithRecord(record.ID).
				WithWorker(w.index).
				WithResultID(stepResult.ResultID))
			return true, nil
		}
	}

	return false, fmt.Errorf("form ended without saving")
}

func (w *Worker) stopped(ctx context.Context, batch *Batch, result models.WorkerResult, err error) (models.WorkerResult, error) {
	result.Stopped = true

	w.logger.Info().
		Str("batch_id", batch.ID).
		Int("worker", w.index).
		Int("success", result.Success).
		Int("failed", result.Failed).
		Str("reason", err.Error()).
		Msg("Worker stopped")

	w.publish(context.WithoutCancel(ctx), batch, models.NewProgressEvent(models.ProgressWorkerStopped, "Worker stopped", batch.ID).
		WithWorker(w.index).
		WithCounts(batch.Tracker.Completed(), batch.Tracker.Total()).
		WithPercentage(batch.Tracker.Percentage(false, 0, 0, 0)))

	return result, err
}

func (w *Worker) publish(ctx context.Context, batch *Batch, event *models.Event) {
	if err := batch.Publisher.Publish(ctx, event); err != nil {
		w.logger.Warn().Err(err).Str("batch_id", batch.ID).Str("status", event.Status).Msg("Failed to publish event")
	}
}
