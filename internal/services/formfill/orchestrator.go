package formfill

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
	"github.com/ternarybob/formrunner/internal/services/control"
	"github.com/ternarybob/formrunner/internal/services/progress"
	"golang.org/x/sync/errgroup"
)

// BatchRequest describes one batch to run
type BatchRequest struct {
	BatchID string
	Workers int
	Form    *models.FormDefinition
}

// Orchestrator runs batches: it fetches the records, splits them across tabs,
// runs one worker per tab and aggregates the results
type Orchestrator struct {
	storage   interfaces.RecordStorage
	tabs      interfaces.TabProvider
	publisher interfaces.EventPublisher
	resolver  *LocationResolver
	config    *common.Config
	logger    arbor.ILogger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(storage interfaces.RecordStorage, tabs interfaces.TabProvider, publisher interfaces.EventPublisher, resolver *LocationResolver, config *common.Config, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		storage:   storage,
		tabs:      tabs,
		publisher: publisher,
		resolver:  resolver,
		config:    config,
		logger:    logger,
	}
}

// Run processes a batch to completion, stop, or failure. The outcome is always
// returned; faults are reported through the outcome and the event stream.
func (o *Orchestrator) Run(ctx context.Context, req BatchRequest, state *control.State) models.BatchOutcome {
	startTime := time.Now()
	outcome := models.BatchOutcome{BatchID: req.BatchID}

	if req.Form == nil || len(req.Form.Steps) == 0 {
		return o.fail(ctx, outcome, fmt.Errorf("batch %s has no form definition", req.BatchID))
	}

	o.publish(ctx, models.NewProgressEvent(models.ProgressFetchingData, "Fetching records", req.BatchID))

	records, err := o.storage.FindByBatch(ctx, req.BatchID)
	if err != nil {
		return o.fail(ctx, outcome, fmt.Errorf("failed to fetch records: %w", err))
	}

	if len(records) == 0 {
		o.logger.Info().Str("batch_id", req.BatchID).Msg("No records found for batch")
		o.publish(ctx, models.NewProgressEvent(models.ProgressNoRecords, "No records found for batch", req.BatchID))
		outcome.Status = models.StatusNoRecords
		outcome.Message = "No records found for batch"
		return outcome
	}

	outcome.Total = len(records)
	o.publish(ctx, models.NewProgressEvent(models.ProgressDataFetched, fmt.Sprintf("Fetched %d records", len(records)), req.BatchID).
		WithCounts(0, len(records)))

	requested := req.Workers
	if requested < 1 {
		requested = o.config.Batch.DefaultWorkers
	}
	if o.config.Batch.MaxWorkers > 0 && requested > o.config.Batch.MaxWorkers {
		requested = o.config.Batch.MaxWorkers
	}
	if requested > len(records) {
		requested = len(records)
	}

	tabs, acquired, err := o.acquireTabs(ctx, requested)
	if err != nil {
		return o.fail(ctx, outcome, err)
	}
	defer o.releaseTabs(tabs)
	if state != nil {
		state.AttachTabs(acquired)
	}

	slices := Distribute(records, len(tabs))
	outcome.Workers = len(slices)

	o.logger.Info().
		Str("batch_id", req.BatchID).
		Int("records", len(records)).
		Int("requested_workers", req.Workers).
		Int("workers", len(slices)).
		Str("form", req.Form.Name).
		Msg("Starting batch")

	batch := &Batch{
		ID:        req.BatchID,
		Form:      req.Form,
		State:     state,
		Tracker:   progress.NewTracker(len(records), len(req.Form.Steps), req.Form.Weights),
		Executor:  NewStepExecutor(req.Form.Controls, o.storage, o.resolver, NewExecutorConfig(o.config), o.logger),
		Publisher: o.publisher,
	}

	results := make([]models.WorkerResult, len(slices))
	var g errgroup.Group
	for i := range slices {
		index := i
		slice := slices[i]
		tab := tabs[i]

		o.publish(ctx, models.NewProgressEvent(models.ProgressNavigating, fmt.Sprintf("Worker %d opening form", index), req.BatchID).
			WithWorker(index).
			WithCounts(0, len(slice)).
			WithPercentage(batch.Tracker.Percentage(false, 0, 0, 0)))

		g.Go(func() error {
			results[index] = o.runWorker(ctx, index, tab, slice, batch)
			return nil
		})
	}
	_ = g.Wait()

	stopped := false
	for _, r := range results {
		outcome.Success += r.Success
		outcome.Failed += r.Failed
		if r.Stopped {
			stopped = true
		}
	}

	duration := time.Since(startTime)
	ended := context.WithoutCancel(ctx)

	if stopped {
		outcome.Status = models.StatusStopped
		outcome.Message = fmt.Sprintf("Batch stopped: %d succeeded, %d failed of %d", outcome.Success, outcome.Failed, outcome.Total)
		o.logger.Info().
			Str("batch_id", req.BatchID).
			Int("success", outcome.Success).
			Int("failed", outcome.Failed).
			Dur("duration", duration).
			Msg("Batch stopped")
		return outcome
	}

	outcome.Status = models.StatusSuccess
	outcome.Message = fmt.Sprintf("Batch completed: %d succeeded, %d failed of %d", outcome.Success, outcome.Failed, outcome.Total)
	o.publish(ended, models.NewProgressEvent(models.ProgressBatchCompleted, outcome.Message, req.BatchID).
		WithCounts(outcome.Total, outcome.Total).
		WithPercentage(batch.Tracker.Final()).
		WithOutcome(outcome.Success, outcome.Failed, outcome.Workers))

	o.logger.Info().
		Str("batch_id", req.BatchID).
		Int("success", outcome.Success).
		Int("failed", outcome.Failed).
		Int("workers", outcome.Workers).
		Dur("duration", duration).
		Msg("Batch completed")

	return outcome
}

// runWorker runs one worker and turns a panic into a failed slice
func (o *Orchestrator) runWorker(ctx context.Context, index int, tab interfaces.Tab, slice []*models.Record, batch *Batch) (result models.WorkerResult) {
	result = models.WorkerResult{Worker: index}

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			o.logger.Error().
				Str("batch_id", batch.ID).
				Int("worker", index).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Recovered from panic in worker")
			result.Failed = len(slice) - result.Success
		}
	}()

	worker := NewWorker(index,
		common.ParseDurationOr(o.config.Browser.NavigationDelay, 2*time.Second),
		common.ParseDurationOr(o.config.Browser.LocateTimeout, 10*time.Second),
		o.logger)

	result, err := worker.Run(ctx, tab, slice, batch, index == 0)
	if err != nil && !isStop(err) {
		o.logger.Warn().Err(err).Str("batch_id", batch.ID).Int("worker", index).Msg("Worker ended with error")
		result.Failed = len(slice) - result.Success
	}
	if err != nil && isStop(err) {
		result.Stopped = true
	}
	return result
}

// acquireTabs returns the tabs to use: the primary tab first when its lease is free,
// then freshly acquired ones. A batch that finds the primary tab leased runs on
// fresh tabs only. An acquisition failure shrinks the worker count to the tabs
// obtained.
func (o *Orchestrator) acquireTabs(ctx context.Context, count int) (tabs, acquired []interfaces.Tab, err error) {
	primary, err := o.tabs.Primary(ctx)
	switch {
	case err == nil:
		tabs = append(tabs, primary)
	case errors.Is(err, interfaces.ErrPrimaryBusy):
		o.logger.Debug().Msg("Primary tab leased by another batch - using fresh tabs")
	default:
		return nil, nil, fmt.Errorf("failed to get primary tab: %w", err)
	}

	for len(tabs) < count {
		tab, err := o.tabs.Acquire(ctx)
		if err != nil {
			o.logger.Warn().
				Err(err).
				Int("requested", count).
				Int("obtained", len(tabs)).
				Msg("Failed to acquire tab - continuing with fewer workers")
			if len(tabs) == 0 {
				return nil, nil, fmt.Errorf("no browser tab available: %w", err)
			}
			break
		}
		tabs = append(tabs, tab)
		acquired = append(acquired, tab)
	}

	return tabs, acquired, nil
}

func (o *Orchestrator) releaseTabs(tabs []interfaces.Tab) {
	for _, tab := range tabs {
		if err := o.tabs.Release(tab); err != nil {
			o.logger.Warn().Err(err).Str("tab_id", tab.ID()).Msg("Failed to release tab")
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, outcome models.BatchOutcome, err error) models.BatchOutcome {
	o.logger.Error().Err(err).Str("batch_id", outcome.BatchID).Msg("Batch failed")

	outcome.Status = models.StatusFailed
	outcome.Message = "Batch failed"
	outcome.Error = err.Error()

	o.publish(context.WithoutCancel(ctx), models.NewProgressEvent(models.ProgressBatchFailed, outcome.Message, outcome.BatchID).
		WithError(outcome.Error))
	return outcome
}

func (o *Orchestrator) publish(ctx context.Context, event *models.Event) {
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn().Err(err).Str("batch_id", event.BatchID).Str("status", event.Status).Msg("Failed to publish event")
	}
}
