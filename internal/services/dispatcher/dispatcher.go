package dispatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
	"github.com/ternarybob/formrunner/internal/services/control"
	"github.com/ternarybob/formrunner/internal/services/formfill"
)

const maxCommandLine = 1024 * 1024

// BatchRunner runs one batch to a terminal outcome
type BatchRunner interface {
	Run(ctx context.Context, req formfill.BatchRequest, state *control.State) models.BatchOutcome
}

// TabCloser releases browser tabs: one batch's tabs on stop, every non-primary
// tab on shutdown
type TabCloser interface {
	Release(tab interfaces.Tab) error
	CloseSecondary() int
}

// Dispatcher is the command loop. Commands are handled one at a time; batches run
// in background goroutines and report their final result themselves.
type Dispatcher struct {
	registry  *control.Registry
	runner    BatchRunner
	forms     interfaces.FormCatalog
	tabs      TabCloser
	publisher interfaces.EventPublisher
	config    *common.Config
	validate  *validator.Validate
	logger    arbor.ILogger

	lines    chan string
	taskDone chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// NewDispatcher creates a dispatcher. tabs may be nil when no browser is attached.
func NewDispatcher(
	registry *control.Registry,
	runner BatchRunner,
	forms interfaces.FormCatalog,
	tabs TabCloser,
	publisher interfaces.EventPublisher,
	config *common.Config,
	logger arbor.ILogger,
) *Dispatcher {
	validate := validator.New()
	validate.RegisterStructValidation(validateCommand, models.Command{})

	return &Dispatcher{
		registry:  registry,
		runner:    runner,
		forms:     forms,
		tabs:      tabs,
		publisher: publisher,
		config:    config,
		validate:  validate,
		logger:    logger,
		lines:     make(chan string),
		taskDone:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func validateCommand(sl validator.StructLevel) {
	cmd := sl.Current().Interface().(models.Command)
	if cmd.RequiresBatch() && strings.TrimSpace(cmd.BatchID) == "" {
		sl.ReportError(cmd.BatchID, "BatchID", "batchId", "required", "")
	}
}

// Submit queues a raw command line from a secondary source (WebSocket clients).
// Lines submitted after the loop has exited are dropped.
func (d *Dispatcher) Submit(line string) {
	select {
	case d.lines <- line:
	case <-d.done:
		d.logger.Warn().Str("line", line).Msg("Command dropped - dispatcher is not running")
	}
}

// Run reads line-delimited commands from input until a close command, context
// cancellation, or end of input. After end of input the loop keeps serving
// submitted commands until every running batch has finished.
func (d *Dispatcher) Run(ctx context.Context, input io.Reader) error {
	defer d.doneOnce.Do(func() { close(d.done) })

	readerDone := make(chan error, 1)
	common.SafeGo(d.logger, "command-reader", func() {
		readerDone <- d.read(ctx, input)
	})

	d.logger.Info().Msg("Command loop started")

	var (
		inputClosed bool
		inputErr    error
	)
	for {
		if inputClosed && d.registry.Len() == 0 {
			d.logger.Info().Msg("Command input closed and no batches running - command loop finished")
			return inputErr
		}

		select {
		case <-ctx.Done():
			d.stopAll()
			d.waitForBatches(d.shutdownTimeout())
			return ctx.Err()

		case line := <-d.lines:
			if d.handle(ctx, line) {
				return nil
			}

		case err := <-readerDone:
			inputClosed = true
			inputErr = err
			readerDone = nil
			if d.registry.Len() > 0 {
				d.logger.Info().Int("active_batches", d.registry.Len()).Msg("Command input closed - waiting for running batches")
			}

		case <-d.taskDone:
		}
	}
}

func (d *Dispatcher) read(ctx context.Context, input io.Reader) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCommandLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case d.lines <- line:
		case <-d.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read commands: %w", err)
	}
	return nil
}

// handle processes one command line and reports whether the loop should exit
func (d *Dispatcher) handle(ctx context.Context, line string) bool {
	var cmd models.Command
	if err := json.Unmarshal([]byte(line), &cmd); err != nil {
		d.logger.Warn().Err(err).Str("line", line).Msg("Malformed command")
		event := models.NewResultEvent(models.StatusFailed, "Malformed command", nil).WithError(err.Error())
		event.Received = line
		d.publish(ctx, event)
		return false
	}

	if !cmd.IsSupported() {
		d.logger.Warn().Str("action", cmd.Action).Msg("Unknown action")
		event := models.NewResultEvent(models.StatusFailed, fmt.Sprintf("Unknown action: %s", cmd.Action), cmd.CommandID)
		event.SupportedActions = models.SupportedActions
		d.publish(ctx, event)
		return false
	}

	if err := d.validate.Struct(cmd); err != nil {
		d.logger.Warn().Err(err).Str("action", cmd.Action).Msg("Invalid command")
		event := models.NewResultEvent(models.StatusFailed, "Invalid command", cmd.CommandID).
			WithBatch(cmd.BatchID).
			WithError(err.Error())
		event.Received = line
		d.publish(ctx, event)
		return false
	}

	d.logger.Debug().
		Str("action", cmd.NormalizedAction()).
		Str("batch_id", cmd.BatchID).
		Str("command_id", cmd.CorrelationID()).
		Msg("Command received")

	switch cmd.NormalizedAction() {
	case models.ActionStartBatch:
		d.startBatch(ctx, &cmd)
	case models.ActionPause:
		d.setPaused(ctx, &cmd, true)
	case models.ActionResume:
		d.setPaused(ctx, &cmd, false)
	case models.ActionStop:
		d.stop(ctx, &cmd)
	case models.ActionPing:
		d.publish(ctx, models.NewResultEvent(models.StatusSuccess, "pong", cmd.CommandID))
	case models.ActionStatus:
		d.status(ctx, &cmd)
	case models.ActionClose:
		d.close(ctx, &cmd)
		return true
	}
	return false
}

func (d *Dispatcher) startBatch(ctx context.Context, cmd *models.Command) {
	if d.registry.LookupByBatch(cmd.BatchID) != nil {
		d.publish(ctx, models.NewResultEvent(models.StatusFailed,
			fmt.Sprintf("batch %s is already running", cmd.BatchID), cmd.CommandID).WithBatch(cmd.BatchID))
		return
	}

	formName := cmd.FormName
	if formName == "" {
		formName = d.config.Batch.DefaultForm
	}
	form, err := d.forms.Get(formName)
	if err != nil {
		d.publish(ctx, models.NewResultEvent(models.StatusFailed, "Unknown form", cmd.CommandID).
			WithBatch(cmd.BatchID).
			WithError(err.Error()))
		return
	}

	taskID := common.NewTaskID()
	state := d.registry.Create(taskID, cmd.BatchID)

	started := models.NewProgressEvent(models.ProgressStarted, fmt.Sprintf("Starting batch %s", cmd.BatchID), cmd.BatchID).
		WithPercentage(0)
	if len(cmd.RecordIDs) > 0 {
		started.WithCounts(0, len(cmd.RecordIDs))
	}
	d.publish(ctx, started)

	req := formfill.BatchRequest{
		BatchID: cmd.BatchID,
		Workers: cmd.Workers,
		Form:    form,
	}
	commandID := cmd.CommandID

	// The acknowledgment goes out before the task starts so it always precedes the final result
	d.publish(ctx, models.NewResultEvent(models.StatusAcknowledged,
		fmt.Sprintf("Batch %s accepted", cmd.BatchID), cmd.CommandID).WithBatch(cmd.BatchID))

	common.SafeGo(d.logger, "batch:"+cmd.BatchID, func() {
		d.runBatch(ctx, taskID, req, state, commandID)
	})
}

func (d *Dispatcher) runBatch(ctx context.Context, taskID string, req formfill.BatchRequest, state *control.State, commandID json.RawMessage) {
	defer d.notifyTaskDone()
	defer d.registry.Cleanup(taskID)

	outcome := d.runRecovered(ctx, req, state)

	result := models.NewResultEvent(outcome.Status, outcome.Message, commandID).
		WithBatch(req.BatchID).
		WithOutcome(outcome.Success, outcome.Failed, outcome.Workers).
		WithError(outcome.Error)
	if outcome.Total > 0 {
		result.WithCounts(outcome.Success+outcome.Failed, outcome.Total)
	}
	d.publish(context.WithoutCancel(ctx), result)

	d.logger.Info().
		Str("batch_id", req.BatchID).
		Str("task_id", taskID).
		Str("status", outcome.Status).
		Int("success", outcome.Success).
		Int("failed", outcome.Failed).
		Msg("Batch task finished")
}

// runRecovered runs the batch, converting a panic into a FAILED outcome so the
// final result is always reported
func (d *Dispatcher) runRecovered(ctx context.Context, req formfill.BatchRequest, state *control.State) (outcome models.BatchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("batch_id", req.BatchID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Batch task panicked")
			outcome = models.BatchOutcome{
				BatchID: req.BatchID,
				Status:  models.StatusFailed,
				Message: "Batch task failed",
				Error:   fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return d.runner.Run(ctx, req, state)
}

func (d *Dispatcher) setPaused(ctx context.Context, cmd *models.Command, paused bool) {
	if err := d.registry.SetPaused(cmd.BatchID, paused); err != nil {
		d.publish(ctx, models.NewResultEvent(models.StatusFailed, err.Error(), cmd.CommandID).WithBatch(cmd.BatchID))
		return
	}

	status, message := models.StatusResumed, fmt.Sprintf("Batch %s resumed", cmd.BatchID)
	if paused {
		status, message = models.StatusPaused, fmt.Sprintf("Batch %s paused", cmd.BatchID)
	}
	d.publish(ctx, models.NewResultEvent(status, message, cmd.CommandID).WithBatch(cmd.BatchID))
}

func (d *Dispatcher) stop(ctx context.Context, cmd *models.Command) {
	state := d.registry.LookupByBatch(cmd.BatchID)
	if err := d.registry.SetStopped(cmd.BatchID, true); err != nil {
		d.publish(ctx, models.NewResultEvent(models.StatusFailed, err.Error(), cmd.CommandID).WithBatch(cmd.BatchID))
		return
	}

	d.releaseBatchTabs(state)
	d.publish(ctx, models.NewResultEvent(models.StatusStopped,
		fmt.Sprintf("Batch %s stopping", cmd.BatchID), cmd.CommandID).WithBatch(cmd.BatchID))
}

func (d *Dispatcher) status(ctx context.Context, cmd *models.Command) {
	event := models.NewResultEvent(models.StatusSuccess, "status", cmd.CommandID)
	event.ActiveBatches = d.ActiveBatches()
	d.publish(ctx, event)
}

func (d *Dispatcher) close(ctx context.Context, cmd *models.Command) {
	active := d.stopAll()
	drained := d.waitForBatches(d.shutdownTimeout())

	message := "Closed"
	if !drained {
		message = fmt.Sprintf("Closed with %d batches still draining", d.registry.Len())
		d.logger.Warn().Int("active_batches", d.registry.Len()).Msg("Shutdown timeout reached with batches still running")
	}
	event := models.NewResultEvent(models.StatusSuccess, message, cmd.CommandID)
	event.ActiveBatches = active
	d.publish(ctx, event)
}

// ActiveBatches lists the ids of running batches
func (d *Dispatcher) ActiveBatches() []string {
	states := d.registry.Active()
	ids := make([]string, 0, len(states))
	for _, state := range states {
		ids = append(ids, state.BatchID)
	}
	return ids
}

// stopAll raises the stop flag of every running batch and returns their ids
func (d *Dispatcher) stopAll() []string {
	ids := d.ActiveBatches()
	for _, id := range ids {
		if err := d.registry.SetStopped(id, true); err != nil {
			d.logger.Debug().Err(err).Str("batch_id", id).Msg("Batch finished before stop")
		}
	}
	if len(ids) > 0 {
		d.closeSecondaryTabs()
	}
	return ids
}

// releaseBatchTabs closes the tabs a stopped batch acquired. Other batches keep theirs.
func (d *Dispatcher) releaseBatchTabs(state *control.State) {
	if d.tabs == nil || state == nil || !d.config.Browser.ReleaseOnStopAll {
		return
	}
	released := 0
	for _, tab := range state.DetachTabs() {
		if err := d.tabs.Release(tab); err != nil {
			d.logger.Warn().Err(err).Str("batch_id", state.BatchID).Str("tab_id", tab.ID()).Msg("Failed to release tab")
			continue
		}
		released++
	}
	d.logger.Debug().Str("batch_id", state.BatchID).Int("released_tabs", released).Msg("Released batch tabs")
}

func (d *Dispatcher) closeSecondaryTabs() {
	if d.tabs == nil || !d.config.Browser.ReleaseOnStopAll {
		return
	}
	closed := d.tabs.CloseSecondary()
	d.logger.Debug().Int("closed_tabs", closed).Msg("Released secondary tabs")
}

// waitForBatches blocks until no batch is running or the timeout passes
func (d *Dispatcher) waitForBatches(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for d.registry.Len() > 0 {
		select {
		case <-d.taskDone:
		case <-timer.C:
			return d.registry.Len() == 0
		}
	}
	return true
}

func (d *Dispatcher) notifyTaskDone() {
	select {
	case d.taskDone <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) shutdownTimeout() time.Duration {
	return common.ParseDurationOr(d.config.Batch.ShutdownTimeout, 30*time.Second)
}

func (d *Dispatcher) publish(ctx context.Context, event *models.Event) {
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn().Err(err).Str("status", event.Status).Msg("Failed to publish event")
	}
}
