package formfill

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
	"github.com/ternarybob/formrunner/internal/services/control"
)

// ExecutorConfig bounds the waits and retries of the step executor
type ExecutorConfig struct {
	MaxRetries     int
	LocateTimeout  time.Duration
	ValidationWait time.Duration
	SettleDelay    time.Duration
	SubmitDelay    time.Duration
}

// NewExecutorConfig derives executor settings from the application config
func NewExecutorConfig(config *common.Config) ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:     config.Batch.MaxRetries,
		LocateTimeout:  common.ParseDurationOr(config.Browser.LocateTimeout, 10*time.Second),
		ValidationWait: common.ParseDurationOr(config.Browser.ValidationWait, 5*time.Second),
		SettleDelay:    common.ParseDurationOr(config.Browser.SettleDelay, time.Second),
		SubmitDelay:    common.ParseDurationOr(config.Browser.SubmitDelay, 5*time.Second),
	}
}

// StepExecutor applies one step of a form to one record
type StepExecutor struct {
	controls models.FormControls
	storage  interfaces.RecordStorage
	fields   *fieldApplier
	config   ExecutorConfig
	logger   arbor.ILogger
}

// NewStepExecutor creates an executor for a form's controls
func NewStepExecutor(controls models.FormControls, storage interfaces.RecordStorage, resolver *LocationResolver, config ExecutorConfig, logger arbor.ILogger) *StepExecutor {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &StepExecutor{
		controls: controls,
		storage:  storage,
		fields: &fieldApplier{
			resolver:      resolver,
			locateTimeout: config.LocateTimeout,
			logger:        logger,
		},
		config: config,
		logger: logger,
	}
}

// Execute runs one step with up to MaxRetries retries after a validation error.
// Tab and store faults are folded into a StepFailed result. The only errors
// returned are control.ErrStopped and context cancellation.
func (e *StepExecutor) Execute(ctx context.Context, tab interfaces.Tab, record *models.Record, step models.Step, isLastStep bool, state *control.State) (models.StepResult, error) {
	result := models.StepResult{}

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if err := state.Checkpoint(ctx); err != nil {
			return result, err
		}

		if attempt > 0 {
			e.logger.Info().
				Str("record_id", record.ID).
				Int("step", step.Number).
				Int("attempt", attempt+1).
				Msg("Retrying step after validation error")
		}

		if err := e.applyStepFields(ctx, tab, record, step); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			return e.failed(result, err.Error()), nil
		}

		if isLastStep {
			return e.finalize(ctx, tab, record, result)
		}

		advance, err := tab.Locate(ctx, e.controls.Advance, e.config.LocateTimeout)
		if err != nil {
			return e.fault(ctx, result, err)
		}
		if advance == nil {
			result.Outcome = models.StepNoFurtherStep
			result.Reason = models.ReasonAdvanceAbsent
			return result, nil
		}

		if err := tab.InvokeControl(ctx, advance); err != nil {
			return e.fault(ctx, result, err)
		}

		indicator, err := tab.Locate(ctx, e.controls.ValidationError, e.config.ValidationWait)
		if err != nil {
			return e.fault(ctx, result, err)
		}
		if indicator == nil {
			result.Outcome = models.StepContinue
			return result, nil
		}

		e.logger.Warn().
			Str("record_id", record.ID).
			Int("step", step.Number).
			Int("attempt", attempt+1).
			Msg("Validation error shown after advancing")
	}

	return e.failed(result, models.ReasonValidationExceeded), nil
}

// applyStepFields runs leading fields, the bulk pass, resolved kinds and trailing
// fields, in that order
func (e *StepExecutor) applyStepFields(ctx context.Context, tab interfaces.Tab, record *models.Record, step models.Step) error {
	leading, batched, resolved, trailing := partitionFields(step)

	for _, spec := range leading {
		if err := e.fields.applyOne(ctx, tab, record, spec); err != nil {
			return fmt.Errorf("leading field %s: %w", spec.Name, err)
		}
	}

	if err := e.fields.applyBulk(ctx, tab, record, batched); err != nil {
		return fmt.Errorf("bulk field pass: %w", err)
	}
	if len(batched) > 0 {
		if err := sleepContext(ctx, e.config.SettleDelay); err != nil {
			return err
		}
	}

	for _, spec := range resolved {
		if err := e.fields.applyResolved(ctx, tab, record, spec); err != nil {
			return err
		}
	}

	for _, spec := range trailing {
		if err := e.fields.applyOne(ctx, tab, record, spec); err != nil {
			return fmt.Errorf("trailing field %s: %w", spec.Name, err)
		}
	}

	return nil
}

// finalize saves the form, reads the result identifier and persists it
func (e *StepExecutor) finalize(ctx context.Context, tab interfaces.Tab, record *models.Record, result models.StepResult) (models.StepResult, error) {
	save, err := tab.Locate(ctx, e.controls.Finalize, e.config.LocateTimeout)
	if err != nil {
		return e.fault(ctx, result, err)
	}
	if save == nil {
		return e.failed(result, models.ReasonSaveControlAbsent), nil
	}

	if err := tab.InvokeControl(ctx, save); err != nil {
		return e.fault(ctx, result, err)
	}
	if err := sleepContext(ctx, e.config.SubmitDelay); err != nil {
		return result, err
	}

	location, err := tab.CurrentLocation(ctx)
	if err != nil {
		return e.fault(ctx, result, err)
	}

	resultID := ResultIDFromLocation(location)
	if resultID == "" {
		return e.failed(result, models.ReasonNoResultID), nil
	}

	if err := e.storage.MarkRecordResult(ctx, record.ID, resultID); err != nil {
		return e.failed(result, fmt.Sprintf("failed to store result %s: %v", resultID, err)), nil
	}

	result.Outcome = models.StepSaved
	result.ResultID = resultID
	return result, nil
}

// fault converts a tab error into a failed result unless the context ended
func (e *StepExecutor) fault(ctx context.Context, result models.StepResult, err error) (models.StepResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	return e.failed(result, err.Error()), nil
}

func (e *StepExecutor) failed(result models.StepResult, reason string) models.StepResult {
	result.Outcome = models.StepFailed
	result.Reason = reason
	return result
}

// ResultIDFromLocation takes the last path segment of the page location after
// saving. Query string and fragment are ignored.
func ResultIDFromLocation(location string) string {
	path := location
	if u, err := url.Parse(location); err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return strings.TrimSpace(path)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isStop reports whether err ends a worker's queue rather than a single record
func isStop(err error) bool {
	return errors.Is(err, control.ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
