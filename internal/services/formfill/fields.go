package formfill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
)

// errSkipField marks a field that is left untouched (no value, or a value that
// cannot be normalised). It is logged, never reported as a step failure.
var errSkipField = errors.New("field skipped")

// valueStrategy normalises a raw record value for one batched field kind
type valueStrategy func(raw string) (string, error)

// batchedStrategies covers every kind applied in the single bulk pass
var batchedStrategies = map[models.FieldKind]valueStrategy{
	models.FieldText:          normalizeText,
	models.FieldDate:          NormalizeDate,
	models.FieldBoolean:       normalizeBoolean,
	models.FieldSingleChoice:  normalizeText,
	models.FieldLabeledChoice: normalizeText,
}

// dateLayouts are the accepted record date formats, tried in order
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2006/01/02",
}

// NormalizeDate converts DD-MM-YYYY, DD/MM/YYYY, YYYY/MM/DD or YYYY-MM-DD into
// ISO 8601 (YYYY-MM-DD). A trailing time part is ignored.
func NormalizeDate(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if i := strings.IndexAny(value, " T"); i > 0 {
		value = value[:i]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%w: unrecognised date %q", errSkipField, raw)
}

func normalizeText(raw string) (string, error) {
	return strings.TrimSpace(raw), nil
}

func normalizeBoolean(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "y", "on", "checked":
		return "true", nil
	case "false", "0", "no", "n", "off", "":
		return "false", nil
	}
	return "", fmt.Errorf("%w: unrecognised boolean %q", errSkipField, raw)
}

// prepareAssignment turns a batched field into a bulk-pass assignment
func prepareAssignment(spec models.FieldSpec, record *models.Record) (models.FieldAssignment, error) {
	strategy, ok := batchedStrategies[spec.Kind]
	if !ok {
		return models.FieldAssignment{}, fmt.Errorf("kind %s is not applied in bulk", spec.Kind)
	}

	raw, ok := record.Value(spec.Name)
	if !ok || (strings.TrimSpace(raw) == "" && spec.Kind != models.FieldBoolean) {
		return models.FieldAssignment{}, fmt.Errorf("%w: record has no value for %s", errSkipField, spec.Name)
	}

	value, err := strategy(raw)
	if err != nil {
		return models.FieldAssignment{}, err
	}

	return models.FieldAssignment{
		Name:     spec.Name,
		Selector: spec.Selector,
		Kind:     spec.Kind,
		Value:    value,
	}, nil
}

// fieldApplier applies the fields of one step to a tab
type fieldApplier struct {
	resolver      *LocationResolver
	locateTimeout time.Duration
	logger        arbor.ILogger
}

// applyBulk sets every batched field in one round trip. Per-field failures are
// logged; only a tab fault is returned.
func (a *fieldApplier) applyBulk(ctx context.Context, tab interfaces.Tab, record *models.Record, fields []models.FieldSpec) error {
	assignments := make([]models.FieldAssignment, 0, len(fields))
	for _, spec := range fields {
		assignment, err := prepareAssignment(spec, record)
		if err != nil {
			a.logSkip(record, spec, err)
			continue
		}
		assignments = append(assignments, assignment)
	}
	if len(assignments) == 0 {
		return nil
	}

	ledger, err := tab.ApplyFields(ctx, assignments)
	if err != nil {
		return err
	}
	for _, failure := range ledger.Failed {
		a.logger.Warn().
			Str("record_id", record.ID).
			Str("field", failure.Name).
			Str("selector", failure.Selector).
			Str("reason", failure.Reason).
			Msg("Field could not be set")
	}
	return nil
}

// applyOne waits for a single field and applies it on its own. Used for ordered
// fields that change, or depend on, the rest of the page.
func (a *fieldApplier) applyOne(ctx context.Context, tab interfaces.Tab, record *models.Record, spec models.FieldSpec) error {
	if !spec.Kind.IsBatched() {
		return a.applyResolved(ctx, tab, record, spec)
	}

	assignment, err := prepareAssignment(spec, record)
	if err != nil {
		a.logSkip(record, spec, err)
		return nil
	}

	element, err := tab.Locate(ctx, spec.Selector, a.locateTimeout)
	if err != nil {
		return err
	}
	if element == nil {
		a.logger.Warn().Str("record_id", record.ID).Str("field", spec.Name).Msg("Ordered field did not appear")
		return nil
	}

	ledger, err := tab.ApplyFields(ctx, []models.FieldAssignment{assignment})
	if err != nil {
		return err
	}
	for _, failure := range ledger.Failed {
		a.logger.Warn().Str("record_id", record.ID).Str("field", failure.Name).Str("reason", failure.Reason).Msg("Ordered field could not be set")
	}
	return nil
}

// applyResolved handles location and attachment fields. Their failures are logged
// and do not abort the step; a cancelled context is returned.
func (a *fieldApplier) applyResolved(ctx context.Context, tab interfaces.Tab, record *models.Record, spec models.FieldSpec) error {
	var err error
	switch spec.Kind {
	case models.FieldLocation:
		err = a.resolver.Apply(ctx, tab, spec.Location, record)
	case models.FieldAttachment:
		err = applyAttachment(ctx, tab, record, spec)
	default:
		err = fmt.Errorf("unsupported field kind %s", spec.Kind)
	}

	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, errSkipField) {
		a.logSkip(record, spec, err)
		return nil
	}
	a.logger.Warn().Err(err).Str("record_id", record.ID).Str("field", spec.Name).Str("kind", string(spec.Kind)).Msg("Field could not be resolved")
	return nil
}

func (a *fieldApplier) logSkip(record *models.Record, spec models.FieldSpec, err error) {
	event := a.logger.Debug()
	if spec.Kind == models.FieldDate {
		event = a.logger.Warn()
	}
	event.Str("record_id", record.ID).Str("field", spec.Name).Str("reason", err.Error()).Msg("Field skipped")
}

func applyAttachment(ctx context.Context, tab interfaces.Tab, record *models.Record, spec models.FieldSpec) error {
	path, ok := record.Value(spec.Name)
	path = strings.TrimSpace(path)
	if !ok || path == "" {
		return fmt.Errorf("%w: record has no file for %s", errSkipField, spec.Name)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("attachment %s: %w", path, err)
	}
	return tab.AttachFile(ctx, spec.Selector, path)
}

// partitionFields groups a step's fields by when they are applied
func partitionFields(step models.Step) (leading, batched, resolved, trailing []models.FieldSpec) {
	for _, spec := range step.Fields {
		switch {
		case spec.Order == models.OrderLeading:
			leading = append(leading, spec)
		case spec.Order == models.OrderTrailing:
			trailing = append(trailing, spec)
		case spec.Kind.IsBatched():
			batched = append(batched, spec)
		default:
			resolved = append(resolved, spec)
		}
	}
	return leading, batched, resolved, trailing
}
