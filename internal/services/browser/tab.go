package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
)

// ChromeTab is a Tab backed by one chromedp target
type ChromeTab struct {
	id           string
	ctx          context.Context
	cancel       context.CancelFunc
	pollInterval time.Duration
	logger       arbor.ILogger

	closeOnce sync.Once
	closeErr  error
}

var _ interfaces.Tab = (*ChromeTab)(nil)

func newChromeTab(id string, ctx context.Context, cancel context.CancelFunc, config common.BrowserConfig, logger arbor.ILogger) *ChromeTab {
	return &ChromeTab{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		pollInterval: common.ParseDurationOr(config.PollInterval, 500*time.Millisecond),
		logger:       logger,
	}
}

// ID returns the tab identifier
func (t *ChromeTab) ID() string {
	return t.id
}

// run executes actions on the tab, bounded by the caller's context
func (t *ChromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithDeadline(runCtx, deadline)
		defer timeoutCancel()
	}

	return chromedp.Run(runCtx, actions...)
}

func (t *ChromeTab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Locate polls for selector until it matches or timeout elapses
func (t *ChromeTab) Locate(ctx context.Context, selector string, timeout time.Duration) (*interfaces.Element, error) {
	deadline := time.Now().Add(timeout)

	for {
		var nodes []*cdp.Node
		err := t.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
		if err != nil {
			return nil, fmt.Errorf("locate %s: %w", selector, err)
		}
		if len(nodes) > 0 {
			return &interfaces.Element{Selector: selector}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}
}

// ApplyFields sets all assignments with a single script evaluation
func (t *ChromeTab) ApplyFields(ctx context.Context, assignments []models.FieldAssignment) (models.FieldLedger, error) {
	var ledger models.FieldLedger
	if len(assignments) == 0 {
		return ledger, nil
	}

	payload, err := json.Marshal(assignments)
	if err != nil {
		return ledger, fmt.Errorf("failed to encode field assignments: %w", err)
	}

	if err := t.run(ctx, chromedp.Evaluate(fmt.Sprintf(applyFieldsScript, payload), &ledger)); err != nil {
		return ledger, fmt.Errorf("apply fields: %w", err)
	}

	t.logger.Debug().
		Str("tab_id", t.id).
		Int("succeeded", len(ledger.Succeeded)).
		Int("failed", len(ledger.Failed)).
		Msg("Bulk field application finished")

	return ledger, nil
}

func (t *ChromeTab) SelectOption(ctx context.Context, selector, value string) (bool, error) {
	var matched bool
	if err := t.run(ctx, chromedp.Evaluate(fmt.Sprintf(selectOptionScript, quote(selector), quote(value)), &matched)); err != nil {
		return false, fmt.Errorf("select option on %s: %w", selector, err)
	}
	return matched, nil
}

// Options reads the current option list of a <select>; an absent element yields no options
func (t *ChromeTab) Options(ctx context.Context, selector string) ([]models.Option, error) {
	var nodes []*cdp.Node
	if err := t.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("find %s: %w", selector, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	var html string
	if err := t.run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("read options of %s: %w", selector, err)
	}
	return ParseOptions(html)
}

func (t *ChromeTab) SetValue(ctx context.Context, selector, value string) error {
	var found bool
	if err := t.run(ctx, chromedp.Evaluate(fmt.Sprintf(setValueScript, quote(selector), quote(value)), &found)); err != nil {
		return fmt.Errorf("set value on %s: %w", selector, err)
	}
	if !found {
		return fmt.Errorf("element %s not found", selector)
	}
	return nil
}

func (t *ChromeTab) AttachFile(ctx context.Context, selector, path string) error {
	if err := t.run(ctx, chromedp.SetUploadFiles(selector, []string{path}, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("attach %s to %s: %w", path, selector, err)
	}
	return nil
}

func (t *ChromeTab) InvokeControl(ctx context.Context, element *interfaces.Element) error {
	if element == nil {
		return fmt.Errorf("invoke control: nil element")
	}
	if err := t.run(ctx, chromedp.Click(element.Selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("invoke %s: %w", element.Selector, err)
	}
	return nil
}

func (t *ChromeTab) CurrentLocation(ctx context.Context) (string, error) {
	var location string
	if err := t.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return location, nil
}

// close closes the target; repeated calls return the first result
func (t *ChromeTab) close() error {
	t.closeOnce.Do(func() {
		t.closeErr = chromedp.Cancel(t.ctx)
		t.cancel()
	})
	return t.closeErr
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
