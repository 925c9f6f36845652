package formfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
)

const (
	selAdvance    = "#next"
	selFinalize   = "#save"
	selValidation = "#error"
)

// MockRecordStorage is a mock implementation of RecordStorage
type MockRecordStorage struct {
	mock.Mock
}

func (m *MockRecordStorage) FindByBatch(ctx context.Context, batchID string) ([]*models.Record, error) {
	args := m.Called(ctx, batchID)
	if records, ok := args.Get(0).([]*models.Record); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecordStorage) MarkRecordResult(ctx context.Context, recordID, resultID string) error {
	args := m.Called(ctx, recordID, resultID)
	return args.Error(0)
}

func (m *MockRecordStorage) SaveRecord(ctx context.Context, record *models.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockRecordStorage) GetRecord(ctx context.Context, recordID string) (*models.Record, error) {
	args := m.Called(ctx, recordID)
	if record, ok := args.Get(0).(*models.Record); ok {
		return record, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecordStorage) DeleteBatch(ctx context.Context, batchID string) (int, error) {
	args := m.Called(ctx, batchID)
	return args.Int(0), args.Error(1)
}

// fakeTab is an in-memory Tab. Every selector is present unless listed in missing;
// the validation indicator appears validationErrors times (-1 means always).
type fakeTab struct {
	mu sync.Mutex

	id               string
	missing          map[string]bool
	validationErrors int
	location         string
	options          map[string][]models.Option
	navigateErr      error
	onInvoke         func(selector string)

	navigations int
	applied     [][]models.FieldAssignment
	invoked     []string
	selected    map[string]string
	attached    map[string]string
	optionReads map[string]int
}

func newFakeTab(id string) *fakeTab {
	return &fakeTab{
		id:          id,
		missing:     make(map[string]bool),
		location:    "https://forms.example.com/report/" + id,
		options:     make(map[string][]models.Option),
		selected:    make(map[string]string),
		attached:    make(map[string]string),
		optionReads: make(map[string]int),
	}
}

func (t *fakeTab) ID() string { return t.id }

func (t *fakeTab) Navigate(ctx context.Context, url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.navigations++
	return t.navigateErr
}

func (t *fakeTab) Locate(ctx context.Context, selector string, timeout time.Duration) (*interfaces.Element, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if selector == selValidation {
		if t.validationErrors == 0 {
			return nil, nil
		}
		if t.validationErrors > 0 {
			t.validationErrors--
		}
		return &interfaces.Element{Selector: selector}, nil
	}
	if t.missing[selector] {
		return nil, nil
	}
	return &interfaces.Element{Selector: selector}, nil
}

func (t *fakeTab) ApplyFields(ctx context.Context, assignments []models.FieldAssignment) (models.FieldLedger, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.applied = append(t.applied, assignments)
	var ledger models.FieldLedger
	for _, a := range assignments {
		if t.missing[a.Selector] {
			ledger.Failed = append(ledger.Failed, models.FieldFailure{Name: a.Name, Selector: a.Selector, Reason: "element not found"})
			continue
		}
		ledger.Succeeded = append(ledger.Succeeded, a.Name)
	}
	return ledger, nil
}

func (t *fakeTab) SelectOption(ctx context.Context, selector, value string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.missing[selector] {
		return false, nil
	}
	t.selected[selector] = value
	return true, nil
}

func (t *fakeTab) Options(ctx context.Context, selector string) ([]models.Option, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.optionReads[selector]++
	return t.options[selector], nil
}

func (t *fakeTab) SetValue(ctx context.Context, selector, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selected[selector] = value
	return nil
}

func (t *fakeTab) AttachFile(ctx context.Context, selector, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached[selector] = path
	return nil
}

func (t *fakeTab) InvokeControl(ctx context.Context, element *interfaces.Element) error {
	t.mu.Lock()
	t.invoked = append(t.invoked, element.Selector)
	hook := t.onInvoke
	t.mu.Unlock()

	if hook != nil {
		hook(element.Selector)
	}
	return nil
}

func (t *fakeTab) CurrentLocation(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location, nil
}

// sideEffects counts apply and invoke calls
func (t *fakeTab) sideEffects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.applied) + len(t.invoked)
}

func (t *fakeTab) invokedCount(selector string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.invoked {
		if s == selector {
			n++
		}
	}
	return n
}

// fakeProvider hands out fakeTabs; acquisition fails once maxTabs is reached.
// The primary tab is leased like the browser pool's.
type fakeProvider struct {
	mu       sync.Mutex
	primary  *fakeTab
	leased   bool
	maxTabs  int
	tabs     []*fakeTab
	released []string
	setup    func(*fakeTab)
}

func newFakeProvider(setup func(*fakeTab)) *fakeProvider {
	p := &fakeProvider{setup: setup}
	p.primary = p.newTab("primary")
	return p
}

func (p *fakeProvider) newTab(id string) *fakeTab {
	tab := newFakeTab(id)
	if p.setup != nil {
		p.setup(tab)
	}
	return tab
}

func (p *fakeProvider) Primary(ctx context.Context) (interfaces.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.leased {
		return nil, interfaces.ErrPrimaryBusy
	}
	p.leased = true
	return p.primary, nil
}

func (p *fakeProvider) primaryLeased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leased
}

func (p *fakeProvider) Acquire(ctx context.Context) (interfaces.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxTabs > 0 && len(p.tabs)+1 >= p.maxTabs {
		return nil, errors.New("no more tabs")
	}
	tab := p.newTab(fmt.Sprintf("tab%d", len(p.tabs)+1))
	p.tabs = append(p.tabs, tab)
	return tab, nil
}

func (p *fakeProvider) Release(tab interfaces.Tab) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tab.ID() == p.primary.ID() {
		p.leased = false
	}
	p.released = append(p.released, tab.ID())
	return nil
}

func (p *fakeProvider) CloseSecondary() int { return 0 }

func (p *fakeProvider) Close() error { return nil }

// recordingPublisher keeps every published event in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) byStatus(status string) []*models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Event
	for _, e := range p.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) all() []*models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Event, len(p.events))
	copy(out, p.events)
	return out
}

func testConfig() *common.Config {
	config := common.NewDefaultConfig()
	config.Batch.MaxRetries = 2
	config.Browser.LocateTimeout = "10ms"
	config.Browser.ValidationWait = "10ms"
	config.Browser.SettleDelay = "0s"
	config.Browser.SubmitDelay = "0s"
	config.Browser.NavigationDelay = "0s"
	config.Browser.OptionTimeout = "50ms"
	config.Browser.OptionInterval = "5ms"
	return config
}

// testForm has n steps with one text field each
func testForm(n int) *models.FormDefinition {
	form := &models.FormDefinition{
		Name:     "test-form",
		EntryURL: "https://forms.example.com/report/create",
		Controls: models.FormControls{
			Advance:         selAdvance,
			Finalize:        selFinalize,
			ValidationError: selValidation,
		},
	}
	for i := 1; i <= n; i++ {
		form.Steps = append(form.Steps, models.Step{
			Number: i,
			Name:   fmt.Sprintf("step-%d", i),
			Fields: []models.FieldSpec{{Name: fmt.Sprintf("field%d", i), Selector: fmt.Sprintf("#field%d", i), Kind: models.FieldText}},
		})
	}
	return form
}

func testRecords(batchID string, n int) []*models.Record {
	records := make([]*models.Record, n)
	for i := range records {
		records[i] = &models.Record{
			ID:        fmt.Sprintf("rec-%d", i+1),
			BatchID:   batchID,
			RowNumber: i + 1,
			Fields:    map[string]string{"field1": "a", "field2": "b", "field3": "c"},
		}
	}
	return records
}

func newTestExecutor(storage interfaces.RecordStorage, config *common.Config) *StepExecutor {
	logger := arbor.NewLogger()
	return NewStepExecutor(testForm(1).Controls, storage, NewLocationResolver(config.Browser, logger), NewExecutorConfig(config), logger)
}
