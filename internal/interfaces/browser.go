package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/formrunner/internal/models"
)

// Element is a located page element. The selector is the handle used for
// subsequent interaction.
type Element struct {
	Selector string
}

// Tab is one isolated browser execution context. A tab is owned by a single worker
// at a time and is not safe for concurrent use.
type Tab interface {
	ID() string
	Navigate(ctx context.Context, url string) error

	// Locate waits up to timeout for selector to match; nil when absent
	Locate(ctx context.Context, selector string, timeout time.Duration) (*Element, error)

	// ApplyFields sets every assignment in one round trip and reports per-field results.
	// Individual failures are recorded in the ledger, not returned as an error.
	ApplyFields(ctx context.Context, assignments []models.FieldAssignment) (models.FieldLedger, error)

	// SelectOption selects the <option> whose value equals value; false when none matched
	SelectOption(ctx context.Context, selector, value string) (bool, error)

	// Options returns the options currently present in a <select>
	Options(ctx context.Context, selector string) ([]models.Option, error)

	// SetValue sets an element's value and fires input/change events
	SetValue(ctx context.Context, selector, value string) error

	AttachFile(ctx context.Context, selector, path string) error
	InvokeControl(ctx context.Context, element *Element) error
	CurrentLocation(ctx context.Context) (string, error)
}

// ErrPrimaryBusy is returned by Primary while another batch holds the primary tab
var ErrPrimaryBusy = errors.New("primary tab in use")

// TabProvider hands out tabs. The primary tab belongs to the long-lived browser
// session; a batch leases it and Release returns the lease without closing it.
type TabProvider interface {
	Primary(ctx context.Context) (Tab, error)
	Acquire(ctx context.Context) (Tab, error)

	// Release closes an acquired tab, or returns the primary lease
	Release(tab Tab) error

	// CloseSecondary closes every acquired (non-primary) tab and returns how many closed
	CloseSecondary() int

	Close() error
}
