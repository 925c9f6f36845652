package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
)

const testFormPage = `<!doctype html>
<html><body>
<form action="/report/4711" method="get">
	<input id="title" name="title">
	<input id="urgent" type="checkbox">
	<select id="purpose"><option value="">--</option><option value="p1">Sale</option><option value="p2">Mortgage</option></select>
	<label><input type="radio" name="basis" value="b1"> Market value</label>
	<label><input type="radio" name="basis" value="b2"> Fair value</label>
	<input type="submit" name="save" value="Save">
</form>
</body></html>`

// Browser tests launch Chrome and only run when FORMRUNNER_BROWSER_TESTS is set
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	if os.Getenv("FORMRUNNER_BROWSER_TESTS") == "" {
		t.Skip("set FORMRUNNER_BROWSER_TESTS=1 to run browser tests")
	}

	config := common.NewDefaultConfig().Browser
	config.NoSandbox = true
	config.PollInterval = "100ms"

	pool := NewPool(config, arbor.NewLogger())
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/form" {
			fmt.Fprint(w, testFormPage)
			return
		}
		fmt.Fprint(w, "<html><body>saved</body></html>")
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPool_PrimaryIsLeasedToOneCaller(t *testing.T) {
	config := common.NewDefaultConfig().Browser
	pool := NewPool(config, arbor.NewLogger())

	// A started pool with a primary tab needs no browser for the lease bookkeeping
	pool.started = true
	pool.primary = newChromeTab("primary", context.Background(), func() {}, config, arbor.NewLogger())

	primary, err := pool.Primary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "primary", primary.ID())

	_, err = pool.Primary(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrPrimaryBusy)

	require.NoError(t, pool.Release(primary))
	assert.Zero(t, pool.OpenTabs())

	again, err := pool.Primary(context.Background())
	require.NoError(t, err)
	assert.Same(t, primary, again)
}

func TestPool_AcquireRelease(t *testing.T) {
	pool := newTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	primary, err := pool.Primary(ctx)
	require.NoError(t, err)

	tab1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	tab2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, tab1.ID(), tab2.ID())
	assert.Equal(t, 2, pool.OpenTabs())

	require.NoError(t, pool.Release(tab1))
	require.NoError(t, pool.Release(tab1))
	require.NoError(t, pool.Release(primary))
	assert.Equal(t, 1, pool.OpenTabs())

	assert.Equal(t, 1, pool.CloseSecondary())
	assert.Zero(t, pool.OpenTabs())
}

func TestChromeTab_FillAndSubmit(t *testing.T) {
	pool := newTestPool(t)
	server := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	tab, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, tab.Navigate(ctx, server.URL+"/form"))

	ledger, err := tab.ApplyFields(ctx, []models.FieldAssignment{
		{Name: "title", Selector: "#title", Kind: models.FieldText, Value: "Villa"},
		{Name: "urgent", Selector: "#urgent", Kind: models.FieldBoolean, Value: "yes"},
		{Name: "purpose", Selector: "#purpose", Kind: models.FieldSingleChoice, Value: "Mortgage"},
		{Name: "basis", Selector: "input[name='basis']", Kind: models.FieldLabeledChoice, Value: "Fair value"},
		{Name: "missing", Selector: "#missing", Kind: models.FieldText, Value: "x"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"title", "urgent", "purpose", "basis"}, ledger.Succeeded)
	require.Len(t, ledger.Failed, 1)
	assert.Equal(t, "missing", ledger.Failed[0].Name)

	options, err := tab.Options(ctx, "#purpose")
	require.NoError(t, err)
	assert.Len(t, options, 2)

	ok, err := tab.SelectOption(ctx, "#purpose", "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	absent, err := tab.Locate(ctx, "#nothing", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, absent)

	save, err := tab.Locate(ctx, "input[name='save']", time.Second)
	require.NoError(t, err)
	require.NotNil(t, save)
	require.NoError(t, tab.InvokeControl(ctx, save))

	require.Eventually(t, func() bool {
		location, err := tab.CurrentLocation(ctx)
		return err == nil && len(location) > 0 && location != server.URL+"/form"
	}, 10*time.Second, 100*time.Millisecond)
}
