package formfill

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/models"
)

func TestNormalizeDate(t *testing.T) {
	valid := map[string]string{
		"05-03-2024":          "2024-03-05",
		"05/03/2024":          "2024-03-05",
		"2024/03/05":          "2024-03-05",
		"2024-03-05":          "2024-03-05",
		" 2024-03-05 ":        "2024-03-05",
		"2024-03-05 10:30:00": "2024-03-05",
		"2024-03-05T10:30:00": "2024-03-05",
	}
	for raw, want := range valid {
		got, err := NormalizeDate(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "yesterday", "2024.03.05", "31-02-2024", "03-2024"} {
		_, err := NormalizeDate(raw)
		assert.ErrorIs(t, err, errSkipField, raw)
	}
}

func TestNormalizeBoolean(t *testing.T) {
	for _, raw := range []string{"true", "YES", "1", "on"} {
		v, err := normalizeBoolean(raw)
		require.NoError(t, err)
		assert.Equal(t, "true", v)
	}
	for _, raw := range []string{"false", "No", "0", ""} {
		v, err := normalizeBoolean(raw)
		require.NoError(t, err)
		assert.Equal(t, "false", v)
	}
	_, err := normalizeBoolean("maybe")
	assert.ErrorIs(t, err, errSkipField)
}

func TestPartitionFields(t *testing.T) {
	step := models.Step{Fields: []models.FieldSpec{
		{Name: "a", Kind: models.FieldText},
		{Name: "b", Kind: models.FieldLocation},
		{Name: "c", Kind: models.FieldSingleChoice, Order: models.OrderLeading},
		{Name: "d", Kind: models.FieldAttachment},
		{Name: "e", Kind: models.FieldText, Order: models.OrderTrailing},
		{Name: "f", Kind: models.FieldLabeledChoice},
	}}

	leading, batched, resolved, trailing := partitionFields(step)
	names := func(specs []models.FieldSpec) []string {
		var out []string
		for _, s := range specs {
			out = append(out, s.Name)
		}
		return out
	}
	assert.Equal(t, []string{"c"}, names(leading))
	assert.Equal(t, []string{"a", "f"}, names(batched))
	assert.Equal(t, []string{"b", "d"}, names(resolved))
	assert.Equal(t, []string{"e"}, names(trailing))
}

func TestApplyResolved_Attachment(t *testing.T) {
	logger := arbor.NewLogger()
	applier := &fieldApplier{resolver: NewLocationResolver(testConfig().Browser, logger), logger: logger}
	tab := newFakeTab("t")

	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0644))

	spec := models.FieldSpec{Name: "report_file", Selector: "#file", Kind: models.FieldAttachment}
	record := &models.Record{ID: "r", Fields: map[string]string{"report_file": path}}
	require.NoError(t, applier.applyResolved(context.Background(), tab, record, spec))
	assert.Equal(t, path, tab.attached["#file"])

	// missing files are logged, not returned
	missing := &models.Record{ID: "r2", Fields: map[string]string{"report_file": filepath.Join(t.TempDir(), "nope.pdf")}}
	require.NoError(t, applier.applyResolved(context.Background(), newFakeTab("t2"), missing, spec))
}
