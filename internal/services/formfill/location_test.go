package formfill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/models"
)

var testLocation = &models.LocationSpec{
	CountrySelector: "#country",
	CountryValue:    "1",
	RegionSelector:  "#region",
	RegionField:     "region",
	CitySelector:    "#city",
	CityField:       "city",
}

func locationTab() *fakeTab {
	tab := newFakeTab("t")
	tab.options["#region"] = []models.Option{
		{Value: "11", Text: "Riyadh Region"},
		{Value: "12", Text: "Makkah Region"},
	}
	tab.options["#city"] = []models.Option{
		{Value: "101", Text: "Riyadh"},
		{Value: "102", Text: "Al Kharj"},
	}
	return tab
}

func TestMatchOption(t *testing.T) {
	options := []models.Option{
		{Value: "1", Text: "Riyadh Region"},
		{Value: "2", Text: "Riyadh"},
		{Value: "3", Text: "Eastern  Province"},
	}

	tests := []struct {
		want  string
		value string
		ok    bool
	}{
		{want: "riyadh", value: "2", ok: true},
		{want: "RIYADH REGION", value: "1", ok: true},
		{want: "Ｒｉｙａｄｈ", value: "2", ok: true},
		{want: "eastern", value: "3", ok: true},
		{want: "Eastern Province of the Kingdom", value: "3", ok: true},
		{want: "Tabuk", ok: false},
		{want: "  ", ok: false},
	}

	for _, tt := range tests {
		option, ok := MatchOption(options, tt.want)
		assert.Equal(t, tt.ok, ok, tt.want)
		if tt.ok {
			assert.Equal(t, tt.value, option.Value, tt.want)
		}
	}
}

func TestLocationResolver_ResolvesAndCaches(t *testing.T) {
	resolver := NewLocationResolver(testConfig().Browser, arbor.NewLogger())
	record := &models.Record{ID: "r", Fields: map[string]string{"region": "riyadh", "city": "al kharj"}}

	first := locationTab()
	require.NoError(t, resolver.Apply(context.Background(), first, testLocation, record))
	assert.Equal(t, "1", first.selected["#country"])
	assert.Equal(t, "11", first.selected["#region"])
	assert.Equal(t, "102", first.selected["#city"])

	// options drifting after the first resolution do not matter: codes come from the cache
	second := locationTab()
	second.options["#region"] = []models.Option{{Value: "11", Text: "x"}, {Value: "12", Text: "y"}}
	second.options["#city"] = []models.Option{{Value: "101", Text: "x"}, {Value: "102", Text: "y"}}
	require.NoError(t, resolver.Apply(context.Background(), second, testLocation, record))
	assert.Equal(t, "11", second.selected["#region"])
	assert.Equal(t, "102", second.selected["#city"])
}

func TestLocationResolver_TooFewOptions(t *testing.T) {
	resolver := NewLocationResolver(testConfig().Browser, arbor.NewLogger())
	tab := locationTab()
	tab.options["#region"] = []models.Option{{Value: "11", Text: "Riyadh Region"}}

	record := &models.Record{ID: "r", Fields: map[string]string{"region": "riyadh"}}
	err := resolver.Apply(context.Background(), tab, testLocation, record)
	require.Error(t, err)
	assert.Greater(t, tab.optionReads["#region"], 1, "options are polled until the timeout")
}

func TestLocationResolver_MissingRegionIsSkipped(t *testing.T) {
	resolver := NewLocationResolver(testConfig().Browser, arbor.NewLogger())
	err := resolver.Apply(context.Background(), locationTab(), testLocation, &models.Record{ID: "r"})
	assert.ErrorIs(t, err, errSkipField)
}
