package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/formrunner/internal/models"
)

func TestParseOptions(t *testing.T) {
	html := `<select id="region">
		<option value="">-- choose --</option>
		<option value="11">Riyadh   Region</option>
		<option value="12" selected>Makkah</option>
		<option>Eastern</option>
		<optgroup label="north"><option value="31">Tabuk</option></optgroup>
	</select>`

	options, err := ParseOptions(html)
	require.NoError(t, err)
	assert.Equal(t, []models.Option{
		{Value: "11", Text: "Riyadh Region"},
		{Value: "12", Text: "Makkah"},
		{Value: "Eastern", Text: "Eastern"},
		{Value: "31", Text: "Tabuk"},
	}, options)
}

func TestParseOptions_Empty(t *testing.T) {
	options, err := ParseOptions(`<select id="city"></select>`)
	require.NoError(t, err)
	assert.Empty(t, options)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"a\"b"`, quote(`a"b`))
	assert.Equal(t, `"input[name='x']"`, quote(`input[name='x']`))
}
