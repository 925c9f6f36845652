package browser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/formrunner/internal/models"
)

// ParseOptions extracts the <option> entries from a <select> element's outer HTML.
// Options without a value (placeholders) are dropped.
func ParseOptions(html string) ([]models.Option, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse select markup: %w", err)
	}

	var options []models.Option
	doc.Find("option").Each(func(_ int, s *goquery.Selection) {
		value, ok := s.Attr("value")
		if !ok {
			value = s.Text()
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		options = append(options, models.Option{
			Value: value,
			Text:  strings.Join(strings.Fields(s.Text()), " "),
		})
	})

	return options, nil
}
