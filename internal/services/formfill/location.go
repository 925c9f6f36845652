package formfill

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
	"golang.org/x/text/unicode/norm"
)

// locationKey identifies a resolved country/region/city combination
type locationKey struct {
	country string
	region  string
	city    string
}

// locationCodes are the option values selected for a locationKey
type locationCodes struct {
	region string
	city   string
}

// LocationResolver selects a country, then resolves region and city option codes
// from free-text record values. Resolved codes are cached for the process lifetime
// and shared by every worker.
type LocationResolver struct {
	timeout    time.Duration
	interval   time.Duration
	minOptions int
	logger     arbor.ILogger

	mu    sync.RWMutex
	cache map[locationKey]locationCodes
}

// NewLocationResolver creates a resolver using the option polling settings
func NewLocationResolver(config common.BrowserConfig, logger arbor.ILogger) *LocationResolver {
	minOptions := config.MinOptions
	if minOptions < 1 {
		minOptions = 2
	}
	return &LocationResolver{
		timeout:    common.ParseDurationOr(config.OptionTimeout, 10*time.Second),
		interval:   common.ParseDurationOr(config.OptionInterval, 500*time.Millisecond),
		minOptions: minOptions,
		logger:     logger,
		cache:      make(map[locationKey]locationCodes),
	}
}

// Apply fills the location chain of one record
func (r *LocationResolver) Apply(ctx context.Context, tab interfaces.Tab, spec *models.LocationSpec, record *models.Record) error {
	if spec == nil {
		return fmt.Errorf("location field has no location block")
	}

	region, _ := record.Value(spec.RegionField)
	city, _ := record.Value(spec.CityField)
	region = strings.TrimSpace(region)
	city = strings.TrimSpace(city)
	if region == "" {
		return fmt.Errorf("%w: record has no value for %s", errSkipField, spec.RegionField)
	}

	selected, err := tab.SelectOption(ctx, spec.CountrySelector, spec.CountryValue)
	if err != nil {
		return err
	}
	if !selected {
		return fmt.Errorf("country option %q not available", spec.CountryValue)
	}

	key := locationKey{country: spec.CountryValue, region: region, city: city}
	if codes, ok := r.cached(key); ok {
		r.logger.Debug().Str("region", region).Str("city", city).Msg("Location codes served from cache")
		return r.selectCodes(ctx, tab, spec, codes)
	}

	codes := locationCodes{}

	regionOption, err := r.resolve(ctx, tab, spec.RegionSelector, region)
	if err != nil {
		return fmt.Errorf("region %q: %w", region, err)
	}
	codes.region = regionOption.Value
	if _, err := tab.SelectOption(ctx, spec.RegionSelector, codes.region); err != nil {
		return err
	}

	if city != "" {
		cityOption, err := r.resolve(ctx, tab, spec.CitySelector, city)
		if err != nil {
			return fmt.Errorf("city %q: %w", city, err)
		}
		codes.city = cityOption.Value
		if _, err := tab.SelectOption(ctx, spec.CitySelector, codes.city); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.cache[key] = codes
	r.mu.Unlock()

	r.logger.Debug().
		Str("region", region).
		Str("region_code", codes.region).
		Str("city", city).
		Str("city_code", codes.city).
		Msg("Location resolved")

	return nil
}

func (r *LocationResolver) cached(key locationKey) (locationCodes, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes, ok := r.cache[key]
	return codes, ok
}

// selectCodes re-applies cached codes. The dependent lists are still populated by
// the page, so each one is waited for before selecting.
func (r *LocationResolver) selectCodes(ctx context.Context, tab interfaces.Tab, spec *models.LocationSpec, codes locationCodes) error {
	if _, err := r.waitForOptions(ctx, tab, spec.RegionSelector); err != nil {
		return err
	}
	if ok, err := tab.SelectOption(ctx, spec.RegionSelector, codes.region); err != nil || !ok {
		return fmt.Errorf("cached region code %q not selectable: %v", codes.region, err)
	}
	if codes.city == "" {
		return nil
	}
	if _, err := r.waitForOptions(ctx, tab, spec.CitySelector); err != nil {
		return err
	}
	if ok, err := tab.SelectOption(ctx, spec.CitySelector, codes.city); err != nil || !ok {
		return fmt.Errorf("cached city code %q not selectable: %v", codes.city, err)
	}
	return nil
}

func (r *LocationResolver) resolve(ctx context.Context, tab interfaces.Tab, selector, want string) (models.Option, error) {
	options, err := r.waitForOptions(ctx, tab, selector)
	if err != nil {
		return models.Option{}, err
	}
	option, ok := MatchOption(options, want)
	if !ok {
		return models.Option{}, fmt.Errorf("no option of %s matches", selector)
	}
	return option, nil
}

// waitForOptions polls a dynamically populated list until it holds at least
// minOptions entries
func (r *LocationResolver) waitForOptions(ctx context.Context, tab interfaces.Tab, selector string) ([]models.Option, error) {
	deadline := time.Now().Add(r.timeout)
	for {
		options, err := tab.Options(ctx, selector)
		if err != nil {
			return nil, err
		}
		if len(options) >= r.minOptions {
			return options, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%s has %d options after %s", selector, len(options), r.timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

// MatchOption finds the option whose text matches want after NFKC normalisation
// and case folding. An exact match wins over a substring match in either direction.
func MatchOption(options []models.Option, want string) (models.Option, bool) {
	target := normalizeLabel(want)
	if target == "" {
		return models.Option{}, false
	}

	for _, option := range options {
		if normalizeLabel(option.Text) == target {
			return option, true
		}
	}
	for _, option := range options {
		text := normalizeLabel(option.Text)
		if text == "" {
			continue
		}
		if strings.Contains(text, target) || strings.Contains(target, text) {
			return option, true
		}
	}
	return models.Option{}, false
}

func normalizeLabel(s string) string {
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
