package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Browser     BrowserConfig   `toml:"browser"`
	Batch       BatchConfig     `toml:"batch"`
	Forms       FormsConfig     `toml:"forms"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

// ServerConfig controls the optional HTTP/WebSocket surface. The command stream on
// stdin is always active; the server only mirrors events and accepts commands.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	Host    string `toml:"host"`
}

type StorageConfig struct {
	Type   string       `toml:"type"` // only "badger" is supported
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stderr", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// BrowserConfig configures the chromedp tab pool.
// Duration fields are Go duration strings ("10s", "500ms").
type BrowserConfig struct {
	Headless         bool   `toml:"headless"`
	NoSandbox        bool   `toml:"no_sandbox"`
	DisableGPU       bool   `toml:"disable_gpu"`
	UserAgent        string `toml:"user_agent"`
	RemoteURL        string `toml:"remote_url"`        // Attach to an existing Chrome (DevTools websocket URL) instead of launching one
	StartupTimeout   string `toml:"startup_timeout"`   // Browser start + first navigation
	LocateTimeout    string `toml:"locate_timeout"`    // Bounded wait for advance/finalize controls
	ValidationWait   string `toml:"validation_wait"`   // Bounded wait for the validation error indicator
	SettleDelay      string `toml:"settle_delay"`      // Pause after bulk field application
	SubmitDelay      string `toml:"submit_delay"`      // Pause after invoking the finalize control
	OptionTimeout    string `toml:"option_timeout"`    // Poll timeout for dynamically populated option lists
	OptionInterval   string `toml:"option_interval"`   // Poll interval for option lists
	MinOptions       int    `toml:"min_options"`       // Option count required before matching is attempted
	NavigationDelay  string `toml:"navigation_delay"`  // Pause after navigating to the form entry point
	PollInterval     string `toml:"poll_interval"`     // Interval used by Locate while waiting for an element
	ReleaseOnStopAll bool   `toml:"release_on_stop"`   // Close a stopped batch's tabs eagerly instead of at batch end
}

// BatchConfig holds orchestration defaults
type BatchConfig struct {
	DefaultWorkers  int    `toml:"default_workers"`  // Used when a start command carries no worker count
	MaxWorkers      int    `toml:"max_workers"`      // Upper bound on tabs per batch
	MaxRetries      int    `toml:"max_retries"`      // Validation retries per step
	DefaultForm     string `toml:"default_form"`     // Form definition used when a command names none
	ShutdownTimeout string `toml:"shutdown_timeout"` // How long "close" waits for stopped batches to drain
}

// FormsConfig points at the directory holding form definition files (TOML/YAML)
type FormsConfig struct {
	DefinitionsDir string `toml:"definitions_dir"`
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	ProgressThrottle string `toml:"progress_throttle"` // Minimum interval between PROGRESS broadcasts; empty disables throttling
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Enabled: false,
			Port:    8085,
			Host:    "localhost",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data/records",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stderr", "file"},
			TimeFormat: "15:04:05.000",
		},
		Browser: BrowserConfig{
			Headless:         true,
			NoSandbox:        false,
			DisableGPU:       true,
			UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			StartupTimeout:   "30s",
			LocateTimeout:    "10s",
			ValidationWait:   "5s",
			SettleDelay:      "1s",
			SubmitDelay:      "5s",
			OptionTimeout:    "10s",
			OptionInterval:   "500ms",
			MinOptions:       2,
			NavigationDelay:  "2s",
			PollInterval:     "500ms",
			ReleaseOnStopAll: true,
		},
		Batch: BatchConfig{
			DefaultWorkers:  3,
			MaxWorkers:      10,
			MaxRetries:      2,
			DefaultForm:     "valuation-report",
			ShutdownTimeout: "30s",
		},
		Forms: FormsConfig{
			DefinitionsDir: "./forms",
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "250ms",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FORMRUNNER_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if enabled := os.Getenv("FORMRUNNER_SERVER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Server.Enabled = b
		}
	}
	if port := os.Getenv("FORMRUNNER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FORMRUNNER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if badgerPath := os.Getenv("FORMRUNNER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging
	if level := os.Getenv("FORMRUNNER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FORMRUNNER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Browser
	if headless := os.Getenv("FORMRUNNER_BROWSER_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if noSandbox := os.Getenv("FORMRUNNER_BROWSER_NO_SANDBOX"); noSandbox != "" {
		if b, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = b
		}
	}
	if remote := os.Getenv("FORMRUNNER_BROWSER_REMOTE_URL"); remote != "" {
		config.Browser.RemoteURL = remote
	}

	// Batch
	if workers := os.Getenv("FORMRUNNER_BATCH_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Batch.DefaultWorkers = w
		}
	}
	if retries := os.Getenv("FORMRUNNER_BATCH_MAX_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Batch.MaxRetries = r
		}
	}
	if form := os.Getenv("FORMRUNNER_DEFAULT_FORM"); form != "" {
		config.Batch.DefaultForm = form
	}

	// Forms
	if dir := os.Getenv("FORMRUNNER_FORMS_DIR"); dir != "" {
		config.Forms.DefinitionsDir = dir
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
// Flags have the highest priority and override all other sources
func ApplyFlagOverrides(config *Config, port int, host string, headless *bool) {
	if port > 0 {
		config.Server.Port = port
		config.Server.Enabled = true
	}
	if host != "" {
		config.Server.Host = host
	}
	if headless != nil {
		config.Browser.Headless = *headless
	}
}

// Validate checks values that would otherwise fail deep inside the orchestrator
func (c *Config) Validate() error {
	if c.Batch.DefaultWorkers < 1 {
		return fmt.Errorf("batch.default_workers must be at least 1, got %d", c.Batch.DefaultWorkers)
	}
	if c.Batch.MaxWorkers < c.Batch.DefaultWorkers {
		return fmt.Errorf("batch.max_workers (%d) must not be below batch.default_workers (%d)", c.Batch.MaxWorkers, c.Batch.DefaultWorkers)
	}
	if c.Batch.MaxRetries < 0 {
		return fmt.Errorf("batch.max_retries must not be negative, got %d", c.Batch.MaxRetries)
	}
	durations := map[string]string{
		"browser.startup_timeout":     c.Browser.StartupTimeout,
		"browser.locate_timeout":      c.Browser.LocateTimeout,
		"browser.validation_wait":     c.Browser.ValidationWait,
		"browser.settle_delay":        c.Browser.SettleDelay,
		"browser.submit_delay":        c.Browser.SubmitDelay,
		"browser.option_timeout":      c.Browser.OptionTimeout,
		"browser.option_interval":     c.Browser.OptionInterval,
		"browser.navigation_delay":    c.Browser.NavigationDelay,
		"browser.poll_interval":       c.Browser.PollInterval,
		"batch.shutdown_timeout":      c.Batch.ShutdownTimeout,
		"websocket.progress_throttle": c.WebSocket.ProgressThrottle,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, value, err)
		}
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// ParseDurationOr parses a duration string, returning fallback when the string is
// empty or invalid. Config values are validated on load so the fallback only covers
// zero-value configs built in tests.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
