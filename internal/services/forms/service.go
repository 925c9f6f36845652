package forms

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/models"
	"gopkg.in/yaml.v3"
)

// Service holds the form definitions loaded from the definitions directory
type Service struct {
	mu       sync.RWMutex
	forms    map[string]*models.FormDefinition
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewService creates an empty form catalog
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		forms:    make(map[string]*models.FormDefinition),
		validate: validator.New(),
		logger:   logger,
	}
}

// LoadFromDir loads every .toml, .yaml and .yml file in dir. Files that fail to
// parse or validate are logged and skipped. A missing directory is not an error.
func (s *Service) LoadFromDir(dir string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		s.logger.Debug().Str("dir", dir).Msg("Form definitions directory does not exist, skipping")
		return 0, nil
	}

	s.logger.Info().Str("dir", dir).Msg("Loading form definitions from files")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read form definitions directory: %w", err)
	}

	loadedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		def, err := s.LoadFile(filePath)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to load form definition")
			continue
		}

		s.logger.Debug().
			Str("file", entry.Name()).
			Str("form", def.Name).
			Int("steps", len(def.Steps)).
			Msg("Loaded form definition")
		loadedCount++
	}

	s.logger.Info().Int("count", loadedCount).Msg("Form definitions loaded")
	return loadedCount, nil
}

// LoadFile parses, validates and registers a single definition file
func (s *Service) LoadFile(path string) (*models.FormDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var def models.FormDefinition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &def)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &def)
	default:
		return nil, fmt.Errorf("unsupported form definition extension: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := s.Register(&def); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &def, nil
}

// Register validates a definition and adds it to the catalog, replacing any
// definition with the same name
func (s *Service) Register(def *models.FormDefinition) error {
	if err := s.validate.Struct(def); err != nil {
		return fmt.Errorf("invalid form definition %q: %w", def.Name, err)
	}
	if len(def.Weights) > 0 && len(def.Weights) != len(def.Steps) {
		return fmt.Errorf("form %q has %d weights for %d steps", def.Name, len(def.Weights), len(def.Steps))
	}

	def.Normalize()

	s.mu.Lock()
	s.forms[def.Name] = def
	s.mu.Unlock()
	return nil
}

// Get returns the definition registered under name
func (s *Service) Get(name string) (*models.FormDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.forms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrFormNotFound, name)
	}
	return def, nil
}

// Names returns the registered form names, sorted
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.forms))
	for name := range s.forms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".yaml", ".yml":
		return true
	}
	return false
}
