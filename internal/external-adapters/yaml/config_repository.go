package yaml

import (
	"context"
	"fmt"
	"os"

	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces/repositories"
)

// DefaultConfigFile is read when no survey file is named and it exists
const DefaultConfigFile = "tally.yml"

// ConfigRepository implements repositories.ConfigRepository using a YAML file
type ConfigRepository struct {
	path   string
	parser *ConfigParser
}

// NewConfigRepository creates a repository for path. An empty path falls back
// to DefaultConfigFile when present, otherwise to the built-in defaults.
func NewConfigRepository(path string) *ConfigRepository {
	return &ConfigRepository{
		path:   path,
		parser: NewConfigParser(),
	}
}

var _ repositories.ConfigRepository = (*ConfigRepository)(nil)

// LoadConfig reads and validates the survey configuration
func (r *ConfigRepository) LoadConfig(_ context.Context) (*entities.SurveyConfig, error) {
	path := r.path
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}

	cfg := entities.DefaultSurveyConfig()
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		parsed, err := r.parser.ParseFile(path)
		if err != nil {
			return nil, err
		}
		cfg = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
