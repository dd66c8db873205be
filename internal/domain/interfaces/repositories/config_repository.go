// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"

	"github.com/ochairo/tally/internal/domain/entities"
)

// ConfigRepository loads the survey configuration
type ConfigRepository interface {
	// LoadConfig returns the configuration with defaults applied
	LoadConfig(ctx context.Context) (*entities.SurveyConfig, error)
}
