package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ochairo/tally/internal/domain-adapters/gateways"
	"github.com/ochairo/tally/internal/domain-adapters/workqueue"
	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/external-adapters/yaml"
)

// githubToken reads the API token, GITHUB_TOKEN first
func githubToken() (string, error) {
	for _, name := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if token := strings.TrimSpace(os.Getenv(name)); token != "" {
			return token, nil
		}
	}
	return "", &entities.AuthError{Cause: entities.ErrMissingCredential}
}

func newLogger(w io.Writer, verbose, jsonLogs bool) *interfaces.SlogLogger {
	if jsonLogs {
		return interfaces.NewJSONLogger(w, verbose)
	}
	return interfaces.NewTextLogger(w, verbose)
}

func loadConfig(ctx context.Context, path string) (*entities.SurveyConfig, error) {
	cfg, err := yaml.NewConfigRepository(path).LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newQueue creates a named queue reporting admissions and completions to metrics
func newQueue(name string, limits entities.QueueLimits, metrics interfaces.Metrics) (*workqueue.Queue, error) {
	q, err := workqueue.New(workqueue.Config{
		Name:          name,
		MaxConcurrent: limits.MaxConcurrent,
		MaxPerWindow:  limits.MaxPerWindow,
		Window:        limits.Window,
	},
		workqueue.WithAdmitHook(func(_ string, _ time.Time, inFlight int) {
			metrics.QueueAdmitted(name, inFlight)
		}),
		workqueue.WithCompleteHook(func(_ string, took time.Duration, err error) {
			metrics.QueueCompleted(name, took, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s queue: %w", name, err)
	}
	return q, nil
}

func newGitHubGateway(cfg *entities.SurveyConfig, token string, apiQueue *workqueue.Queue, headers headerFlags, logger interfaces.Logger) (*gateways.HTTPGitHubGateway, error) {
	return gateways.NewHTTPGitHubGateway(token,
		gateways.WithBaseURL(cfg.APIBaseURL),
		gateways.WithPerPage(cfg.Search.PerPage),
		gateways.WithHeaders(headers),
		gateways.WithRequestQueue(apiQueue),
		gateways.WithGitHubLogger(logger),
	)
}

// headerFlags collects repeated -header Name=Value flags
type headerFlags map[string]string

func (h headerFlags) String() string {
	pairs := make([]string, 0, len(h))
	for name, value := range h {
		pairs = append(pairs, name+"="+value)
	}
	return strings.Join(pairs, ",")
}

func (h headerFlags) Set(value string) error {
	name, v, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header must be Name=Value, got %q", value)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(v)
	return nil
}
