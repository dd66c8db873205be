package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/domain/services"
	"github.com/ochairo/tally/internal/external-adapters/prometheus"
)

func runDiscover(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	var (
		configPath = fs.String("config", "", "Survey file (default: tally.yml when present)")
		owner      = fs.String("owner", "", "GitHub organization to search")
		verbose    = fs.Bool("verbose", false, "Log debug messages")
	)
	headers := headerFlags{}
	fs.Var(headers, "header", "Extra API request header Name=Value (repeatable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: tally discover [options]

Search the organization and print, as JSON, the repositories a survey would scan:
search hits deduplicated, excluded names removed, the library repository last.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if err := executeDiscover(ctx, os.Stdout, *configPath, *owner, headers, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func executeDiscover(ctx context.Context, out io.Writer, configPath, owner string, headers headerFlags, verbose bool) error {
	token, err := githubToken()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	if owner != "" {
		cfg.Owner = owner
	}

	logger := newLogger(os.Stderr, verbose, false).With(interfaces.F("command", "discover"))
	apiQueue, err := newQueue("api", cfg.Queues.API, prometheus.New())
	if err != nil {
		return err
	}
	github, err := newGitHubGateway(cfg, token, apiQueue, headers, logger)
	if err != nil {
		return err
	}

	hits, err := github.SearchRepositories(ctx, cfg.SearchQuery())
	if err != nil {
		return fmt.Errorf("failed to search repositories: %w", err)
	}
	repos := services.NewDiscoveryService(cfg.LibraryID(), cfg.Search.ExcludeNameContains).Filter(hits)
	logger.Info("Repositories discovered", interfaces.F("hits", len(hits)), interfaces.F("repositories", len(repos)))

	if repos == nil {
		repos = []entities.RepositoryID{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(repos)
}
