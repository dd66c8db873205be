package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ochairo/tally/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/tally/internal/domain-orchestrators"
	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	gatewayifaces "github.com/ochairo/tally/internal/domain/interfaces/gateways"
	"github.com/ochairo/tally/internal/external-adapters/gpg"
	"github.com/ochairo/tally/internal/external-adapters/minio"
	"github.com/ochairo/tally/internal/external-adapters/prometheus"
)

// surveyOptions are command line overrides of the survey file
type surveyOptions struct {
	configPath  string
	owner       string
	resultsDir  string
	workDir     string
	keepWorkDir bool
	metricsFile string
	analyzer    string
	noDeepScan  bool
	headers     headerFlags
	verbose     bool
	jsonLogs    bool
}

func runSurvey(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("survey", flag.ExitOnError)
	opts := surveyOptions{headers: headerFlags{}}
	fs.StringVar(&opts.configPath, "config", "", "Survey file (default: tally.yml when present)")
	fs.StringVar(&opts.owner, "owner", "", "GitHub organization to survey")
	fs.StringVar(&opts.resultsDir, "results-dir", "", "Directory for report files")
	fs.StringVar(&opts.workDir, "work-dir", "", "Directory for downloaded and extracted archives")
	fs.BoolVar(&opts.keepWorkDir, "keep-work-dir", false, "Keep downloaded and extracted archives after the run")
	fs.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	fs.StringVar(&opts.analyzer, "analyzer", "", "Component analyzer: import or exec")
	fs.BoolVar(&opts.noDeepScan, "no-deep-scan", false, "Skip the raw marker scan")
	fs.Var(opts.headers, "header", "Extra API request header Name=Value (repeatable, empty value removes a default)")
	fs.BoolVar(&opts.verbose, "verbose", false, "Log debug messages")
	fs.BoolVar(&opts.jsonLogs, "json-logs", false, "Log JSON lines instead of key=value text")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: tally survey [options]

Survey component library usage across every repository of an organization.

Steps:
  - Search the organization for repositories depending on the library
  - Download and extract a snapshot of each repository
  - Count component usages, package versions and raw markers
  - Write <date>-by-repository.json, <date>-library.json and a checksum list
  - Optionally sign and publish the report files

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  GITHUB_TOKEN=... tally survey
  tally survey --config tally.yml --results-dir out --keep-work-dir
  tally survey --owner my-org --analyzer exec --metrics-file metrics/tally.prom
`)
	}

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if err := executeSurvey(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var authErr *entities.AuthError
		if errors.As(err, &authErr) {
			fmt.Fprintf(os.Stderr, "Set GITHUB_TOKEN or GH_TOKEN (a .env file is read as well)\n")
		}
		return 1
	}
	return 0
}

func (o surveyOptions) apply(cfg *entities.SurveyConfig) {
	if o.owner != "" {
		cfg.Owner = o.owner
	}
	if o.resultsDir != "" {
		cfg.Output.ResultsDir = o.resultsDir
	}
	if o.workDir != "" {
		cfg.Output.WorkDir = o.workDir
	}
	if o.keepWorkDir {
		cfg.Output.KeepWorkDir = true
	}
	if o.metricsFile != "" {
		cfg.Output.MetricsFile = o.metricsFile
	}
	if o.analyzer != "" {
		cfg.Analyzer.Kind = o.analyzer
	}
	if o.noDeepScan {
		cfg.DeepScan.Enabled = false
	}
}

func executeSurvey(ctx context.Context, opts surveyOptions) error {
	// The credential is checked before anything touches the disk or the network
	token, err := githubToken()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, opts.configPath)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(os.Stderr, opts.verbose, opts.jsonLogs).With(interfaces.F("command", "survey"))
	metrics := prometheus.New()

	deps, err := buildSurveyDependencies(cfg, token, opts.headers, logger, metrics)
	if err != nil {
		return err
	}

	orch, err := orchestrators.NewSurveyOrchestrator(cfg, deps)
	if err != nil {
		return err
	}

	summary, runErr := orch.Run(ctx)

	if cfg.Output.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			logger.Warn("Failed to write metrics", interfaces.F("file", cfg.Output.MetricsFile), interfaces.F("error", err))
		}
	}
	if runErr != nil {
		return runErr
	}

	displaySummary(summary)
	return nil
}

func buildSurveyDependencies(cfg *entities.SurveyConfig, token string, headers headerFlags,
	logger interfaces.Logger, metrics interfaces.Metrics) (orchestrators.SurveyDependencies, error) {
	deps := orchestrators.SurveyDependencies{Logger: logger, Metrics: metrics}

	apiQueue, err := newQueue("api", cfg.Queues.API, metrics)
	if err != nil {
		return deps, err
	}
	downloadQueue, err := newQueue("download", cfg.Queues.Download, metrics)
	if err != nil {
		return deps, err
	}
	extractQueue, err := newQueue("extract", cfg.Queues.Extract, metrics)
	if err != nil {
		return deps, err
	}
	scanQueue, err := newQueue("scan", cfg.Queues.Scan, metrics)
	if err != nil {
		return deps, err
	}
	deps.ScanQueue = scanQueue

	github, err := newGitHubGateway(cfg, token, apiQueue, headers, logger)
	if err != nil {
		return deps, err
	}
	deps.GitHub = github
	deps.Downloader = gateways.NewDownloader(github, downloadQueue, logger, metrics)
	deps.Extractor = gateways.NewExtractor(extractQueue, logger, metrics)
	deps.Packages = gateways.NewPackageJSONScanner(cfg.Packages, cfg.Analyzer.ExcludeDirs, logger)
	deps.Writer = gateways.NewJSONReportWriter(cfg.Output.ResultsDir)

	if deps.Analyzer, err = newAnalyzer(cfg, logger); err != nil {
		return deps, err
	}

	if cfg.DeepScan.Enabled {
		scanner, err := gateways.NewMarkerScanner(cfg.DeepScan, logger)
		if err != nil {
			return deps, fmt.Errorf("invalid deep scan configuration: %w", err)
		}
		deps.DeepScanner = scanner
	}

	if cfg.Signing.PrivateKey != "" {
		signer, err := gpg.NewSigner(cfg.Signing.PrivateKey, []byte(os.Getenv("TALLY_SIGNING_PASSPHRASE")))
		if err != nil {
			return deps, fmt.Errorf("failed to load signing key: %w", err)
		}
		logger.Info("Signing reports", interfaces.F("fingerprint", signer.Fingerprint()))
		deps.Signer = signer
	}

	if cfg.Publish.Enabled() {
		publisher, err := minio.NewPublisher(minio.Config{
			Endpoint:  cfg.Publish.Endpoint,
			Region:    cfg.Publish.Region,
			AccessKey: os.Getenv("TALLY_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("TALLY_S3_SECRET_KEY"),
			Bucket:    cfg.Publish.Bucket,
			UseSSL:    cfg.Publish.UseSSL,
		})
		if err != nil {
			return deps, fmt.Errorf("failed to configure publishing: %w", err)
		}
		deps.Publisher = publisher
	}

	return deps, nil
}

func newAnalyzer(cfg *entities.SurveyConfig, logger interfaces.Logger) (gatewayifaces.ComponentAnalyzer, error) {
	if cfg.Analyzer.Kind == entities.AnalyzerExec {
		analyzer, err := gateways.NewExecAnalyzer(cfg.Analyzer.Command, cfg.Library.Package, cfg.Analyzer.Timeout, logger)
		if err != nil {
			return nil, fmt.Errorf("invalid analyzer configuration: %w", err)
		}
		return analyzer, nil
	}
	return gateways.NewImportAnalyzer(cfg.Library.Package, logger), nil
}

func displaySummary(summary *entities.RunSummary) {
	fmt.Printf("Survey %s finished in %s\n\n", summary.RunID, summary.Duration.Round(time.Millisecond))
	fmt.Printf("  Repositories: %d discovered, %d downloaded, %d extracted, %d scanned\n",
		summary.Discovered, summary.Downloaded, summary.Extracted, summary.Scanned)

	if report := summary.Report; report != nil {
		fmt.Printf("  Findings dropped: %d\n", report.Dropped)
		if len(report.Repositories) > 0 {
			top := report.Repositories[0]
			fmt.Printf("  Most components: %s (%d)\n", top.FullName, top.DifferentComponentsInUse)
		}
		if report.Library != nil {
			fmt.Printf("  Unused components: %d\n", len(report.Library.NonUsedComponents))
		}
	}

	fmt.Printf("\nReport files:\n")
	for _, file := range summary.ReportFiles {
		fmt.Printf("  %s\n", filepath.ToSlash(file))
	}
	if len(summary.Published) > 0 {
		fmt.Printf("\nPublished:\n")
		for _, location := range summary.Published {
			fmt.Printf("  %s\n", location)
		}
	}

	if len(summary.Failures) > 0 {
		fmt.Printf("\n%d failures:\n", len(summary.Failures))
		for _, f := range summary.Failures {
			subject := string(f.Repository)
			if subject == "" {
				subject = f.Target
			}
			fmt.Printf("  [%s] %s: %s\n", f.Stage, subject, strings.TrimSpace(f.Error))
		}
	}
}
