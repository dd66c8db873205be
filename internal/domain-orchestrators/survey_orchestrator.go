// Package orchestrators coordinates complex workflows across multiple domain services.
package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ochairo/tally/internal/domain-adapters/workqueue"
	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
	"github.com/ochairo/tally/internal/domain/services"
)

// SurveyDependencies are the collaborators of a survey run.
// DeepScanner, Signer and Publisher are optional.
type SurveyDependencies struct {
	GitHub      gateways.GitHubGateway
	Downloader  gateways.ArchiveDownloader
	Extractor   gateways.ArchiveExtractor
	Analyzer    gateways.ComponentAnalyzer
	Packages    gateways.PackageScanner
	DeepScanner gateways.DeepScanner
	Writer      gateways.ReportWriter
	Signer      gateways.Signer
	Publisher   gateways.Publisher
	ScanQueue   *workqueue.Queue
	Logger      interfaces.Logger
	Metrics     interfaces.Metrics
}

// SurveyOrchestrator runs the whole pipeline: discover, look up commits,
// download, extract, scan, aggregate, write, then sign and publish
type SurveyOrchestrator struct {
	deps      SurveyDependencies
	config    *entities.SurveyConfig
	discovery *services.DiscoveryService
	catalog   *services.ComponentCatalog
	logger    interfaces.Logger
	metrics   interfaces.Metrics
	now       func() time.Time
	newRunID  func() string
}

// NewSurveyOrchestrator creates a new survey orchestrator
func NewSurveyOrchestrator(config *entities.SurveyConfig, deps SurveyDependencies) (*SurveyOrchestrator, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	switch {
	case deps.GitHub == nil:
		return nil, errors.New("github gateway is required")
	case deps.Downloader == nil || deps.Extractor == nil:
		return nil, errors.New("downloader and extractor are required")
	case deps.Analyzer == nil || deps.Packages == nil:
		return nil, errors.New("component analyzer and package scanner are required")
	case deps.Writer == nil:
		return nil, errors.New("report writer is required")
	case deps.ScanQueue == nil:
		return nil, errors.New("scan queue is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = interfaces.NoOpMetrics{}
	}

	return &SurveyOrchestrator{
		deps:      deps,
		config:    config,
		discovery: services.NewDiscoveryService(config.LibraryID(), config.Search.ExcludeNameContains),
		catalog:   services.NewComponentCatalog(config.Library.Components),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}, nil
}

// failureLog collects non-fatal failures from concurrent stages
type failureLog struct {
	mu       sync.Mutex
	failures []entities.Failure
}

func (l *failureLog) add(stage string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, entities.NewFailure(stage, err))
}

func (l *failureLog) list() []entities.Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]entities.Failure(nil), l.failures...)
}

// Discover searches for repositories and applies the discovery filter
func (o *SurveyOrchestrator) Discover(ctx context.Context) ([]entities.RepositoryID, error) {
	hits, err := o.deps.GitHub.SearchRepositories(ctx, o.config.SearchQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to search repositories: %w", err)
	}
	repos := o.discovery.Filter(hits)
	o.logger.Info("Repositories discovered",
		interfaces.F("stage", entities.StageDiscover),
		interfaces.F("hits", len(hits)),
		interfaces.F("repositories", len(repos)))
	return repos, nil
}

// Run executes a complete survey. Per-repository failures are recorded in the
// summary and the report is still written; an error is returned only when
// discovery, report writing or signing fails.
func (o *SurveyOrchestrator) Run(ctx context.Context) (*entities.RunSummary, error) {
	summary := &entities.RunSummary{
		RunID:     o.newRunID(),
		StartedAt: o.now(),
	}
	runID := interfaces.F("run_id", summary.RunID)
	o.logger.Info("Survey started", runID, interfaces.F("owner", o.config.Owner))

	ids, err := o.Discover(ctx)
	if err != nil {
		o.metrics.StageFailure(entities.StageDiscover)
		return summary, err
	}
	summary.Discovered = len(ids)
	o.metrics.RepositoriesDiscovered(len(ids))

	failures := &failureLog{}
	repos := o.lookupCommits(ctx, ids, failures)
	engine := services.NewAggregationEngine(repos, o.config.LibraryID(), o.catalog)

	runDir := filepath.Join(o.config.Output.WorkDir, summary.RunID)
	if err := os.MkdirAll(runDir, 0750); err != nil {
		return summary, fmt.Errorf("failed to create work directory: %w", err)
	}
	if !o.config.Output.KeepWorkDir {
		defer o.cleanup(runDir)
	}

	targets := make([]entities.DownloadTarget, len(repos))
	for i, repo := range repos {
		targets[i] = entities.DownloadTarget{
			Repository: repo.ID,
			URL:        o.deps.GitHub.ArchiveURL(repo.ID),
			Directory:  runDir,
		}
	}

	downloads, err := o.deps.Downloader.DownloadAll(ctx, targets)
	if downloads == nil {
		return summary, fmt.Errorf("download stage failed: %w", err)
	}
	for _, failure := range downloads.Failed {
		failures.add(entities.StageDownload, failure)
	}
	summary.Downloaded = len(downloads.Succeeded)
	o.logger.Info("Downloads finished", runID,
		interfaces.F("stage", entities.StageDownload),
		interfaces.F("succeeded", len(downloads.Succeeded)),
		interfaces.F("failed", len(downloads.Failed)))

	archives := make([]entities.Archive, len(downloads.Succeeded))
	for i, d := range downloads.Succeeded {
		archives[i] = entities.Archive{Repository: d.Repository, Path: d.Path}
	}
	extracted, err := o.deps.Extractor.ExtractArchives(ctx, runDir, archives)
	if extracted == nil {
		return summary, fmt.Errorf("extract stage failed: %w", err)
	}
	for _, failure := range extracted.Failed {
		failures.add(entities.StageExtract, failure)
	}
	// rejected entries do not fail the tree but are still reported per repository
	for _, tree := range extracted.Succeeded {
		for _, skipped := range tree.Skipped {
			o.metrics.StageFailure(entities.StageExtract)
			failures.add(entities.StageExtract, &entities.ExtractError{File: tree.Archive, Repository: tree.Repository, Cause: skipped})
		}
	}
	summary.Extracted = len(extracted.Succeeded)

	summary.Scanned = o.scanAll(ctx, extracted.Succeeded, engine, failures)

	summary.Report = engine.Report()
	summary.Failures = failures.list()
	for _, f := range summary.Failures {
		o.logger.Warn("Recorded failure", runID,
			interfaces.F("stage", f.Stage),
			interfaces.F("repository", f.Repository),
			interfaces.F("error", f.Error))
	}

	files, err := o.deps.Writer.WriteReport(summary.Report, summary.Failures, summary.StartedAt)
	if err != nil {
		return summary, fmt.Errorf("failed to write report: %w", err)
	}

	if o.deps.Signer != nil {
		signatures := make([]string, 0, len(files))
		for _, file := range files {
			sig, err := o.deps.Signer.SignFile(file)
			if err != nil {
				return summary, fmt.Errorf("failed to sign %s: %w", filepath.Base(file), err)
			}
			signatures = append(signatures, sig)
		}
		files = append(files, signatures...)
	}
	summary.ReportFiles = files
	o.logger.Info("Report written", runID, interfaces.F("files", len(files)))

	if o.deps.Publisher != nil {
		summary.Published = o.publish(ctx, summary, failures)
		summary.Failures = failures.list()
	}

	summary.Duration = o.now().Sub(summary.StartedAt)
	o.metrics.RunFinished(summary.Duration)
	o.logger.Info("Survey finished", runID,
		interfaces.F("duration", summary.Duration),
		interfaces.F("repositories", summary.Discovered),
		interfaces.F("failures", len(summary.Failures)))
	return summary, nil
}

// lookupCommits fetches the latest commit date of every repository. The API
// queue inside the gateway bounds the requests; a failed lookup leaves the date empty.
func (o *SurveyOrchestrator) lookupCommits(ctx context.Context, ids []entities.RepositoryID, failures *failureLog) []entities.Repository {
	repos := make([]entities.Repository, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		repos[i] = entities.Repository{ID: id}
		g.Go(func() error {
			date, err := o.deps.GitHub.LatestCommit(ctx, id)
			if err != nil {
				o.metrics.StageFailure(entities.StageCommits)
				failures.add(entities.StageCommits, &entities.RepositoryError{Repository: id, Stage: entities.StageCommits, Cause: err})
				return nil
			}
			repos[i].LatestCommit = date
			return nil
		})
	}
	_ = g.Wait()
	return repos
}

// scanAll scans every extracted tree through the scan queue and returns how many succeeded
func (o *SurveyOrchestrator) scanAll(ctx context.Context, trees []entities.ExtractedArchive, engine *services.AggregationEngine, failures *failureLog) int {
	items := make([]workqueue.WorkItem, len(trees))
	for i, tree := range trees {
		target := entities.ScanTarget{Repository: tree.Repository, Root: tree.Root}
		items[i] = workqueue.WorkItem{
			Label: string(target.Repository),
			Run: func(ctx context.Context) error {
				return o.scanRepository(ctx, target, engine)
			},
		}
	}

	scanned := 0
	for i, err := range o.deps.ScanQueue.RunAll(ctx, items) {
		if err != nil {
			o.metrics.StageFailure(entities.StageScan)
			failures.add(entities.StageScan, &entities.RepositoryError{Repository: trees[i].Repository, Stage: entities.StageScan, Cause: err})
			continue
		}
		scanned++
	}
	return scanned
}

// scanRepository runs the analyzer, the package scan and the deep scan of one
// repository concurrently and merges their results once all three succeeded
func (o *SurveyOrchestrator) scanRepository(ctx context.Context, target entities.ScanTarget, engine *services.AggregationEngine) error {
	var (
		usage entities.ComponentUsage
		scans []entities.PackageScan
		hits  []entities.DeepScanHit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		usage, err = o.deps.Analyzer.Analyze(gctx, target.Root, o.config.Analyzer.ExcludeDirs)
		if err != nil {
			return fmt.Errorf("component analysis: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		scans, err = o.deps.Packages.ScanPackages(gctx, target)
		if err != nil {
			return fmt.Errorf("package scan: %w", err)
		}
		return nil
	})
	if o.deps.DeepScanner != nil {
		g.Go(func() error {
			var err error
			hits, err = o.deps.DeepScanner.DeepScan(gctx, target)
			if err != nil {
				return fmt.Errorf("deep scan: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	findings := usage.Findings(target.Repository)
	merged := engine.Merge(findings)
	o.metrics.FindingsMerged(merged, len(findings)-merged)
	engine.MergePackageVersions(scans)
	engine.MergeDeepScan(hits)

	o.logger.Info("Scanned",
		interfaces.F("stage", entities.StageScan),
		interfaces.F("repository", target.Repository),
		interfaces.F("findings", len(findings)),
		interfaces.F("manifests", len(scans)),
		interfaces.F("markers", len(hits)))
	return nil
}

// ObjectKey is the storage key of a report file: <prefix>/<date>/<run id>/<file>
func ObjectKey(prefix string, date time.Time, runID, file string) string {
	return path.Join(prefix, date.Format("2006-01-02"), runID, filepath.Base(file))
}

func (o *SurveyOrchestrator) publish(ctx context.Context, summary *entities.RunSummary, failures *failureLog) []string {
	var published []string
	for _, file := range summary.ReportFiles {
		key := ObjectKey(o.config.Publish.Prefix, summary.StartedAt, summary.RunID, file)
		location, err := o.deps.Publisher.Publish(ctx, key, file)
		if err != nil {
			o.metrics.StageFailure(entities.StagePublish)
			failures.add(entities.StagePublish, fmt.Errorf("publish %s: %w", key, err))
			continue
		}
		published = append(published, location)
	}
	o.logger.Info("Report published",
		interfaces.F("stage", entities.StagePublish),
		interfaces.F("objects", len(published)))
	return published
}

// cleanup removes the run's work directory, and the work directory itself once empty
func (o *SurveyOrchestrator) cleanup(runDir string) {
	if err := os.RemoveAll(runDir); err != nil {
		o.logger.Warn("Failed to clean work directory", interfaces.F("dir", runDir), interfaces.F("error", err))
		return
	}
	// stays when other runs still use it
	_ = os.Remove(filepath.Dir(runDir))
}
