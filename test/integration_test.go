package test_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ochairo/tally/internal/domain-adapters/gateways"
	"github.com/ochairo/tally/internal/domain-adapters/workqueue"
	orchestrators "github.com/ochairo/tally/internal/domain-orchestrators"
	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/external-adapters/prometheus"
	"github.com/ochairo/tally/internal/external-adapters/yaml"
)

// reportRecord mirrors the written record for assertions
type reportRecord struct {
	FullName                 string            `json:"full_name"`
	LatestCommit             string            `json:"latestCommit"`
	Packages                 map[string]string `json:"packages"`
	DifferentComponentsInUse int               `json:"differentComponentsInUse"`
	Components               map[string]int    `json:"components"`
	DeepScan                 map[string]int    `json:"deepScan"`
	NonUsedComponents        []string          `json:"nonUsedComponents"`
}

func newTestQueue(t *testing.T, name string, limits entities.QueueLimits) *workqueue.Queue {
	t.Helper()
	q, err := workqueue.New(workqueue.Config{
		Name:          name,
		MaxConcurrent: limits.MaxConcurrent,
		MaxPerWindow:  limits.MaxPerWindow,
		Window:        limits.Window,
	})
	if err != nil {
		t.Fatalf("workqueue.New(%s) error = %v", name, err)
	}
	return q
}

// newSurvey wires the production adapters against the survey file at path
func newSurvey(t *testing.T, path, token string, metrics interfaces.Metrics) (*orchestrators.SurveyOrchestrator, *entities.SurveyConfig) {
	t.Helper()

	cfg, err := yaml.NewConfigRepository(path).LoadConfig(context.Background())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	github, err := gateways.NewHTTPGitHubGateway(token,
		gateways.WithBaseURL(cfg.APIBaseURL),
		gateways.WithPerPage(cfg.Search.PerPage),
		gateways.WithRequestQueue(newTestQueue(t, "api", cfg.Queues.API)),
	)
	if err != nil {
		t.Fatalf("NewHTTPGitHubGateway() error = %v", err)
	}
	deepScanner, err := gateways.NewMarkerScanner(cfg.DeepScan, nil)
	if err != nil {
		t.Fatalf("NewMarkerScanner() error = %v", err)
	}

	orch, err := orchestrators.NewSurveyOrchestrator(cfg, orchestrators.SurveyDependencies{
		GitHub:      github,
		Downloader:  gateways.NewDownloader(github, newTestQueue(t, "download", cfg.Queues.Download), nil, metrics),
		Extractor:   gateways.NewExtractor(newTestQueue(t, "extract", cfg.Queues.Extract), nil, metrics),
		Analyzer:    gateways.NewImportAnalyzer(cfg.Library.Package, nil),
		Packages:    gateways.NewPackageJSONScanner(cfg.Packages, cfg.Analyzer.ExcludeDirs, nil),
		DeepScanner: deepScanner,
		Writer:      gateways.NewJSONReportWriter(cfg.Output.ResultsDir),
		ScanQueue:   newTestQueue(t, "scan", cfg.Queues.Scan),
		Metrics:     metrics,
	})
	if err != nil {
		t.Fatalf("NewSurveyOrchestrator() error = %v", err)
	}
	return orch, cfg
}

// TestEndToEnd_Survey runs the whole pipeline against a fake GitHub API
func TestEndToEnd_Survey(t *testing.T) {
	dir := t.TempDir()
	api := newFakeGitHub(t)
	path := writeSurveyFile(t, dir, api.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	metrics := prometheus.New()
	orch, cfg := newSurvey(t, path, testToken, metrics)
	summary, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Discovered != 4 || summary.Downloaded != 4 || summary.Extracted != 4 || summary.Scanned != 4 {
		t.Errorf("summary = %d/%d/%d/%d, want 4 discovered, downloaded, extracted and scanned",
			summary.Discovered, summary.Downloaded, summary.Extracted, summary.Scanned)
	}
	if len(summary.Failures) != 0 {
		t.Errorf("failures = %+v, want none", summary.Failures)
	}
	if got := api.archives.Load(); got != 4 {
		t.Errorf("archives served = %d, want 4 (excluded repositories are never downloaded)", got)
	}

	var records []reportRecord
	readJSON(t, reportFile(t, dir, gateways.ByRepositorySuffix), &records)

	wantOrder := []string{"acme/portal", "acme/booking", "acme/legacy"}
	if len(records) != len(wantOrder) {
		t.Fatalf("records = %d, want %d", len(records), len(wantOrder))
	}
	for i, want := range wantOrder {
		if records[i].FullName != want {
			t.Errorf("records[%d] = %s, want %s", i, records[i].FullName, want)
		}
		if records[i].DifferentComponentsInUse != len(records[i].Components) {
			t.Errorf("%s: differentComponentsInUse = %d, components = %d",
				want, records[i].DifferentComponentsInUse, len(records[i].Components))
		}
	}

	portal := records[0]
	wantComponents := map[string]int{"Button": 2, "Card": 1, "Navigation": 1, "Navigation.Item": 1}
	for name, count := range wantComponents {
		if portal.Components[name] != count {
			t.Errorf("portal %s = %d, want %d", name, portal.Components[name], count)
		}
	}
	if portal.LatestCommit != "2024-03-01T10:00:00Z" {
		t.Errorf("portal latestCommit = %q", portal.LatestCommit)
	}
	if portal.Packages["hds-react"] != "2.1.0" || portal.Packages["vite"] != "5.0.0" {
		t.Errorf("portal packages = %v", portal.Packages)
	}
	if portal.DeepScan["hds-button"] != 1 {
		t.Errorf("portal deepScan = %v, want hds-button once", portal.DeepScan)
	}
	if records[2].DifferentComponentsInUse != 0 {
		t.Errorf("legacy uses %d components, want 0", records[2].DifferentComponentsInUse)
	}

	var library reportRecord
	readJSON(t, reportFile(t, dir, gateways.LibrarySuffix), &library)
	if library.FullName != "acme/design-system" {
		t.Errorf("library = %s, want acme/design-system", library.FullName)
	}
	if len(library.NonUsedComponents) != 1 || library.NonUsedComponents[0] != "Koros" {
		t.Errorf("nonUsedComponents = %v, want [Koros]", library.NonUsedComponents)
	}

	verified, err := gateways.NewChecksumVerifier().VerifySumsFile(ctx, reportFile(t, dir, gateways.SumsSuffix))
	if err != nil || len(verified) != 2 {
		t.Errorf("VerifySumsFile() = %v, %v, want the two report files", verified, err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Output.WorkDir, summary.RunID)); !os.IsNotExist(err) {
		t.Errorf("work directory of run %s should be removed", summary.RunID)
	}

	metricsPath := filepath.Join(dir, "tally.prom")
	if err := metrics.WriteTextfile(metricsPath); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	if data, _ := os.ReadFile(metricsPath); !strings.Contains(string(data), "\ntally_repositories_discovered 4\n") { //nolint:gosec // G304: test file path
		t.Errorf("metrics missing repositories gauge:\n%s", data)
	}
}

// TestEndToEnd_BadToken aborts before anything is written
func TestEndToEnd_BadToken(t *testing.T) {
	dir := t.TempDir()
	api := newFakeGitHub(t)
	path := writeSurveyFile(t, dir, api.URL, "")

	orch, _ := newSurvey(t, path, "wrong-token", nil)
	_, err := orch.Run(context.Background())

	var authErr *entities.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Run() error = %v, want AuthError", err)
	}
	for _, sub := range []string{"results", "work"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); !os.IsNotExist(err) {
			t.Errorf("%s should not exist after an authentication failure", sub)
		}
	}
}

// TestEndToEnd_PartialFailure keeps surveying when one archive is missing
func TestEndToEnd_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	api := newFakeGitHub(t)
	api.hits = append(api.hits, "acme/vanished")
	path := writeSurveyFile(t, dir, api.URL, "")

	orch, _ := newSurvey(t, path, testToken, nil)
	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// the commit lookup and the download of acme/vanished both fail
	stages := map[string]int{}
	for _, f := range summary.Failures {
		if f.Repository != "acme/vanished" {
			t.Errorf("unexpected failure for %s: %s", f.Repository, f.Error)
		}
		stages[f.Stage]++
	}
	if stages[entities.StageCommits] != 1 || stages[entities.StageDownload] != 1 {
		t.Errorf("failure stages = %v, want one commits and one download", stages)
	}

	var records []reportRecord
	readJSON(t, reportFile(t, dir, gateways.ByRepositorySuffix), &records)
	if len(records) != 4 {
		t.Errorf("records = %d, want 4 (the failed repository is still listed)", len(records))
	}

	var failures []entities.Failure
	readJSON(t, reportFile(t, dir, gateways.FailuresSuffix), &failures)
	if len(failures) != 2 {
		t.Errorf("failures file lists %d, want 2", len(failures))
	}
}
