package orchestrators

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ochairo/tally/internal/domain-adapters/workqueue"
	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
)

// Mock implementations for testing
type mockGitHub struct {
	hits      []entities.RepositoryID
	searchErr error
	commits   map[entities.RepositoryID]string
}

func (m *mockGitHub) SearchRepositories(_ context.Context, _ string) ([]entities.RepositoryID, error) {
	return m.hits, m.searchErr
}

func (m *mockGitHub) LatestCommit(_ context.Context, repo entities.RepositoryID) (string, error) {
	date, ok := m.commits[repo]
	if !ok {
		return "", errors.New("no commits")
	}
	return date, nil
}

func (m *mockGitHub) ArchiveURL(repo entities.RepositoryID) string {
	return "https://api.test/repos/" + string(repo) + "/zipball"
}

func (m *mockGitHub) OpenArchive(_ context.Context, _ string) (*gateways.ArchiveStream, error) {
	return nil, errors.New("not implemented")
}

// mockDownloader "downloads" by writing a placeholder file, failing for listed repositories
type mockDownloader struct {
	fail map[entities.RepositoryID]bool
}

func (m *mockDownloader) DownloadAll(_ context.Context, targets []entities.DownloadTarget) (*entities.DownloadBatch, error) {
	batch := &entities.DownloadBatch{}
	for _, t := range targets {
		if m.fail[t.Repository] {
			batch.Failed = append(batch.Failed, &entities.DownloadError{URL: t.URL, Repository: t.Repository, Cause: errors.New("connection reset")})
			continue
		}
		path := filepath.Join(t.Directory, strings.ReplaceAll(string(t.Repository), "/", "-")+".zip")
		if err := os.WriteFile(path, []byte("zip"), 0600); err != nil {
			return nil, err
		}
		batch.Succeeded = append(batch.Succeeded, entities.DownloadedArchive{Repository: t.Repository, URL: t.URL, Path: path})
	}
	return batch, batch.Err()
}

// mockExtractor reports the entry names in skipped as rejected for that repository
type mockExtractor struct {
	skipped map[entities.RepositoryID][]string
}

func (m *mockExtractor) ExtractAll(_ context.Context, _ string) (*entities.ExtractBatch, error) {
	return nil, errors.New("not implemented")
}

func (m *mockExtractor) ExtractArchives(_ context.Context, dir string, archives []entities.Archive) (*entities.ExtractBatch, error) {
	batch := &entities.ExtractBatch{}
	for _, a := range archives {
		root := filepath.Join(dir, strings.TrimSuffix(filepath.Base(a.Path), ".zip"))
		if err := os.MkdirAll(root, 0750); err != nil {
			return nil, err
		}
		tree := entities.ExtractedArchive{Repository: a.Repository, Archive: a.Path, Root: root}
		for _, entry := range m.skipped[a.Repository] {
			tree.Skipped = append(tree.Skipped, &entities.PathTraversalError{Archive: a.Path, Entry: entry})
		}
		batch.Succeeded = append(batch.Succeeded, tree)
	}
	return batch, nil
}

// mockAnalyzer returns canned usage keyed by the extraction root's base name
type mockAnalyzer struct {
	usage map[string]entities.ComponentUsage
	fail  map[string]bool
}

func (m *mockAnalyzer) Analyze(_ context.Context, root string, _ entities.DirExclusion) (entities.ComponentUsage, error) {
	name := filepath.Base(root)
	if m.fail[name] {
		return nil, errors.New("parse error")
	}
	return m.usage[name], nil
}

type mockPackages struct{}

func (m *mockPackages) ScanPackages(_ context.Context, target entities.ScanTarget) ([]entities.PackageScan, error) {
	return []entities.PackageScan{{
		Repository: target.Repository,
		File:       "package.json",
		Packages:   []entities.PackageVersion{{Name: "hds-react", Version: "2.0.0"}},
	}}, nil
}

type mockDeepScanner struct{}

func (m *mockDeepScanner) DeepScan(_ context.Context, target entities.ScanTarget) ([]entities.DeepScanHit, error) {
	return []entities.DeepScanHit{{Repository: target.Repository, Marker: "hds-button", File: "index.html"}}, nil
}

type mockWriter struct {
	report   *entities.AggregatedReport
	failures []entities.Failure
	err      error
}

func (m *mockWriter) WriteReport(report *entities.AggregatedReport, failures []entities.Failure, _ time.Time) ([]string, error) {
	m.report = report
	m.failures = failures
	if m.err != nil {
		return nil, m.err
	}
	return []string{"results/2024-05-02-by-repository.json", "results/2024-05-02-SHA256SUMS"}, nil
}

type mockSigner struct{}

func (m *mockSigner) SignFile(path string) (string, error) {
	return path + ".asc", nil
}

type mockPublisher struct {
	mu   sync.Mutex
	keys []string
	fail string
}

func (m *mockPublisher) Publish(_ context.Context, key, _ string) (string, error) {
	if m.fail != "" && strings.HasSuffix(key, m.fail) {
		return "", errors.New("access denied")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return "s3://reports/" + key, nil
}

func testConfig(t *testing.T) *entities.SurveyConfig {
	t.Helper()
	cfg := entities.DefaultSurveyConfig()
	cfg.Owner = "org"
	cfg.Library.Repository = "lib"
	cfg.Library.Components = []string{"Button", "Card", "Koros"}
	cfg.Output.WorkDir = filepath.Join(t.TempDir(), "tmp")
	return cfg
}

func testDependencies(t *testing.T) SurveyDependencies {
	t.Helper()
	scanQueue, err := workqueue.New(workqueue.Config{Name: "scan", MaxConcurrent: 2, MaxPerWindow: 100, Window: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return SurveyDependencies{
		GitHub: &mockGitHub{
			hits: []entities.RepositoryID{"org/x", "org/y", "org/x", "org/hds-demo", "org/z", "org/lib"},
			commits: map[entities.RepositoryID]string{
				"org/x":   "2024-05-01T10:00:00Z",
				"org/z":   "2024-04-01T10:00:00Z",
				"org/lib": "2024-05-02T08:00:00Z",
			},
		},
		Downloader: &mockDownloader{},
		Extractor:  &mockExtractor{},
		Analyzer: &mockAnalyzer{usage: map[string]entities.ComponentUsage{
			"org-x": {
				"Button": {{File: "a.jsx"}, {File: "b.jsx"}, {File: "c.jsx"}},
				"Card":   {{File: "a.jsx"}},
			},
			"org-z": {"Button": {{File: "main.jsx"}}},
		}},
		Packages:    &mockPackages{},
		DeepScanner: &mockDeepScanner{},
		Writer:      &mockWriter{},
		ScanQueue:   scanQueue,
	}
}

func newTestOrchestrator(t *testing.T, cfg *entities.SurveyConfig, deps SurveyDependencies) *SurveyOrchestrator {
	t.Helper()
	o, err := NewSurveyOrchestrator(cfg, deps)
	if err != nil {
		t.Fatalf("NewSurveyOrchestrator() error = %v", err)
	}
	o.now = func() time.Time { return time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC) }
	o.newRunID = func() string { return "run-1" }
	return o
}

func TestNewSurveyOrchestrator_MissingDependencies(t *testing.T) {
	if _, err := NewSurveyOrchestrator(nil, SurveyDependencies{}); err == nil {
		t.Error("expected error without config")
	}
	if _, err := NewSurveyOrchestrator(entities.DefaultSurveyConfig(), SurveyDependencies{}); err == nil {
		t.Error("expected error without dependencies")
	}
}

func TestSurveyOrchestrator_Discover(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t), testDependencies(t))

	repos, err := o.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	want := []entities.RepositoryID{"org/x", "org/y", "org/z", "org/lib"}
	if len(repos) != len(want) {
		t.Fatalf("Discover() = %v, want %v", repos, want)
	}
	for i := range want {
		if repos[i] != want[i] {
			t.Errorf("repos[%d] = %s, want %s", i, repos[i], want[i])
		}
	}
}

func TestSurveyOrchestrator_Run(t *testing.T) {
	cfg := testConfig(t)
	deps := testDependencies(t)
	writer := deps.Writer.(*mockWriter)
	o := newTestOrchestrator(t, cfg, deps)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.RunID != "run-1" || summary.Discovered != 4 || summary.Downloaded != 4 || summary.Scanned != 4 {
		t.Errorf("summary = %+v", summary)
	}

	report := writer.report
	if report == nil {
		t.Fatal("report was not written")
	}
	var order []string
	for _, r := range report.Repositories {
		order = append(order, string(r.FullName))
	}
	if strings.Join(order, ",") != "org/x,org/z,org/y" {
		t.Errorf("order = %v, want org/x,org/z,org/y", order)
	}

	x := report.Repositories[0]
	if x.DifferentComponentsInUse != 2 || x.Components.Get("Button") != 3 {
		t.Errorf("org/x = %+v", x)
	}
	if x.LatestCommit != "2024-05-01T10:00:00Z" {
		t.Errorf("org/x latestCommit = %q", x.LatestCommit)
	}
	if x.Packages["hds-react"] != "2.0.0" {
		t.Errorf("org/x packages = %v", x.Packages)
	}
	if x.DeepScan == nil || x.DeepScan.Get("hds-button") != 1 {
		t.Errorf("org/x deep scan = %v", x.DeepScan)
	}

	if report.Library == nil || report.Library.FullName != "org/lib" {
		t.Fatalf("library = %+v", report.Library)
	}
	if strings.Join(report.Library.NonUsedComponents, ",") != "Koros" {
		t.Errorf("nonUsedComponents = %v, want [Koros]", report.Library.NonUsedComponents)
	}

	// org/y has no commits: recorded, not fatal
	if len(summary.Failures) != 1 || summary.Failures[0].Stage != entities.StageCommits || summary.Failures[0].Repository != "org/y" {
		t.Errorf("failures = %+v", summary.Failures)
	}
	if len(writer.failures) != 1 {
		t.Errorf("writer failures = %+v", writer.failures)
	}

	if _, err := os.Stat(cfg.Output.WorkDir); !os.IsNotExist(err) {
		t.Errorf("work directory should be removed, stat err = %v", err)
	}
}

func TestSurveyOrchestrator_Run_PartialFailures(t *testing.T) {
	cfg := testConfig(t)
	deps := testDependencies(t)
	deps.Downloader = &mockDownloader{fail: map[entities.RepositoryID]bool{"org/z": true}}
	deps.Analyzer.(*mockAnalyzer).fail = map[string]bool{"org-y": true}
	writer := deps.Writer.(*mockWriter)
	o := newTestOrchestrator(t, cfg, deps)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Downloaded != 3 || summary.Scanned != 2 {
		t.Errorf("downloaded = %d, scanned = %d, want 3 and 2", summary.Downloaded, summary.Scanned)
	}

	stages := map[string]entities.RepositoryID{}
	for _, f := range summary.Failures {
		stages[f.Stage] = f.Repository
	}
	if stages[entities.StageDownload] != "org/z" || stages[entities.StageScan] != "org/y" {
		t.Errorf("failures = %+v", summary.Failures)
	}

	// org/y failed its scan, so nothing partial was merged for it
	for _, r := range writer.report.Repositories {
		if r.FullName == "org/y" && len(r.Packages) != 0 {
			t.Errorf("org/y should have no merged packages, got %v", r.Packages)
		}
	}
}

func TestSurveyOrchestrator_Run_RejectedEntriesReported(t *testing.T) {
	cfg := testConfig(t)
	deps := testDependencies(t)
	deps.Extractor = &mockExtractor{skipped: map[entities.RepositoryID][]string{"org/x": {"../../etc/passwd"}}}
	writer := deps.Writer.(*mockWriter)
	o := newTestOrchestrator(t, cfg, deps)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// the rest of the tree is still scanned
	if summary.Extracted != 4 || summary.Scanned != 4 {
		t.Errorf("extracted = %d, scanned = %d, want 4 and 4", summary.Extracted, summary.Scanned)
	}

	var found *entities.Failure
	for i, f := range writer.failures {
		if f.Stage == entities.StageExtract {
			found = &writer.failures[i]
		}
	}
	if found == nil {
		t.Fatalf("no extract failure in %+v", writer.failures)
	}
	if found.Repository != "org/x" {
		t.Errorf("Repository = %s, want org/x", found.Repository)
	}
	if !strings.Contains(found.Error, "../../etc/passwd") {
		t.Errorf("Error = %q, want the rejected entry", found.Error)
	}
}

func TestSurveyOrchestrator_Run_SearchFails(t *testing.T) {
	cfg := testConfig(t)
	deps := testDependencies(t)
	deps.GitHub.(*mockGitHub).searchErr = &entities.TransientFetchError{URL: "search", Page: 2, Cause: errors.New("502")}
	writer := deps.Writer.(*mockWriter)

	_, err := newTestOrchestrator(t, cfg, deps).Run(context.Background())
	var fetchErr *entities.TransientFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Run() error = %v, want TransientFetchError", err)
	}
	if writer.report != nil {
		t.Error("no report should be written when discovery fails")
	}
	if _, err := os.Stat(cfg.Output.WorkDir); !os.IsNotExist(err) {
		t.Error("work directory should not be created when discovery fails")
	}
}

func TestSurveyOrchestrator_Run_WriteFails(t *testing.T) {
	deps := testDependencies(t)
	deps.Writer = &mockWriter{err: errors.New("disk full")}

	if _, err := newTestOrchestrator(t, testConfig(t), deps).Run(context.Background()); err == nil {
		t.Error("Run() should fail when the report cannot be written")
	}
}

func TestSurveyOrchestrator_Run_SignAndPublish(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.KeepWorkDir = true
	cfg.Publish = entities.PublishConfig{Endpoint: "localhost:9000", Bucket: "reports", Prefix: "tally"}

	publisher := &mockPublisher{fail: "SHA256SUMS.asc"}
	deps := testDependencies(t)
	deps.Signer = &mockSigner{}
	deps.Publisher = publisher

	summary, err := newTestOrchestrator(t, cfg, deps).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(summary.ReportFiles) != 4 {
		t.Errorf("report files = %v, want 2 reports and 2 signatures", summary.ReportFiles)
	}

	sort.Strings(publisher.keys)
	want := []string{
		"tally/2024-05-02/run-1/2024-05-02-SHA256SUMS",
		"tally/2024-05-02/run-1/2024-05-02-by-repository.json",
		"tally/2024-05-02/run-1/2024-05-02-by-repository.json.asc",
	}
	if strings.Join(publisher.keys, ",") != strings.Join(want, ",") {
		t.Errorf("published keys = %v, want %v", publisher.keys, want)
	}
	if len(summary.Published) != 3 {
		t.Errorf("published = %v", summary.Published)
	}

	var publishFailures int
	for _, f := range summary.Failures {
		if f.Stage == entities.StagePublish {
			publishFailures++
		}
	}
	if publishFailures != 1 {
		t.Errorf("publish failures = %d, want 1", publishFailures)
	}

	if _, err := os.Stat(filepath.Join(cfg.Output.WorkDir, "run-1")); err != nil {
		t.Errorf("work directory should be kept: %v", err)
	}
}

func TestObjectKey(t *testing.T) {
	date := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	if got := ObjectKey("", date, "r", "/abs/results/a.json"); got != "2024-05-02/r/a.json" {
		t.Errorf("ObjectKey() = %q", got)
	}
	if got := ObjectKey("surveys/hds", date, "r", "a.json"); got != "surveys/hds/2024-05-02/r/a.json" {
		t.Errorf("ObjectKey() = %q", got)
	}
}
