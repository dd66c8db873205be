package entities

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SurveyConfig is the complete configuration of a survey run
type SurveyConfig struct {
	Owner      string
	APIBaseURL string
	Library    LibraryConfig
	Search     SearchConfig
	Packages   []string // tracked package names whose versions are reported
	DeepScan   DeepScanConfig
	Analyzer   AnalyzerConfig
	Queues     QueuesConfig
	Output     OutputConfig
	Signing    SigningConfig
	Publish    PublishConfig
}

// LibraryConfig identifies the component library being surveyed
type LibraryConfig struct {
	Repository string   // name of the library-of-record repository within Owner
	Package    string   // package the components are imported from
	Components []string // full component catalog
}

// SearchConfig controls repository discovery
type SearchConfig struct {
	Query               string // "{owner}" is replaced with the configured owner
	PerPage             int
	ExcludeNameContains []string
}

// DeepScanConfig controls the raw marker scan
type DeepScanConfig struct {
	Enabled          bool
	Extensions       []string
	SkipNameContains []string
	SkipDirContains  []string
	Markers          []MarkerConfig
}

// MarkerConfig is one raw usage marker
type MarkerConfig struct {
	Pattern     string   // RE2 expression, matched case-insensitively
	NotAfter    string   // characters that must not directly precede a match
	NotPrefixes []string // matches starting with any of these (case-insensitive) are ignored
}

// Analyzer kinds
const (
	AnalyzerImport = "import"
	AnalyzerExec   = "exec"
)

// AnalyzerConfig selects and configures the component analyzer
type AnalyzerConfig struct {
	Kind        string
	Command     []string // exec analyzer argv; {root} and {package} are substituted
	ExcludeDirs []string
	Timeout     time.Duration
}

// QueueLimits bounds one work queue
type QueueLimits struct {
	MaxConcurrent int
	MaxPerWindow  int
	Window        time.Duration
}

// QueuesConfig holds the limits of every pipeline queue
type QueuesConfig struct {
	API      QueueLimits
	Download QueueLimits
	Extract  QueueLimits
	Scan     QueueLimits
}

// OutputConfig controls where files go
type OutputConfig struct {
	ResultsDir  string
	WorkDir     string
	KeepWorkDir bool
	MetricsFile string
}

// SigningConfig enables detached signatures on report files
type SigningConfig struct {
	PrivateKey string // path to an armored private key; empty disables signing
}

// PublishConfig enables uploading report files to S3-compatible storage
type PublishConfig struct {
	Endpoint string
	Bucket   string
	Region   string
	Prefix   string
	UseSSL   bool
}

// Enabled reports whether publishing is configured
func (p PublishConfig) Enabled() bool {
	return p.Endpoint != "" && p.Bucket != ""
}

// DefaultSurveyConfig returns the defaults used when the config file leaves a value empty
func DefaultSurveyConfig() *SurveyConfig {
	return &SurveyConfig{
		Owner:      "City-of-Helsinki",
		APIBaseURL: "https://api.github.com",
		Library: LibraryConfig{
			Repository: "helsinki-design-system",
			Package:    "hds-react",
		},
		Search: SearchConfig{
			Query:               "hds-react in:file filename:package.json org:{owner}",
			PerPage:             100,
			ExcludeNameContains: []string{"hds-"},
		},
		Packages: []string{"hds-react", "react", "next", "express", "vite", "gatsby", "remix"},
		DeepScan: DeepScanConfig{
			Enabled:          true,
			Extensions:       []string{".js", ".jsx", ".ts", ".tsx", ".yml", ".twig", ".html", ".htm", ".php"},
			SkipNameContains: []string{".test.", "tests", ".d.ts", "babel", "config", "types.js"},
			SkipDirContains: []string{
				"node_modules", "dist", "build", "__tests__", "__snapshots__", "__mocks__",
				"__tests_", "__test__", "__uploads__", "__uploads_",
			},
			Markers: []MarkerConfig{
				{Pattern: `hds-[a-z0-9-]+`, NotAfter: "-#", NotPrefixes: []string{"hds-react"}},
				{Pattern: `getCriticalHdsRules`},
				{Pattern: `getCriticalHdsRulesSync`},
				{Pattern: `hdsStyles`},
			},
		},
		Analyzer: AnalyzerConfig{
			Kind:        AnalyzerImport,
			ExcludeDirs: []string{"node_modules"},
			Timeout:     10 * time.Minute,
		},
		Queues: QueuesConfig{
			API:      QueueLimits{MaxConcurrent: 3, MaxPerWindow: 3, Window: time.Second},
			Download: QueueLimits{MaxConcurrent: 1, MaxPerWindow: 3, Window: time.Second},
			Extract:  QueueLimits{MaxConcurrent: 4, MaxPerWindow: 50, Window: time.Second},
			Scan:     QueueLimits{MaxConcurrent: 4, MaxPerWindow: 100, Window: time.Second},
		},
		Output: OutputConfig{
			ResultsDir: "results",
			WorkDir:    "tmp",
		},
	}
}

// SearchQuery returns the search query with the owner substituted
func (c *SurveyConfig) SearchQuery() string {
	return strings.ReplaceAll(c.Search.Query, "{owner}", c.Owner)
}

// LibraryID returns the identifier of the library-of-record repository, empty when unset
func (c *SurveyConfig) LibraryID() RepositoryID {
	if c.Library.Repository == "" {
		return ""
	}
	return NewRepositoryID(c.Owner, c.Library.Repository)
}

// Validate checks the configuration for values that would make a run meaningless
func (c *SurveyConfig) Validate() error {
	var errs []error

	if c.Owner == "" {
		errs = append(errs, errors.New("owner is required"))
	}
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("api_base_url is required"))
	}
	if c.Search.Query == "" {
		errs = append(errs, errors.New("search.query is required"))
	}
	if c.Search.PerPage <= 0 || c.Search.PerPage > 100 {
		errs = append(errs, fmt.Errorf("search.per_page must be between 1 and 100, got %d", c.Search.PerPage))
	}

	switch c.Analyzer.Kind {
	case AnalyzerImport:
		if c.Library.Package == "" {
			errs = append(errs, errors.New("library.package is required by the import analyzer"))
		}
	case AnalyzerExec:
		if len(c.Analyzer.Command) == 0 {
			errs = append(errs, errors.New("analyzer.command is required by the exec analyzer"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown analyzer kind %q", c.Analyzer.Kind))
	}

	for name, limits := range map[string]QueueLimits{
		"api":      c.Queues.API,
		"download": c.Queues.Download,
		"extract":  c.Queues.Extract,
		"scan":     c.Queues.Scan,
	} {
		if limits.MaxConcurrent <= 0 || limits.MaxPerWindow <= 0 || limits.Window <= 0 {
			errs = append(errs, fmt.Errorf("queues.%s: max_concurrent, max_per_window and window must be positive", name))
		}
	}

	if c.Output.ResultsDir == "" || c.Output.WorkDir == "" {
		errs = append(errs, errors.New("output.results_dir and output.work_dir are required"))
	}
	if c.Publish.Endpoint != "" && c.Publish.Bucket == "" {
		errs = append(errs, errors.New("publish.bucket is required when publish.endpoint is set"))
	}

	return errors.Join(errs...)
}
