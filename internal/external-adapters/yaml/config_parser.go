// Package yaml provides YAML-based survey configuration parsing and repository implementations.
package yaml

import (
	"fmt"
	"os"
	"time"

	"github.com/ochairo/tally/internal/domain/entities"
	"gopkg.in/yaml.v3"
)

// yamlSurvey represents the raw YAML structure. Every field is optional;
// omitted values keep their defaults.
type yamlSurvey struct {
	Owner      string       `yaml:"owner"`
	APIBaseURL string       `yaml:"api_base_url"`
	Library    yamlLibrary  `yaml:"library"`
	Search     yamlSearch   `yaml:"search"`
	Packages   []string     `yaml:"packages"`
	DeepScan   yamlDeepScan `yaml:"deep_scan"`
	Analyzer   yamlAnalyzer `yaml:"analyzer"`
	Queues     yamlQueues   `yaml:"queues"`
	Output     yamlOutput   `yaml:"output"`
	Signing    yamlSigning  `yaml:"signing"`
	Publish    yamlPublish  `yaml:"publish"`
}

type yamlLibrary struct {
	Repository string   `yaml:"repository"`
	Package    string   `yaml:"package"`
	Components []string `yaml:"components"`
}

type yamlSearch struct {
	Query               string   `yaml:"query"`
	PerPage             int      `yaml:"per_page"`
	ExcludeNameContains []string `yaml:"exclude_name_contains"`
}

type yamlDeepScan struct {
	Enabled          *bool        `yaml:"enabled"`
	Extensions       []string     `yaml:"extensions"`
	SkipNameContains []string     `yaml:"skip_name_contains"`
	SkipDirContains  []string     `yaml:"skip_dir_contains"`
	Markers          []yamlMarker `yaml:"markers"`
}

type yamlMarker struct {
	Pattern     string   `yaml:"pattern"`
	NotAfter    string   `yaml:"not_after"`
	NotPrefixes []string `yaml:"not_prefixes"`
}

type yamlAnalyzer struct {
	Kind        string   `yaml:"kind"`
	Command     []string `yaml:"command"`
	ExcludeDirs []string `yaml:"exclude_dirs"`
	Timeout     string   `yaml:"timeout"`
}

type yamlQueues struct {
	API      yamlQueueLimits `yaml:"api"`
	Download yamlQueueLimits `yaml:"download"`
	Extract  yamlQueueLimits `yaml:"extract"`
	Scan     yamlQueueLimits `yaml:"scan"`
}

type yamlQueueLimits struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	MaxPerWindow  int    `yaml:"max_per_window"`
	Window        string `yaml:"window"`
}

type yamlOutput struct {
	ResultsDir  string `yaml:"results_dir"`
	WorkDir     string `yaml:"work_dir"`
	KeepWorkDir *bool  `yaml:"keep_work_dir"`
	MetricsFile string `yaml:"metrics_file"`
}

type yamlSigning struct {
	PrivateKey string `yaml:"private_key"`
}

type yamlPublish struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	UseSSL   *bool  `yaml:"use_ssl"`
}

// ConfigParser parses YAML survey files
type ConfigParser struct{}

// NewConfigParser creates a new YAML parser
func NewConfigParser() *ConfigParser {
	return &ConfigParser{}
}

// ParseFile parses a YAML survey file into a SurveyConfig entity
func (p *ConfigParser) ParseFile(filePath string) (*entities.SurveyConfig, error) {
	//nolint:gosec // G304: filePath is the survey file chosen by the operator
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	return p.Parse(data)
}

// Parse parses YAML bytes over the defaults. The result is not validated.
func (p *ConfigParser) Parse(data []byte) (*entities.SurveyConfig, error) {
	var raw yamlSurvey
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := entities.DefaultSurveyConfig()
	setString(&cfg.Owner, raw.Owner)
	setString(&cfg.APIBaseURL, raw.APIBaseURL)

	setString(&cfg.Library.Repository, raw.Library.Repository)
	setString(&cfg.Library.Package, raw.Library.Package)
	setList(&cfg.Library.Components, raw.Library.Components)

	setString(&cfg.Search.Query, raw.Search.Query)
	if raw.Search.PerPage != 0 {
		cfg.Search.PerPage = raw.Search.PerPage
	}
	setList(&cfg.Search.ExcludeNameContains, raw.Search.ExcludeNameContains)
	setList(&cfg.Packages, raw.Packages)

	convertDeepScan(&cfg.DeepScan, raw.DeepScan)

	setString(&cfg.Analyzer.Kind, raw.Analyzer.Kind)
	setList(&cfg.Analyzer.Command, raw.Analyzer.Command)
	setList(&cfg.Analyzer.ExcludeDirs, raw.Analyzer.ExcludeDirs)
	if err := setDuration(&cfg.Analyzer.Timeout, raw.Analyzer.Timeout); err != nil {
		return nil, fmt.Errorf("analyzer.timeout: %w", err)
	}

	for name, pair := range map[string]struct {
		dst *entities.QueueLimits
		src yamlQueueLimits
	}{
		"api":      {&cfg.Queues.API, raw.Queues.API},
		"download": {&cfg.Queues.Download, raw.Queues.Download},
		"extract":  {&cfg.Queues.Extract, raw.Queues.Extract},
		"scan":     {&cfg.Queues.Scan, raw.Queues.Scan},
	} {
		if err := convertQueueLimits(pair.dst, pair.src); err != nil {
			return nil, fmt.Errorf("queues.%s: %w", name, err)
		}
	}

	setString(&cfg.Output.ResultsDir, raw.Output.ResultsDir)
	setString(&cfg.Output.WorkDir, raw.Output.WorkDir)
	setString(&cfg.Output.MetricsFile, raw.Output.MetricsFile)
	if raw.Output.KeepWorkDir != nil {
		cfg.Output.KeepWorkDir = *raw.Output.KeepWorkDir
	}

	setString(&cfg.Signing.PrivateKey, raw.Signing.PrivateKey)

	cfg.Publish = entities.PublishConfig{
		Endpoint: raw.Publish.Endpoint,
		Bucket:   raw.Publish.Bucket,
		Region:   raw.Publish.Region,
		Prefix:   raw.Publish.Prefix,
		UseSSL:   raw.Publish.UseSSL == nil || *raw.Publish.UseSSL,
	}

	return cfg, nil
}

func convertDeepScan(dst *entities.DeepScanConfig, src yamlDeepScan) {
	if src.Enabled != nil {
		dst.Enabled = *src.Enabled
	}
	setList(&dst.Extensions, src.Extensions)
	setList(&dst.SkipNameContains, src.SkipNameContains)
	setList(&dst.SkipDirContains, src.SkipDirContains)

	if len(src.Markers) > 0 {
		dst.Markers = make([]entities.MarkerConfig, len(src.Markers))
		for i, m := range src.Markers {
			dst.Markers[i] = entities.MarkerConfig{
				Pattern:     m.Pattern,
				NotAfter:    m.NotAfter,
				NotPrefixes: m.NotPrefixes,
			}
		}
	}
}

func convertQueueLimits(dst *entities.QueueLimits, src yamlQueueLimits) error {
	if src.MaxConcurrent != 0 {
		dst.MaxConcurrent = src.MaxConcurrent
	}
	if src.MaxPerWindow != 0 {
		dst.MaxPerWindow = src.MaxPerWindow
	}
	return setDuration(&dst.Window, src.Window)
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setList(dst *[]string, values []string) {
	if len(values) > 0 {
		*dst = values
	}
}

func setDuration(dst *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*dst = d
	return nil
}
