package entities

import (
	"errors"
	"time"
)

// AggregatedReport is the final per-repository summary.
// Repositories are ordered descending by DifferentComponentsInUse, ties in discovery order.
type AggregatedReport struct {
	Repositories []*RepositoryRecord
	Library      *LibraryRecord // nil when no library-of-record repository was configured
	Dropped      int            // findings for repositories that were never discovered
}

// Stage names used in failures and logs
const (
	StageDiscover = "discover"
	StageCommits  = "commits"
	StageDownload = "download"
	StageExtract  = "extract"
	StageScan     = "scan"
	StagePublish  = "publish"
)

// Failure is a recorded, non-fatal pipeline failure
type Failure struct {
	Stage      string       `json:"stage"`
	Repository RepositoryID `json:"repository,omitempty"`
	Target     string       `json:"target,omitempty"`
	Error      string       `json:"error"`
}

// NewFailure classifies err into a Failure record
func NewFailure(stage string, err error) Failure {
	f := Failure{Stage: stage, Error: err.Error()}

	var (
		downloadErr *DownloadError
		extractErr  *ExtractError
		repoErr     *RepositoryError
	)
	switch {
	case errors.As(err, &downloadErr):
		f.Repository = downloadErr.Repository
		f.Target = downloadErr.URL
	case errors.As(err, &extractErr):
		f.Repository = extractErr.Repository
		f.Target = extractErr.File
	case errors.As(err, &repoErr):
		f.Repository = repoErr.Repository
	}
	return f
}

// RunSummary describes a finished survey run
type RunSummary struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Discovered  int
	Downloaded  int
	Extracted   int
	Scanned     int
	Failures    []Failure
	ReportFiles []string
	Published   []string
	Report      *AggregatedReport
}
