package gateways

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
)

// DateLayout is the date stamp prefixed to every report file
const DateLayout = "2006-01-02"

// Report file suffixes
const (
	ByRepositorySuffix = "-by-repository.json"
	LibrarySuffix      = "-library.json"
	FailuresSuffix     = "-failures.json"
	SumsSuffix         = "-SHA256SUMS"
)

// JSONReportWriter writes the aggregated report as JSON files into one directory
type JSONReportWriter struct {
	dir      string
	checksum *checksumVerifier
}

// NewJSONReportWriter creates a writer for dir
func NewJSONReportWriter(dir string) *JSONReportWriter {
	return &JSONReportWriter{dir: dir, checksum: NewChecksumVerifier()}
}

var _ gateways.ReportWriter = (*JSONReportWriter)(nil)

// WriteReport writes the by-repository array, the library record when present,
// the failures when there are any, and a checksum list covering them.
// The returned paths end with the checksum list.
func (w *JSONReportWriter) WriteReport(report *entities.AggregatedReport, failures []entities.Failure, date time.Time) ([]string, error) {
	if report == nil {
		return nil, fmt.Errorf("report is nil")
	}
	if err := os.MkdirAll(w.dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	stamp := date.Format(DateLayout)
	var written []string

	repositories := report.Repositories
	if repositories == nil {
		repositories = []*entities.RepositoryRecord{}
	}
	path := filepath.Join(w.dir, stamp+ByRepositorySuffix)
	if err := writeJSON(path, repositories); err != nil {
		return nil, err
	}
	written = append(written, path)

	if report.Library != nil {
		path := filepath.Join(w.dir, stamp+LibrarySuffix)
		if err := writeJSON(path, report.Library); err != nil {
			return nil, err
		}
		written = append(written, path)
	}

	if len(failures) > 0 {
		path := filepath.Join(w.dir, stamp+FailuresSuffix)
		if err := writeJSON(path, failures); err != nil {
			return nil, err
		}
		written = append(written, path)
	}

	sums := filepath.Join(w.dir, stamp+SumsSuffix)
	if err := w.checksum.WriteSumsFile(sums, written); err != nil {
		return nil, err
	}
	return append(written, sums), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
