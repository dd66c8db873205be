package gateways

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ochairo/tally/internal/domain/entities"
)

// archiveSuffixes lists the archive formats the extractor understands
var archiveSuffixes = []string{".zip", ".tar.gz", ".tgz"}

// ArchiveFinder provides utilities for locating archives and report files
type ArchiveFinder struct{}

// NewArchiveFinder creates a new archive finder
func NewArchiveFinder() *ArchiveFinder {
	return &ArchiveFinder{}
}

// archiveStem strips a known archive suffix from name, "" when it has none
func archiveStem(name string) string {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return ""
}

// FindArchives lists the archive files directly inside dir (not recursive), sorted by name
func (f *ArchiveFinder) FindArchives(dir string) ([]entities.Archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var archives []entities.Archive
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || archiveStem(name) == "" {
			continue
		}
		archives = append(archives, entities.Archive{Path: filepath.Join(dir, name)})
	}
	return archives, nil
}

// FindReports searches resultsDir for the report files of one date stamp,
// signatures and checksum lists excluded
func (f *ArchiveFinder) FindReports(resultsDir, date string) ([]string, error) {
	if _, err := os.Stat(resultsDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("results directory does not exist: %s", resultsDir)
	}

	pattern := filepath.Join(resultsDir, date+"-*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}
