package services

import (
	"sort"
	"strings"
	"sync"

	"github.com/ochairo/tally/internal/domain/entities"
)

// AggregationEngine folds findings, package versions and deep-scan hits into
// per-repository records. It is safe for concurrent use.
type AggregationEngine struct {
	mu       sync.Mutex
	order    []entities.RepositoryID
	records  map[entities.RepositoryID]*entities.RepositoryRecord
	library  entities.RepositoryID
	catalog  *ComponentCatalog
	observed map[string]struct{}
	dropped  int
}

// NewAggregationEngine seeds one record per discovered repository, in discovery order.
// library names the library-of-record repository (may be empty).
func NewAggregationEngine(repos []entities.Repository, library entities.RepositoryID, catalog *ComponentCatalog) *AggregationEngine {
	e := &AggregationEngine{
		records:  make(map[entities.RepositoryID]*entities.RepositoryRecord, len(repos)),
		library:  library,
		catalog:  catalog,
		observed: make(map[string]struct{}),
	}
	for _, repo := range repos {
		if _, dup := e.records[repo.ID]; dup {
			continue
		}
		e.order = append(e.order, repo.ID)
		e.records[repo.ID] = entities.NewRepositoryRecord(repo)
	}
	return e
}

// Merge counts each finding against its repository and returns how many were accepted.
// Findings for repositories that were never seeded are dropped.
func (e *AggregationEngine) Merge(findings []entities.Finding) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	accepted := 0
	for _, f := range findings {
		e.observed[strings.ToLower(f.Component)] = struct{}{}

		record, ok := e.records[f.Repository]
		if !ok {
			e.dropped++
			continue
		}
		record.Components.Increment(f.Component)
		record.DifferentComponentsInUse = record.Components.Len()
		accepted++
	}
	return accepted
}

// MergePackageVersions records package versions. A version already contained
// in the stored value is ignored; others are appended with ", ".
func (e *AggregationEngine) MergePackageVersions(scans []entities.PackageScan) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, scan := range scans {
		record, ok := e.records[scan.Repository]
		if !ok {
			e.dropped++
			continue
		}
		for _, pkg := range scan.Packages {
			record.Packages[pkg.Name] = mergeVersion(record.Packages[pkg.Name], pkg.Version)
		}
	}
}

// mergeVersion uses plain substring containment, so "1.2" is already present in "1.20"
func mergeVersion(stored, version string) string {
	switch {
	case version == "":
		return stored
	case stored == "":
		return version
	case strings.Contains(stored, version):
		return stored
	default:
		return stored + ", " + version
	}
}

// MergeDeepScan counts raw marker hits per repository
func (e *AggregationEngine) MergeDeepScan(hits []entities.DeepScanHit) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, hit := range hits {
		record, ok := e.records[hit.Repository]
		if !ok {
			e.dropped++
			continue
		}
		if record.DeepScan == nil {
			record.DeepScan = &entities.UsageCounts{}
		}
		record.DeepScan.Increment(hit.Marker)
	}
}

// Dropped returns how many inputs referenced repositories that were never seeded
func (e *AggregationEngine) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Report returns a snapshot of the records, stably sorted descending by
// DifferentComponentsInUse with the library-of-record split out
func (e *AggregationEngine) Report() *entities.AggregatedReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := &entities.AggregatedReport{
		Repositories: make([]*entities.RepositoryRecord, 0, len(e.order)),
		Dropped:      e.dropped,
	}
	for _, id := range e.order {
		record := e.records[id].Clone()
		if id == e.library {
			report.Library = &entities.LibraryRecord{
				RepositoryRecord:  *record,
				NonUsedComponents: e.catalog.Unused(e.observed),
			}
			continue
		}
		report.Repositories = append(report.Repositories, record)
	}

	sort.SliceStable(report.Repositories, func(i, j int) bool {
		return report.Repositories[i].DifferentComponentsInUse > report.Repositories[j].DifferentComponentsInUse
	})
	return report
}
