// Package entities defines core domain models and data structures.
package entities

import "strings"

// RepositoryID is the "owner/name" identifier of a repository
type RepositoryID string

// Owner returns the part before the slash
func (id RepositoryID) Owner() string {
	owner, _, _ := strings.Cut(string(id), "/")
	return owner
}

// Name returns the part after the slash, or the whole identifier when there is no owner
func (id RepositoryID) Name() string {
	if _, name, found := strings.Cut(string(id), "/"); found {
		return name
	}
	return string(id)
}

// String implements fmt.Stringer
func (id RepositoryID) String() string {
	return string(id)
}

// NewRepositoryID joins owner and name
func NewRepositoryID(owner, name string) RepositoryID {
	return RepositoryID(owner + "/" + name)
}

// Repository is a discovered repository, in discovery order
type Repository struct {
	ID           RepositoryID
	LatestCommit string // ISO-8601 committer date of the most recent commit
}

// RepositoryRecord is the per-repository summary written to the report.
// DifferentComponentsInUse always equals Components.Len() after each update.
type RepositoryRecord struct {
	FullName                 RepositoryID      `json:"full_name"`
	LatestCommit             string            `json:"latestCommit,omitempty"`
	Packages                 map[string]string `json:"packages"`
	DifferentComponentsInUse int               `json:"differentComponentsInUse"`
	Components               UsageCounts       `json:"components"`
	DeepScan                 *UsageCounts      `json:"deepScan,omitempty"`
}

// NewRepositoryRecord creates an empty record for a discovered repository
func NewRepositoryRecord(repo Repository) *RepositoryRecord {
	return &RepositoryRecord{
		FullName:     repo.ID,
		LatestCommit: repo.LatestCommit,
		Packages:     make(map[string]string),
	}
}

// Clone returns a deep copy of the record
func (r *RepositoryRecord) Clone() *RepositoryRecord {
	clone := &RepositoryRecord{
		FullName:                 r.FullName,
		LatestCommit:             r.LatestCommit,
		Packages:                 make(map[string]string, len(r.Packages)),
		DifferentComponentsInUse: r.DifferentComponentsInUse,
		Components:               r.Components.Clone(),
	}
	for name, version := range r.Packages {
		clone.Packages[name] = version
	}
	if r.DeepScan != nil {
		deep := r.DeepScan.Clone()
		clone.DeepScan = &deep
	}
	return clone
}

// LibraryRecord is the record of the library-of-record repository.
// NonUsedComponents lists catalog entries never observed in any finding.
type LibraryRecord struct {
	RepositoryRecord
	NonUsedComponents []string `json:"nonUsedComponents"`
}
