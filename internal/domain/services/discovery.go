package services

import (
	"strings"

	"github.com/ochairo/tally/internal/domain/entities"
)

// DiscoveryService turns raw search hits into the list of repositories to survey
type DiscoveryService struct {
	library             entities.RepositoryID
	excludeNameContains []string
}

// NewDiscoveryService creates a discovery filter. library may be empty.
func NewDiscoveryService(library entities.RepositoryID, excludeNameContains []string) *DiscoveryService {
	return &DiscoveryService{library: library, excludeNameContains: excludeNameContains}
}

// Filter keeps the first occurrence of each repository, drops the library-of-record
// and every repository whose name contains an excluded marker, then appends the
// library-of-record so it is surveyed too
func (s *DiscoveryService) Filter(hits []entities.RepositoryID) []entities.RepositoryID {
	seen := make(map[entities.RepositoryID]bool, len(hits))
	repos := make([]entities.RepositoryID, 0, len(hits)+1)

	for _, id := range hits {
		if seen[id] {
			continue
		}
		seen[id] = true
		if s.Excluded(id) {
			continue
		}
		repos = append(repos, id)
	}

	if s.library != "" {
		repos = append(repos, s.library)
	}
	return repos
}

// Excluded reports whether a search hit is filtered out
func (s *DiscoveryService) Excluded(id entities.RepositoryID) bool {
	if s.library != "" && (id == s.library || id.Name() == s.library.Name()) {
		return true
	}
	name := id.Name()
	for _, marker := range s.excludeNameContains {
		if marker != "" && strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
