// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"
	"io"
	"net/http"

	"github.com/ochairo/tally/internal/domain/entities"
)

// ArchiveStream is an open archive response. The caller must close Body.
type ArchiveStream struct {
	Body   io.ReadCloser
	Header http.Header
}

// RepositorySearcher finds repositories matching a code search query
type RepositorySearcher interface {
	// SearchRepositories follows pagination until every hit is retrieved and
	// returns the repository of each hit in result order, duplicates included.
	SearchRepositories(ctx context.Context, query string) ([]entities.RepositoryID, error)
}

// CommitGateway looks up commit history
type CommitGateway interface {
	// LatestCommit returns the committer date of the most recent commit
	LatestCommit(ctx context.Context, repo entities.RepositoryID) (string, error)
}

// ArchiveSource serves repository snapshots
type ArchiveSource interface {
	// ArchiveURL returns the locator of the repository's default-branch archive
	ArchiveURL(repo entities.RepositoryID) string

	// OpenArchive issues the request and returns the streaming body with its headers
	OpenArchive(ctx context.Context, url string) (*ArchiveStream, error)
}

// GitHubGateway defines operations for GitHub API interactions
type GitHubGateway interface {
	RepositorySearcher
	CommitGateway
	ArchiveSource
}
