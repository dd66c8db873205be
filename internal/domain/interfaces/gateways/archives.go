package gateways

import (
	"context"

	"github.com/ochairo/tally/internal/domain/entities"
)

// ArchiveDownloader persists archives to disk
type ArchiveDownloader interface {
	// DownloadAll fetches every target. The batch lists every outcome; the
	// error is non-nil when at least one target failed.
	DownloadAll(ctx context.Context, targets []entities.DownloadTarget) (*entities.DownloadBatch, error)
}

// ArchiveExtractor unpacks archives next to themselves
type ArchiveExtractor interface {
	// ExtractAll extracts every archive found directly inside dir
	ExtractAll(ctx context.Context, dir string) (*entities.ExtractBatch, error)

	// ExtractArchives extracts the given archives, keeping their repository attribution
	ExtractArchives(ctx context.Context, dir string, archives []entities.Archive) (*entities.ExtractBatch, error)
}
