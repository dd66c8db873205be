package gateways

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/ochairo/tally/internal/domain-adapters/workqueue"
	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
)

// maxEntrySize caps a single extracted file (1GB) to stop decompression bombs
const maxEntrySize int64 = 1 << 30

// Extractor unpacks archives, one queue item per archive
type Extractor struct {
	queue        *workqueue.Queue
	finder       *ArchiveFinder
	logger       interfaces.Logger
	metrics      interfaces.Metrics
	maxEntrySize int64
}

// NewExtractor creates a new extractor. Every archive runs through queue.
func NewExtractor(queue *workqueue.Queue, logger interfaces.Logger, metrics interfaces.Metrics) *Extractor {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	if metrics == nil {
		metrics = interfaces.NoOpMetrics{}
	}
	return &Extractor{
		queue:        queue,
		finder:       NewArchiveFinder(),
		logger:       logger,
		metrics:      metrics,
		maxEntrySize: maxEntrySize,
	}
}

var _ gateways.ArchiveExtractor = (*Extractor)(nil)

// ExtractAll extracts every archive directly inside dir
func (e *Extractor) ExtractAll(ctx context.Context, dir string) (*entities.ExtractBatch, error) {
	archives, err := e.finder.FindArchives(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	return e.ExtractArchives(ctx, dir, archives)
}

// ExtractArchives extracts each archive into its own directory under dir,
// named after the archive without its suffix. A failing archive never stops
// the others; the error joins every ExtractError.
func (e *Extractor) ExtractArchives(ctx context.Context, dir string, archives []entities.Archive) (*entities.ExtractBatch, error) {
	results := make([]*entities.ExtractedArchive, len(archives))
	futures := make([]*workqueue.Future, len(archives))
	var done int32

	for i, archive := range archives {
		i, archive := i, archive
		futures[i] = e.queue.Submit(ctx, workqueue.WorkItem{
			Label: archive.Path,
			Run: func(context.Context) error {
				extracted, err := e.extract(dir, archive)
				if err != nil {
					return err
				}
				results[i] = extracted
				e.logger.Info("Extracted",
					interfaces.F("archive", filepath.Base(archive.Path)),
					interfaces.F("entries", extracted.Entries),
					interfaces.F("done", atomic.AddInt32(&done, 1)),
					interfaces.F("total", len(archives)))
				return nil
			},
		})
	}

	batch := &entities.ExtractBatch{}
	for i, future := range futures {
		<-future.Done()
		if err := future.Err(); err != nil {
			failure := &entities.ExtractError{File: archives[i].Path, Repository: archives[i].Repository, Cause: err}
			e.logger.Warn("Extraction failed", interfaces.F("archive", failure.File), interfaces.F("error", err))
			e.metrics.StageFailure(entities.StageExtract)
			batch.Failed = append(batch.Failed, failure)
			continue
		}
		batch.Succeeded = append(batch.Succeeded, *results[i])
	}

	return batch, batch.Err()
}

// extract runs to completion once started; a failure removes the partial tree.
// It never writes into a root it did not create.
func (e *Extractor) extract(dir string, archive entities.Archive) (*entities.ExtractedArchive, error) {
	name := filepath.Base(archive.Path)
	stem := archiveStem(name)
	if stem == "" {
		return nil, fmt.Errorf("unsupported archive format: %s", name)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	// a root already present belongs to another archive with the same stem
	root := filepath.Join(dir, stem)
	if err := os.Mkdir(root, 0750); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("extraction directory %s already exists", root)
		}
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	result := &entities.ExtractedArchive{
		Repository: archive.Repository,
		Archive:    archive.Path,
		Root:       root,
	}

	var err error
	if strings.HasSuffix(strings.ToLower(name), ".zip") {
		err = e.extractZip(archive.Path, root, result)
	} else {
		err = e.extractTarGz(archive.Path, root, result)
	}
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	for _, skipped := range result.Skipped {
		e.logger.Warn("Rejected archive entry", interfaces.F("archive", name), interfaces.F("entry", skipped.Entry))
	}
	return result, nil
}

// safeJoin resolves an entry name under root, false when it would land outside
func safeJoin(root, name string) (string, bool) {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", false
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

// writeEntry copies one entry to target, failing if it exceeds the size cap
func (e *Extractor) writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	//nolint:gosec // G304: target is validated by safeJoin
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, io.LimitReader(r, e.maxEntrySize+1))
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if written > e.maxEntrySize {
		_ = out.Close()
		return fmt.Errorf("entry %s exceeds %d bytes", filepath.Base(target), e.maxEntrySize)
	}
	return out.Close()
}

func (e *Extractor) extractZip(archivePath, root string, result *entities.ExtractedArchive) error {
	reader, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) && reader != nil {
		// insecure names are rejected entry by entry below
		err = nil
	}
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	//nolint:errcheck // Defer close on read-only archive
	defer reader.Close()

	for _, file := range reader.File {
		target, ok := safeJoin(root, file.Name)
		if !ok {
			result.Skipped = append(result.Skipped, &entities.PathTraversalError{Archive: archivePath, Entry: file.Name})
			continue
		}

		mode := file.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		case !mode.IsRegular():
			// symlinks and devices are never materialized
			e.logger.Debug("Skipping non-regular entry", interfaces.F("entry", file.Name))
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open entry %s: %w", file.Name, err)
		}
		err = e.writeEntry(target, rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
		result.Entries++
	}
	return nil
}

func (e *Extractor) extractTarGz(archivePath, root string, result *entities.ExtractedArchive) error {
	//nolint:gosec // G304: File path archivePath is function parameter for extraction
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open tar.gz: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	//nolint:errcheck // Defer close on gzip reader
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) && header != nil {
			err = nil
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}

		target, ok := safeJoin(root, header.Name)
		if !ok {
			result.Skipped = append(result.Skipped, &entities.PathTraversalError{Archive: archivePath, Entry: header.Name})
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := e.writeEntry(target, tr); err != nil {
				return err
			}
			result.Entries++
		default:
			e.logger.Debug("Skipping unsupported entry",
				interfaces.F("entry", header.Name),
				interfaces.F("type", string(header.Typeflag)))
		}
	}
}
