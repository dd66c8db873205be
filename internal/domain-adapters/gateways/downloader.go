package gateways

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

const contentDispositionHeader = "Content-Disposition"

// Downloader streams archives to disk, one queue item per target
type Downloader struct {
	source  gateways.ArchiveSource
	queue   *workqueue.Queue
	logger  interfaces.Logger
	metrics interfaces.Metrics
}

// NewDownloader creates a new downloader. Every download runs through queue.
func NewDownloader(source gateways.ArchiveSource, queue *workqueue.Queue, logger interfaces.Logger, metrics interfaces.Metrics) *Downloader {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	if metrics == nil {
		metrics = interfaces.NoOpMetrics{}
	}
	return &Downloader{
		source:  source,
		queue:   queue,
		logger:  logger,
		metrics: metrics,
	}
}

var _ gateways.ArchiveDownloader = (*Downloader)(nil)

// ParseContentDisposition returns the file name carried by a content-disposition
// value, taking what follows the first "=". Names that could leave the target
// directory are rejected.
func ParseContentDisposition(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", &entities.HeaderParseError{Header: contentDispositionHeader, Reason: "missing"}
	}

	_, after, found := strings.Cut(value, "=")
	if !found {
		return "", &entities.HeaderParseError{Header: contentDispositionHeader, Value: value, Reason: "no file name"}
	}
	if i := strings.IndexByte(after, ';'); i >= 0 {
		after = after[:i]
	}
	name := strings.Trim(strings.TrimSpace(after), `"'`)

	switch {
	case name == "":
		return "", &entities.HeaderParseError{Header: contentDispositionHeader, Value: value, Reason: "empty file name"}
	case name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00"):
		return "", &entities.HeaderParseError{Header: contentDispositionHeader, Value: value, Reason: "unsafe file name"}
	}
	return name, nil
}

// DownloadAll downloads every target. One failing target never stops the
// others; the error joins every DownloadError and is returned after all
// targets finished.
func (d *Downloader) DownloadAll(ctx context.Context, targets []entities.DownloadTarget) (*entities.DownloadBatch, error) {
	results := make([]*entities.DownloadedArchive, len(targets))
	futures := make([]*workqueue.Future, len(targets))
	var done int32

	for i, target := range targets {
		i, target := i, target
		d.logger.Debug("Preparing download", interfaces.F("url", target.URL))
		futures[i] = d.queue.Submit(ctx, workqueue.WorkItem{
			Label: target.URL,
			Run: func(ctx context.Context) error {
				archive, err := d.download(ctx, target)
				if err != nil {
					return err
				}
				results[i] = archive
				d.logger.Info("Downloaded",
					interfaces.F("file", filepath.Base(archive.Path)),
					interfaces.F("bytes", archive.Size),
					interfaces.F("done", atomic.AddInt32(&done, 1)),
					interfaces.F("total", len(targets)))
				return nil
			},
		})
	}

	batch := &entities.DownloadBatch{}
	for i, future := range futures {
		<-future.Done()
		if err := future.Err(); err != nil {
			failure := &entities.DownloadError{URL: targets[i].URL, Repository: targets[i].Repository, Cause: err}
			d.logger.Warn("Download failed", interfaces.F("url", failure.URL), interfaces.F("error", err))
			d.metrics.StageFailure(entities.StageDownload)
			batch.Failed = append(batch.Failed, failure)
			continue
		}
		batch.Succeeded = append(batch.Succeeded, *results[i])
	}

	return batch, batch.Err()
}

// download streams one archive into a temporary file and renames it into
// place once complete, so the directory never holds a truncated archive
func (d *Downloader) download(ctx context.Context, target entities.DownloadTarget) (*entities.DownloadedArchive, error) {
	stream, err := d.source.OpenArchive(ctx, target.URL)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer stream.Body.Close()

	filename, err := ParseContentDisposition(stream.Header.Get(contentDispositionHeader))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(target.Directory, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(target.Directory, ".tally-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, h), stream.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	dest := filepath.Join(target.Directory, filename)
	if err := reserve(dest); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(dest)
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}
	committed = true
	d.metrics.BytesDownloaded(written)

	return &entities.DownloadedArchive{
		Repository: target.Repository,
		URL:        target.URL,
		Path:       dest,
		Size:       written,
		SHA256:     hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// reserve claims path for one archive. A name already taken by another target
// fails instead of being overwritten.
func reserve(path string) error {
	//nolint:gosec // G304: path is the target directory joined with a validated file name
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("archive %s already exists in %s", filepath.Base(path), filepath.Dir(path))
	}
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return f.Close()
}
