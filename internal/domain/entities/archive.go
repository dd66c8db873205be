package entities

import "errors"

// DownloadTarget is one archive to fetch. The file name is only known once
// the response headers arrive.
type DownloadTarget struct {
	Repository RepositoryID
	URL        string
	Directory  string
}

// DownloadedArchive is a fully written archive on disk
type DownloadedArchive struct {
	Repository RepositoryID
	URL        string
	Path       string
	Size       int64
	SHA256     string
}

// DownloadBatch collects the outcome of a download run
type DownloadBatch struct {
	Succeeded []DownloadedArchive
	Failed    []*DownloadError
}

// Err joins all failures, nil when every download succeeded
func (b *DownloadBatch) Err() error {
	if b == nil || len(b.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(b.Failed))
	for i, f := range b.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Archive is an archive file to extract, with the repository it belongs to when known
type Archive struct {
	Repository RepositoryID
	Path       string
}

// ExtractedArchive is an archive whose entries were all written (or rejected)
type ExtractedArchive struct {
	Repository RepositoryID
	Archive    string
	Root       string // directory the entries were written into
	Entries    int
	Skipped    []*PathTraversalError
}

// ExtractBatch collects the outcome of an extraction run
type ExtractBatch struct {
	Succeeded []ExtractedArchive
	Failed    []*ExtractError
}

// Err joins all failures, nil when every archive extracted
func (b *ExtractBatch) Err() error {
	if b == nil || len(b.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(b.Failed))
	for i, f := range b.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// ScanTarget is an extracted repository tree ready for analysis
type ScanTarget struct {
	Repository RepositoryID
	Root       string
}
