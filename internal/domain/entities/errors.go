package entities

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is the cause of an AuthError raised before any request
var ErrMissingCredential = errors.New("GitHub token is missing")

// AuthError is fatal and raised before any I/O
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication: %v", e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// TransientFetchError aborts a paginated fetch; partial result sets are never returned
type TransientFetchError struct {
	URL   string
	Page  int
	Cause error
}

func (e *TransientFetchError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("fetch page %d of %s: %v", e.Page, e.URL, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *TransientFetchError) Unwrap() error { return e.Cause }

// HeaderParseError reports a missing or malformed response header
type HeaderParseError struct {
	Header string
	Value  string
	Reason string
}

func (e *HeaderParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("header %s: %s", e.Header, e.Reason)
	}
	return fmt.Sprintf("header %s %q: %s", e.Header, e.Value, e.Reason)
}

// DownloadError is a per-item download failure; siblings are unaffected
type DownloadError struct {
	URL        string
	Repository RepositoryID
	Cause      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Cause)
}

func (e *DownloadError) Unwrap() error { return e.Cause }

// ExtractError is a per-archive extraction failure; siblings are unaffected
type ExtractError struct {
	File       string
	Repository RepositoryID
	Cause      error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.File, e.Cause)
}

func (e *ExtractError) Unwrap() error { return e.Cause }

// PathTraversalError is an archive entry that would land outside the extraction root
type PathTraversalError struct {
	Archive string
	Entry   string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("archive %s: entry %q escapes extraction root", e.Archive, e.Entry)
}

// RepositoryError is a per-repository failure in a pipeline stage other than download/extract
type RepositoryError struct {
	Repository RepositoryID
	Stage      string
	Cause      error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Repository, e.Cause)
}

func (e *RepositoryError) Unwrap() error { return e.Cause }
