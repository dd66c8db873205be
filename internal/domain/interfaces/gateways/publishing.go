package gateways

import (
	"context"
	"time"

	"github.com/ochairo/tally/internal/domain/entities"
)

// ReportWriter persists the aggregated report
type ReportWriter interface {
	// WriteReport writes the report files for date and returns their paths
	WriteReport(report *entities.AggregatedReport, failures []entities.Failure, date time.Time) ([]string, error)
}

// Signer produces detached signatures
type Signer interface {
	// SignFile writes an armored signature next to path and returns its path
	SignFile(path string) (string, error)
}

// SignatureVerifier checks detached signatures
type SignatureVerifier interface {
	VerifyFile(path, signaturePath string) error
}

// Publisher uploads report files to remote storage
type Publisher interface {
	// Publish uploads the file at path under key and returns the object location
	Publish(ctx context.Context, key, path string) (string, error)
}
