package gateways

import (
	"context"

	"github.com/ochairo/tally/internal/domain/entities"
)

// ComponentAnalyzer finds component usage in a source tree
type ComponentAnalyzer interface {
	// Analyze walks root, never descending into excluded directories
	Analyze(ctx context.Context, root string, exclude entities.DirExclusion) (entities.ComponentUsage, error)
}

// PackageScanner reads tracked package versions from manifests
type PackageScanner interface {
	ScanPackages(ctx context.Context, target entities.ScanTarget) ([]entities.PackageScan, error)
}

// DeepScanner searches sources for raw usage markers
type DeepScanner interface {
	DeepScan(ctx context.Context, target entities.ScanTarget) ([]entities.DeepScanHit, error)
}
