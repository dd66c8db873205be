package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
)

const packageManifest = "package.json"

// PackageJSONScanner reads tracked package versions from every package.json in a tree
type PackageJSONScanner struct {
	packages []string
	exclude  entities.DirExclusion
	logger   interfaces.Logger
}

// NewPackageJSONScanner creates a scanner for the given package names
func NewPackageJSONScanner(packages []string, exclude []string, logger interfaces.Logger) *PackageJSONScanner {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &PackageJSONScanner{
		packages: packages,
		exclude:  exclude,
		logger:   logger,
	}
}

var _ gateways.PackageScanner = (*PackageJSONScanner)(nil)

type packageManifestJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// ScanPackages returns one PackageScan per manifest declaring at least one tracked package.
// A manifest that cannot be parsed is logged and skipped.
func (s *PackageJSONScanner) ScanPackages(ctx context.Context, target entities.ScanTarget) ([]entities.PackageScan, error) {
	var scans []entities.PackageScan

	err := walkFiles(ctx, target.Root, s.exclude.Excludes, func(path, rel string) error {
		if filepath.Base(path) != packageManifest {
			return nil
		}

		//nolint:gosec // G304: path comes from walking the extracted tree
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}

		var manifest packageManifestJSON
		if err := json.Unmarshal(data, &manifest); err != nil {
			s.logger.Warn("Skipping unparsable manifest",
				interfaces.F("repository", target.Repository),
				interfaces.F("file", rel),
				interfaces.F("error", err))
			return nil
		}

		scan := entities.PackageScan{Repository: target.Repository, File: rel}
		for _, name := range s.packages {
			version := manifest.Dependencies[name]
			if version == "" {
				version = manifest.DevDependencies[name]
			}
			if version != "" {
				scan.Packages = append(scan.Packages, entities.PackageVersion{Name: name, Version: version})
			}
		}
		if len(scan.Packages) > 0 {
			scans = append(scans, scan)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan manifests of %s: %w", target.Repository, err)
	}
	return scans, nil
}
