package gateways

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
)

// markerMatcher finds raw usage markers. All markers are tried as one
// case-insensitive alternation, earlier markers winning at the same position.
// The preceding-character and prefix guards are checked after a match since
// RE2 has no lookaround; a rejected match resumes the search one byte later.
type markerMatcher struct {
	re      *regexp.Regexp
	markers []entities.MarkerConfig
	groups  []int // submatch index of each marker's wrapping group
}

func newMarkerMatcher(markers []entities.MarkerConfig) (*markerMatcher, error) {
	if len(markers) == 0 {
		return nil, errors.New("no markers configured")
	}

	m := &markerMatcher{markers: markers}
	parts := make([]string, len(markers))
	group := 1
	for i, marker := range markers {
		single, err := regexp.Compile(marker.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid marker pattern %q: %w", marker.Pattern, err)
		}
		parts[i] = "(" + marker.Pattern + ")"
		m.groups = append(m.groups, group)
		group += 1 + single.NumSubexp()
	}

	re, err := regexp.Compile("(?i)" + strings.Join(parts, "|"))
	if err != nil {
		return nil, fmt.Errorf("invalid marker patterns: %w", err)
	}
	m.re = re
	return m, nil
}

// FindAll returns the accepted matches in content, in order
func (m *markerMatcher) FindAll(content string) []string {
	var found []string
	for pos := 0; pos < len(content); {
		loc := m.re.FindStringSubmatchIndex(content[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end == start {
			pos = start + 1
			continue
		}

		if m.accept(m.markerAt(loc), content, start, end) {
			found = append(found, content[start:end])
			pos = end
			continue
		}
		pos = start + 1
	}
	return found
}

func (m *markerMatcher) markerAt(loc []int) int {
	for i, g := range m.groups {
		if loc[2*g] >= 0 {
			return i
		}
	}
	return 0
}

func (m *markerMatcher) accept(idx int, content string, start, end int) bool {
	marker := m.markers[idx]
	if start > 0 && marker.NotAfter != "" && strings.IndexByte(marker.NotAfter, content[start-1]) >= 0 {
		return false
	}
	match := strings.ToLower(content[start:end])
	for _, prefix := range marker.NotPrefixes {
		if strings.HasPrefix(match, strings.ToLower(prefix)) {
			return false
		}
	}
	return true
}

// MarkerScanner is the deep scan: a textual search for raw usage markers
// that a component analyzer does not see (CSS classes, helper functions)
type MarkerScanner struct {
	matcher          *markerMatcher
	extensions       []string
	skipNameContains []string
	skipDirContains  []string
	logger           interfaces.Logger
}

// NewMarkerScanner creates a deep scanner from its configuration
func NewMarkerScanner(cfg entities.DeepScanConfig, logger interfaces.Logger) (*MarkerScanner, error) {
	matcher, err := newMarkerMatcher(cfg.Markers)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &MarkerScanner{
		matcher:          matcher,
		extensions:       cfg.Extensions,
		skipNameContains: cfg.SkipNameContains,
		skipDirContains:  cfg.SkipDirContains,
		logger:           logger,
	}, nil
}

var _ gateways.DeepScanner = (*MarkerScanner)(nil)

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (s *MarkerScanner) wantFile(name string) bool {
	if strings.HasPrefix(name, ".") || containsAny(name, s.skipNameContains) {
		return false
	}
	for _, ext := range s.extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// DeepScan returns one hit per accepted marker occurrence
func (s *MarkerScanner) DeepScan(ctx context.Context, target entities.ScanTarget) ([]entities.DeepScanHit, error) {
	var hits []entities.DeepScanHit
	files := 0

	skipDir := func(name string) bool { return containsAny(name, s.skipDirContains) }
	err := walkFiles(ctx, target.Root, skipDir, func(path, rel string) error {
		if !s.wantFile(filepath.Base(path)) {
			return nil
		}
		files++

		//nolint:gosec // G304: path comes from walking the extracted tree
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Error reading file", interfaces.F("file", rel), interfaces.F("error", err))
			return nil
		}
		for _, marker := range s.matcher.FindAll(string(data)) {
			hits = append(hits, entities.DeepScanHit{Repository: target.Repository, Marker: marker, File: rel})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deep scan %s: %w", target.Repository, err)
	}

	s.logger.Debug("Deep scan finished",
		interfaces.F("repository", target.Repository),
		interfaces.F("files", files),
		interfaces.F("hits", len(hits)))
	return hits, nil
}
