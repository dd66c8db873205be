package gateways

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
)

// sourceExtensions are the files the import analyzer reads
var sourceExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}

var (
	namedImportRe     = regexp.MustCompile(`(?s)import\s+(?:type\s+)?(?:[A-Za-z_$][\w$]*\s*,\s*)?\{([^}]*)\}\s*from\s*['"]([^'"]+)['"]`)
	namespaceImportRe = regexp.MustCompile(`import\s+\*\s+as\s+([A-Za-z_$][\w$]*)\s+from\s*['"]([^'"]+)['"]`)
	jsxElementRe      = regexp.MustCompile(`<([A-Z][\w$]*(?:\.[A-Z][\w$]*)*)`)
)

// ImportAnalyzer counts JSX usage of the components a source file imports from one package.
// Aliased imports are reported under the exported name; members of a namespace
// import are reported by their path below the namespace ("Navigation.Item").
type ImportAnalyzer struct {
	pkg    string
	logger interfaces.Logger
}

// NewImportAnalyzer creates an analyzer for imports of pkg
func NewImportAnalyzer(pkg string, logger interfaces.Logger) *ImportAnalyzer {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &ImportAnalyzer{pkg: pkg, logger: logger}
}

var _ gateways.ComponentAnalyzer = (*ImportAnalyzer)(nil)

// importBindings maps the local identifiers of one file to exported names
type importBindings struct {
	named      map[string]string
	namespaces map[string]bool
}

func (a *ImportAnalyzer) fromPackage(spec string) bool {
	return spec == a.pkg || strings.HasPrefix(spec, a.pkg+"/")
}

func (a *ImportAnalyzer) parseImports(src []byte) importBindings {
	b := importBindings{named: map[string]string{}, namespaces: map[string]bool{}}

	for _, m := range namedImportRe.FindAllSubmatch(src, -1) {
		if !a.fromPackage(string(m[2])) {
			continue
		}
		for _, spec := range strings.Split(string(m[1]), ",") {
			fields := strings.Fields(spec)
			if len(fields) > 0 && fields[0] == "type" {
				fields = fields[1:]
			}
			switch {
			case len(fields) == 1:
				b.named[fields[0]] = fields[0]
			case len(fields) == 3 && fields[1] == "as":
				b.named[fields[2]] = fields[0]
			}
		}
	}

	for _, m := range namespaceImportRe.FindAllSubmatch(src, -1) {
		if a.fromPackage(string(m[2])) {
			b.namespaces[string(m[1])] = true
		}
	}
	return b
}

// resolve maps a JSX element name to the exported component, "" when it is not imported from the package
func (b importBindings) resolve(element string) string {
	head, rest, nested := strings.Cut(element, ".")
	if exported, ok := b.named[head]; ok {
		if nested {
			return exported + "." + rest
		}
		return exported
	}
	if nested && b.namespaces[head] {
		return rest
	}
	return ""
}

func hasSourceExtension(name string) bool {
	if strings.HasSuffix(name, ".d.ts") {
		return false
	}
	ext := filepath.Ext(name)
	for _, want := range sourceExtensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Analyze walks root and records every element usage per component
func (a *ImportAnalyzer) Analyze(ctx context.Context, root string, exclude entities.DirExclusion) (entities.ComponentUsage, error) {
	usage := entities.ComponentUsage{}

	err := walkFiles(ctx, root, exclude.Excludes, func(path, rel string) error {
		if !hasSourceExtension(filepath.Base(path)) {
			return nil
		}

		//nolint:gosec // G304: path comes from walking the extracted tree
		src, err := os.ReadFile(path)
		if err != nil {
			a.logger.Warn("Error reading file", interfaces.F("file", rel), interfaces.F("error", err))
			return nil
		}
		if !bytes.Contains(src, []byte(a.pkg)) {
			return nil
		}

		bindings := a.parseImports(src)
		if len(bindings.named) == 0 && len(bindings.namespaces) == 0 {
			return nil
		}

		scanner := bufio.NewScanner(bytes.NewReader(src))
		scanner.Buffer(make([]byte, 0, 64*1024), len(src)+1)
		line := 0
		for scanner.Scan() {
			line++
			for _, m := range jsxElementRe.FindAllStringSubmatch(scanner.Text(), -1) {
				if component := bindings.resolve(m[1]); component != "" {
					usage[component] = append(usage[component], entities.UsageInstance{File: rel, Line: line})
				}
			}
		}
		if err := scanner.Err(); err != nil {
			a.logger.Warn("Error scanning file", interfaces.F("file", rel), interfaces.F("error", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze %s: %w", root, err)
	}
	return usage, nil
}
