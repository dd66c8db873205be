package entities

import "sort"

// Finding is a single observed usage of a tracked component within one source file
type Finding struct {
	Repository RepositoryID
	Component  string
	File       string
}

// UsageInstance is one place where a component is used
type UsageInstance struct {
	File string
	Line int // 1-based, 0 when the analyzer does not report positions
}

// ComponentUsage maps a component name to its usage instances, as returned by an analyzer
type ComponentUsage map[string][]UsageInstance

// Findings flattens the usage into findings attributed to repo.
// Components are visited in name order so the result is deterministic.
func (u ComponentUsage) Findings(repo RepositoryID) []Finding {
	names := make([]string, 0, len(u))
	for name := range u {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []Finding
	for _, name := range names {
		for _, inst := range u[name] {
			findings = append(findings, Finding{Repository: repo, Component: name, File: inst.File})
		}
	}
	return findings
}

// PackageScan is the tracked package versions read from one manifest file
type PackageScan struct {
	Repository RepositoryID
	File       string
	Packages   []PackageVersion
}

// PackageVersion is a tracked package and the version string found for it
type PackageVersion struct {
	Name    string
	Version string
}

// DeepScanHit is one raw marker match found by the deep scan
type DeepScanHit struct {
	Repository RepositoryID
	Marker     string // matched text, as written in the source
	File       string
}

// DirExclusion decides which directory names an analyzer must not descend into
type DirExclusion []string

// Excludes reports whether a directory with this base name is excluded
func (d DirExclusion) Excludes(name string) bool {
	for _, excluded := range d {
		if name == excluded {
			return true
		}
	}
	return false
}
