package services

import "strings"

// ComponentCatalog is the full list of components the library exports
type ComponentCatalog struct {
	names []string
}

// NewComponentCatalog creates a catalog, dropping blanks and case-insensitive duplicates
func NewComponentCatalog(names []string) *ComponentCatalog {
	seen := make(map[string]bool, len(names))
	c := &ComponentCatalog{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		c.names = append(c.names, name)
	}
	return c
}

// Names returns the catalog entries in order
func (c *ComponentCatalog) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.names...)
}

// Unused returns the catalog entries absent from observed, in catalog order.
// observed holds lower-cased component names.
func (c *ComponentCatalog) Unused(observed map[string]struct{}) []string {
	unused := []string{}
	if c == nil {
		return unused
	}
	for _, name := range c.names {
		if _, ok := observed[strings.ToLower(name)]; !ok {
			unused = append(unused, name)
		}
	}
	return unused
}
