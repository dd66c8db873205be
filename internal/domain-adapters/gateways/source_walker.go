package gateways

import (
	"context"
	"io/fs"
	"path/filepath"
)

// walkFiles visits every regular file under root. Directories for which
// skipDir returns true are not descended into; the root itself is never skipped.
func walkFiles(ctx context.Context, root string, skipDir func(name string) bool, visit func(path, rel string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && skipDir != nil && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return visit(path, filepath.ToSlash(rel))
	})
}
