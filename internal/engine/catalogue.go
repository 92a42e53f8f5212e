package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/pathutil"
)

// buildCatalogue turns the user's selection (files and/or directories)
// into the flat FileEntry list a ShareSession publishes. A directory
// contributes every regular file beneath it, named relative to the
// directory's parent so the directory itself appears as the top path
// component.
func buildCatalogue(paths []string) ([]model.FileEntry, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("engine: no files specified")
	}

	seen := make(map[string]bool)
	var out []model.FileEntry

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("engine: resolve %s: %w", p, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("engine: %s: %w", p, err)
		}

		if info.IsDir() {
			leaves, err := pathutil.EnumerateLeaves(abs)
			if err != nil {
				return nil, err
			}
			parent := filepath.Dir(abs)
			for _, leaf := range leaves {
				rel, err := filepath.Rel(parent, leaf)
				if err != nil {
					return nil, fmt.Errorf("engine: relativize %s: %w", leaf, err)
				}
				name := filepath.ToSlash(rel)
				if seen[name] {
					continue
				}
				seen[name] = true
				leafInfo, err := os.Stat(leaf)
				if err != nil {
					return nil, fmt.Errorf("engine: %s: %w", leaf, err)
				}
				out = append(out, model.FileEntry{Name: name, Size: leafInfo.Size(), Path: leaf})
			}
			continue
		}

		name := filepath.Base(abs)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, model.FileEntry{Name: name, Size: info.Size(), Path: abs})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("engine: no readable files in selection")
	}
	return out, nil
}
