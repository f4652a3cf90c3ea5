package storage

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// TreeEntry describes one entry of a workspace listing.
type TreeEntry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

// ShallowTree lists the immediate children of root, skipping dotfiles.
// A missing root lists as empty.
func ShallowTree(root string) ([]TreeEntry, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []TreeEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read dir: %w", err)
	}

	out := make([]TreeEntry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		size := info.Size()
		if e.IsDir() {
			size = 0
		}
		out = append(out, TreeEntry{
			Path:  e.Name(),
			IsDir: e.IsDir(),
			Size:  size,
			Mtime: info.ModTime().Unix(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
