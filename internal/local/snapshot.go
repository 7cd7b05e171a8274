package local

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// FileMeta is the state of one file as captured by a snapshot, enough to
// detect changes between two scans without hashing.
type FileMeta struct {
	Size    int64
	MTimeNS int64
}

// Snapshot walks the subtree under root and returns the state of every
// regular file, keyed by absolute path. Ignored files and directories
// themselves are not included. Unreadable entries are skipped rather
// than failing the whole scan.
func Snapshot(root string, ignores []string) (map[string]FileMeta, error) {
	files := make(map[string]FileMeta)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if Ignored(path, ignores) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[path] = FileMeta{Size: info.Size(), MTimeNS: info.ModTime().UnixNano()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not scan '%s': %w", root, err)
	}
	return files, nil
}

// Ignored reports whether the file's base name matches one of the
// configured ignore patterns.
func Ignored(path string, ignores []string) bool {
	base := filepath.Base(path)
	for _, pattern := range ignores {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
