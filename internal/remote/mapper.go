package remote

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot marks paths or keys that do not belong to the
// synchronized subtree.
var ErrOutsideRoot = errors.New("outside synchronized root")

// Mapper translates between absolute local paths under a fixed root and
// remote object keys under a fixed prefix. The mapping is deterministic
// and injective, so reconciliation across process restarts sees the same
// key for the same file.
type Mapper struct {
	root   string
	prefix string
}

func NewMapper(root, prefix string) (*Mapper, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("root '%s' must be an absolute path", root)
	}
	return &Mapper{
		root:   filepath.Clean(root),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (m *Mapper) Root() string {
	return m.root
}

func (m *Mapper) Prefix() string {
	return m.prefix
}

// ToRemoteKey maps an absolute local path to its remote object key.
// Separators are normalized to '/' regardless of platform.
func (m *Mapper) ToRemoteKey(localPath string) (string, error) {
	if !filepath.IsAbs(localPath) {
		return "", fmt.Errorf("path '%s': %w", localPath, ErrOutsideRoot)
	}
	rel, err := filepath.Rel(m.root, filepath.Clean(localPath))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s': %w", localPath, ErrOutsideRoot)
	}
	key := filepath.ToSlash(rel)
	if m.prefix != "" {
		key = m.prefix + "/" + key
	}
	return key, nil
}

// ToLocalPath maps a remote object key back to the absolute local path it
// was produced from. A trailing '/' (folder marker object) is dropped, so
// markers map to their directory.
func (m *Mapper) ToLocalPath(key string) (string, error) {
	rel := key
	if m.prefix != "" {
		if !strings.HasPrefix(key, m.prefix+"/") {
			return "", fmt.Errorf("key '%s': %w", key, ErrOutsideRoot)
		}
		rel = strings.TrimPrefix(key, m.prefix+"/")
	}
	rel = strings.TrimSuffix(rel, "/")
	if rel == "" {
		return "", fmt.Errorf("key '%s': %w", key, ErrOutsideRoot)
	}
	for part := range strings.SplitSeq(rel, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("key '%s': %w", key, ErrOutsideRoot)
		}
	}
	return filepath.Join(m.root, filepath.FromSlash(rel)), nil
}
