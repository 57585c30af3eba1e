package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local stores assets under a root directory on disk. The server exposes
// that directory at BaseURL (normally "/uploads").
type Local struct {
	root    string
	baseURL string
}

// NewLocal creates root if it does not exist.
func NewLocal(root, baseURL string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", root, err)
	}
	return &Local{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root is the directory assets are written under.
func (l *Local) Root() string {
	return l.root
}

// Save streams r into a temp file next to the destination and renames it
// into place, so a reader never sees a partially written asset.
func (l *Local) Save(ctx context.Context, key string, r io.Reader) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("storage: creating directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("storage: creating temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: writing %s: %w", key, err)
	}
	// CreateTemp makes 0600 files; assets are read by the file server and
	// by the prober containers, which run as another user.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: finalizing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: finalizing %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("storage: moving %s into place: %w", key, err)
	}

	return l.baseURL + "/" + key, nil
}

func (l *Local) RemoveAll(_ context.Context, prefix string) error {
	prefix, err := CleanKey(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(l.root, filepath.FromSlash(prefix))); err != nil {
		return fmt.Errorf("storage: removing %s: %w", prefix, err)
	}
	return nil
}
