package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/TileDB-Inc/TileDB-SOMA/internal/mmap"
)

// LocalBackend implements Backend on the local file system.
// It backs file:// URIs. Blob names are slash-separated paths under root;
// an empty root means names are absolute paths.
//
// Reads are memory-mapped so large array chunks are paged in on demand.
// Writes go through a temp file plus rename so a blob is either fully
// present or absent, never truncated.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a LocalBackend rooted at the given directory.
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: root}
}

func (s *LocalBackend) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Put writes a blob atomically.
func (s *LocalBackend) Put(_ context.Context, name string, data []byte) error {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return syncDir(filepath.Dir(path))
}

// Open opens a blob for reading via mmap.
func (s *LocalBackend) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	return &localBlob{m: m}, nil
}

// Stat returns the size of a blob.
func (s *LocalBackend) Stat(_ context.Context, name string) (int64, error) {
	fi, err := os.Stat(s.path(name))
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Delete removes a blob.
func (s *LocalBackend) Delete(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns all blob names with the given prefix.
func (s *LocalBackend) List(_ context.Context, prefix string) ([]string, error) {
	// Walk from the deepest directory fully contained in the prefix.
	dir := s.path(prefix)
	if !strings.HasSuffix(prefix, "/") {
		dir = filepath.Dir(dir)
	}

	var names []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		name := filepath.ToSlash(path)
		if s.root != "" {
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				return err
			}
			name = filepath.ToSlash(rel)
		}
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return names, err
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) ReadAt(p []byte, off int64) (int, error) {
	return b.m.ReadAt(p, off)
}

func (b *localBlob) Close() error {
	return b.m.Close()
}

func (b *localBlob) Size() int64 {
	return b.m.Size()
}
