package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"share-go/internal/share"
)

// maxNameLen bounds the sanitized original name kept in a stored name.
const maxNameLen = 128

// FileSystemStore is a directory-backed implementation of share.PayloadStore.
// Every payload is a single file directly under root, named
// <uuid>-<sanitized original name> so two uploads never collide.
type FileSystemStore struct {
	fs   afero.Fs
	root string
}

// NewFileSystemStore creates a store rooted at the given directory on the OS filesystem.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	return NewFileSystemStoreFs(afero.NewOsFs(), root)
}

// NewMemoryStore creates a store held entirely in memory. Useful for testing.
func NewMemoryStore() *FileSystemStore {
	s, _ := NewFileSystemStoreFs(afero.NewMemMapFs(), "/payloads")
	return s
}

// NewFileSystemStoreFs creates a store rooted at root on fsys.
func NewFileSystemStoreFs(fsys afero.Fs, root string) (*FileSystemStore, error) {
	if err := fsys.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create payload directory: %w", err)
	}
	return &FileSystemStore{fs: fsys, root: root}, nil
}

// Put writes the payload atomically under a fresh stored name.
func (s *FileSystemStore) Put(ctx context.Context, name string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	storedName := newStoredName(name)
	size, err := s.writeFile(filepath.Join(s.root, storedName), r)
	if err != nil {
		return "", 0, err
	}
	return storedName, size, nil
}

func (s *FileSystemStore) Open(ctx context.Context, storedName string) (io.ReadCloser, error) {
	path, err := s.path(storedName)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", share.ErrPayloadMissing, storedName)
		}
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	return f, nil
}

func (s *FileSystemStore) Exists(ctx context.Context, storedName string) (bool, error) {
	path, err := s.path(storedName)
	if err != nil {
		return false, nil
	}
	info, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat payload: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *FileSystemStore) Remove(ctx context.Context, storedName string) error {
	path, err := s.path(storedName)
	if err != nil {
		return nil
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove payload: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the payload directory is accessible.
func (s *FileSystemStore) ValidateSetup(ctx context.Context) error {
	info, err := s.fs.Stat(s.root)
	if err != nil {
		return fmt.Errorf("payload root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("payload root is not a directory: %s", s.root)
	}
	return nil
}

// path resolves a stored name inside root, refusing anything that could
// escape it.
func (s *FileSystemStore) path(storedName string) (string, error) {
	if storedName == "" || storedName == "." || storedName == ".." ||
		strings.ContainsAny(storedName, "/\\\x00") {
		return "", fmt.Errorf("%w: invalid stored name %q", share.ErrPayloadMissing, storedName)
	}
	return filepath.Join(s.root, storedName), nil
}

// writeFile writes r to destPath using atomic write (temp file + rename).
func (s *FileSystemStore) writeFile(destPath string, r io.Reader) (int64, error) {
	tmpFile, err := afero.TempFile(s.fs, filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			s.fs.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}

// newStoredName returns "<uuid>-<name>" with name reduced to a safe base name.
func newStoredName(name string) string {
	return uuid.New().String() + "-" + sanitizeName(name)
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "file"
	}
	if len(name) > maxNameLen {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:maxNameLen-len(ext)], "") + ext
	}
	return name
}

var _ share.PayloadStore = (*FileSystemStore)(nil)
