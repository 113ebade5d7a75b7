package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"share-go/internal/share"
)

// JSONOptions configures a JSONFileStore.
type JSONOptions struct {
	// ResetCorrupt moves an unparseable registry file aside and starts
	// empty instead of refusing to open.
	ResetCorrupt bool
}

// JSONFileStore implements share.Store as a single JSON document mapping
// codes to records. Every operation holds an flock on <path>.lock (shared
// for reads, exclusive for mutations) and re-reads the document under it,
// so several processes can use one registry file. Mutations rewrite the
// file atomically (temp file, fsync, rename) before the in-memory copy is
// replaced. Deleted records stay in the document as tombstones.
type JSONFileStore struct {
	fs     afero.Fs
	path   string
	logger share.Logger
	flock  fileLock

	mu      sync.Mutex
	records map[string]*share.Record // never mutated after commit
}

// OpenJSONFileStore loads the registry document at path. A missing or
// empty file yields an empty registry.
func OpenJSONFileStore(fsys afero.Fs, path string, opts JSONOptions, logger share.Logger) (*JSONFileStore, error) {
	if logger == nil {
		logger = share.NewNopLogger()
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}

	fl, err := newFileLock(fsys, path+".lock")
	if err != nil {
		return nil, err
	}
	s := &JSONFileStore{fs: fsys, path: path, logger: logger, flock: fl}

	if err := fl.lock(true); err != nil {
		fl.close()
		return nil, err
	}
	defer fl.unlock()

	records, err := s.load()
	if errors.Is(err, share.ErrStoreCorrupt) && opts.ResetCorrupt {
		aside := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405Z"))
		if rerr := fsys.Rename(path, aside); rerr != nil {
			fl.close()
			return nil, fmt.Errorf("moving corrupt registry aside: %w", rerr)
		}
		logger.Warn("registry file corrupt, starting empty", "path", path, "moved_to", aside, "error", err)
		records, err = map[string]*share.Record{}, nil
	}
	if err != nil {
		fl.close()
		return nil, err
	}

	s.records = records
	logger.Debug("registry loaded", "path", path, "records", len(records))
	return s, nil
}

func (s *JSONFileStore) load() (map[string]*share.Record, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]*share.Record{}, nil
		}
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]*share.Record{}, nil
	}

	var records map[string]*share.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", share.ErrStoreCorrupt, s.path, err)
	}
	if records == nil {
		records = map[string]*share.Record{}
	}
	for code, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("%w: %s: null record for %s", share.ErrStoreCorrupt, s.path, code)
		}
		if rec.Code == "" {
			rec.Code = code
		}
		if rec.Code != code {
			return nil, fmt.Errorf("%w: %s: record keyed %s carries code %s", share.ErrStoreCorrupt, s.path, code, rec.Code)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", share.ErrStoreCorrupt, s.path, err)
		}
	}
	return records, nil
}

// acquire takes the store mutex and the file lock, then reloads the
// document so the operation sees commits made by other processes.
func (s *JSONFileStore) acquire(exclusive bool) (release func(), err error) {
	s.mu.Lock()
	if err := s.flock.lock(exclusive); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	release = func() {
		s.flock.unlock()
		s.mu.Unlock()
	}

	records, err := s.load()
	if err != nil {
		release()
		return nil, err
	}
	s.records = records
	return release, nil
}

func (s *JSONFileStore) Insert(ctx context.Context, rec *share.Record) error {
	release, err := s.acquire(true)
	if err != nil {
		return err
	}
	defer release()

	if _, ok := s.records[rec.Code]; ok {
		return share.ErrCodeTaken
	}
	return s.commit(rec.Code, rec.Clone())
}

func (s *JSONFileStore) Get(ctx context.Context, code string) (*share.Record, error) {
	release, err := s.acquire(false)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, ok := s.records[code]
	if !ok || rec.Deleted {
		return nil, share.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *JSONFileStore) Update(ctx context.Context, code string, fn func(rec *share.Record) error) (*share.Record, error) {
	release, err := s.acquire(true)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, ok := s.records[code]
	if !ok || cur.Deleted {
		return nil, share.ErrNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Code = code
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("updating share %s: %w", code, err)
	}

	if err := s.commit(code, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func (s *JSONFileStore) List(ctx context.Context) ([]*share.Record, error) {
	release, err := s.acquire(false)
	if err != nil {
		return nil, err
	}
	defer release()

	result := make([]*share.Record, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Deleted {
			result = append(result, rec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Code < result[j].Code
	})
	return result, nil
}

func (s *JSONFileStore) Close() error {
	return s.flock.close()
}

// Path returns the registry file path.
func (s *JSONFileStore) Path() string {
	return s.path
}

// commit writes the document with rec stored under code and, only once the
// write is durable, makes it the in-memory state. Must be called between
// acquire(true) and release.
func (s *JSONFileStore) commit(code string, rec *share.Record) error {
	next := make(map[string]*share.Record, len(s.records)+1)
	for k, v := range s.records {
		next[k] = v
	}
	next[code] = rec

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	if err := s.writeFile(data); err != nil {
		s.logger.Error("writing registry failed", "path", s.path, "error", err)
		return err
	}

	s.records = next
	return nil
}

// writeFile replaces the registry file atomically (temp file + fsync + rename).
func (s *JSONFileStore) writeFile(data []byte) error {
	tmpFile, err := afero.TempFile(s.fs, filepath.Dir(s.path), ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			s.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ share.Store = (*JSONFileStore)(nil)
