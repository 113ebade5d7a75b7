package registry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"share-go/internal/share"
)

const registryPath = "/data/codes.json"

func TestOpenJSONFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is an empty registry", func(t *testing.T) {
		s, err := OpenJSONFileStore(afero.NewMemMapFs(), registryPath, JSONOptions{}, nil)
		if err != nil {
			t.Fatalf("OpenJSONFileStore() error = %v", err)
		}
		recs, _ := s.List(ctx)
		if len(recs) != 0 {
			t.Errorf("List() returned %d records, want 0", len(recs))
		}
	})

	t.Run("empty file is an empty registry", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		afero.WriteFile(fsys, registryPath, []byte("  \n"), 0644)

		if _, err := OpenJSONFileStore(fsys, registryPath, JSONOptions{}, nil); err != nil {
			t.Fatalf("OpenJSONFileStore() error = %v", err)
		}
	})

	t.Run("unparseable file is corrupt", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		afero.WriteFile(fsys, registryPath, []byte(`{"abc": {"code": "abc",`), 0644)

		_, err := OpenJSONFileStore(fsys, registryPath, JSONOptions{}, nil)
		if !errors.Is(err, share.ErrStoreCorrupt) {
			t.Fatalf("OpenJSONFileStore() error = %v, want ErrStoreCorrupt", err)
		}

		data, _ := afero.ReadFile(fsys, registryPath)
		if string(data) != `{"abc": {"code": "abc",` {
			t.Error("corrupt file was modified without reset_corrupt")
		}
	})

	t.Run("record violating invariants is corrupt", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		afero.WriteFile(fsys, registryPath,
			[]byte(`{"abc": {"code": "abc", "stored_name": "a.txt", "max_downloads": 1, "download_count": 2}}`), 0644)

		if _, err := OpenJSONFileStore(fsys, registryPath, JSONOptions{}, nil); !errors.Is(err, share.ErrStoreCorrupt) {
			t.Fatalf("OpenJSONFileStore() error = %v, want ErrStoreCorrupt", err)
		}
	})

	t.Run("reset corrupt moves the file aside", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		afero.WriteFile(fsys, registryPath, []byte("not json"), 0644)

		s, err := OpenJSONFileStore(fsys, registryPath, JSONOptions{ResetCorrupt: true}, nil)
		if err != nil {
			t.Fatalf("OpenJSONFileStore() error = %v", err)
		}
		recs, _ := s.List(ctx)
		if len(recs) != 0 {
			t.Errorf("List() returned %d records, want 0", len(recs))
		}

		entries, _ := afero.ReadDir(fsys, "/data")
		found := false
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "codes.json.corrupt-") {
				found = true
			}
		}
		if !found {
			t.Error("corrupt file was not preserved beside the registry")
		}
	})

	t.Run("missing code field is filled from the key", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		afero.WriteFile(fsys, registryPath,
			[]byte(`{"abc": {"stored_name": "a.txt", "download_count": 0, "created_at": "2024-01-15T10:30:00Z"}}`), 0644)

		s, err := OpenJSONFileStore(fsys, registryPath, JSONOptions{}, nil)
		if err != nil {
			t.Fatalf("OpenJSONFileStore() error = %v", err)
		}
		rec, err := s.Get(ctx, "abc")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if rec.Code != "abc" || rec.StoredName != "a.txt" || rec.ExpiresAt != nil {
			t.Errorf("Get() = %+v", rec)
		}
	})
}

func TestJSONFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	s, err := OpenJSONFileStore(fsys, registryPath, JSONOptions{}, nil)
	if err != nil {
		t.Fatalf("OpenJSONFileStore() error = %v", err)
	}
	if err := s.Insert(ctx, newRecord("keep", 0)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, newRecord("gone", 0)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	s.Update(ctx, "keep", func(rec *share.Record) error { rec.DownloadCount = 2; return nil })
	s.Update(ctx, "gone", func(rec *share.Record) error { rec.Deleted = true; return nil })

	reopened, err := OpenJSONFileStore(fsys, registryPath, JSONOptions{}, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	rec, err := reopened.Get(ctx, "keep")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.DownloadCount != 2 {
		t.Errorf("DownloadCount = %d, want 2", rec.DownloadCount)
	}
	if _, err := reopened.Get(ctx, "gone"); !errors.Is(err, share.ErrNotFound) {
		t.Errorf("Get(gone) error = %v, want ErrNotFound", err)
	}
	if err := reopened.Insert(ctx, newRecord("gone", 0)); !errors.Is(err, share.ErrCodeTaken) {
		t.Errorf("Insert(gone) error = %v, want ErrCodeTaken after reopen", err)
	}
}

func TestJSONFileStore_FailedWriteKeepsCommittedState(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	s, err := OpenJSONFileStore(fsys, registryPath, JSONOptions{}, nil)
	if err != nil {
		t.Fatalf("OpenJSONFileStore() error = %v", err)
	}
	if err := s.Insert(ctx, newRecord("abc", 0)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	before, _ := afero.ReadFile(fsys, registryPath)

	s.fs = afero.NewReadOnlyFs(fsys)

	if _, err := s.Update(ctx, "abc", func(rec *share.Record) error {
		rec.DownloadCount++
		return nil
	}); err == nil {
		t.Fatal("Update() on read-only filesystem succeeded, want error")
	}
	if err := s.Insert(ctx, newRecord("new", 0)); err == nil {
		t.Fatal("Insert() on read-only filesystem succeeded, want error")
	}

	rec, err := s.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.DownloadCount != 0 {
		t.Errorf("in-memory DownloadCount = %d after failed write, want 0", rec.DownloadCount)
	}
	if _, err := s.Get(ctx, "new"); !errors.Is(err, share.ErrNotFound) {
		t.Errorf("Get(new) error = %v, want ErrNotFound after failed insert", err)
	}

	after, _ := afero.ReadFile(fsys, registryPath)
	if string(after) != string(before) {
		t.Error("registry file changed after failed write")
	}
}

func TestJSONFileStore_FileIsDecodable(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	s, _ := OpenJSONFileStore(fsys, registryPath, JSONOptions{}, nil)
	s.Insert(ctx, newRecord("abc", 0))

	data, err := afero.ReadFile(fsys, registryPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, want := range []string{`"abc"`, `"stored_name": "abc-file.txt"`, `"max_downloads": 3`, `"download_count": 0`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("registry file missing %s:\n%s", want, data)
		}
	}

	entries, _ := afero.ReadDir(fsys, "/data")
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestJSONFileStore_SharedFileBetweenStores(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "codes.json")

	open := func() *JSONFileStore {
		t.Helper()
		s, err := OpenJSONFileStore(afero.NewOsFs(), path, JSONOptions{}, nil)
		if err != nil {
			t.Fatalf("OpenJSONFileStore() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}

	server := open()
	for _, code := range []string{"c", "d"} {
		if err := server.Insert(ctx, newRecord(code, 0)); err != nil {
			t.Fatalf("Insert(%s) error = %v", code, err)
		}
	}

	cli := open()
	if _, err := cli.Update(ctx, "c", func(rec *share.Record) error { rec.Deleted = true; return nil }); err != nil {
		t.Fatalf("cli Update(c) error = %v", err)
	}
	if err := cli.Insert(ctx, newRecord("new", 0)); err != nil {
		t.Fatalf("cli Insert(new) error = %v", err)
	}

	if _, err := server.Get(ctx, "c"); !errors.Is(err, share.ErrNotFound) {
		t.Errorf("server Get(c) error = %v, want ErrNotFound after delete elsewhere", err)
	}
	if err := server.Insert(ctx, newRecord("new", 0)); !errors.Is(err, share.ErrCodeTaken) {
		t.Errorf("server Insert(new) error = %v, want ErrCodeTaken", err)
	}
	if _, err := server.Update(ctx, "d", func(rec *share.Record) error { rec.DownloadCount++; return nil }); err != nil {
		t.Fatalf("server Update(d) error = %v", err)
	}

	final := open()
	if _, err := final.Get(ctx, "c"); !errors.Is(err, share.ErrNotFound) {
		t.Errorf("Get(c) error = %v, deleted code came back", err)
	}
	if _, err := final.Get(ctx, "new"); err != nil {
		t.Errorf("Get(new) error = %v, record inserted by the other store was lost", err)
	}
	rec, err := final.Get(ctx, "d")
	if err != nil {
		t.Fatalf("Get(d) error = %v", err)
	}
	if rec.DownloadCount != 1 {
		t.Errorf("DownloadCount = %d, want 1", rec.DownloadCount)
	}
}

func TestJSONFileStore_ConcurrentUpdatesFromTwoStores(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "codes.json")

	a, err := OpenJSONFileStore(afero.NewOsFs(), path, JSONOptions{}, nil)
	if err != nil {
		t.Fatalf("OpenJSONFileStore() error = %v", err)
	}
	defer a.Close()
	b, err := OpenJSONFileStore(afero.NewOsFs(), path, JSONOptions{}, nil)
	if err != nil {
		t.Fatalf("OpenJSONFileStore() error = %v", err)
	}
	defer b.Close()

	rec := newRecord("abc", 0)
	rec.MaxDownloads = 0
	if err := a.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	const perStore = 10
	var wg sync.WaitGroup
	for _, s := range []*JSONFileStore{a, b} {
		wg.Add(1)
		go func(s *JSONFileStore) {
			defer wg.Done()
			for i := 0; i < perStore; i++ {
				if _, err := s.Update(ctx, "abc", func(rec *share.Record) error { rec.DownloadCount++; return nil }); err != nil {
					t.Errorf("Update() error = %v", err)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	got, err := a.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DownloadCount != 2*perStore {
		t.Errorf("DownloadCount = %d, want %d", got.DownloadCount, 2*perStore)
	}
}
