package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"share-go/internal/config"
	"share-go/internal/share"
)

var baseTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newRecord(code string, offset time.Duration) *share.Record {
	exp := baseTime.Add(time.Hour)
	return &share.Record{
		Code:         code,
		StoredName:   code + "-file.txt",
		DisplayName:  "file.txt",
		ExpiresAt:    &exp,
		MaxDownloads: 3,
		ContentType:  "text/plain; charset=utf-8",
		Size:         42,
		CreatedAt:    baseTime.Add(offset),
	}
}

// storeFactories yields each Store implementation for the shared contract tests.
func storeFactories() map[string]func(t *testing.T) share.Store {
	return map[string]func(t *testing.T) share.Store{
		"json": func(t *testing.T) share.Store {
			s, err := OpenJSONFileStore(afero.NewMemMapFs(), "/data/codes.json", JSONOptions{}, nil)
			if err != nil {
				t.Fatalf("OpenJSONFileStore() error = %v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T) share.Store {
			s, err := NewSQLiteStore(":memory:", nil)
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("insert then get returns equal record", func(t *testing.T) {
				s := newStore(t)
				rec := newRecord("abc", 0)
				rec.PasswordSecret = "secret"
				rec.Flagged = true
				rec.Threat = "EICAR"

				if err := s.Insert(ctx, rec); err != nil {
					t.Fatalf("Insert() error = %v", err)
				}
				got, err := s.Get(ctx, "abc")
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got.StoredName != rec.StoredName || got.DisplayName != rec.DisplayName ||
					got.PasswordSecret != rec.PasswordSecret || got.MaxDownloads != rec.MaxDownloads ||
					got.ContentType != rec.ContentType || got.Size != rec.Size ||
					!got.Flagged || got.Threat != "EICAR" {
					t.Errorf("Get() = %+v, want %+v", got, rec)
				}
				if got.ExpiresAt == nil || !got.ExpiresAt.Equal(*rec.ExpiresAt) {
					t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, rec.ExpiresAt)
				}
				if !got.CreatedAt.Equal(rec.CreatedAt) {
					t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
				}
			})

			t.Run("absent optional fields stay unset", func(t *testing.T) {
				s := newStore(t)
				rec := &share.Record{Code: "bare", StoredName: "bare.bin", CreatedAt: baseTime}
				if err := s.Insert(ctx, rec); err != nil {
					t.Fatalf("Insert() error = %v", err)
				}
				got, err := s.Get(ctx, "bare")
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got.ExpiresAt != nil || got.MaxDownloads != 0 || got.HasPassword() || got.DisplayName != "" {
					t.Errorf("Get() = %+v, want unset policy", got)
				}
			})

			t.Run("get unknown code", func(t *testing.T) {
				s := newStore(t)
				if _, err := s.Get(ctx, "nope"); !errors.Is(err, share.ErrNotFound) {
					t.Errorf("Get() error = %v, want ErrNotFound", err)
				}
			})

			t.Run("insert duplicate code", func(t *testing.T) {
				s := newStore(t)
				if err := s.Insert(ctx, newRecord("dup", 0)); err != nil {
					t.Fatalf("Insert() error = %v", err)
				}
				if err := s.Insert(ctx, newRecord("dup", time.Second)); !errors.Is(err, share.ErrCodeTaken) {
					t.Errorf("second Insert() error = %v, want ErrCodeTaken", err)
				}
			})

			t.Run("returned records are copies", func(t *testing.T) {
				s := newStore(t)
				if err := s.Insert(ctx, newRecord("copy", 0)); err != nil {
					t.Fatalf("Insert() error = %v", err)
				}
				got, _ := s.Get(ctx, "copy")
				got.DownloadCount = 3
				*got.ExpiresAt = baseTime.Add(-time.Hour)

				again, _ := s.Get(ctx, "copy")
				if again.DownloadCount != 0 {
					t.Errorf("DownloadCount = %d after mutating a copy, want 0", again.DownloadCount)
				}
				if !again.ExpiresAt.Equal(baseTime.Add(time.Hour)) {
					t.Errorf("ExpiresAt changed through a copy: %v", again.ExpiresAt)
				}
			})

			t.Run("update persists the mutation", func(t *testing.T) {
				s := newStore(t)
				if err := s.Insert(ctx, newRecord("upd", 0)); err != nil {
					t.Fatalf("Insert() error = %v", err)
				}
				got, err := s.Update(ctx, "upd", func(rec *share.Record) error {
					rec.DownloadCount++
					return nil
				})
				if err != nil {
					t.Fatalf("Update() error = %v", err)
				}
				if got.DownloadCount != 1 {
					t.Errorf("Update() DownloadCount = %d, want 1", got.DownloadCount)
				}
				stored, _ := s.Get(ctx, "upd")
				if stored.DownloadCount != 1 {
					t.Errorf("Get() DownloadCount = %d, want 1", stored.DownloadCount)
				}
			})

			t.Run("update callback error writes nothing", func(t *testing.T) {
				s := newStore(t)
				if err := s.Insert(ctx, newRecord("abort", 0)); err != nil {
					t.Fatalf("Insert() error = %v", err)
				}
				boom := errors.New("boom")
				_, err := s.Update(ctx, "abort", func(rec *share.Record) error {
					rec.DownloadCount = 2
					return boom
				})
				if !errors.Is(err, boom) {
					t.Fatalf("Update() error = %v, want boom", err)
				}
				stored, _ := s.Get(ctx, "abort")
				if stored.DownloadCount != 0 {
					t.Errorf("DownloadCount = %d, want 0", stored.DownloadCount)
				}
			})

			t.Run("tombstoned code is gone and never reissued", func(t *testing.T) {
				s := newStore(t)
				if err := s.Insert(ctx, newRecord("tomb", 0)); err != nil {
					t.Fatalf("Insert() error = %v", err)
				}
				if _, err := s.Update(ctx, "tomb", func(rec *share.Record) error {
					rec.Deleted = true
					return nil
				}); err != nil {
					t.Fatalf("Update() error = %v", err)
				}

				if _, err := s.Get(ctx, "tomb"); !errors.Is(err, share.ErrNotFound) {
					t.Errorf("Get() error = %v, want ErrNotFound", err)
				}
				if _, err := s.Update(ctx, "tomb", func(*share.Record) error { return nil }); !errors.Is(err, share.ErrNotFound) {
					t.Errorf("Update() error = %v, want ErrNotFound", err)
				}
				if err := s.Insert(ctx, newRecord("tomb", time.Second)); !errors.Is(err, share.ErrCodeTaken) {
					t.Errorf("Insert() error = %v, want ErrCodeTaken", err)
				}
				recs, _ := s.List(ctx)
				if len(recs) != 0 {
					t.Errorf("List() returned %d records, want 0", len(recs))
				}
			})

			t.Run("list orders by creation time", func(t *testing.T) {
				s := newStore(t)
				for _, rec := range []*share.Record{newRecord("c", 2*time.Second), newRecord("a", 0), newRecord("b", time.Second)} {
					if err := s.Insert(ctx, rec); err != nil {
						t.Fatalf("Insert() error = %v", err)
					}
				}
				recs, err := s.List(ctx)
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				var codes []string
				for _, r := range recs {
					codes = append(codes, r.Code)
				}
				if len(codes) != 3 || codes[0] != "a" || codes[1] != "b" || codes[2] != "c" {
					t.Errorf("List() codes = %v, want [a b c]", codes)
				}
			})

			t.Run("concurrent updates are serialized", func(t *testing.T) {
				s := newStore(t)
				rec := newRecord("race", 0)
				rec.MaxDownloads = 0
				if err := s.Insert(ctx, rec); err != nil {
					t.Fatalf("Insert() error = %v", err)
				}

				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := s.Update(ctx, "race", func(rec *share.Record) error {
							rec.DownloadCount++
							return nil
						}); err != nil {
							t.Errorf("Update() error = %v", err)
						}
					}()
				}
				wg.Wait()

				got, _ := s.Get(ctx, "race")
				if got.DownloadCount != 20 {
					t.Errorf("DownloadCount = %d, want 20", got.DownloadCount)
				}
			})
		})
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.RegistryConfig
		wantErr bool
	}{
		{"json", config.RegistryConfig{Type: "json", Path: filepath.Join(dir, "codes.json")}, false},
		{"sqlite", config.RegistryConfig{Type: "sqlite", Path: filepath.Join(dir, "registry.db")}, false},
		{"memory", config.RegistryConfig{Type: "memory"}, false},
		{"json without path", config.RegistryConfig{Type: "json"}, true},
		{"sqlite without path", config.RegistryConfig{Type: "sqlite"}, true},
		{"unknown", config.RegistryConfig{Type: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Error("NewStoreFromConfig() should return nil on error")
				}
				return
			}
			if got == nil {
				t.Fatal("NewStoreFromConfig() returned nil")
			}
			got.Close()
		})
	}
}
