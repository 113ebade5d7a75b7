package testutil

import (
	"testing"

	"github.com/spf13/afero"

	"share-go/internal/registry"
	"share-go/internal/share"
)

// NewTestStore creates a JSON registry on an in-memory filesystem.
func NewTestStore(t *testing.T) share.Store {
	t.Helper()

	s, err := registry.OpenJSONFileStore(afero.NewMemMapFs(), "/share/codes.json", registry.JSONOptions{}, nil)
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	return s
}

// NewTestSQLiteStore creates an in-memory SQLite registry with schema applied.
// The store is automatically closed when the test completes.
func NewTestSQLiteStore(t *testing.T) *registry.SQLiteStore {
	t.Helper()

	s, err := registry.NewSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open registry database: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
