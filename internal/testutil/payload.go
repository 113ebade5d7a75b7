package testutil

import (
	"context"
	"strings"
	"testing"

	"share-go/internal/payload"
	"share-go/internal/share"
)

// NewTestPayloadStore creates an in-memory payload store.
func NewTestPayloadStore() *payload.FileSystemStore {
	return payload.NewMemoryStore()
}

// PutPayload stores content in s and returns a reference to it.
func PutPayload(t *testing.T, s share.PayloadStore, name, content string) share.PayloadRef {
	t.Helper()

	stored, size, err := s.Put(context.Background(), name, strings.NewReader(content))
	if err != nil {
		t.Fatalf("failed to store payload %s: %v", name, err)
	}
	return share.PayloadRef{StoredName: stored, ContentType: "text/plain; charset=utf-8", Size: size}
}
