package payload

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"share-go/internal/share"
)

func TestFileSystemStore_PutOpen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	stored, size, err := s.Put(ctx, "report.pdf", strings.NewReader("%PDF-1.4 content"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if size != int64(len("%PDF-1.4 content")) {
		t.Errorf("Put() size = %d, want %d", size, len("%PDF-1.4 content"))
	}
	if !strings.HasSuffix(stored, "-report.pdf") {
		t.Errorf("stored name %q does not keep the original name", stored)
	}

	rc, err := s.Open(ctx, stored)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "%PDF-1.4 content" {
		t.Errorf("Open() content = %q", got)
	}
}

func TestFileSystemStore_SameNameDoesNotCollide(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, _, err := s.Put(ctx, "notes.txt", strings.NewReader("first"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	b, _, err := s.Put(ctx, "notes.txt", strings.NewReader("second"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if a == b {
		t.Fatalf("two uploads share stored name %q", a)
	}

	rc, _ := s.Open(ctx, a)
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "first" {
		t.Errorf("first payload overwritten: %q", got)
	}
}

func TestFileSystemStore_Missing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Open(ctx, "nope.txt"); !errors.Is(err, share.ErrPayloadMissing) {
		t.Errorf("Open() error = %v, want ErrPayloadMissing", err)
	}
	ok, err := s.Exists(ctx, "nope.txt")
	if err != nil || ok {
		t.Errorf("Exists() = %v, %v; want false, nil", ok, err)
	}
	if err := s.Remove(ctx, "nope.txt"); err != nil {
		t.Errorf("Remove() of missing payload error = %v, want nil", err)
	}
}

func TestFileSystemStore_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	stored, _, _ := s.Put(ctx, "a.txt", strings.NewReader("a"))
	for i := 0; i < 2; i++ {
		if err := s.Remove(ctx, stored); err != nil {
			t.Fatalf("Remove() #%d error = %v", i+1, err)
		}
	}
	if ok, _ := s.Exists(ctx, stored); ok {
		t.Error("Exists() = true after Remove")
	}
}

func TestFileSystemStore_RejectsEscapingNames(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	afero.WriteFile(fsys, "/secret.txt", []byte("secret"), 0644)
	s, err := NewFileSystemStoreFs(fsys, "/payloads")
	if err != nil {
		t.Fatalf("NewFileSystemStoreFs() error = %v", err)
	}

	for _, name := range []string{"../secret.txt", "..", "", "a/b", `..\secret.txt`} {
		if _, err := s.Open(ctx, name); !errors.Is(err, share.ErrPayloadMissing) {
			t.Errorf("Open(%q) error = %v, want ErrPayloadMissing", name, err)
		}
		if ok, _ := s.Exists(ctx, name); ok {
			t.Errorf("Exists(%q) = true", name)
		}
	}
	if err := s.Remove(ctx, "../secret.txt"); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if ok, _ := afero.Exists(fsys, "/secret.txt"); !ok {
		t.Error("Remove() deleted a file outside the payload root")
	}
}

func TestFileSystemStore_FailedWriteLeavesNothing(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	s, _ := NewFileSystemStoreFs(fsys, "/payloads")

	_, _, err := s.Put(ctx, "a.txt", io.MultiReader(strings.NewReader("partial"), errReader{}))
	if err == nil {
		t.Fatal("Put() expected error from failing reader")
	}
	entries, _ := afero.ReadDir(fsys, "/payloads")
	if len(entries) != 0 {
		t.Errorf("payload directory has %d entries after failed Put, want 0", len(entries))
	}
}

func TestFileSystemStore_ValidateSetup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.ValidateSetup(ctx); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}

	fsys := afero.NewMemMapFs()
	afero.WriteFile(fsys, "/file", []byte("x"), 0644)
	bad := &FileSystemStore{fs: fsys, root: "/file"}
	if err := bad.ValidateSetup(ctx); err == nil {
		t.Error("ValidateSetup() on a file root expected error")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\photo.jpg`, "photo.jpg"},
		{"", "file"},
		{"..", "file"},
		{"  spaced.txt  ", "spaced.txt"},
		{"bell\x07.txt", "bell.txt"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("a", 300) + ".txt"
	got := sanitizeName(long)
	if len(got) > maxNameLen || !strings.HasSuffix(got, ".txt") {
		t.Errorf("sanitizeName(long) = %d bytes %q, want <= %d ending in .txt", len(got), got[len(got)-8:], maxNameLen)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

