package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"share-go/internal/config"
	"share-go/internal/payload"
	"share-go/internal/share"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.NewConfig(dir)
	cfg.Registry = config.RegistryConfig{Type: "memory"}
	cfg.Payload = config.PayloadConfig{Type: "filesystem", Root: filepath.Join(dir, "uploads")}
	cfg.Secrets = config.SecretsConfig{Mode: "plaintext"}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *ShareApp {
	t.Helper()

	a, err := newShareApp(context.Background(), cfg, share.NewNopLogger())
	if err != nil {
		t.Fatalf("newShareApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func createOne(t *testing.T, a *ShareApp, path string, policy share.Policy) string {
	t.Helper()

	results, err := a.Create(context.Background(), []string{path}, policy)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("Create() result error = %v", results[0].Err)
	}
	return results[0].Code
}

func TestShareApp_Lifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t))
	code := createOne(t, a, writeFile(t, "notes.txt", "meeting notes"), share.Policy{MaxDownloads: 1, Password: "pw"})

	rec, status, err := a.Info(ctx, code)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if status != share.StatusActive || rec.ContentType != "text/plain; charset=utf-8" {
		t.Errorf("Info() = %+v, %s", rec, status)
	}

	v, err := a.Probe(ctx, code, "pw")
	if err != nil || !v.Allowed() {
		t.Fatalf("Probe() = %v, %v", v.Reason, err)
	}

	outDir := t.TempDir()
	if _, _, err := a.Get(ctx, code, "nope", false, outDir); !errors.Is(err, share.ErrForbidden) {
		t.Fatalf("Get() with wrong password error = %v, want ErrForbidden", err)
	}
	if entries, _ := os.ReadDir(outDir); len(entries) != 0 {
		t.Errorf("denied download left %d files behind", len(entries))
	}

	dest, ret, err := a.Get(ctx, code, "pw", false, outDir)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if dest != filepath.Join(outDir, "notes.txt") {
		t.Errorf("Get() wrote %s", dest)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "meeting notes" {
		t.Errorf("downloaded %q", data)
	}
	if !ret.Retired {
		t.Errorf("Retirement = %+v, want retired", ret)
	}

	if _, _, err := a.Info(ctx, code); !errors.Is(err, share.ErrNotFound) {
		t.Errorf("Info() after retirement error = %v, want ErrNotFound", err)
	}

	events, err := a.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(events) == 0 || events[0].Kind != share.EventRetired {
		t.Errorf("History() = %+v", events)
	}
}

func TestShareApp_DeleteListSweep(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t))

	d := share.ParseExpiry(-1, "minutes")
	keep := createOne(t, a, writeFile(t, "a.txt", "a"), share.Policy{})
	drop := createOne(t, a, writeFile(t, "b.txt", "b"), share.Policy{})
	old := createOne(t, a, writeFile(t, "c.txt", "c"), share.Policy{ExpiresIn: &d})

	if err := a.Delete(ctx, drop); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	n, err := a.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}

	recs, err := a.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Code != keep {
		t.Errorf("List() = %d records, want only %s (dropped %s, %s)", len(recs), keep, drop, old)
	}
}

func TestShareApp_EncryptedPayloads(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	a := newTestApp(t, cfg)

	if !a.Encrypted() {
		t.Fatal("Encrypted() = false")
	}
	code := createOne(t, a, writeFile(t, "secret.txt", "top secret"), share.Policy{})

	rec, _, err := a.Info(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := os.ReadFile(filepath.Join(cfg.Payload.Root, rec.StoredName))
	if err != nil {
		t.Fatalf("reading stored payload: %v", err)
	}
	if bytes.Contains(stored, []byte("top secret")) {
		t.Error("payload stored in plaintext")
	}

	if err := a.Serve(ctx); !errors.Is(err, payload.ErrLocked) {
		t.Errorf("Serve() while locked error = %v, want ErrLocked", err)
	}
	if _, _, err := a.Get(ctx, code, "", false, t.TempDir()); !errors.Is(err, payload.ErrLocked) {
		t.Fatalf("Get() while locked error = %v, want ErrLocked", err)
	}

	if err := a.Unlock("passphrase"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	dest, _, err := a.Get(ctx, code, "", false, t.TempDir())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data, _ := os.ReadFile(dest); string(data) != "top secret" {
		t.Errorf("downloaded %q", data)
	}
}

func TestShareApp_UnlockWithoutEncryption(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	if err := a.Unlock("pw"); !errors.Is(err, ErrNotEncrypted) {
		t.Errorf("Unlock() error = %v, want ErrNotEncrypted", err)
	}
}

func TestShareApp_BackupRegistry(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	createOne(t, a, writeFile(t, "a.txt", "a"), share.Policy{})

	dest := filepath.Join(t.TempDir(), "registry.db")
	if err := a.BackupRegistry(dest); err != nil {
		t.Fatalf("BackupRegistry() error = %v", err)
	}
	if info, err := os.Stat(dest); err != nil || info.Size() == 0 {
		t.Errorf("backup file missing or empty: %v", err)
	}

	cfg := testConfig(t)
	cfg.Registry = config.RegistryConfig{Type: "json", Path: filepath.Join(cfg.BaseDir, "codes.json")}
	j := newTestApp(t, cfg)
	if err := j.BackupRegistry(dest + ".2"); err == nil {
		t.Error("BackupRegistry() on a json registry succeeded")
	}
}

func TestNewShareApp_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		want   string
	}{
		{"unknown registry", func(c *config.Config) { c.Registry.Type = "etcd" }, "opening registry"},
		{"unknown payload store", func(c *config.Config) { c.Payload.Type = "ftp" }, "creating payload store"},
		{"unknown encryption", func(c *config.Config) { c.Encryption.Type = "rot13" }, "creating encryptor"},
		{"unknown classifier", func(c *config.Config) { c.Classifier.Type = "magic" }, "creating classifier"},
		{"unknown secret mode", func(c *config.Config) { c.Secrets.Mode = "md5" }, "creating secret hasher"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := NewShareApp(context.Background(), cfg, "test")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("NewShareApp() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSetupKeys(t *testing.T) {
	cfg := testConfig(t)
	if err := SetupKeys(cfg, "pw"); !errors.Is(err, ErrNotEncrypted) {
		t.Fatalf("SetupKeys() without age error = %v, want ErrNotEncrypted", err)
	}

	cfg.Encryption.Type = "age"
	if err := SetupKeys(cfg, "correct horse"); err != nil {
		t.Fatalf("SetupKeys() error = %v", err)
	}
	for _, p := range []string{cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("key file %s: %v", p, err)
		}
	}
	if err := SetupKeys(cfg, "correct horse"); err == nil {
		t.Error("SetupKeys() overwrote existing keys")
	}
}
