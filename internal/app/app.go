package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"share-go/internal/classify"
	"share-go/internal/config"
	"share-go/internal/encryption"
	"share-go/internal/payload"
	"share-go/internal/registry"
	"share-go/internal/secret"
	"share-go/internal/server"
	"share-go/internal/share"
)

// ErrNotEncrypted is returned by operations that need payload encryption
// when none is configured.
var ErrNotEncrypted = errors.New("payload encryption is not configured")

// ShareApp is the application layer between the CLI and the share Registry.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw paths and codes, and releases resources on Close.
type ShareApp struct {
	cfg       *config.Config
	store     share.Store
	payloads  share.PayloadStore
	encrypted *payload.EncryptedStore // nil when payloads are stored as uploaded
	registry  *share.Registry
	logger    share.Logger
	logFile   *os.File
}

// NewShareApp creates a fully wired ShareApp from the given config.
// command names the CLI command being run and is written on every log line.
// The server echoes its log to stderr at the configured level; other
// commands only echo warnings and errors. The caller must call Close when done.
func NewShareApp(ctx context.Context, cfg *config.Config, command string) (*ShareApp, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	consoleLevel := slog.LevelWarn
	if command == "serve" {
		consoleLevel = level
	}

	slogger, logFile, err := newLogger(cfg.LogDir, command, level, consoleLevel, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a, err := newShareApp(ctx, cfg, &slogAdapter{l: slogger})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newShareApp(ctx context.Context, cfg *config.Config, logger share.Logger) (*ShareApp, error) {
	payloads, err := payload.NewPayloadStoreFromConfig(ctx, cfg.Payload)
	if err != nil {
		return nil, fmt.Errorf("creating payload store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	var encrypted *payload.EncryptedStore
	if enc != nil {
		encrypted = payload.NewEncryptedStore(payloads, enc)
		payloads = encrypted
	}

	classifier, err := classify.NewClassifierFromConfig(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("creating classifier: %w", err)
	}
	policy, fallback, err := classify.PolicyFromConfig(cfg.Classifier)
	if err != nil {
		return nil, err
	}

	secrets, err := secret.NewHasherFromConfig(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("creating secret hasher: %w", err)
	}

	store, err := registry.NewStoreFromConfig(cfg.Registry, logger)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}

	reg := share.NewRegistry(store, payloads, secrets, logger, share.RealClock{}, share.UUIDGenerator{}, share.Options{
		Classifier:   classifier,
		ThreatPolicy: policy,
		Fallback:     fallback,
		CountAborted: cfg.Transfer.CountAborted,
	})

	return &ShareApp{
		cfg:       cfg,
		store:     store,
		payloads:  payloads,
		encrypted: encrypted,
		registry:  reg,
		logger:    logger,
	}, nil
}

// Registry returns the underlying share registry.
func (a *ShareApp) Registry() *share.Registry {
	return a.registry
}

// Encrypted reports whether payloads are encrypted at rest. Reading an
// encrypted payload requires Unlock.
func (a *ShareApp) Encrypted() bool {
	return a.encrypted != nil
}

// Unlock decrypts the payload private key so shares can be downloaded.
func (a *ShareApp) Unlock(passphrase string) error {
	if a.encrypted == nil {
		return ErrNotEncrypted
	}
	if err := a.encrypted.Unlock(passphrase); err != nil {
		return fmt.Errorf("unlocking payload key: %w", err)
	}
	return nil
}

// Create shares each of the files at paths under one policy. Per-file
// failures are reported in the results.
func (a *ShareApp) Create(ctx context.Context, paths []string, policy share.Policy) ([]share.CreateResult, error) {
	files := make([]share.UploadFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", p, err)
		}
		defer f.Close()
		files = append(files, share.UploadFile{Name: filepath.Base(p), Body: f})
	}
	return a.registry.Upload(ctx, files, policy)
}

// Info returns the record for code and its current status.
func (a *ShareApp) Info(ctx context.Context, code string) (*share.Record, share.Status, error) {
	return a.registry.Inspect(ctx, code)
}

// Probe evaluates the access gate for code without downloading.
func (a *ShareApp) Probe(ctx context.Context, code, password string) (share.Verdict, error) {
	return a.registry.Probe(ctx, code, password)
}

// Get downloads a share into outPath, applying the same gate and retirement
// as an HTTP download. An empty outPath writes the share's file name into
// the current directory; a directory outPath writes the file name into it.
// It returns the written path.
func (a *ShareApp) Get(ctx context.Context, code, password string, confirmed bool, outPath string) (string, *share.Retirement, error) {
	tr, err := a.registry.Open(ctx, code, password, confirmed)
	if err != nil {
		return "", nil, err
	}

	dest := outPath
	if dest == "" {
		dest = tr.Name
	} else if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, tr.Name)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		tr.Finish(ctx, err)
		return "", nil, fmt.Errorf("creating %s: %w", dest, err)
	}

	_, copyErr := io.Copy(f, tr)
	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dest)
	}

	ret, err := tr.Finish(ctx, copyErr)
	if copyErr != nil {
		return "", ret, fmt.Errorf("downloading %s: %w", code, copyErr)
	}
	if err != nil {
		return dest, nil, err
	}
	return dest, ret, nil
}

// Delete removes a share and its payload.
func (a *ShareApp) Delete(ctx context.Context, code string) error {
	return a.registry.Delete(ctx, code)
}

// List returns all live shares.
func (a *ShareApp) List(ctx context.Context) ([]*share.Record, error) {
	return a.registry.List(ctx)
}

// Sweep deletes expired shares and shares whose payload is gone.
func (a *ShareApp) Sweep(ctx context.Context) (int, error) {
	return a.registry.Sweep(ctx)
}

// History returns the most recent audit events.
func (a *ShareApp) History(ctx context.Context, limit int) ([]*share.Event, error) {
	return a.registry.History(ctx, limit)
}

// BackupRegistry writes a consistent snapshot of a sqlite registry to destPath.
func (a *ShareApp) BackupRegistry(destPath string) error {
	db, ok := a.store.(*registry.SQLiteStore)
	if !ok {
		return fmt.Errorf("registry type %q does not support backups", a.cfg.Registry.Type)
	}
	return db.BackupTo(destPath)
}

// Serve validates the payload store and runs the HTTP server until ctx is
// cancelled. Encrypted payload stores must be unlocked first.
func (a *ShareApp) Serve(ctx context.Context) error {
	if a.encrypted != nil && !a.encrypted.Unlocked() {
		return payload.ErrLocked
	}
	if err := a.payloads.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("validating payload store: %w", err)
	}

	srv, err := server.New(a.registry, a.cfg.Server, a.logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}

// Close releases the registry and the log file.
func (a *ShareApp) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing registry: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// SetupKeys generates the payload encryption key pair, protecting the
// private key with passphrase.
func SetupKeys(cfg *config.Config, passphrase string) error {
	if cfg.Encryption.Type != "age" {
		return fmt.Errorf("%w: set encryption type to \"age\" first", ErrNotEncrypted)
	}
	enc := encryption.NewAgeEncryptor(cfg.Encryption)
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}
