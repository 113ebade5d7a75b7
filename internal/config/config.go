package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
)

// Config represents the main configuration for share.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level,omitempty"` // debug, info, warn or error; empty means info
	Registry   RegistryConfig   `toml:"registry"`
	Payload    PayloadConfig    `toml:"payload"`
	Encryption EncryptionConfig `toml:"encryption"`
	Classifier ClassifierConfig `toml:"classifier"`
	Secrets    SecretsConfig    `toml:"secrets"`
	Transfer   TransferConfig   `toml:"transfer"`
	Server     ServerConfig     `toml:"server"`
}

// RegistryConfig selects where share records are kept.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RegistryConfig struct {
	Type string `toml:"type"`           // "json", "sqlite", or "memory"
	Path string `toml:"path,omitempty"` // registry file; used for json and sqlite

	// ResetCorrupt moves an unparseable json registry aside instead of failing to start.
	ResetCorrupt bool `toml:"reset_corrupt,omitempty"`
}

// PayloadConfig selects where uploaded file contents are kept.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PayloadConfig struct {
	Type string `toml:"type"` // "filesystem", "memory", or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3UsePathStyle    bool   `toml:"s3_use_path_style,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt payloads at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age", or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ClassifierConfig selects the upload-time threat classifier.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ClassifierConfig struct {
	Type     string `toml:"type"`               // "none" (default), "blocklist", or "http"
	Policy   string `toml:"policy,omitempty"`   // "block" (default) or "warn"
	Fallback string `toml:"fallback,omitempty"` // "reject" (default) or "allow"

	// Blocklist-specific fields (only used when Type == "blocklist")
	BlocklistPath string `toml:"blocklist_path,omitempty"`

	// HTTP-specific fields (only used when Type == "http")
	URL     string `toml:"url,omitempty"`
	Timeout string `toml:"timeout,omitempty"` // Go duration, defaults to 30s
}

// ScanTimeout parses Timeout, defaulting to 30 seconds.
func (c ClassifierConfig) ScanTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid classifier timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// SecretsConfig selects how share passwords are stored.
type SecretsConfig struct {
	Mode       string `toml:"mode"`                  // "bcrypt" (default) or "plaintext"
	BcryptCost int    `toml:"bcrypt_cost,omitempty"` // defaults to bcrypt.DefaultCost
}

// TransferConfig controls how interrupted downloads are counted.
type TransferConfig struct {
	// CountAborted counts a download that failed after its first byte.
	CountAborted bool `toml:"count_aborted"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Listen        string `toml:"listen"`
	MaxUploadSize string `toml:"max_upload_size"` // humanized, e.g. "100 MB"
	PublicURL     string `toml:"public_url,omitempty"`
	AdminToken    string `toml:"admin_token,omitempty"` // empty disables admin endpoints
}

// UploadLimit parses MaxUploadSize into bytes. Empty means 100 MB.
func (c ServerConfig) UploadLimit() (int64, error) {
	if c.MaxUploadSize == "" {
		return 100 * 1000 * 1000, nil
	}
	n, err := humanize.ParseBytes(c.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_upload_size %q: %w", c.MaxUploadSize, err)
	}
	return int64(n), nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Registry: RegistryConfig{
			Type: "json",
			Path: filepath.Join(baseDir, "codes.json"),
		},
		Payload: PayloadConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "uploads"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "share.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "share.key"),
		},
		Classifier: ClassifierConfig{
			Type:     "none",
			Policy:   "block",
			Fallback: "reject",
		},
		Secrets:  SecretsConfig{Mode: "bcrypt"},
		Transfer: TransferConfig{CountAborted: true},
		Server: ServerConfig{
			Listen:        "127.0.0.1:3000",
			MaxUploadSize: "100 MB",
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
