package app

import (
	"fmt"
	"os"
	"path/filepath"

	"share-go/internal/config"
)

// Defaults holds where share keeps its config and data when nothing else is
// configured.
type Defaults struct {
	ConfigPath string
	BaseDir    string
}

// GetDefaults resolves the default locations. Explicit variables win over
// the XDG base directories, which win over the home directory:
//   - SHARE_CONFIG_PATH, else $XDG_CONFIG_HOME/share/config.toml, else ~/.config/share/config.toml
//   - SHARE_HOME, else $XDG_DATA_HOME/share, else ~/.local/share/share
func GetDefaults() (Defaults, error) {
	configPath, err := resolvePath("SHARE_CONFIG_PATH", "XDG_CONFIG_HOME", []string{".config"}, "share", "config.toml")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := resolvePath("SHARE_HOME", "XDG_DATA_HOME", []string{".local", "share"}, "share")
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
}

func resolvePath(explicitVar, xdgVar string, homeFallback []string, rel ...string) (string, error) {
	if path := os.Getenv(explicitVar); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdgVar); filepath.IsAbs(dir) {
		return filepath.Join(append([]string{dir}, rel...)...), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	parts := append(append([]string{homeDir}, homeFallback...), rel...)
	return filepath.Join(parts...), nil
}

// Config returns the config written by "share config init": the defaults
// rooted at BaseDir, with the server address and public link base taken
// from SHARE_LISTEN and SHARE_PUBLIC_URL when set (for example from .env).
func (d Defaults) Config() *config.Config {
	cfg := config.NewConfig(d.BaseDir)
	if v := os.Getenv("SHARE_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("SHARE_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	return cfg
}
