package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name       string
		env        map[string]string
		wantConfig string
		wantBase   string
	}{
		{
			name:       "explicit variables",
			env:        map[string]string{"SHARE_CONFIG_PATH": "/custom/config.toml", "SHARE_HOME": "/custom/share", "XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			wantConfig: "/custom/config.toml",
			wantBase:   "/custom/share",
		},
		{
			name:       "xdg base directories",
			env:        map[string]string{"XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			wantConfig: "/xdg/config/share/config.toml",
			wantBase:   "/xdg/data/share",
		},
		{
			name:       "relative xdg directories are ignored",
			env:        map[string]string{"XDG_CONFIG_HOME": "config", "XDG_DATA_HOME": "data"},
			wantConfig: filepath.Join(homeDir, ".config", "share", "config.toml"),
			wantBase:   filepath.Join(homeDir, ".local", "share", "share"),
		},
		{
			name:       "home directory",
			wantConfig: filepath.Join(homeDir, ".config", "share", "config.toml"),
			wantBase:   filepath.Join(homeDir, ".local", "share", "share"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"SHARE_CONFIG_PATH", "SHARE_HOME", "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(k, tt.env[k])
			}

			d, err := GetDefaults()
			if err != nil {
				t.Fatalf("GetDefaults() error = %v", err)
			}
			if d.ConfigPath != tt.wantConfig {
				t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, tt.wantConfig)
			}
			if d.BaseDir != tt.wantBase {
				t.Errorf("BaseDir = %q, want %q", d.BaseDir, tt.wantBase)
			}
		})
	}
}

func TestDefaults_Config(t *testing.T) {
	d := Defaults{ConfigPath: "/etc/share.toml", BaseDir: "/srv/share"}

	t.Run("plain defaults", func(t *testing.T) {
		t.Setenv("SHARE_LISTEN", "")
		t.Setenv("SHARE_PUBLIC_URL", "")

		cfg := d.Config()
		if cfg.Registry.Path != "/srv/share/codes.json" {
			t.Errorf("Registry.Path = %q", cfg.Registry.Path)
		}
		if cfg.LogDir != "/srv/share/log" {
			t.Errorf("LogDir = %q", cfg.LogDir)
		}
		if cfg.Server.Listen != "127.0.0.1:3000" || cfg.Server.PublicURL != "" {
			t.Errorf("Server = %+v", cfg.Server)
		}
	})

	t.Run("server settings from the environment", func(t *testing.T) {
		t.Setenv("SHARE_LISTEN", "0.0.0.0:8080")
		t.Setenv("SHARE_PUBLIC_URL", "https://files.example.com")

		cfg := d.Config()
		if cfg.Server.Listen != "0.0.0.0:8080" {
			t.Errorf("Listen = %q", cfg.Server.Listen)
		}
		if cfg.Server.PublicURL != "https://files.example.com" {
			t.Errorf("PublicURL = %q", cfg.Server.PublicURL)
		}
	})
}
