package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Terminal.Shell != "" {
		t.Errorf("Terminal.Shell = %q, want empty (platform default)", cfg.Terminal.Shell)
	}
	if cfg.Terminal.Term != "xterm-256color" {
		t.Errorf("Terminal.Term = %q, want %q", cfg.Terminal.Term, "xterm-256color")
	}
	if cfg.Terminal.DefaultCols != 80 || cfg.Terminal.DefaultRows != 24 {
		t.Errorf("Terminal size = %dx%d, want 80x24", cfg.Terminal.DefaultCols, cfg.Terminal.DefaultRows)
	}
	if cfg.Terminal.KillGraceMs != 3000 {
		t.Errorf("Terminal.KillGraceMs = %d, want 3000", cfg.Terminal.KillGraceMs)
	}

	if cfg.Watch.DebounceMs != 300 {
		t.Errorf("Watch.DebounceMs = %d, want 300", cfg.Watch.DebounceMs)
	}
	if len(cfg.Watch.Ignore) != 2 {
		t.Errorf("Watch.Ignore = %v, want two default patterns", cfg.Watch.Ignore)
	}

	if len(cfg.Window.LaunchCommand) != 0 {
		t.Errorf("Window.LaunchCommand = %v, want empty (headless)", cfg.Window.LaunchCommand)
	}
	if cfg.Window.AttachTimeoutSeconds != 30 {
		t.Errorf("Window.AttachTimeoutSeconds = %d, want 30", cfg.Window.AttachTimeoutSeconds)
	}
	if cfg.Window.SendBuffer != 256 {
		t.Errorf("Window.SendBuffer = %d, want 256", cfg.Window.SendBuffer)
	}

	if cfg.Server.Listen != "127.0.0.1:7433" {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, "127.0.0.1:7433")
	}

	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	if got := cfg.Terminal.KillGrace(); got != 3*time.Second {
		t.Errorf("KillGrace() = %v, want 3s", got)
	}
	if got := cfg.Watch.Debounce(); got != 300*time.Millisecond {
		t.Errorf("Debounce() = %v, want 300ms", got)
	}
	if got := cfg.Window.AttachTimeout(); got != 30*time.Second {
		t.Errorf("AttachTimeout() = %v, want 30s", got)
	}

	cfg.Window.AttachTimeoutSeconds = 0
	if got := cfg.Window.AttachTimeout(); got != 0 {
		t.Errorf("AttachTimeout() = %v, want 0 (disabled)", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/panehost" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/panehost")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "panehost")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/panehost/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if cfg.Watch.DebounceMs != 300 {
			t.Errorf("Watch.DebounceMs = %d, want 300", cfg.Watch.DebounceMs)
		}
		if cfg.Server.Listen != "127.0.0.1:7433" {
			t.Errorf("Server.Listen = %q", cfg.Server.Listen)
		}
	})

	t.Run("config file overrides", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
terminal:
  shell: /bin/sh
  kill_grace_ms: 500
watch:
  debounce_ms: 50
  ignore: ["**/build"]
window:
  launch_command: ["electron", "."]
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig failed: %v", err)
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if cfg.Terminal.Shell != "/bin/sh" {
			t.Errorf("Terminal.Shell = %q, want /bin/sh", cfg.Terminal.Shell)
		}
		if cfg.Terminal.KillGraceMs != 500 {
			t.Errorf("Terminal.KillGraceMs = %d, want 500", cfg.Terminal.KillGraceMs)
		}
		if cfg.Terminal.DefaultCols != 80 {
			t.Errorf("unset keys should keep defaults, got DefaultCols = %d", cfg.Terminal.DefaultCols)
		}
		if cfg.Watch.DebounceMs != 50 {
			t.Errorf("Watch.DebounceMs = %d, want 50", cfg.Watch.DebounceMs)
		}
		if len(cfg.Window.LaunchCommand) != 2 || cfg.Window.LaunchCommand[0] != "electron" {
			t.Errorf("Window.LaunchCommand = %v", cfg.Window.LaunchCommand)
		}
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()
		viper.Set("watch.debounce_ms", 0)

		if _, err := Load(); err == nil {
			t.Fatal("Load() should fail for debounce_ms = 0")
		}
	})
}
