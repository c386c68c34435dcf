package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("RCM_CONFIG_PATH", "/custom/rcm.toml")
		t.Setenv("RCM_HOME", "/custom/home")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		if defaults["config_path"] != "/custom/rcm.toml" {
			t.Errorf("config_path = %s", defaults["config_path"])
		}
		if defaults["base_dir"] != "/custom/home" {
			t.Errorf("base_dir = %s", defaults["base_dir"])
		}
		if defaults["log_dir"] != filepath.Join("/custom/home", "log") {
			t.Errorf("log_dir = %s", defaults["log_dir"])
		}
	})

	t.Run("falls back to home directory", func(t *testing.T) {
		t.Setenv("RCM_CONFIG_PATH", "")
		t.Setenv("RCM_HOME", "")

		home, err := os.UserHomeDir()
		if err != nil {
			t.Skipf("no home directory: %v", err)
		}

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		if defaults["config_path"] != filepath.Join(home, ".config", "rcm.toml") {
			t.Errorf("config_path = %s", defaults["config_path"])
		}
		if defaults["base_dir"] != filepath.Join(home, ".local", "share", "rcm") {
			t.Errorf("base_dir = %s", defaults["base_dir"])
		}
	})
}
