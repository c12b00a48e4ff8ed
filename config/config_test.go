package config

import (
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	// t.Setenv to force empty values even if the host env sets them
	t.Setenv("PORT", "")
	t.Setenv("DEFAULT_AI_PROVIDER", "")
	t.Setenv("BROWSER_USE_HEADFUL", "")
	t.Setenv("MEDIA_DIR", "")

	cfg := FromEnv()
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Port)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q, want openai", cfg.DefaultProvider)
	}
	if cfg.Headful {
		t.Error("Headful should default to false")
	}
	if cfg.MediaDir != "media" {
		t.Errorf("MediaDir = %q, want media", cfg.MediaDir)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("DEFAULT_AI_PROVIDER", "anthropic")
	t.Setenv("BROWSER_USE_HEADFUL", "TRUE")
	t.Setenv("CHROME_PATH", "/opt/chrome")
	t.Setenv("MEDIA_DIR", "/tmp/media")

	cfg := FromEnv()
	if cfg.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Port)
	}
	if cfg.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q, want anthropic", cfg.DefaultProvider)
	}
	if !cfg.Headful {
		t.Error("Headful should be true")
	}
	if cfg.ChromePath != "/opt/chrome" {
		t.Errorf("ChromePath = %q", cfg.ChromePath)
	}
	if cfg.MediaDir != "/tmp/media" {
		t.Errorf("MediaDir = %q", cfg.MediaDir)
	}
}

func TestFromEnv_BadPortIgnored(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	cfg := FromEnv()
	if cfg.Port != 8000 {
		t.Errorf("invalid PORT should keep default, got %d", cfg.Port)
	}
}

func TestSensitiveData(t *testing.T) {
	t.Setenv("X_SITE_PASSWORD", "hunter2")
	t.Setenv("NOT_SENSITIVE", "visible")

	data := SensitiveData()
	if data["X_SITE_PASSWORD"] != "hunter2" {
		t.Error("expected X_SITE_PASSWORD to be collected")
	}
	if _, ok := data["NOT_SENSITIVE"]; ok {
		t.Error("non X_ variables must not be collected")
	}
}
