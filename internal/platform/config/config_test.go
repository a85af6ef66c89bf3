package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv_helpers(t *testing.T) {
	t.Setenv("SW_STR", "x")
	t.Setenv("SW_INT", "12")
	t.Setenv("SW_BAD_INT", "twelve")
	t.Setenv("SW_BOOL", "true")
	t.Setenv("SW_DUR", "90s")
	t.Setenv("SW_FLOAT", "0.5")

	if got := GetEnv("SW_STR", "y"); got != "x" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnv("SW_UNSET", "y"); got != "y" {
		t.Errorf("GetEnv fallback = %q", got)
	}
	if got := GetEnvInt("SW_INT", 1); got != 12 {
		t.Errorf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt("SW_BAD_INT", 1); got != 1 {
		t.Errorf("GetEnvInt invalid = %d, want fallback", got)
	}
	if !GetEnvBool("SW_BOOL", false) {
		t.Error("GetEnvBool = false")
	}
	if got := GetEnvDuration("SW_DUR", time.Second); got != 90*time.Second {
		t.Errorf("GetEnvDuration = %v", got)
	}
	if got := GetEnvFloat("SW_FLOAT", 1); got != 0.5 {
		t.Errorf("GetEnvFloat = %v", got)
	}
}

func TestFromEnv_defaults(t *testing.T) {
	for _, key := range []string{"PORT", "STREAMS_URL", "SOFT_RELOAD_INTERVAL", "DEMO_STREAMS", "PREFS_BACKEND"} {
		t.Setenv(key, "")
	}
	s := FromEnv()
	if s.Port != "8080" || s.SoftReload != 6*time.Hour || s.DemoStreams != 0 || s.PrefsBackend != "memory" {
		t.Errorf("defaults = %+v", s)
	}
	if s.ViewportWidth != 1920 || s.ViewportHeight != 1080 {
		t.Errorf("viewport = %vx%v", s.ViewportWidth, s.ViewportHeight)
	}
}

func TestLoad_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SW_FROM_DOTENV=wall\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SW_FROM_DOTENV", "")
	os.Unsetenv("SW_FROM_DOTENV")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("SW_FROM_DOTENV", ""); got != "wall" {
		t.Errorf("SW_FROM_DOTENV = %q", got)
	}
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("Load of a missing file returned nil")
	}
}
