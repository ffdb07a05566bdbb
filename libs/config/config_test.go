package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInt(t *testing.T) {
	t.Setenv("TRIAL_GLOBAL_CAP", "5")
	n, err := Int("TRIAL_GLOBAL_CAP", 3)
	if err != nil || n != 5 {
		t.Fatalf("expected 5, got %d (%v)", n, err)
	}

	n, err = Int("TRIAL_UNSET_KEY", 3)
	if err != nil || n != 3 {
		t.Fatalf("expected fallback 3, got %d (%v)", n, err)
	}

	t.Setenv("TRIAL_GLOBAL_CAP", "three")
	if _, err := Int("TRIAL_GLOBAL_CAP", 3); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPositiveIntAndSeconds(t *testing.T) {
	t.Setenv("SLOT_STEP", "0")
	if _, err := PositiveInt("SLOT_STEP", 30); err == nil {
		t.Fatal("expected zero to be rejected")
	}

	t.Setenv("CACHE_TTL", "90")
	d, err := Seconds("CACHE_TTL", time.Minute)
	if err != nil || d != 90*time.Second {
		t.Fatalf("expected 90s, got %s (%v)", d, err)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("SEED_DEMO", "Yes")
	if !Bool("SEED_DEMO", false) {
		t.Fatal("expected true")
	}
	t.Setenv("SEED_DEMO", "maybe")
	if Bool("SEED_DEMO", false) {
		t.Fatal("expected fallback for unknown value")
	}

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	got := List("CORS_ALLOWED_ORIGINS", "")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.env")
	if err := os.WriteFile(path, []byte("TUTORSLOTS_DOTENV_A=from-file\nTUTORSLOTS_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TUTORSLOTS_DOTENV_B", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("TUTORSLOTS_DOTENV_A") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := String("TUTORSLOTS_DOTENV_A", ""); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := String("TUTORSLOTS_DOTENV_B", ""); got != "from-env" {
		t.Fatalf("expected environment to win, got %q", got)
	}
}
