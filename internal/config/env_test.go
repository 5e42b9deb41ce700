package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBool(t *testing.T) {
	t.Setenv("BOOL_TRUE", "true")
	t.Setenv("BOOL_FALSE", "false")
	t.Setenv("BOOL_NOISE", "yes")

	if !Bool("BOOL_TRUE", false) {
		t.Fatalf("expected true")
	}
	if Bool("BOOL_FALSE", true) {
		t.Fatalf("expected false override")
	}
	if !Bool("BOOL_MISSING", true) {
		t.Fatalf("expected default true for missing key")
	}
	if Bool("BOOL_NOISE", true) != true {
		t.Fatalf("unexpected override for unsupported values")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("MAILPACER_MAX_PER_MINUTE", "")
	if got := MaxPerMinute(); got != 30 {
		t.Fatalf("expected default 30, got %d", got)
	}

	t.Setenv("MAILPACER_MAX_PER_MINUTE", "12")
	if got := MaxPerMinute(); got != 12 {
		t.Fatalf("expected configured 12, got %d", got)
	}

	t.Setenv("MAILPACER_MAX_PER_MINUTE", "-5")
	if got := MaxPerMinute(); got != 30 {
		t.Fatalf("expected fallback to default for negative value, got %d", got)
	}

	t.Setenv("MAILPACER_MAX_PER_MINUTE", "noise")
	if got := MaxPerMinute(); got != 30 {
		t.Fatalf("expected fallback to default for invalid value, got %d", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("D_OK", "90s")
	t.Setenv("D_BAD", "soon")
	if got := Duration("D_OK", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	if got := Duration("D_BAD", time.Second); got != time.Second {
		t.Fatalf("expected default, got %s", got)
	}
}

func TestStatusNetworks(t *testing.T) {
	t.Setenv("MAILPACER_STATUS_ALLOW", "10.0.0.0/8, 192.168.1.7 ,bogus")
	nets := StatusNetworks()
	if len(nets) != 2 {
		t.Fatalf("expected 2 networks, got %d", len(nets))
	}
	if !nets[1].Contains([]byte{192, 168, 1, 7}) {
		t.Fatalf("expected single host network, got %v", nets[1])
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("MAILPACER_RELAY_HOST=smtp.example.com\nMAILPACER_RELAY_PORT=2525\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAILPACER_RELAY_HOST", "")
	os.Unsetenv("MAILPACER_RELAY_HOST")
	t.Setenv("MAILPACER_RELAY_PORT", "25")

	if err := Load(path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := RelayHost(); got != "smtp.example.com" {
		t.Fatalf("expected relay host from file, got %q", got)
	}
	if got := RelayPort(); got != "25" {
		t.Fatalf("expected existing variable to win, got %q", got)
	}

	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}
