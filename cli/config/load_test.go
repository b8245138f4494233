package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestExpand(t *testing.T) {
	env := map[string]string{"HOST": "api.example.com", "EMPTY": ""}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	tests := []struct {
		name, in, want string
	}{
		{"set", "endpoint: https://${HOST}", "endpoint: https://api.example.com"},
		{"unset", "value: ${NOPE}", "value: "},
		{"default when unset", "value: ${NOPE:-fallback}", "value: fallback"},
		{"default ignored when set", "value: ${HOST:-fallback}", "value: api.example.com"},
		{"default when empty", "value: ${EMPTY:-fallback}", "value: fallback"},
		{"empty default", "value: ${NOPE:-}", "value: "},
		{"multiple", "${HOST}/${NOPE:-x}", "api.example.com/x"},
		{"bare dollar untouched", "cost: $5 and $HOST", "cost: $5 and $HOST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expand(tt.in, lookup); got != tt.want {
				t.Errorf("expand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_UsesEnvironment(t *testing.T) {
	t.Setenv("PSDWEB_TEST_ENDPOINT", "http://localhost:3000")
	if got := ExpandEnv("${PSDWEB_TEST_ENDPOINT}"); got != "http://localhost:3000" {
		t.Errorf("got %q", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file error = %v", err)
	}
	bad := writeTemp(t, "bad.yaml", "endpoint: [unclosed")
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("bad yaml error = %v", err)
	}
	badDuration := writeTemp(t, "dur.yaml", "timeout: soon\n")
	if _, err := Load(badDuration); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoadOptional_Missing(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), DefaultPath))
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.Endpoint != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("PSDWEB_DOTENV_A=from-file\nPSDWEB_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PSDWEB_DOTENV_B", "from-env")
	t.Setenv("PSDWEB_DOTENV_A", "")
	os.Unsetenv("PSDWEB_DOTENV_A")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("PSDWEB_DOTENV_A"); got != "from-file" {
		t.Errorf("A = %q, want from-file", got)
	}
	if got := os.Getenv("PSDWEB_DOTENV_B"); got != "from-env" {
		t.Errorf("B = %q, existing environment must win", got)
	}
}
