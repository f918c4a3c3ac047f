package config_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/voxrelay/internal/config"
)

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := sampleYAML + "\nnpcs: []\n"
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "npcs") {
		t.Errorf("err = %v, want unknown field error naming npcs", err)
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "providers.stt.name is required") {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("VOXRELAY_TEST_TOKEN", "s3cret")
	t.Setenv("VOXRELAY_TEST_EMPTY", "")

	tests := []struct {
		in, want string
	}{
		{in: "token: ${VOXRELAY_TEST_TOKEN}", want: "token: s3cret"},
		{in: "token: ${VOXRELAY_TEST_UNSET}", want: "token: "},
		{in: "token: ${VOXRELAY_TEST_UNSET:-fallback}", want: "token: fallback"},
		{in: "token: ${VOXRELAY_TEST_EMPTY:-fallback}", want: "token: fallback"},
		{in: "token: ${VOXRELAY_TEST_TOKEN:-fallback}", want: "token: s3cret"},
		{in: "token: $VOXRELAY_TEST_TOKEN", want: "token: $VOXRELAY_TEST_TOKEN"},
		{in: "price: $5", want: "price: $5"},
		{in: "literal: $${VOXRELAY_TEST_TOKEN}", want: "literal: ${VOXRELAY_TEST_TOKEN}"},
	}
	for _, tt := range tests {
		got, err := config.ExpandEnv([]byte(tt.in))
		if err != nil {
			t.Errorf("ExpandEnv(%q): %v", tt.in, err)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandEnv_Malformed(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"token: ${VOXRELAY_TEST_TOKEN", "token: ${}"} {
		if _, err := config.ExpandEnv([]byte(in)); err == nil {
			t.Errorf("ExpandEnv(%q): expected error", in)
		}
	}
	if _, err := config.LoadFromReader(strings.NewReader("server:\n  listen: ${BROKEN\n")); err == nil {
		t.Error("LoadFromReader: expected error for malformed reference")
	}
}

func TestLoad_WithEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("VOXRELAY_TEST_DISCORD_TOKEN=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOXRELAY_TEST_DISCORD_TOKEN", "")
	os.Unsetenv("VOXRELAY_TEST_DISCORD_TOKEN")

	if err := config.LoadEnv(envPath); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}

	yaml := strings.Replace(sampleYAML, "token: user-token", "token: ${VOXRELAY_TEST_DISCORD_TOKEN}", 1)
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel.Token != "from-dotenv" {
		t.Errorf("Channel.Token = %q, want from-dotenv", cfg.Channel.Token)
	}
}

func TestLoadEnv_MissingFileIsIgnored(t *testing.T) {
	t.Parallel()
	if err := config.LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadEnv(missing) = %v, want nil", err)
	}
	if err := config.LoadEnv(""); err != nil {
		t.Errorf("LoadEnv(\"\") = %v, want nil", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}
