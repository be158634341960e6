package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeFile(t, "server: db1:7000\noutput: yaml\ntimeout: 3s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := CLIConfig{Server: "db1:7000", Output: "yaml", Timeout: 3 * time.Second}
	if *cfg != want {
		t.Errorf("cfg = %+v, want %+v", cfg, want)
	}
}

func TestLoad_Empty(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server != Default().Server {
		t.Errorf("server = %q", cfg.Server)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown key": "servr: x\n",
		"bad timeout": "timeout: soon\n",
		"not yaml":    "server: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Error("Load succeeded")
			}
		})
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	if got := DefaultConfigPath(); got != "/home/test/.memdev/cli.yaml" {
		t.Errorf("DefaultConfigPath = %q", got)
	}
}
