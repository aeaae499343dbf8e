package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8090 {
		t.Errorf("expected default port 8090, got %d", cfg.Server.Port)
	}
	if cfg.Engine.WorkDir != "." {
		t.Errorf("expected default work dir '.', got %q", cfg.Engine.WorkDir)
	}
	if cfg.Kernel.Enabled {
		t.Error("kernel should be disabled by default")
	}
	if !cfg.Watcher.Enabled {
		t.Error("watcher should be enabled by default")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
engine:
  work_dir: /tmp/workspace
  auto_run: true
languages:
  python:
    command: ["python3.12", "-i", "-q", "-u"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("unset host should keep default, got %q", cfg.Server.Host)
	}
	if !cfg.Engine.AutoRun {
		t.Error("expected auto_run true")
	}
	if got := cfg.Languages["python"].Command[0]; got != "python3.12" {
		t.Errorf("expected python command override, got %q", got)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN", "s3cret")
	path := writeConfig(t, `
kernel:
  enabled: true
  gateway_url: http://localhost:8888
  token: ${GATEWAY_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Kernel.Token != "s3cret" {
		t.Errorf("expected expanded token, got %q", cfg.Kernel.Token)
	}
	if cfg.Kernel.Language != "python-kernel" {
		t.Errorf("expected default kernel language, got %q", cfg.Kernel.Language)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate_PortRange(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected port range error")
	}
}

func TestValidate_KernelNeedsURL(t *testing.T) {
	cfg := Default()
	cfg.Kernel.Enabled = true
	cfg.Kernel.GatewayURL = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "gateway_url") {
		t.Errorf("expected gateway_url error, got %v", err)
	}
}

func TestValidate_EmptyLanguageCommand(t *testing.T) {
	cfg := Default()
	cfg.Languages = map[string]Language{"python": {}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty language command")
	}
}

func TestAddr(t *testing.T) {
	cfg := Default()
	if got := cfg.Addr(); got != "127.0.0.1:8090" {
		t.Errorf("expected 127.0.0.1:8090, got %q", got)
	}
}
