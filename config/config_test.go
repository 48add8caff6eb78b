package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domquery.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  request_timeout: 30s
browser:
  remote: "ws://localhost:9222"
  stealth: "off"
audit:
  path: "/var/lib/domquery/audit.db"
  retention: 48h
wait:
  default_timeout: 10s
  max_timeout: 2m
pages:
  - id: docs
    url: https://example.com/docs
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Browser.Remote != "ws://localhost:9222" || cfg.Browser.Stealth != "off" {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Audit.Retention != 48*time.Hour {
		t.Errorf("retention = %s", cfg.Audit.Retention)
	}
	if cfg.Wait.DefaultTimeout != 10*time.Second {
		t.Errorf("default timeout = %s", cfg.Wait.DefaultTimeout)
	}
	if len(cfg.Pages) != 1 || cfg.Pages[0].ID != "docs" {
		t.Errorf("pages = %+v", cfg.Pages)
	}
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, "server: {}\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8750" {
		t.Errorf("addr default = %q", cfg.Server.Addr)
	}
	if cfg.Server.RequestTimeout != 60*time.Second {
		t.Errorf("request timeout default = %s", cfg.Server.RequestTimeout)
	}
	if cfg.Browser.Stealth != "on" {
		t.Errorf("stealth default = %q", cfg.Browser.Stealth)
	}
	if cfg.Wait.DefaultTimeout != 30*time.Second || cfg.Wait.MaxTimeout != 5*time.Minute {
		t.Errorf("wait defaults = %+v", cfg.Wait)
	}
}

func TestLoadFileRejectsEmptyPageURL(t *testing.T) {
	path := writeConfig(t, `
pages:
  - id: broken
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for page without url")
	}
}

func TestLoadFileRejectsTimeoutInversion(t *testing.T) {
	path := writeConfig(t, `
wait:
  default_timeout: 10m
  max_timeout: 1m
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for default_timeout > max_timeout")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
