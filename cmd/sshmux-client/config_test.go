package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"remoteaddr":"2.2.2.2:22","secret":"s3cr3t","pty":true,"term":"xterm"}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}
	if cfg.RemoteAddr != "2.2.2.2:22" || !cfg.PTY || cfg.Term != "xterm" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatal("parseJSONConfig expected error for missing file")
	}
}
