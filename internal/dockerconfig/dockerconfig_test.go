package dockerconfig

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFileReadsAuths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"auths":{"ghcr.io":{"auth":"dXNlcjpwYXNz"}},"credHelpers":{"123.dkr.ecr.eu-west-1.amazonaws.com":"ecr-login"}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfigFile(path, io.Discard)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if !HasCredentials(cfg, "ghcr.io") {
		t.Fatalf("expected ghcr.io credentials")
	}
	if !HasCredentials(cfg, "123.dkr.ecr.eu-west-1.amazonaws.com") {
		t.Fatalf("expected credential helper to count")
	}
	if HasCredentials(cfg, "docker.io") {
		t.Fatalf("unexpected docker.io credentials")
	}
}

func TestLoadConfigFileMissingIsEmpty(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.json"), io.Discard)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if HasCredentials(cfg, "ghcr.io") {
		t.Fatalf("empty config reported credentials")
	}
}

func TestApplyAuthfileEnv(t *testing.T) {
	t.Setenv("DOCKER_CONFIG", "")
	dir := t.TempDir()
	if err := ApplyAuthfileEnv(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("ApplyAuthfileEnv: %v", err)
	}
	if got := os.Getenv("DOCKER_CONFIG"); got != dir {
		t.Fatalf("DOCKER_CONFIG = %q, want %q", got, dir)
	}
}
