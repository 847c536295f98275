// File: internal/dockerconfig/dockerconfig.go
// Brief: Docker credential configuration shared by BuildKit solves and registry calls.

// Package dockerconfig loads the Docker CLI config used to authenticate
// BuildKit sessions and go-containerregistry requests.
package dockerconfig

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/cli/cli/config"
	"github.com/docker/cli/cli/config/configfile"
	"github.com/docker/cli/cli/config/credentials"
)

// LoadConfigFile loads a Docker config from the provided path or falls back to the default config.
func LoadConfigFile(path string, stderr io.Writer) (*configfile.ConfigFile, error) {
	if path == "" {
		cfg := config.LoadDefaultConfigFile(stderr)
		if cfg == nil {
			return nil, errors.New("unable to load docker config")
		}
		return cfg, nil
	}
	cfg := configfile.New(path)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) > 0 {
			if err := cfg.LoadFromReader(bytes.NewReader(data)); err != nil {
				return nil, err
			}
		}
	case !os.IsNotExist(err):
		return nil, err
	}
	if !cfg.ContainsAuth() {
		cfg.CredentialsStore = credentials.DetectDefaultStore(cfg.CredentialsStore)
	}
	return cfg, nil
}

// ApplyAuthfileEnv points DOCKER_CONFIG at the directory holding path so that
// registry clients reading the default keychain see the same credentials.
func ApplyAuthfileEnv(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	return os.Setenv(config.EnvOverrideConfigDir, dir)
}

// HasCredentials reports whether cfg holds an auth entry or credential helper
// for registry host.
func HasCredentials(cfg *configfile.ConfigFile, host string) bool {
	if cfg == nil || host == "" {
		return false
	}
	if _, ok := cfg.CredentialHelpers[host]; ok {
		return true
	}
	if auth, ok := cfg.AuthConfigs[host]; ok {
		return auth.Auth != "" || auth.Username != "" || auth.IdentityToken != ""
	}
	return false
}
