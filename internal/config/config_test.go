// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	nodeerrors "github.com/tombee/nodectl/pkg/errors"
	"github.com/tombee/nodectl/pkg/nodectl"
)

// clearConfigEnv unsets every variable Load reads for the duration of t.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"NODECTL_SERVER_HOST", "NODECTL_SERVER_PORT", "NODECTL_SHUTDOWN_TIMEOUT",
		"NODECTL_PID_FILE", "NODECTL_API_KEY", "NODECTL_EXEC_GO", "NODECTL_EXEC_JS",
		"NODECTL_FORCE_KILL_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")
	cfg := Default()

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 43134 {
		t.Errorf("expected port 43134, got %d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.PIDFile != filepath.Join("/state", "nodectl", "nodectl.pid") {
		t.Errorf("unexpected pid file %q", cfg.Server.PIDFile)
	}
	if cfg.Defaults.Type != "go" {
		t.Errorf("expected default type go, got %q", cfg.Defaults.Type)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
	if cfg.Tracing.Exporter != "none" {
		t.Errorf("expected tracing exporter none, got %q", cfg.Tracing.Exporter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		errText string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "port too high",
			modify:  func(c *Config) { c.Server.Port = 65536 },
			errText: "server.port must be between 1 and 65535",
		},
		{
			name:    "zero shutdown timeout",
			modify:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			errText: "shutdown_timeout must be positive",
		},
		{
			name:    "negative spawn rate",
			modify:  func(c *Config) { c.Server.SpawnRate = -1 },
			errText: "spawn_rate must not be negative",
		},
		{
			name:    "unknown default type",
			modify:  func(c *Config) { c.Defaults.Type = "rust" },
			errText: "defaults.type",
		},
		{
			name: "unknown override type",
			modify: func(c *Config) {
				c.Overrides = map[string]NodeConfig{"rust": {}}
			},
			errText: `unknown node type "rust"`,
		},
		{
			name: "mismatched override type",
			modify: func(c *Config) {
				c.Overrides = map[string]NodeConfig{"js": {Type: "go"}}
			},
			errText: "overrides.js.type",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			errText: "log.level must be",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			errText: "log.format must be json or text",
		},
		{
			name:    "invalid exporter",
			modify:  func(c *Config) { c.Tracing.Exporter = "zipkin" },
			errText: "tracing.exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.errText == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errText)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("expected error to contain %q, got %q", tt.errText, err.Error())
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("NODECTL_SERVER_HOST", "0.0.0.0")
	t.Setenv("NODECTL_SERVER_PORT", "5001")
	t.Setenv("NODECTL_API_KEY", "secret")
	t.Setenv("NODECTL_EXEC_GO", "/opt/kubo/ipfs")
	t.Setenv("NODECTL_FORCE_KILL_TIMEOUT", "2s")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 5001 {
		t.Errorf("unexpected server %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.APIKey != "secret" {
		t.Errorf("expected api key from env, got %q", cfg.Server.APIKey)
	}
	if cfg.Overrides["go"].Exec != "/opt/kubo/ipfs" {
		t.Errorf("expected go exec from env, got %q", cfg.Overrides["go"].Exec)
	}
	if cfg.Defaults.ForceKillTimeout != 2*time.Second {
		t.Errorf("expected force kill timeout 2s, got %v", cfg.Defaults.ForceKillTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if got := cfg.Endpoint(); got != "http://127.0.0.1:5001" {
		t.Errorf("expected wildcard host to map to loopback, got %q", got)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("NODECTL_SERVER_PORT", "not-a-port")

	_, err := Load("")
	var cfgErr *nodeerrors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Key != "NODECTL_SERVER_PORT" {
		t.Errorf("expected key NODECTL_SERVER_PORT, got %q", cfgErr.Key)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearConfigEnv(t)
	repoConfig := writeFile(t, "repo.jsonc", `{
		// keep tests off the network
		"Bootstrap": []
	}`)
	path := writeFile(t, "config.yaml", `
server:
  port: 6001
  spawn_rate: 2
defaults:
  type: proc
  disposable: false
  force_kill_timeout: 3s
  repo_config: `+repoConfig+`
overrides:
  js:
    exec: /usr/local/bin/jsipfs
    offline: true
    env:
      DEBUG: "1"
log:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 6001 || cfg.Server.SpawnRate != 2 {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.SpawnBurst != 10 {
		t.Errorf("expected defaults for unset server fields, got %+v", cfg.Server)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}

	defaults, overrides, err := cfg.FactoryOptions()
	if err != nil {
		t.Fatalf("FactoryOptions: %v", err)
	}
	if defaults.Type != nodectl.TypeProc {
		t.Errorf("expected default type proc, got %q", defaults.Type)
	}
	if defaults.IsDisposable() {
		t.Errorf("expected disposable false")
	}
	if defaults.ForceKillTimeout != 3*time.Second {
		t.Errorf("expected force kill timeout 3s, got %v", defaults.ForceKillTimeout)
	}
	if _, ok := defaults.Config["Bootstrap"]; !ok {
		t.Errorf("expected repo config to be loaded, got %v", defaults.Config)
	}

	js, ok := overrides[nodectl.TypeJS]
	if !ok {
		t.Fatalf("expected js override, got %v", overrides)
	}
	if js.Exec != "/usr/local/bin/jsipfs" || js.Env["DEBUG"] != "1" {
		t.Errorf("unexpected js override %+v", js)
	}
	if js.Start == nil || !js.Start.Offline {
		t.Errorf("expected offline start options, got %+v", js.Start)
	}

	cp := cfg.ControlPlaneConfig()
	if cp.Port != 6001 || cp.SpawnRate != 2 || cp.ShutdownTimeout != 30*time.Second {
		t.Errorf("unexpected control plane config %+v", cp)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	clearConfigEnv(t)
	path := writeFile(t, "config.yaml", "server:\n  port: 6001\n")
	t.Setenv("NODECTL_SERVER_PORT", "7001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("expected env to win, got port %d", cfg.Server.Port)
	}
}

func TestLoadErrors(t *testing.T) {
	clearConfigEnv(t)
	tests := []struct {
		name string
		path string
		key  string
	}{
		{name: "missing file", path: filepath.Join(t.TempDir(), "absent.yaml"), key: "config_file"},
		{name: "invalid yaml", path: writeFile(t, "bad.yaml", "server: [unclosed\n"), key: "config_file"},
		{name: "validation failure", path: writeFile(t, "port.yaml", "server:\n  port: 70000\n"), key: "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			var cfgErr *nodeerrors.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Key != tt.key {
				t.Errorf("expected key %q, got %q", tt.key, cfgErr.Key)
			}
		})
	}
}

func TestFactoryOptionsMissingRepoConfig(t *testing.T) {
	cfg := Default()
	cfg.Defaults.RepoConfig = filepath.Join(t.TempDir(), "absent.json")

	_, _, err := cfg.FactoryOptions()
	var cfgErr *nodeerrors.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "repo_config" {
		t.Fatalf("expected repo_config ConfigError, got %v", err)
	}
}

func TestDirs(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	t.Setenv("XDG_STATE_HOME", filepath.Join(base, "state"))

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath: %v", err)
	}
	if path != filepath.Join(base, "nodectl", "config.yaml") {
		t.Errorf("unexpected config path %q", path)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("expected config dir to be created")
	}
	if got := StateDir(); got != filepath.Join(base, "state", "nodectl") {
		t.Errorf("unexpected state dir %q", got)
	}
}
