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

// Package config loads nodectl settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/nodectl/internal/controlplane"
	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/repoconfig"
	"github.com/tombee/nodectl/internal/tracing"
	nodeerrors "github.com/tombee/nodectl/pkg/errors"
	"github.com/tombee/nodectl/pkg/nodectl"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete nodectl configuration.
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Defaults  NodeConfig            `yaml:"defaults"`
	Overrides map[string]NodeConfig `yaml:"overrides,omitempty"` // Keyed by node type
	Log       LogConfig             `yaml:"log"`
	Tracing   tracing.Config        `yaml:"tracing"`
}

// ServerConfig configures the control-plane server.
type ServerConfig struct {
	// Host is the interface to bind.
	// Environment: NODECTL_SERVER_HOST
	// Default: 127.0.0.1
	Host string `yaml:"host"`

	// Port is the TCP port to bind.
	// Environment: NODECTL_SERVER_PORT
	// Default: 43134
	Port int `yaml:"port"`

	// ShutdownTimeout bounds how long serve waits for nodes to stop.
	// Environment: NODECTL_SHUTDOWN_TIMEOUT
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// PIDFile is written by serve so that stop and status can find it.
	// Environment: NODECTL_PID_FILE
	// Default: <state dir>/nodectl.pid
	PIDFile string `yaml:"pid_file"`

	// LogFile receives a detached server's output.
	// Default: <state dir>/nodectl.log
	LogFile string `yaml:"log_file"`

	// APIKey, when set, is required as a bearer token on node routes.
	// Environment: NODECTL_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	// SpawnRate limits spawns per second; 0 disables the limit.
	SpawnRate float64 `yaml:"spawn_rate"`

	// SpawnBurst is the spawn limiter's bucket size.
	// Default: 10
	SpawnBurst int `yaml:"spawn_burst"`
}

// NodeConfig holds factory options for nodes. Unset fields fall through
// to the built-in defaults.
type NodeConfig struct {
	// Type is the node type spawned when a request names none (defaults only).
	Type string `yaml:"type,omitempty"`

	// Exec is the daemon binary.
	// Environment: NODECTL_EXEC_GO, NODECTL_EXEC_JS
	Exec string `yaml:"exec,omitempty"`

	// Env is added to the daemon environment.
	Env map[string]string `yaml:"env,omitempty"`

	Disposable *bool `yaml:"disposable,omitempty"`
	Test       *bool `yaml:"test,omitempty"`
	ForceKill  *bool `yaml:"force_kill,omitempty"`

	// ForceKillTimeout is the grace period between SIGTERM and SIGKILL.
	// Environment: NODECTL_FORCE_KILL_TIMEOUT
	ForceKillTimeout time.Duration `yaml:"force_kill_timeout,omitempty"`

	// Args are passed to the daemon subcommand.
	Args []string `yaml:"args,omitempty"`

	// Offline starts daemons without network access.
	Offline bool `yaml:"offline,omitempty"`

	// RepoConfig is a JSON (comments allowed) document merged into every
	// new repo's config.
	RepoConfig string `yaml:"repo_config,omitempty"`

	// EventLog receives lifecycle events as JSON lines.
	EventLog string `yaml:"event_log,omitempty"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// LogConfig returns the settings as a logger configuration.
func (c LogConfig) LogConfig() *log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = log.Format(c.Format)
	cfg.AddSource = c.AddSource
	return cfg
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	stateDir := StateDir()
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            43134,
			ShutdownTimeout: 30 * time.Second,
			PIDFile:         filepath.Join(stateDir, "nodectl.pid"),
			LogFile:         filepath.Join(stateDir, "nodectl.log"),
			SpawnBurst:      10,
		},
		Defaults: NodeConfig{
			Type: string(nodectl.TypeGo),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: tracing.Config{
			ServiceName: "nodectl",
			Exporter:    "none",
			SampleRate:  1.0,
		},
	}
}

// Load loads configuration from an optional YAML file, then the
// environment, and validates the result. Environment variables take
// precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &nodeerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &nodeerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

// applyDefaults fills in zero values a partial file left behind.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Server.PIDFile == "" {
		c.Server.PIDFile = defaults.Server.PIDFile
	}
	if c.Server.LogFile == "" {
		c.Server.LogFile = defaults.Server.LogFile
	}
	if c.Server.SpawnBurst == 0 {
		c.Server.SpawnBurst = defaults.Server.SpawnBurst
	}
	if c.Defaults.Type == "" {
		c.Defaults.Type = defaults.Defaults.Type
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv applies environment overrides. Malformed numbers and
// durations are reported rather than ignored.
func (c *Config) loadFromEnv() error {
	if val := os.Getenv("NODECTL_SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("NODECTL_SERVER_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return envError("NODECTL_SERVER_PORT", err)
		}
		c.Server.Port = port
	}
	if val := os.Getenv("NODECTL_SHUTDOWN_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("NODECTL_SHUTDOWN_TIMEOUT", err)
		}
		c.Server.ShutdownTimeout = d
	}
	if val := os.Getenv("NODECTL_PID_FILE"); val != "" {
		c.Server.PIDFile = val
	}
	if val := os.Getenv("NODECTL_API_KEY"); val != "" {
		c.Server.APIKey = val
	}

	if val := os.Getenv(nodectl.ExecGoEnv); val != "" {
		c.setExec(nodectl.TypeGo, val)
	}
	if val := os.Getenv(nodectl.ExecJSEnv); val != "" {
		c.setExec(nodectl.TypeJS, val)
	}
	if val := os.Getenv("NODECTL_FORCE_KILL_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("NODECTL_FORCE_KILL_TIMEOUT", err)
		}
		c.Defaults.ForceKillTimeout = d
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
	return nil
}

func envError(key string, err error) error {
	return &nodeerrors.ConfigError{Key: key, Reason: "invalid value", Cause: err}
}

// setExec sets the daemon binary for one node type.
func (c *Config) setExec(t nodectl.Type, exec string) {
	if c.Overrides == nil {
		c.Overrides = make(map[string]NodeConfig)
	}
	n := c.Overrides[string(t)]
	n.Exec = exec
	c.Overrides[string(t)] = n
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	if c.Server.SpawnRate < 0 {
		errs = append(errs, "server.spawn_rate must not be negative")
	}
	if c.Server.SpawnBurst < 1 {
		errs = append(errs, "server.spawn_burst must be at least 1")
	}

	if _, err := nodectl.ParseType(c.Defaults.Type); err != nil {
		errs = append(errs, fmt.Sprintf("defaults.type: %v", err))
	}
	if c.Defaults.ForceKillTimeout < 0 {
		errs = append(errs, "defaults.force_kill_timeout must not be negative")
	}
	for name, n := range c.Overrides {
		if _, err := nodectl.ParseType(name); err != nil || name == "" {
			errs = append(errs, fmt.Sprintf("overrides: unknown node type %q", name))
		}
		if n.Type != "" && n.Type != name {
			errs = append(errs, fmt.Sprintf("overrides.%s.type must be empty or %q", name, name))
		}
		if n.ForceKillTimeout < 0 {
			errs = append(errs, fmt.Sprintf("overrides.%s.force_kill_timeout must not be negative", name))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be trace, debug, info, warn or error, got %q", c.Log.Level))
	}
	if c.Log.Format != string(log.FormatJSON) && c.Log.Format != string(log.FormatText) {
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}

	switch c.Tracing.Exporter {
	case "", "none", "console", "otlp", "otlp-http":
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be console, otlp, otlp-http or none, got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, "tracing.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// options converts n to factory options, loading its repo config file.
func (n NodeConfig) options() (nodectl.Options, error) {
	opts := nodectl.Options{
		Type:             nodectl.Type(n.Type),
		Exec:             n.Exec,
		Env:              n.Env,
		Disposable:       n.Disposable,
		Test:             n.Test,
		ForceKill:        n.ForceKill,
		ForceKillTimeout: n.ForceKillTimeout,
		EventLog:         n.EventLog,
	}
	if len(n.Args) > 0 || n.Offline {
		opts.Start = &nodectl.StartOptions{Offline: n.Offline, Args: n.Args}
	}
	if n.RepoConfig != "" {
		doc, err := repoconfig.LoadFile(n.RepoConfig)
		if err != nil {
			return nodectl.Options{}, &nodeerrors.ConfigError{
				Key:    "repo_config",
				Reason: fmt.Sprintf("failed to load %s", n.RepoConfig),
				Cause:  err,
			}
		}
		opts.Config = doc
	}
	return opts, nil
}

// FactoryOptions returns the defaults and per-type overrides for a
// nodectl.Factory.
func (c *Config) FactoryOptions() (nodectl.Options, map[nodectl.Type]nodectl.Options, error) {
	defaults, err := c.Defaults.options()
	if err != nil {
		return nodectl.Options{}, nil, err
	}

	overrides := make(map[nodectl.Type]nodectl.Options, len(c.Overrides))
	for name, n := range c.Overrides {
		opts, err := n.options()
		if err != nil {
			return nodectl.Options{}, nil, err
		}
		t, err := nodectl.ParseType(name)
		if err != nil {
			return nodectl.Options{}, nil, err
		}
		opts.Type = ""
		overrides[t] = opts
	}
	return defaults, overrides, nil
}

// ControlPlaneConfig returns the server settings.
func (c *Config) ControlPlaneConfig() controlplane.Config {
	return controlplane.Config{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		APIKey:          c.Server.APIKey,
		SpawnRate:       c.Server.SpawnRate,
		SpawnBurst:      c.Server.SpawnBurst,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}

// Endpoint is the URL clients use to reach the configured server.
func (c *Config) Endpoint() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}
