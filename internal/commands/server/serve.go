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

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/nodectl/internal/commands/shared"
	"github.com/tombee/nodectl/internal/config"
	"github.com/tombee/nodectl/internal/controlplane"
	"github.com/tombee/nodectl/internal/lifecycle"
	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/tracing"
	"github.com/tombee/nodectl/pkg/nodectl"
)

type serveOptions struct {
	host      string
	port      int
	portSet   bool
	apiKey    string
	detach    bool
	noPIDFile bool
	timeout   time.Duration
}

// apply layers command-line flags over the loaded configuration.
func (o serveOptions) apply(cfg *config.Config) {
	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.portSet {
		cfg.Server.Port = o.port
	}
	if o.apiKey != "" {
		cfg.Server.APIKey = o.apiKey
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the nodectl control-plane server",
		Long: `Run the control-plane server that remote controllers use to spawn
and drive nodes over HTTP.

In the foreground the server writes a PID file and runs until it receives
SIGINT or SIGTERM, then stops and cleans up every node it spawned.
Use --detach to start it in the background and wait until it is healthy.`,
		Example: `  # Serve on the default port (43134)
  nodectl serve

  # Serve in the background
  nodectl serve --detach

  # Require a bearer token on node routes
  nodectl serve --api-key "$(openssl rand -hex 16)"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.portSet = cmd.Flags().Changed("port")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "Interface to bind (default: 127.0.0.1)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Port to bind (default: 43134)")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Bearer token required on node routes")
	cmd.Flags().BoolVar(&opts.detach, "detach", false, "Run in the background")
	cmd.Flags().BoolVar(&opts.noPIDFile, "no-pid-file", false, "Do not write a PID file")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Health check timeout for --detach")

	return cmd
}

func runServe(ctx context.Context, out io.Writer, opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts.apply(cfg)

	if opts.detach {
		return runDetached(out, cfg, opts)
	}

	logger := log.WithComponent(log.New(cfg.Log.LogConfig()), "serve")
	v, _, _ := shared.GetVersion()
	logger.Info("nodectl starting", slog.String("version", v))

	cfg.Tracing.ServiceVersion = v
	tp, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown failed", log.Error(err))
		}
	}()

	defaults, overrides, err := cfg.FactoryOptions()
	if err != nil {
		return shared.NewConfigError("invalid node defaults", err)
	}
	defaults.Logger = logger
	events := lifecycle.NewEventLogger(cfg.Defaults.EventLog)

	if !opts.noPIDFile {
		pidFile := lifecycle.NewPIDFile(cfg.Server.PIDFile)
		stale, err := pidFile.Acquire(os.Getpid())
		if err != nil {
			return fmt.Errorf("failed to acquire PID file: %w", err)
		}
		defer func() {
			if err := pidFile.Release(); err != nil {
				logger.Warn("failed to remove PID file", log.Error(err))
			}
		}()
		if stale > 0 {
			logger.Warn("replaced stale PID file", slog.Int("stale_pid", stale))
			_ = events.Record(lifecycle.EventStalePID, "", "", stale, "process not running")
		}
	}

	srv := controlplane.New(nodectl.NewFactory(defaults, overrides), cfg.ControlPlaneConfig(), logger)
	if err := srv.Start(); err != nil {
		_ = events.RecordFailure(lifecycle.EventServe, "", "", err)
		return fmt.Errorf("failed to start server: %w", err)
	}
	_ = events.Record(lifecycle.EventServe, "", "", os.Getpid(), srv.Endpoint())

	logger.Info("nodectl ready",
		slog.String("endpoint", srv.Endpoint()),
		slog.Bool("auth", cfg.Server.APIKey != ""))
	if !shared.GetQuiet() {
		fmt.Fprintf(out, "Serving on %s\n", srv.Endpoint())
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := srv.Close(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runDetached re-executes serve in its own session and waits for /health.
func runDetached(out io.Writer, cfg *config.Config, opts serveOptions) error {
	pidFile := lifecycle.NewPIDFile(cfg.Server.PIDFile)
	if pid, err := pidFile.Read(); err == nil && lifecycle.IsProcessRunning(pid) {
		fmt.Fprintf(out, "Server is already running (PID %d)\n", pid)
		return nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, lifecycle.ErrInvalidPID) {
		return fmt.Errorf("failed to check existing server: %w", err)
	}

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	spawner := lifecycle.NewSpawner()
	if cfg.Server.APIKey != "" {
		// Keep the key out of the child's command line.
		spawner.WithExtraEnv(map[string]string{"NODECTL_API_KEY": cfg.Server.APIKey})
	}
	pid, err := spawner.SpawnDetached(binary, childArgs(cfg), cfg.Server.LogFile)
	if err != nil {
		return fmt.Errorf("failed to spawn server: %w", err)
	}
	if !shared.GetQuiet() {
		fmt.Fprintf(out, "Starting server (PID %d)...\n", pid)
	}

	checker := lifecycle.NewHealthChecker(cfg.Endpoint() + "/health")
	if err := checker.WaitUntilHealthy(opts.timeout); err != nil {
		_ = lifecycle.SendSignal(pid, syscall.SIGTERM)
		return fmt.Errorf("server failed to become healthy within %v (see %s): %w", opts.timeout, cfg.Server.LogFile, err)
	}

	if !shared.GetQuiet() {
		fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Server started (PID %d) on %s", pid, cfg.Endpoint())))
	}
	return nil
}

// childArgs builds the foreground serve command line for a detached server.
func childArgs(cfg *config.Config) []string {
	args := []string{"serve",
		"--host", cfg.Server.Host,
		"--port", strconv.Itoa(cfg.Server.Port),
	}
	if path := shared.GetConfigPath(); path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		args = append(args, "--config", path)
	}
	return args
}
