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
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/nodectl/internal/commands/shared"
	"github.com/tombee/nodectl/internal/lifecycle"
)

type stopOptions struct {
	timeout time.Duration
	force   bool
}

// NewStopCommand creates the stop command.
func NewStopCommand() *cobra.Command {
	var opts stopOptions

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the nodectl control-plane server",
		Long: `Stop a control-plane server found through its PID file.

Sends SIGTERM so the server can stop and clean up its nodes, then waits.
If the timeout is exceeded, sends SIGKILL. Use --force to send SIGKILL
immediately; nodes spawned by the server are then left behind.

The stop command is idempotent: if the server is not running,
it exits successfully after cleaning up stale PID files.`,
		Example: `  # Stop the server gracefully
  nodectl stop

  # Allow a minute for node cleanup
  nodectl stop --timeout 60s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 35*time.Second, "Graceful shutdown timeout before SIGKILL")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Skip graceful shutdown, send SIGKILL immediately")

	return cmd
}

func runStop(_ context.Context, out io.Writer, opts stopOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	events := lifecycle.NewEventLogger(cfg.Defaults.EventLog)

	pidFile := lifecycle.NewPIDFile(cfg.Server.PIDFile)
	pid, err := pidFile.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(out, "Server is not running (no PID file)")
			return nil
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	if !lifecycle.IsProcessRunning(pid) {
		_ = events.Record(lifecycle.EventStalePID, "", "", pid, "process not running")
		fmt.Fprintf(out, "Server process %d is not running (removing stale PID file)\n", pid)
		if err := pidFile.Release(); err != nil {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
		return nil
	}

	if !lifecycle.IsProcessNamed(pid, processName) {
		return fmt.Errorf("PID %d is not a %s process (refusing to stop)", pid, processName)
	}

	start := time.Now()
	fmt.Fprintf(out, "Stopping server (PID %d)...\n", pid)

	if opts.force {
		err = forceKill(pid)
	} else {
		err = lifecycle.GracefulShutdown(pid, opts.timeout, true)
	}
	if err != nil && !errors.Is(err, lifecycle.ErrProcessNotRunning) {
		_ = events.RecordFailure(lifecycle.EventStop, "", "", err)
		return fmt.Errorf("failed to stop server: %w", err)
	}
	_ = events.RecordDuration(lifecycle.EventStop, "", "", pid, time.Since(start))

	// A server that exited cleanly removed its own PID file.
	if err := pidFile.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to remove PID file: %v\n", err)
	}

	fmt.Fprintln(out, shared.RenderOK("Server stopped"))
	return nil
}

func forceKill(pid int) error {
	if err := lifecycle.SendSignal(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}
	return lifecycle.WaitForExit(pid, lifecycle.DefaultKillWait)
}
