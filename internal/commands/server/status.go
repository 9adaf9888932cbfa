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
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/nodectl/internal/client"
	"github.com/tombee/nodectl/internal/commands/shared"
	"github.com/tombee/nodectl/internal/lifecycle"
)

// statusResponse is the --json output of status.
type statusResponse struct {
	shared.JSONResponse
	Endpoint  string `json:"endpoint"`
	Status    string `json:"status"`
	Nodes     int    `json:"nodes"`
	PID       int    `json:"pid,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show control-plane server status",
		Long: `Query the control-plane server's health endpoint and show how many
nodes it is tracking.

Exits with code 10 when the server cannot be reached.`,
		Example: `  # Check the configured server
  nodectl status

  # Check another server and print JSON
  nodectl status --endpoint http://10.0.0.5:43134 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return runStatus(ctx, cmd.OutOrStdout(), endpoint)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Server URL (default: from configuration)")

	return cmd
}

func runStatus(ctx context.Context, out io.Writer, endpoint string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if endpoint == "" {
		endpoint = cfg.Endpoint()
	}

	c, err := client.New(endpoint, client.WithAPIKey(cfg.Server.APIKey), client.WithTimeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	start := time.Now()
	health, err := c.Health(ctx)
	if err != nil {
		if !shared.GetJSON() && !shared.GetQuiet() {
			fmt.Fprintln(out, shared.RenderError("Server is not running at "+endpoint))
		}
		return shared.NewNotRunningError("server unreachable", err)
	}
	latency := time.Since(start)

	// Only meaningful for a server on this machine.
	pid, _ := lifecycle.NewPIDFile(cfg.Server.PIDFile).Read()

	if shared.GetJSON() {
		return shared.EmitJSON(out, statusResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "status", Success: true},
			Endpoint:     endpoint,
			Status:       health.Status,
			Nodes:        health.Nodes,
			PID:          pid,
			LatencyMS:    latency.Milliseconds(),
		})
	}
	if shared.GetQuiet() {
		return nil
	}

	fmt.Fprintln(out, shared.RenderHeader("Control Plane Status"))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Status:  "), shared.RenderOK(health.Status))
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Endpoint:"), shared.RenderBold(endpoint))
	fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Nodes:   "), health.Nodes)
	if pid > 0 {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("PID:     "), strconv.Itoa(pid))
	}
	fmt.Fprintf(out, "%s %v\n", shared.RenderLabel("Latency: "), latency.Round(time.Millisecond))
	return nil
}
