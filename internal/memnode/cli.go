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

package memnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/internal/repoconfig"
)

// Main runs the memnode command line and returns the process exit code.
func Main(args []string, stdout, stderr io.Writer) int {
	cmd := NewCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type rootOptions struct {
	repoDir string
}

func (o *rootOptions) node() *Node {
	path := o.repoDir
	if path == "" {
		path = repo.DefaultPath(repoconfig.TypeGo)
	}
	return New(path, log.WithComponent(log.New(log.FromEnv()), "memnode"))
}

// NewCommand returns the memnode root command.
func NewCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "memnode",
		Short:         "A small content-addressed storage node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.repoDir, "repo-dir", "", "Repo path (default $IPFS_PATH or ~/.ipfs)")

	cmd.AddCommand(
		newInitCommand(opts),
		newDaemonCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

func newInitCommand(root *rootOptions) *cobra.Command {
	var flags repoconfig.InitFlags
	var profiles string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a repo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if profiles != "" {
				flags.Profiles = strings.Split(profiles, ",")
			}
			n := root.node()
			if err := n.Init(cmd.Context(), flags); err != nil {
				return err
			}
			cmd.Printf("initialized memnode repo at %s\n", n.Path())
			return nil
		},
	}
	cmd.Flags().IntVarP(&flags.Bits, "bits", "b", 0, "Number of bits to use in the generated key")
	cmd.Flags().StringVarP(&flags.Algorithm, "algorithm", "a", "", "Key algorithm")
	cmd.Flags().BoolVarP(&flags.EmptyRepo, "empty-repo", "e", false, "Don't add the welcome block")
	cmd.Flags().StringVarP(&profiles, "profile", "p", "", "Comma separated config profiles")
	return cmd
}

type daemonOptions struct {
	flags         repoconfig.DaemonFlags
	routing       string
	ignoreSIGTERM bool
	exitAfterAPI  bool
}

func newDaemonCommand(root *rootOptions) *cobra.Command {
	opts := &daemonOptions{}
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), cmd.OutOrStdout(), root.node(), opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.flags.Offline, "offline", false, "Run without connecting to the network")
	f.BoolVar(&opts.flags.Pubsub, "enable-pubsub-experiment", false, "Enable pubsub")
	f.BoolVar(&opts.flags.IPNSPubsub, "enable-namesys-pubsub", false, "Enable IPNS over pubsub")
	f.BoolVar(&opts.flags.Migrate, "migrate", false, "Run repo migrations if needed")
	f.StringVar(&opts.routing, "routing", "", "Routing mode (accepted for compatibility)")

	// Fault injection for supervisor tests.
	f.BoolVar(&opts.ignoreSIGTERM, "ignore-sigterm", false, "Ignore SIGTERM")
	f.BoolVar(&opts.exitAfterAPI, "exit-after-api", false, "Exit with an error once the API is announced")
	_ = f.MarkHidden("ignore-sigterm")
	_ = f.MarkHidden("exit-after-api")
	return cmd
}

func runDaemon(ctx context.Context, out io.Writer, n *Node, opts *daemonOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ignoreSIGTERM {
		signal.Ignore(syscall.SIGTERM)
	}
	sigs := []os.Signal{os.Interrupt}
	if !opts.ignoreSIGTERM {
		sigs = append(sigs, syscall.SIGTERM)
	}
	ctx, stop := signal.NotifyContext(ctx, sigs...)
	defer stop()

	fmt.Fprintln(out, "Initializing daemon...")
	fmt.Fprintf(out, "memnode version: %s\n", Version)

	if !repo.Exists(n.Path()) {
		return fmt.Errorf("no memnode repo found in %s (run 'memnode init')", n.Path())
	}
	if err := n.Start(ctx, opts.flags); err != nil {
		return err
	}

	fmt.Fprintf(out, "RPC API server listening on %s\n", n.APIAddr())
	if opts.exitAfterAPI {
		_ = n.Stop(context.Background())
		return errors.New("exiting after API announcement")
	}
	if gw := n.GatewayAddr(); gw != nil {
		fmt.Fprintf(out, "Gateway server listening on %s\n", gw)
	}
	fmt.Fprintln(out, "Daemon is ready")

	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "Received interrupt signal, shutting down...")
	case <-n.Done():
	}
	return n.Stop(context.Background())
}

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or replace the repo config",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the repo config as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := root.node().Config()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "replace <file|->",
		Short: "Replace the repo config with a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			doc, err := repoconfig.Parse(data)
			if err != nil {
				return err
			}
			return root.node().ReplaceConfig(doc)
		},
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("memnode version %s\n", Version)
		},
	}
}
