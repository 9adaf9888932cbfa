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

package nodectl

import (
	"context"
	"fmt"
	"log/slog"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/tombee/nodectl/internal/client"
	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/tracing"
	"github.com/tombee/nodectl/pkg/nodeapi"
)

// remoteController drives a node held by a control-plane server. Its state
// is whatever the server last reported.
type remoteController struct {
	base
	client *client.Client
	id     string
}

func newClient(opts Options) (*client.Client, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	var copts []client.Option
	if opts.Logger != nil {
		copts = append(copts, client.WithLogger(opts.Logger))
	}
	if opts.APIKey != "" {
		copts = append(copts, client.WithAPIKey(opts.APIKey))
	}
	return client.New(endpoint, copts...)
}

// spawnRemote asks the server to create the node and wraps the result.
func spawnRemote(ctx context.Context, opts Options) (*remoteController, error) {
	c, err := newClient(opts)
	if err != nil {
		return nil, err
	}

	body := opts
	body.Remote = Bool(false)
	body.Endpoint = ""

	var st NodeState
	if err := c.Spawn(ctx, body, &st); err != nil {
		return nil, err
	}

	if opts.APIFactory == nil {
		opts.APIFactory = nodeapi.DefaultFactory
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Type = st.Type
	opts.Repo = st.Path
	opts.Disposable = Bool(st.Disposable)

	r := &remoteController{base: newBase(opts), client: c, id: st.ID}
	r.logger = log.WithComponent(r.logger, "remote").With(slog.String("node_id", st.ID))
	if err := r.refresh(ctx, st); err != nil {
		return nil, err
	}
	return r, nil
}

// ID returns the server-side id of the node.
func (r *remoteController) ID() string { return r.id }

// refresh adopts the server's view of the node.
func (r *remoteController) refresh(ctx context.Context, st NodeState) error {
	wasStarted := r.started()

	if !st.Started {
		r.markStopped()
		r.update(func(s *State) { *s = st.State })
		return nil
	}

	addr, err := ma.NewMultiaddr(st.APIAddr)
	if err != nil {
		return fmt.Errorf("server reported invalid API address %q: %w", st.APIAddr, err)
	}
	if err := r.setAPIAddr(addr); err != nil {
		return err
	}
	if gw, err := ma.NewMultiaddr(st.GatewayAddr); err == nil && st.GatewayAddr != "" {
		r.attachGateway(gw)
	}
	if grpc, err := ma.NewMultiaddr(st.GRPCAddr); err == nil && st.GRPCAddr != "" {
		r.attachGRPC(grpc)
	}
	r.update(func(s *State) { *s = st.State })
	if !wasStarted {
		r.markStarted(ctx)
	}
	return nil
}

func (r *remoteController) Init(ctx context.Context, opts *InitOptions) (err error) {
	ctx, span := r.span(ctx, "nodectl.init", tracing.NodeIDKey.String(r.id))
	defer func() { tracing.End(span, err) }()

	var st NodeState
	if err := r.client.Init(ctx, r.id, opts, &st); err != nil {
		return err
	}
	return r.refresh(ctx, st)
}

func (r *remoteController) Start(ctx context.Context, opts *StartOptions) (err error) {
	ctx, span := r.span(ctx, "nodectl.start", tracing.NodeIDKey.String(r.id))
	defer func() { tracing.End(span, err) }()

	var st NodeState
	if err := r.client.Start(ctx, r.id, opts, &st); err != nil {
		return err
	}
	return r.refresh(ctx, st)
}

func (r *remoteController) Stop(ctx context.Context) (err error) {
	ctx, span := r.span(ctx, "nodectl.stop", tracing.NodeIDKey.String(r.id))
	defer func() { tracing.End(span, err) }()

	var st NodeState
	if err := r.client.Stop(ctx, r.id, &st); err != nil {
		return err
	}
	return r.refresh(ctx, st)
}

func (r *remoteController) Cleanup(ctx context.Context) (err error) {
	ctx, span := r.span(ctx, "nodectl.cleanup", tracing.NodeIDKey.String(r.id))
	defer func() { tracing.End(span, err) }()

	var st NodeState
	if err := r.client.Cleanup(ctx, r.id, &st); err != nil {
		return err
	}
	return r.refresh(ctx, st)
}

func (r *remoteController) PID(ctx context.Context) (int, error) {
	return r.client.PID(ctx, r.id)
}

func (r *remoteController) Version(ctx context.Context) (string, error) {
	return r.client.Version(ctx, r.id)
}
