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
	"log/slog"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/tombee/nodectl/internal/lifecycle"
	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/memnode"
	"github.com/tombee/nodectl/internal/metrics"
	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/internal/repoconfig"
	"github.com/tombee/nodectl/internal/tracing"
	nodeerrors "github.com/tombee/nodectl/pkg/errors"
)

// Node is a node implementation embedded in this process.
type Node interface {
	Init(ctx context.Context, flags repoconfig.InitFlags) error
	Config() (repoconfig.Document, error)
	ReplaceConfig(doc repoconfig.Document) error
	Start(ctx context.Context, flags repoconfig.DaemonFlags) error
	Stop(ctx context.Context) error
	APIAddr() ma.Multiaddr
	GatewayAddr() ma.Multiaddr
	Version(ctx context.Context) (string, error)
}

// NodeLibrary builds the embedded node for a repo path.
type NodeLibrary func(path string, logger *slog.Logger) (Node, error)

// DefaultNodeLibrary builds memnode instances.
func DefaultNodeLibrary(path string, logger *slog.Logger) (Node, error) {
	return memnode.New(path, logger), nil
}

// procController runs a node inside this process.
type procController struct {
	base
	node Node
}

func newProc(opts Options) (*procController, error) {
	p := &procController{base: newBase(opts)}
	p.logger = log.WithComponent(p.logger, "proc")
	node, err := opts.NodeLibrary(p.path, p.logger)
	if err != nil {
		return nil, err
	}
	p.node = node
	return p, nil
}

func (p *procController) Init(ctx context.Context, opts *InitOptions) (err error) {
	ctx, span := p.span(ctx, "nodectl.init")
	defer func() { tracing.End(span, err) }()

	if repo.Exists(p.path) {
		p.update(func(s *State) {
			s.Initialized = true
			s.Clean = false
		})
		return nil
	}
	if opts == nil {
		opts = p.opts.Init
	}

	if err := p.node.Init(ctx, opts.flags()); err != nil {
		if repo.Exists(p.path) {
			p.update(func(s *State) { s.Clean = false })
		}
		err = &nodeerrors.InitError{Repo: p.path, Cause: err}
		_ = p.events.RecordFailure(lifecycle.EventInit, string(p.typ), p.path, err)
		return err
	}
	p.update(func(s *State) { s.Clean = false })

	if doc := p.opts.configOverrides(); doc != nil {
		current, err := p.node.Config()
		if err != nil {
			return &nodeerrors.InitError{Repo: p.path, Cause: err}
		}
		if err := p.node.ReplaceConfig(repoconfig.Merge(current, doc)); err != nil {
			return &nodeerrors.InitError{Repo: p.path, Cause: err}
		}
	}

	p.update(func(s *State) { s.Initialized = true })
	_ = p.events.Record(lifecycle.EventInit, string(p.typ), p.path, 0, "repo initialized")
	return nil
}

func (p *procController) Start(ctx context.Context, opts *StartOptions) (err error) {
	if p.started() {
		return nil
	}
	ctx, span := p.span(ctx, "nodectl.start")
	defer func() { tracing.End(span, err) }()
	began := time.Now()

	if opts == nil {
		opts = p.opts.Start
	}
	if err := p.node.Start(ctx, opts.flags()); err != nil {
		err = &nodeerrors.StartError{Repo: p.path, Cause: err}
		p.recordStartFailure(err)
		return err
	}

	addr := p.node.APIAddr()
	if addr == nil {
		_ = p.node.Stop(ctx)
		err = &nodeerrors.StartError{Repo: p.path, Cause: errNoAPIAddr}
		p.recordStartFailure(err)
		return err
	}
	if err := p.setAPIAddr(addr); err != nil {
		_ = p.node.Stop(ctx)
		err = &nodeerrors.StartError{Repo: p.path, Cause: err}
		p.recordStartFailure(err)
		return err
	}
	if gw := p.node.GatewayAddr(); gw != nil {
		p.attachGateway(gw)
	}

	p.markStarted(ctx)
	p.recordStart("started", 0, began)
	p.logger.Info("node started", slog.String("api", addr.String()))
	return nil
}

func (p *procController) Stop(ctx context.Context) (err error) {
	if !p.started() {
		return nil
	}
	ctx, span := p.span(ctx, "nodectl.stop")
	defer func() { tracing.End(span, err) }()

	if err := p.node.Stop(ctx); err != nil {
		return err
	}
	p.markStopped()
	metrics.RecordStop(string(p.typ), "graceful")
	_ = p.events.Record(lifecycle.EventStop, string(p.typ), p.path, 0, "graceful")

	if p.disposable {
		if err := p.cleanup(ctx); err != nil {
			p.logger.Debug("cleanup after stop failed", log.Error(err))
		}
	}
	return nil
}

func (p *procController) Cleanup(ctx context.Context) error {
	return p.cleanup(ctx)
}

func (p *procController) PID(context.Context) (int, error) {
	return 0, &nodeerrors.NotSupportedError{Operation: "pid", Backend: string(TypeProc)}
}

func (p *procController) Version(ctx context.Context) (string, error) {
	return p.node.Version(ctx)
}
