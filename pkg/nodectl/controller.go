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
	"os"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/nodectl/internal/lifecycle"
	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/metrics"
	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/internal/tracing"
	nodeerrors "github.com/tombee/nodectl/pkg/errors"
	"github.com/tombee/nodectl/pkg/nodeapi"
)

// Controller drives one node through its lifecycle:
//
//	fresh -> initialized -> started -> stopped -> started ... -> cleaned
//
// Cleanup may be called from any state and is idempotent.
type Controller interface {
	// Init creates the repo. An existing repo is reused as is and opts
	// are ignored.
	Init(ctx context.Context, opts *InitOptions) error

	// Start attaches to a node already serving the repo or launches one
	// and waits until it is ready. Cancelling ctx aborts the launch.
	Start(ctx context.Context, opts *StartOptions) error

	// Stop shuts the node down. Disposable nodes are cleaned up too.
	Stop(ctx context.Context) error

	// Cleanup removes the repo.
	Cleanup(ctx context.Context) error

	// PID returns the OS process id of the node.
	PID(ctx context.Context) (int, error)

	// Version returns the node implementation's version.
	Version(ctx context.Context) (string, error)

	API() (nodeapi.API, error)
	Peer() (*nodeapi.PeerInfo, error)
	State() State
	Path() string
	Type() Type
	Disposable() bool
}

// ProcessController is implemented by controllers that launch an OS
// process for their node. Process is nil unless the node was launched.
type ProcessController interface {
	Controller
	Process() *os.Process
}

// base holds what every backend tracks about its node.
type base struct {
	typ        Type
	path       string
	disposable bool
	opts       Options
	logger     *slog.Logger
	events     *lifecycle.EventLogger

	mu      sync.Mutex
	state   State
	api     nodeapi.API
	apiAddr ma.Multiaddr
	peer    *nodeapi.PeerInfo
	peerErr error
}

func newBase(opts Options) base {
	return base{
		typ:        opts.Type,
		path:       opts.Repo,
		disposable: opts.IsDisposable(),
		opts:       opts,
		logger:     log.WithNode(opts.Logger, string(opts.Type), opts.Repo),
		events:     lifecycle.NewEventLogger(opts.EventLog),
		state:      State{Clean: true},
	}
}

func (b *base) Path() string     { return b.path }
func (b *base) Type() Type       { return b.typ }
func (b *base) Disposable() bool { return b.disposable }

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) API() (nodeapi.API, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.api == nil {
		return nil, &nodeerrors.NotStartedError{What: "api"}
	}
	return b.api, nil
}

func (b *base) Peer() (*nodeapi.PeerInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peer != nil {
		return b.peer, nil
	}
	if b.peerErr != nil {
		return nil, b.peerErr
	}
	return nil, &nodeerrors.NotStartedError{What: "peer"}
}

func (b *base) started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Started
}

func (b *base) update(fn func(*State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.state)
}

// setAPIAddr records the API address and builds the handle. A handle for
// the same address is never built twice.
func (b *base) setAPIAddr(addr ma.Multiaddr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.api != nil && b.apiAddr != nil && b.apiAddr.Equal(addr) {
		return nil
	}
	api, err := b.opts.APIFactory(addr)
	if err != nil {
		return fmt.Errorf("build api for %s: %w", addr, err)
	}
	b.api = api
	b.apiAddr = addr
	b.state.APIAddr = addr.String()
	return nil
}

func (b *base) attachGateway(addr ma.Multiaddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.GatewayAddr = addr.String()
	if ga, ok := b.api.(nodeapi.GatewayAttacher); ok {
		if err := ga.AttachGateway(addr); err != nil {
			b.logger.Warn("failed to attach gateway", slog.String("addr", addr.String()), log.Error(err))
		}
	}
}

func (b *base) attachGRPC(addr ma.Multiaddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.GRPCAddr = addr.String()
	if ga, ok := b.api.(nodeapi.GatewayAttacher); ok {
		if err := ga.AttachGRPC(addr); err != nil {
			b.logger.Warn("failed to attach grpc", slog.String("addr", addr.String()), log.Error(err))
		}
	}
}

// markStarted flips the started flag and fetches the peer identity. A
// failed identity call does not fail the start; Peer reports it instead.
func (b *base) markStarted(ctx context.Context) {
	b.mu.Lock()
	b.state.Started = true
	b.state.Initialized = true
	b.state.Clean = false
	api := b.api
	b.mu.Unlock()

	peer, err := api.ID(ctx)
	if err != nil {
		b.logger.Warn("failed to fetch peer identity", log.Error(err))
		err = fmt.Errorf("fetch peer identity: %w", err)
	}

	b.mu.Lock()
	b.peer, b.peerErr = peer, err
	b.mu.Unlock()
}

func (b *base) markStopped() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Started = false
	b.state.APIAddr = ""
	b.state.GatewayAddr = ""
	b.state.GRPCAddr = ""
	b.api = nil
	b.apiAddr = nil
}

// cleanup removes the repo unless it is already clean.
func (b *base) cleanup(ctx context.Context) (err error) {
	if b.State().Clean {
		return nil
	}
	_, span := b.span(ctx, "nodectl.cleanup")
	defer func() { tracing.End(span, err) }()

	if err := repo.Remove(b.path); err != nil {
		_ = b.events.RecordFailure(lifecycle.EventCleanup, string(b.typ), b.path, err)
		return err
	}
	b.update(func(s *State) {
		s.Clean = true
		s.Initialized = false
	})
	_ = b.events.Record(lifecycle.EventCleanup, string(b.typ), b.path, 0, "repo removed")
	b.logger.Debug("repo removed")
	return nil
}

func (b *base) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, tracing.NodeTypeKey.String(string(b.typ)), tracing.RepoKey.String(b.path))
	return tracing.Start(ctx, name, attrs...)
}

func (b *base) recordStart(result string, pid int, began time.Time) {
	elapsed := time.Since(began)
	metrics.RecordStart(string(b.typ), result, elapsed.Seconds())
	event := lifecycle.EventStart
	if result == "attached" {
		event = lifecycle.EventAttach
	}
	_ = b.events.RecordDuration(event, string(b.typ), b.path, pid, elapsed)
}

func (b *base) recordStartFailure(err error) {
	metrics.RecordStart(string(b.typ), "failed", 0)
	_ = b.events.RecordFailure(lifecycle.EventStartFailure, string(b.typ), b.path, err)
}
