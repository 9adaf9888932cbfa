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
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/nodectl/internal/metrics"
	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/internal/tracing"
)

// Factory spawns controllers from layered options and keeps track of
// them so they can be cleaned up together.
type Factory struct {
	defaults  Options
	overrides map[Type]Options

	mu          sync.Mutex
	controllers []Controller
}

// NewFactory returns a factory. defaults are layered over DefaultOptions
// and overrides apply per node type on top of them.
func NewFactory(defaults Options, overrides map[Type]Options) *Factory {
	return &Factory{
		defaults:  Merge(DefaultOptions(), defaults),
		overrides: overrides,
	}
}

// Options returns the effective options for a spawn with opts.
func (f *Factory) Options(opts Options) (Options, error) {
	t := opts.Type
	if t == "" {
		t = f.defaults.Type
	}
	t, err := ParseType(string(t))
	if err != nil {
		return Options{}, err
	}
	merged := Merge(Merge(f.defaults, f.overrides[t]), opts)
	merged.Type = t
	return merged, nil
}

// Spawn creates a controller. Disposable nodes are initialized and
// started unless SkipInit or SkipStart say otherwise. Every controller
// Spawn returns is tracked by Clean, including one whose auto-start failed.
func (f *Factory) Spawn(ctx context.Context, opts Options) (_ Controller, err error) {
	merged, err := f.Options(opts)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, "nodectl.spawn", tracing.NodeTypeKey.String(string(merged.Type)))
	defer func() { tracing.End(span, err) }()

	c, location, err := f.build(ctx, merged)
	if err != nil {
		return nil, err
	}
	f.track(c)
	metrics.RecordSpawn(string(merged.Type), location)

	if !merged.IsDisposable() {
		return c, nil
	}
	st := c.State()
	if !boolValue(merged.SkipInit, false) && !st.Initialized {
		if err := c.Init(ctx, merged.Init); err != nil {
			return nil, err
		}
	}
	if !boolValue(merged.SkipStart, false) && !st.Started {
		if err := c.Start(ctx, merged.Start); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (f *Factory) build(ctx context.Context, opts Options) (Controller, string, error) {
	if opts.IsRemote() {
		c, err := spawnRemote(ctx, opts)
		return c, "remote", err
	}
	c, err := NewController(opts)
	return c, "local", err
}

// NewController builds an untracked local controller for opts. Unlike
// Spawn it applies no defaults beyond resolving the repo path, binary and
// handles, and never initializes or starts the node.
func NewController(opts Options) (Controller, error) {
	opts = opts.resolve()
	switch opts.Type {
	case TypeGo, TypeJS:
		return newDaemon(opts)
	case TypeProc:
		return newProc(opts)
	default:
		_, err := ParseType(string(opts.Type))
		return nil, err
	}
}

func (f *Factory) track(c Controller) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controllers = append(f.controllers, c)
}

// Controllers returns the controllers spawned so far, oldest first.
func (f *Factory) Controllers() []Controller {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.controllers)
}

// Clean stops every tracked controller concurrently and forgets them.
// Disposable controllers are cleaned up even when they never started.
func (f *Factory) Clean(ctx context.Context) error {
	f.mu.Lock()
	controllers := f.controllers
	f.controllers = nil
	f.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, c := range controllers {
		g.Go(func() error {
			err := c.Stop(ctx)
			if err == nil && c.Disposable() {
				err = c.Cleanup(ctx)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s node %s: %w", c.Type(), c.Path(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// TmpDir returns a fresh repo path for a node of type t, on the control
// plane's host when t's options are remote.
func (f *Factory) TmpDir(ctx context.Context, t Type) (string, error) {
	opts, err := f.Options(Options{Type: t})
	if err != nil {
		return "", err
	}
	if !opts.IsRemote() {
		return repo.TmpPath(string(opts.Type)), nil
	}
	c, err := newClient(opts)
	if err != nil {
		return "", err
	}
	return c.TmpDir(ctx, string(opts.Type))
}
