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
	"log/slog"
	"path/filepath"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/memnode"
	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/internal/repoconfig"
	nodeerrors "github.com/tombee/nodectl/pkg/errors"
	"github.com/tombee/nodectl/pkg/nodeapi"
)

func procOptions(t *testing.T) Options {
	return Options{
		Type:   TypeProc,
		Test:   Bool(true),
		Repo:   filepath.Join(t.TempDir(), "repo"),
		Logger: log.Discard(),
	}
}

func TestProc_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c, err := NewController(procOptions(t))
	require.NoError(t, err)
	require.IsType(t, &procController{}, c)
	stopOnCleanup(t, c)

	require.NoError(t, c.Init(ctx, &InitOptions{EmptyRepo: true}))
	assert.True(t, c.State().Initialized)

	require.NoError(t, c.Start(ctx, nil))
	st := c.State()
	assert.True(t, st.Started)
	assert.NotEmpty(t, st.APIAddr)
	assert.NotEmpty(t, st.GatewayAddr)

	api, err := c.API()
	require.NoError(t, err)
	peer, err := api.ID(ctx)
	require.NoError(t, err)
	cached, err := c.Peer()
	require.NoError(t, err)
	assert.Equal(t, peer.ID, cached.ID)

	_, err = c.PID(ctx)
	var nerr *nodeerrors.NotSupportedError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "proc", nerr.Backend)

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, memnode.Version, v)

	require.NoError(t, c.Stop(ctx))
	assert.False(t, c.State().Started)
	assert.True(t, c.State().Clean)
	assert.False(t, repo.Exists(c.Path()))
}

func TestProc_RestartKeepsRepo(t *testing.T) {
	ctx := context.Background()
	opts := procOptions(t)
	opts.Disposable = Bool(false)
	c, err := NewController(opts)
	require.NoError(t, err)
	stopOnCleanup(t, c)

	require.NoError(t, c.Init(ctx, nil))
	require.NoError(t, c.Start(ctx, nil))
	first, _ := c.Peer()
	require.NoError(t, c.Stop(ctx))
	assert.True(t, repo.Exists(c.Path()))

	require.NoError(t, c.Start(ctx, nil))
	second, _ := c.Peer()
	assert.Equal(t, first.ID, second.ID)
	require.NoError(t, c.Stop(ctx))

	require.NoError(t, c.Cleanup(ctx))
	assert.True(t, c.State().Clean)
	assert.False(t, repo.Exists(c.Path()))
}

type brokenNode struct {
	Node
	startErr error
}

func (b *brokenNode) Start(context.Context, repoconfig.DaemonFlags) error { return b.startErr }

func TestProc_StartFailure(t *testing.T) {
	ctx := context.Background()
	opts := procOptions(t)
	opts.NodeLibrary = func(path string, logger *slog.Logger) (Node, error) {
		return &brokenNode{Node: memnode.New(path, logger), startErr: errors.New("port in use")}, nil
	}
	c, err := NewController(opts)
	require.NoError(t, err)

	require.NoError(t, c.Init(ctx, nil))
	err = c.Start(ctx, nil)
	var serr *nodeerrors.StartError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "port in use")
	assert.False(t, c.State().Started)
}

func TestProc_CustomAPIFactory(t *testing.T) {
	ctx := context.Background()
	var built []string
	opts := procOptions(t)
	opts.APIFactory = func(addr ma.Multiaddr) (nodeapi.API, error) {
		built = append(built, addr.String())
		return nodeapi.DefaultFactory(addr)
	}
	c, err := NewController(opts)
	require.NoError(t, err)
	stopOnCleanup(t, c)

	require.NoError(t, c.Init(ctx, nil))
	require.NoError(t, c.Start(ctx, nil))
	require.NoError(t, c.Start(ctx, nil))
	assert.Equal(t, []string{c.State().APIAddr}, built, "api handle built once")
}
