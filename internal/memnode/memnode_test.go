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
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/internal/repoconfig"
	"github.com/tombee/nodectl/pkg/nodeapi"
)

func TestBlockstore(t *testing.T) {
	bs, err := OpenBlockstore(filepath.Join(t.TempDir(), "blocks"))
	require.NoError(t, err)

	key, err := bs.Put([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, Key([]byte("hello")), key)
	assert.Len(t, key, 64)
	assert.True(t, bs.Has(key))

	again, err := bs.Put([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, key, again)

	data, err := bs.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = bs.Get(Key([]byte("other")))
	assert.True(t, errors.Is(err, ErrBlockNotFound))
	_, err = bs.Get("../config")
	assert.True(t, errors.Is(err, ErrBlockNotFound))
	assert.False(t, bs.Has("zz"))
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n := New(filepath.Join(t.TempDir(), "repo"), log.Discard())
	require.NoError(t, n.Init(context.Background(), repoconfig.InitFlags{Profiles: []string{"test"}}))
	t.Cleanup(func() { _ = n.Stop(context.Background()) })
	return n
}

func TestNode_Init(t *testing.T) {
	n := newTestNode(t)
	assert.True(t, repo.Exists(n.Path()))

	doc, err := n.Config()
	require.NoError(t, err)
	peerID, _ := repoconfig.Get(doc, "Identity", "PeerID")
	assert.True(t, strings.HasPrefix(peerID.(string), "mn"))
	api, _ := repoconfig.Get(doc, "Addresses", "API")
	assert.Equal(t, "/ip4/127.0.0.1/tcp/0", api, "test profile applied")

	err = n.Init(context.Background(), repoconfig.InitFlags{})
	assert.Error(t, err, "second init must fail")

	bs, err := OpenBlockstore(filepath.Join(n.Path(), "blocks"))
	require.NoError(t, err)
	assert.True(t, bs.Has(Key([]byte(readme))))
}

func TestNode_InitEmptyRepo(t *testing.T) {
	n := New(filepath.Join(t.TempDir(), "repo"), log.Discard())
	require.NoError(t, n.Init(context.Background(), repoconfig.InitFlags{EmptyRepo: true, Algorithm: "rsa"}))

	bs, err := OpenBlockstore(filepath.Join(n.Path(), "blocks"))
	require.NoError(t, err)
	assert.False(t, bs.Has(Key([]byte(readme))))

	doc, err := n.Config()
	require.NoError(t, err)
	bits, _ := repoconfig.Get(doc, "Identity", "Bits")
	assert.EqualValues(t, 2048, bits)
}

func TestNode_ReplaceConfigKeepsIdentity(t *testing.T) {
	n := newTestNode(t)
	before, err := n.Config()
	require.NoError(t, err)

	require.NoError(t, n.ReplaceConfig(repoconfig.Document{
		"Identity":  map[string]any{"PeerID": "forged"},
		"Addresses": map[string]any{"API": "/ip4/127.0.0.1/tcp/0"},
	}))

	after, err := n.Config()
	require.NoError(t, err)
	assert.Equal(t, before["Identity"], after["Identity"])
	_, hasGateway := repoconfig.Get(after, "Addresses", "Gateway")
	assert.False(t, hasGateway)

	assert.Error(t, n.ReplaceConfig(nil))
}

func TestNode_StartStop(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	_, err := New(filepath.Join(t.TempDir(), "none"), log.Discard()).Config()
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, n.Start(ctx, repoconfig.DaemonFlags{Offline: true}))
	assert.ErrorIs(t, n.Start(ctx, repoconfig.DaemonFlags{}), ErrRunning)
	require.NotNil(t, n.APIAddr())
	require.NotNil(t, n.GatewayAddr())

	recorded, err := repo.ReadAPIAddr(n.Path())
	require.NoError(t, err)
	assert.True(t, n.APIAddr().Equal(recorded))

	c, err := nodeapi.New(n.APIAddr())
	require.NoError(t, err)
	require.NoError(t, c.AttachGateway(n.GatewayAddr()))

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, Version, v)

	info, err := c.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, n.Peer().ID, info.ID)

	key, err := c.BlockPut(ctx, []byte("block data"))
	require.NoError(t, err)
	got, err := c.BlockGet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "block data", string(got))
	viaGateway, err := c.GatewayGet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "block data", string(viaGateway))

	_, err = c.BlockGet(ctx, Key([]byte("missing")))
	var nodeErr *nodeapi.Error
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, http.StatusInternalServerError, nodeErr.StatusCode)

	require.NoError(t, n.Stop(ctx))
	require.NoError(t, n.Stop(ctx), "stop is idempotent")
	assert.Nil(t, n.APIAddr())
	_, err = repo.ReadAPIAddr(n.Path())
	assert.True(t, os.IsNotExist(err))

	// restart binds fresh listeners
	require.NoError(t, n.Start(ctx, repoconfig.DaemonFlags{}))
	c2, err := nodeapi.New(n.APIAddr())
	require.NoError(t, err)
	_, err = c2.Version(ctx)
	require.NoError(t, err)
}

func TestNode_ShutdownCommand(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx, repoconfig.DaemonFlags{}))

	done := n.Done()
	c, err := nodeapi.New(n.APIAddr())
	require.NoError(t, err)
	require.NoError(t, c.Shutdown(ctx))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop after shutdown command")
	}
	require.Eventually(t, func() bool { return !n.Running() }, 5*time.Second, 10*time.Millisecond)
}

func TestNode_StartWithoutAPIAddress(t *testing.T) {
	n := newTestNode(t)
	require.NoError(t, n.ReplaceConfig(repoconfig.Document{"Addresses": map[string]any{}}))
	assert.Error(t, n.Start(context.Background(), repoconfig.DaemonFlags{}))

	require.NoError(t, n.ReplaceConfig(repoconfig.Document{"Addresses": map[string]any{"API": "garbage"}}))
	assert.Error(t, n.Start(context.Background(), repoconfig.DaemonFlags{}))
}

func TestMain_Commands(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	run := func(stdin string, args ...string) (string, string, int) {
		var stdout, stderr bytes.Buffer
		cmd := NewCommand()
		cmd.SetArgs(append([]string{"--repo-dir", dir}, args...))
		cmd.SetOut(&stdout)
		cmd.SetErr(&stderr)
		cmd.SetIn(strings.NewReader(stdin))
		code := 0
		if err := cmd.Execute(); err != nil {
			stderr.WriteString(err.Error())
			code = 1
		}
		return stdout.String(), stderr.String(), code
	}

	out, _, code := run("", "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "memnode version "+Version+"\n", out)

	_, _, code = run("", "config", "show")
	assert.Equal(t, 1, code, "config show before init")

	out, _, code = run("", "init", "--profile", "test", "--empty-repo")
	require.Equal(t, 0, code)
	assert.Contains(t, out, dir)

	_, stderr, code := run("", "init")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already exists")

	out, _, code = run("", "config", "show")
	require.Equal(t, 0, code)
	doc, err := repoconfig.Parse([]byte(out))
	require.NoError(t, err)

	doc = repoconfig.Merge(doc, repoconfig.Document{"Pubsub": map[string]any{"Enabled": true}})
	_, _, code = run(`{"Addresses":{"API":"/ip4/127.0.0.1/tcp/0"},"Pubsub":{"Enabled":true}}`, "config", "replace", "-")
	require.Equal(t, 0, code)

	out, _, _ = run("", "config", "show")
	after, err := repoconfig.Parse([]byte(out))
	require.NoError(t, err)
	enabled, _ := repoconfig.Get(after, "Pubsub", "Enabled")
	assert.Equal(t, true, enabled)
	assert.Equal(t, doc["Identity"], after["Identity"])
}

func TestMain_Daemon(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	require.Equal(t, 0, Main([]string{"--repo-dir", dir, "init", "--profile", "test"}, io.Discard, io.Discard))

	pr, pw := io.Pipe()
	exit := make(chan int, 1)
	go func() {
		code := Main([]string{"--repo-dir", dir, "daemon", "--offline"}, pw, io.Discard)
		pw.Close()
		exit <- code
	}()

	var apiAddr string
	var lines []string
	sc := bufio.NewScanner(pr)
	for sc.Scan() {
		line := sc.Text()
		lines = append(lines, line)
		if rest, ok := strings.CutPrefix(line, "RPC API server listening on "); ok {
			apiAddr = rest
		}
		if line == "Daemon is ready" {
			break
		}
	}
	require.NotEmpty(t, apiAddr, "output: %v", lines)
	assert.Contains(t, strings.Join(lines, "\n"), "Gateway server listening on /ip4/127.0.0.1/tcp/")
	go func() { _, _ = io.Copy(io.Discard, pr) }()

	c, err := nodeapi.New(ma.StringCast(apiAddr))
	require.NoError(t, err)
	require.NoError(t, c.Shutdown(context.Background()))

	select {
	case code := <-exit:
		assert.Equal(t, 0, code)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit after shutdown")
	}
	assert.False(t, fileExists(filepath.Join(dir, repo.APIFile)))
}

func TestMain_DaemonWithoutRepo(t *testing.T) {
	var stderr bytes.Buffer
	code := Main([]string{"--repo-dir", filepath.Join(t.TempDir(), "missing"), "daemon"}, io.Discard, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "no memnode repo")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
