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

// Package memnode is a small content-addressed storage node. It backs the
// in-process controller and, through its command line, serves as a daemon
// binary that prints the same readiness lines a production node does.
//
// A repo holds a JSON config file, a blocks directory and, while the node
// runs, the api sentinel file.
package memnode

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/zeebo/blake3"

	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/internal/repoconfig"
	"github.com/tombee/nodectl/pkg/nodeapi"
)

// Version is reported by the version command and the RPC API.
const Version = "0.1.0"

// readme is stored as the first block unless the repo is created empty.
const readme = "Hello and welcome to memnode.\n"

var (
	// ErrRunning is returned when starting a node twice.
	ErrRunning = errors.New("node is already running")

	// ErrNotInitialized is returned when a repo has no config.
	ErrNotInitialized = errors.New("repo is not initialized")
)

// Node is one memnode instance bound to a repo path.
type Node struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	store    *Blockstore
	peerID   string
	running  bool
	servers  []*http.Server
	apiAddr  ma.Multiaddr
	gwAddr   ma.Multiaddr
	shutdown chan struct{}
	flags    repoconfig.DaemonFlags
}

// New returns a node for the repo at path. Nothing touches the disk until
// Init or Start.
func New(path string, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{path: path, logger: logger}
}

// Path returns the repo path.
func (n *Node) Path() string { return n.path }

func (n *Node) configPath() string { return filepath.Join(n.path, repo.ConfigFile) }

// Init creates the repo. It fails if the repo already exists.
func (n *Node) Init(ctx context.Context, f repoconfig.InitFlags) error {
	if repo.Exists(n.path) {
		return fmt.Errorf("configuration file already exists in %s", n.path)
	}
	if err := os.MkdirAll(n.path, 0700); err != nil {
		return fmt.Errorf("create repo: %w", err)
	}

	peerID, err := newPeerID()
	if err != nil {
		return err
	}
	algorithm := f.Algorithm
	if algorithm == "" {
		algorithm = "ed25519"
	}
	bits := f.Bits
	if bits == 0 && algorithm == "rsa" {
		bits = 2048
	}

	doc := repoconfig.Default(repoconfig.TypeGo, slices.Contains(f.Profiles, "test"))
	doc["Identity"] = map[string]any{
		"PeerID":    peerID,
		"Algorithm": algorithm,
		"Bits":      bits,
	}
	doc["Profiles"] = f.Profiles
	if err := n.ReplaceConfig(doc); err != nil {
		return err
	}

	store, err := OpenBlockstore(filepath.Join(n.path, "blocks"))
	if err != nil {
		return err
	}
	if !f.EmptyRepo {
		if _, err := store.Put([]byte(readme)); err != nil {
			return err
		}
	}

	n.logger.Debug("repo initialized", slog.String("repo", n.path), slog.String("peer_id", peerID))
	return nil
}

func newPeerID() (string, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("generate identity: %w", err)
	}
	sum := blake3.Sum256(seed)
	return "mn" + hex.EncodeToString(sum[:20]), nil
}

// Config reads the repo config document.
func (n *Node) Config() (repoconfig.Document, error) {
	data, err := os.ReadFile(n.configPath())
	if os.IsNotExist(err) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return repoconfig.Parse(data)
}

// ReplaceConfig overwrites the repo config. The identity cannot be changed
// once set.
func (n *Node) ReplaceConfig(doc repoconfig.Document) error {
	if doc == nil {
		return errors.New("config document is empty")
	}
	if current, err := n.Config(); err == nil {
		if id, ok := current["Identity"]; ok {
			doc = repoconfig.Merge(doc, repoconfig.Document{"Identity": id})
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := n.configPath() + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, n.configPath())
}

// Start binds the API and gateway listeners from the config and records
// the API address in the repo's api file.
func (n *Node) Start(ctx context.Context, f repoconfig.DaemonFlags) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return ErrRunning
	}
	doc, err := n.Config()
	if err != nil {
		return err
	}
	store, err := OpenBlockstore(filepath.Join(n.path, "blocks"))
	if err != nil {
		return err
	}
	peerID, _ := repoconfig.Get(doc, "Identity", "PeerID")
	n.peerID, _ = peerID.(string)
	n.store = store
	n.flags = f
	n.shutdown = make(chan struct{})

	apiLn, err := listen(doc, "API")
	if err != nil {
		return err
	}
	if apiLn == nil {
		return errors.New("config has no Addresses.API")
	}
	gwLn, err := listen(doc, "Gateway")
	if err != nil {
		apiLn.Close()
		return err
	}

	n.apiAddr = apiLn.Multiaddr()
	n.servers = []*http.Server{n.serve(apiLn, n.apiHandler())}
	n.gwAddr = nil
	if gwLn != nil {
		n.gwAddr = gwLn.Multiaddr()
		n.servers = append(n.servers, n.serve(gwLn, n.gatewayHandler()))
	}

	if err := repo.WriteAPIAddr(n.path, n.apiAddr); err != nil {
		shutdownServers(ctx, n.servers)
		n.servers = nil
		return fmt.Errorf("write api file: %w", err)
	}

	n.running = true
	n.logger.Info("node started",
		slog.String("repo", n.path),
		slog.String("api", n.apiAddr.String()),
		slog.Bool("offline", f.Offline))
	return nil
}

func listen(doc repoconfig.Document, key string) (manet.Listener, error) {
	raw, ok := repoconfig.Get(doc, "Addresses", key)
	if !ok {
		return nil, nil
	}
	s, _ := raw.(string)
	if s == "" {
		return nil, nil
	}
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid Addresses.%s %q: %w", key, s, err)
	}
	ln, err := manet.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s, err)
	}
	return ln, nil
}

func (n *Node) serve(ln manet.Listener, h http.Handler) *http.Server {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func(nl net.Listener) {
		if err := srv.Serve(nl); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("server stopped", slog.Any("error", err))
		}
	}(manet.NetListener(ln))
	return srv
}

// Stop shuts the listeners down and removes the api file. Stopping a node
// that is not running is a no-op.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	servers := n.servers
	n.servers = nil
	n.running = false
	n.signalShutdownLocked()
	n.mu.Unlock()

	shutdownServers(ctx, servers)

	if err := repo.RemoveAPIFile(n.path); err != nil {
		return fmt.Errorf("remove api file: %w", err)
	}
	n.logger.Info("node stopped", slog.String("repo", n.path))
	return nil
}

func shutdownServers(ctx context.Context, servers []*http.Server) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
}

func (n *Node) signalShutdownLocked() {
	select {
	case <-n.shutdown:
	default:
		close(n.shutdown)
	}
}

// Running reports whether the node is serving.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Done is closed once the node has been asked to stop, either by Stop or
// by the RPC shutdown command.
func (n *Node) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shutdown == nil {
		n.shutdown = make(chan struct{})
	}
	return n.shutdown
}

// APIAddr returns the bound API address, or nil when stopped.
func (n *Node) APIAddr() ma.Multiaddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return nil
	}
	return n.apiAddr
}

// GatewayAddr returns the bound gateway address, or nil.
func (n *Node) GatewayAddr() ma.Multiaddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return nil
	}
	return n.gwAddr
}

// Version returns the node version.
func (n *Node) Version(context.Context) (string, error) {
	return Version, nil
}

// Peer returns the node identity and its listen addresses.
func (n *Node) Peer() *nodeapi.PeerInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	info := &nodeapi.PeerInfo{ID: n.peerID, Addresses: []string{}}
	if n.apiAddr != nil && n.running {
		info.Addresses = append(info.Addresses, n.apiAddr.String())
	}
	return info
}
