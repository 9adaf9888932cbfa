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
	"log/slog"
	"maps"
	"os"
	"time"

	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/internal/repoconfig"
	"github.com/tombee/nodectl/pkg/nodeapi"
)

const (
	// DefaultEndpoint is where remote controllers look for a control-plane
	// server when no endpoint is given.
	DefaultEndpoint = "http://127.0.0.1:43134"

	// DefaultForceKillTimeout is the grace period between SIGTERM and
	// SIGKILL.
	DefaultForceKillTimeout = 5 * time.Second

	// ExecGoEnv and ExecJSEnv name the daemon binary when Options.Exec is
	// empty.
	ExecGoEnv = "NODECTL_EXEC_GO"
	ExecJSEnv = "NODECTL_EXEC_JS"
)

// Options configure a spawned node. Pointer booleans distinguish "unset"
// from an explicit false so that call-site options can override factory
// defaults either way.
type Options struct {
	// Type selects the node implementation (default go)
	Type Type `json:"type,omitempty"`

	// Remote drives the node through a control-plane server at Endpoint
	Remote   *bool  `json:"remote,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	// APIKey is sent as a bearer token to the control-plane server
	APIKey string `json:"-"`

	// Disposable nodes get a temporary repo, are initialized and started
	// by Spawn, skip the graceful stop and are removed once stopped
	Disposable *bool `json:"disposable,omitempty"`

	// Test applies the test-mode repo config (ephemeral ports, no discovery)
	Test *bool `json:"test,omitempty"`

	// Exec is the daemon binary for go and js nodes
	Exec string `json:"exec,omitempty"`

	// Env is added to the daemon's environment
	Env map[string]string `json:"env,omitempty"`

	// ForceKill enables SIGKILL after ForceKillTimeout (default true)
	ForceKill        *bool         `json:"forceKill,omitempty"`
	ForceKillTimeout time.Duration `json:"forceKillTimeout,omitempty"`

	// Repo is the repo path; temporary for disposable nodes, otherwise
	// $IPFS_PATH or the per-type default
	Repo string `json:"repo,omitempty"`

	// Init and Start are used when Spawn initializes and starts the node
	Init  *InitOptions  `json:"init,omitempty"`
	Start *StartOptions `json:"start,omitempty"`

	// Config is deep-merged into the repo config after init
	Config repoconfig.Document `json:"config,omitempty"`

	SkipInit  *bool `json:"skipInit,omitempty"`
	SkipStart *bool `json:"skipStart,omitempty"`

	// EventLog is a JSON-lines file receiving lifecycle events
	EventLog string `json:"eventLog,omitempty"`

	// APIFactory builds the node's API handle (default nodeapi.DefaultFactory)
	APIFactory nodeapi.Factory `json:"-"`

	// NodeLibrary builds proc nodes (default memnode)
	NodeLibrary NodeLibrary `json:"-"`

	Logger *slog.Logger `json:"-"`
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

func boolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// DefaultOptions returns the options every factory starts from.
func DefaultOptions() Options {
	return Options{
		Type:             TypeGo,
		Remote:           Bool(false),
		Endpoint:         DefaultEndpoint,
		Disposable:       Bool(true),
		Test:             Bool(false),
		ForceKill:        Bool(true),
		ForceKillTimeout: DefaultForceKillTimeout,
	}
}

// Merge returns base with every field set in over applied on top. Config
// documents are deep-merged and Env maps are combined; everything else in
// over replaces base wholesale.
func Merge(base, over Options) Options {
	out := base
	if over.Type != "" {
		out.Type = over.Type
	}
	if over.Remote != nil {
		out.Remote = over.Remote
	}
	if over.Endpoint != "" {
		out.Endpoint = over.Endpoint
	}
	if over.APIKey != "" {
		out.APIKey = over.APIKey
	}
	if over.Disposable != nil {
		out.Disposable = over.Disposable
	}
	if over.Test != nil {
		out.Test = over.Test
	}
	if over.Exec != "" {
		out.Exec = over.Exec
	}
	if len(over.Env) > 0 {
		env := make(map[string]string, len(base.Env)+len(over.Env))
		maps.Copy(env, base.Env)
		maps.Copy(env, over.Env)
		out.Env = env
	}
	if over.ForceKill != nil {
		out.ForceKill = over.ForceKill
	}
	if over.ForceKillTimeout > 0 {
		out.ForceKillTimeout = over.ForceKillTimeout
	}
	if over.Repo != "" {
		out.Repo = over.Repo
	}
	if over.Init != nil {
		out.Init = over.Init
	}
	if over.Start != nil {
		out.Start = over.Start
	}
	if len(over.Config) > 0 {
		out.Config = repoconfig.Merge(base.Config, over.Config)
	}
	if over.SkipInit != nil {
		out.SkipInit = over.SkipInit
	}
	if over.SkipStart != nil {
		out.SkipStart = over.SkipStart
	}
	if over.EventLog != "" {
		out.EventLog = over.EventLog
	}
	if over.APIFactory != nil {
		out.APIFactory = over.APIFactory
	}
	if over.NodeLibrary != nil {
		out.NodeLibrary = over.NodeLibrary
	}
	if over.Logger != nil {
		out.Logger = over.Logger
	}
	return out
}

// resolve fills in everything a local controller needs that the caller
// left unset.
func (o Options) resolve() Options {
	if o.Type == "" {
		o.Type = TypeGo
	}
	if o.Repo == "" {
		if o.IsDisposable() {
			o.Repo = repo.TmpPath(string(o.Type))
		} else {
			o.Repo = repo.DefaultPath(string(o.Type))
		}
	}
	if o.Exec == "" {
		o.Exec = defaultExec(o.Type)
	}
	if o.ForceKillTimeout <= 0 {
		o.ForceKillTimeout = DefaultForceKillTimeout
	}
	if o.APIFactory == nil {
		o.APIFactory = nodeapi.DefaultFactory
	}
	if o.NodeLibrary == nil {
		o.NodeLibrary = DefaultNodeLibrary
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func defaultExec(t Type) string {
	switch t {
	case TypeJS:
		if p := os.Getenv(ExecJSEnv); p != "" {
			return p
		}
		return "jsipfs"
	case TypeGo:
		if p := os.Getenv(ExecGoEnv); p != "" {
			return p
		}
		return "ipfs"
	}
	return ""
}

// IsRemote reports whether the node is driven through a control plane.
func (o Options) IsRemote() bool { return boolValue(o.Remote, false) }

// IsDisposable reports whether the node is disposable (default true).
func (o Options) IsDisposable() bool { return boolValue(o.Disposable, true) }

// IsTest reports whether the test-mode repo config applies.
func (o Options) IsTest() bool { return boolValue(o.Test, false) }

func (o Options) forceKill() bool { return boolValue(o.ForceKill, true) }

// configOverrides is the document merged into a fresh repo, or nil.
func (o Options) configOverrides() repoconfig.Document {
	return repoconfig.Overrides(string(o.Type), o.IsTest(), o.Config)
}
