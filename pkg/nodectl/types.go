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
	"fmt"
	"strings"

	"github.com/tombee/nodectl/internal/repoconfig"
	nodeerrors "github.com/tombee/nodectl/pkg/errors"
)

// Type selects the node implementation.
type Type string

const (
	// TypeGo runs the go daemon binary (ipfs).
	TypeGo Type = repoconfig.TypeGo

	// TypeJS runs the js daemon binary (jsipfs).
	TypeJS Type = repoconfig.TypeJS

	// TypeProc runs a node library inside this process.
	TypeProc Type = repoconfig.TypeProc
)

// Types lists every supported node type.
var Types = []Type{TypeGo, TypeJS, TypeProc}

// ParseType parses a node type name. The empty string means TypeGo.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeGo, nil
	case TypeGo, TypeJS, TypeProc:
		return t, nil
	default:
		return "", &nodeerrors.ValidationError{
			Field:      "type",
			Message:    fmt.Sprintf("unknown node type %q", s),
			Suggestion: "use go, js or proc",
		}
	}
}

func (t Type) String() string { return string(t) }

// InitOptions are passed to the node's init step.
type InitOptions struct {
	Bits      int      `json:"bits,omitempty"`
	Algorithm string   `json:"algorithm,omitempty"`
	EmptyRepo bool     `json:"emptyRepo,omitempty"`
	Profiles  []string `json:"profiles,omitempty"`
}

func (o *InitOptions) flags() repoconfig.InitFlags {
	if o == nil {
		return repoconfig.InitFlags{}
	}
	return repoconfig.InitFlags{
		Bits:      o.Bits,
		Algorithm: o.Algorithm,
		EmptyRepo: o.EmptyRepo,
		Profiles:  o.Profiles,
	}
}

// StartOptions are passed to the node's daemon step. Args are handed to
// the daemon command verbatim.
type StartOptions struct {
	Offline    bool     `json:"offline,omitempty"`
	Pubsub     bool     `json:"pubsub,omitempty"`
	IPNSPubsub bool     `json:"ipnsPubsub,omitempty"`
	Migrate    bool     `json:"migrate,omitempty"`
	Args       []string `json:"args,omitempty"`
}

func (o *StartOptions) flags() repoconfig.DaemonFlags {
	if o == nil {
		return repoconfig.DaemonFlags{}
	}
	return repoconfig.DaemonFlags{
		Args:       o.Args,
		Offline:    o.Offline,
		Pubsub:     o.Pubsub,
		IPNSPubsub: o.IPNSPubsub,
		Migrate:    o.Migrate,
	}
}

// State is a snapshot of a controller's lifecycle flags and the addresses
// its node reported. Addresses are multiaddr strings.
type State struct {
	Initialized bool   `json:"initialized"`
	Started     bool   `json:"started"`
	Clean       bool   `json:"clean"`
	APIAddr     string `json:"apiAddr,omitempty"`
	GatewayAddr string `json:"gatewayAddr,omitempty"`
	GRPCAddr    string `json:"grpcAddr,omitempty"`
}

// NodeState is the wire form of a controller held by a control-plane
// server.
type NodeState struct {
	ID         string `json:"id"`
	Type       Type   `json:"type"`
	Path       string `json:"path"`
	Disposable bool   `json:"disposable"`
	State
}

// Snapshot returns the wire form of c under id.
func Snapshot(id string, c Controller) NodeState {
	return NodeState{
		ID:         id,
		Type:       c.Type(),
		Path:       c.Path(),
		Disposable: c.Disposable(),
		State:      c.State(),
	}
}
