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

// Package nodeapi is the default client for a running node's RPC API.
//
// A node is reached through the multiaddr it advertises (for example
// "/ip4/127.0.0.1/tcp/5001"). Controllers build an API handle as soon as
// that address is known and may later attach the gateway and gRPC
// addresses if the handle implements GatewayAttacher.
package nodeapi

import (
	"context"

	ma "github.com/multiformats/go-multiaddr"
)

// API is the part of a node's RPC surface the controllers rely on.
type API interface {
	// ID returns the node's peer identity.
	ID(ctx context.Context) (*PeerInfo, error)

	// Version returns the node's version string.
	Version(ctx context.Context) (string, error)

	// Shutdown asks the node to stop.
	Shutdown(ctx context.Context) error
}

// GatewayAttacher is implemented by handles that can record the gateway
// and gRPC listeners reported after the API address.
type GatewayAttacher interface {
	AttachGateway(addr ma.Multiaddr) error
	AttachGRPC(addr ma.Multiaddr) error
}

// Factory builds an API handle from an API address.
type Factory func(apiAddr ma.Multiaddr) (API, error)

// PeerInfo identifies a node.
type PeerInfo struct {
	ID        string   `json:"ID"`
	Addresses []string `json:"Addresses"`
}

// DefaultFactory builds a *Client with default options.
func DefaultFactory(apiAddr ma.Multiaddr) (API, error) {
	return New(apiAddr)
}
