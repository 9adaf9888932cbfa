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

// Package repoconfig turns node options into repo configuration documents
// and command lines for the init and daemon subcommands.
//
// Everything here is a pure function of its inputs.
package repoconfig

// Node types understood by the builder.
const (
	TypeGo   = "go"
	TypeJS   = "js"
	TypeProc = "proc"
)

// Document is a decoded repo configuration file.
type Document = map[string]any

// Default returns the base configuration a node of the given type gets when
// no overrides are applied. Test mode binds every listener to an ephemeral
// loopback port and disables peer discovery.
func Default(nodeType string, test bool) Document {
	if test {
		return testConfig(nodeType)
	}

	swarm := []any{"/ip4/0.0.0.0/tcp/4001", "/ip6/::/tcp/4001"}
	if nodeType == TypeJS {
		swarm = append(swarm, "/ip4/127.0.0.1/tcp/4003/ws")
	}

	return Document{
		"Addresses": map[string]any{
			"API":     "/ip4/127.0.0.1/tcp/5001",
			"Gateway": "/ip4/127.0.0.1/tcp/8080",
			"Swarm":   swarm,
		},
		"Discovery": map[string]any{
			"MDNS": map[string]any{"Enabled": true},
		},
	}
}

func testConfig(nodeType string) Document {
	swarm := []any{"/ip4/127.0.0.1/tcp/0"}
	if nodeType == TypeJS || nodeType == TypeProc {
		swarm = append(swarm, "/ip4/127.0.0.1/tcp/0/ws")
	}

	return Document{
		"Addresses": map[string]any{
			"API":     "/ip4/127.0.0.1/tcp/0",
			"Gateway": "/ip4/127.0.0.1/tcp/0",
			"Swarm":   swarm,
		},
		"Bootstrap": []any{},
		"Discovery": map[string]any{
			"MDNS":       map[string]any{"Enabled": false},
			"webRTCStar": map[string]any{"Enabled": false},
		},
	}
}

// Overrides returns the document that must be merged into a freshly
// initialized repo: the test-mode defaults when test is set, then user
// on top. It returns nil when there is nothing to apply.
func Overrides(nodeType string, test bool, user Document) Document {
	var out Document
	if test {
		out = testConfig(nodeType)
	}
	if len(user) > 0 {
		out = Merge(out, user)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
