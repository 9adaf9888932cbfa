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

/*
Package nodectl supervises content-addressed storage nodes for tests and
tooling.

A Factory spawns Controllers. Each controller drives one node through
Init, Start, Stop and Cleanup, whichever backend runs it:

  - go and js nodes run as child processes (the daemon backend);
  - proc nodes run inside this process through a NodeLibrary;
  - any type can be driven remotely through a control-plane server.

# Basic Usage

	f := nodectl.NewFactory(nodectl.Options{Test: nodectl.Bool(true)}, nil)
	t.Cleanup(func() { _ = f.Clean(context.Background()) })

	c, err := f.Spawn(ctx, nodectl.Options{Type: nodectl.TypeGo})
	if err != nil {
	    t.Fatal(err)
	}
	api, _ := c.API()
	peer, _ := c.Peer()

Disposable nodes (the default) get a temporary repo, are initialized and
started by Spawn, and are removed again when stopped.

# Concurrency

A Controller is not safe for concurrent lifecycle calls. State, API and
Peer may be read while another goroutine runs an operation.
*/
package nodectl
