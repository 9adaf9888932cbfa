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
Package client provides an HTTP client for the nodectl control-plane API.

A remote controller uses it to drive nodes that live in another process.
Every node route carries the opaque node id in the "id" query parameter;
non-2xx answers are returned as *errors.RemoteProtocolError.

# Basic Usage

	c, err := client.New("http://127.0.0.1:43134")
	if err != nil {
	    log.Fatal(err)
	}

	var state nodectl.NodeState
	if err := c.Spawn(ctx, opts, &state); err != nil {
	    log.Fatal(err)
	}
	if err := c.Start(ctx, state.ID, nil, &state); err != nil {
	    log.Fatal(err)
	}

# Connection Options

	// Bearer token expected by the server
	c, _ := client.New(endpoint, client.WithAPIKey("secret"))

	// Custom HTTP client (e.g. httptest)
	c, _ := client.New(endpoint, client.WithHTTPClient(srv.Client()))
*/
package client
