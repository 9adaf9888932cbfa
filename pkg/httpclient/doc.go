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

// Package httpclient builds the HTTP clients nodectl uses to talk to
// control-plane servers.
//
// Create a client with default settings:
//
//	client, err := httpclient.New(httpclient.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
// # Retry Behavior
//
// Transient failures are retried with exponential backoff and jitter:
//   - HTTP 5xx, 408 and 429 (honouring Retry-After)
//   - connection refused or reset, and other network timeouts
//   - only GET, HEAD and OPTIONS unless AllowNonIdempotentRetry is set
//
// Spawning or starting a node is not idempotent, so POST routes are sent
// exactly once by default.
//
// # Observability
//
// Requests are logged through the configured slog.Logger: debug for 2xx
// and 3xx, warn for everything else. Query parameters that look like
// credentials are redacted and headers are never logged. The W3C trace
// context of the request's span is injected so server spans join the
// caller's trace.
package httpclient
