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

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	nodeerrors "github.com/tombee/nodectl/pkg/errors"
	"github.com/tombee/nodectl/pkg/httpclient"
)

// Control-plane routes.
const (
	RouteSpawn   = "/spawn"
	RouteInit    = "/init"
	RouteStart   = "/start"
	RouteStop    = "/stop"
	RouteCleanup = "/cleanup"
	RoutePID     = "/pid"
	RouteVersion = "/version"
	RouteTmpDir  = "/util/tmp-dir"
	RouteHealth  = "/health"
)

// RequestIDHeader carries a per-request id the server logs.
const RequestIDHeader = "X-Request-Id"

// Client is a client for the control-plane API.
type Client struct {
	httpClient *http.Client
	httpConfig httpclient.Config
	baseURL    string
	apiKey     string
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithTimeout sets the timeout of the default HTTP client. Start requests
// block until the remote node is ready, so keep it generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpConfig.Timeout = d
		return nil
	}
}

// WithRetries sets how often idempotent requests are retried.
func WithRetries(n int) Option {
	return func(c *Client) error {
		c.httpConfig.RetryAttempts = n
		return nil
	}
}

// WithLogger sets the logger for request logs.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.httpConfig.Logger = logger
		return nil
	}
}

// WithAPIKey sets the API key for authentication.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) error {
		c.apiKey = apiKey
		return nil
	}
}

// New creates a client for the server at endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}

	c := &Client{
		baseURL:    strings.TrimRight(endpoint, "/"),
		httpConfig: httpclient.DefaultConfig(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.httpClient == nil {
		c.httpClient, err = httpclient.New(c.httpConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid client options: %w", err)
		}
	}
	return c, nil
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string {
	return c.baseURL
}

// HealthResponse is the response from /health.
type HealthResponse struct {
	Status string `json:"status"`
	Nodes  int    `json:"nodes"`
}

// Health returns the server health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.Do(ctx, http.MethodGet, RouteHealth, nil, nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// Spawn creates a node on the server. opts is sent as the JSON body and
// the node state is decoded into out.
func (c *Client) Spawn(ctx context.Context, opts, out any) error {
	return c.Do(ctx, http.MethodPost, RouteSpawn, nil, opts, out)
}

// Init initializes node id's repo. in may be nil.
func (c *Client) Init(ctx context.Context, id string, in, out any) error {
	return c.Do(ctx, http.MethodPost, RouteInit, idQuery(id), in, out)
}

// Start starts node id. in may be nil.
func (c *Client) Start(ctx context.Context, id string, in, out any) error {
	return c.Do(ctx, http.MethodPost, RouteStart, idQuery(id), in, out)
}

// Stop stops node id.
func (c *Client) Stop(ctx context.Context, id string, out any) error {
	return c.Do(ctx, http.MethodPost, RouteStop, idQuery(id), nil, out)
}

// Cleanup removes node id's repo.
func (c *Client) Cleanup(ctx context.Context, id string, out any) error {
	return c.Do(ctx, http.MethodPost, RouteCleanup, idQuery(id), nil, out)
}

// PID returns the OS pid of node id on the server host.
func (c *Client) PID(ctx context.Context, id string) (int, error) {
	var out struct {
		PID int `json:"pid"`
	}
	if err := c.Do(ctx, http.MethodGet, RoutePID, idQuery(id), nil, &out); err != nil {
		return 0, err
	}
	return out.PID, nil
}

// Version returns the version reported by node id.
func (c *Client) Version(ctx context.Context, id string) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.Do(ctx, http.MethodGet, RouteVersion, idQuery(id), nil, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Version), nil
}

// TmpDir returns a fresh temporary repo path on the server host.
func (c *Client) TmpDir(ctx context.Context, nodeType string) (string, error) {
	var out struct {
		TmpDir string `json:"tmpDir"`
	}
	if err := c.Do(ctx, http.MethodGet, RouteTmpDir, url.Values{"type": {nodeType}}, nil, &out); err != nil {
		return "", err
	}
	return out.TmpDir, nil
}

func idQuery(id string) url.Values {
	return url.Values{"id": {id}}
}

// Do performs a request against route. in, when non-nil, is sent as JSON;
// out, when non-nil, receives the decoded response.
func (c *Client) Do(ctx context.Context, method, route string, query url.Values, in, out any) error {
	u := c.baseURL + route
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	c.addAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return protocolError(route, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", route, err)
	}
	return nil
}

func protocolError(route string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Message != "":
			msg = body.Message
		case body.Error != "":
			msg = body.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &nodeerrors.RemoteProtocolError{
		Route:      route,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}

// addAuth adds authentication headers to the request if configured.
func (c *Client) addAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
