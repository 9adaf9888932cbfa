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

package nodeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// Client talks to a node's RPC API over HTTP.
type Client struct {
	httpClient *http.Client
	apiAddr    ma.Multiaddr
	baseURL    string

	mu         sync.RWMutex
	gatewayURL string
	grpcAddr   ma.Multiaddr
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

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// New creates a client for the API listening on apiAddr.
func New(apiAddr ma.Multiaddr, opts ...Option) (*Client, error) {
	base, err := URL(apiAddr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		apiAddr: apiAddr,
		baseURL: base,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c, nil
}

// URL converts a TCP multiaddr into an http:// base URL.
func URL(addr ma.Multiaddr) (string, error) {
	if addr == nil {
		return "", fmt.Errorf("nil multiaddr")
	}
	network, host, err := manet.DialArgs(addr)
	if err != nil {
		return "", fmt.Errorf("unsupported address %s: %w", addr, err)
	}
	if !strings.HasPrefix(network, "tcp") {
		return "", fmt.Errorf("unsupported address %s: network %s is not tcp", addr, network)
	}
	return "http://" + host, nil
}

// APIAddr returns the address the client was built from.
func (c *Client) APIAddr() ma.Multiaddr {
	return c.apiAddr
}

// AttachGateway implements GatewayAttacher.
func (c *Client) AttachGateway(addr ma.Multiaddr) error {
	u, err := URL(addr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.gatewayURL = u
	c.mu.Unlock()
	return nil
}

// AttachGRPC implements GatewayAttacher.
func (c *Client) AttachGRPC(addr ma.Multiaddr) error {
	c.mu.Lock()
	c.grpcAddr = addr
	c.mu.Unlock()
	return nil
}

// GatewayURL returns the attached gateway base URL, or "" if none.
func (c *Client) GatewayURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gatewayURL
}

// GRPCAddr returns the attached gRPC address, or nil if none.
func (c *Client) GRPCAddr() ma.Multiaddr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.grpcAddr
}

// ID implements API.
func (c *Client) ID(ctx context.Context) (*PeerInfo, error) {
	var info PeerInfo
	if err := c.call(ctx, "id", nil, "", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Version implements API.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"Version"`
	}
	if err := c.call(ctx, "version", nil, "", &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Version), nil
}

// Shutdown implements API.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, "shutdown", nil, "", nil)
}

// BlockPut stores data and returns its key.
func (c *Client) BlockPut(ctx context.Context, data []byte) (string, error) {
	var out struct {
		Key  string `json:"Key"`
		Size int    `json:"Size"`
	}
	if err := c.call(ctx, "block/put", nil, "application/octet-stream", &out, data...); err != nil {
		return "", err
	}
	return out.Key, nil
}

// BlockGet returns the block stored under key.
func (c *Client) BlockGet(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.post(ctx, "block/get", url.Values{"arg": {key}}, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// GatewayGet fetches a block through the attached gateway.
func (c *Client) GatewayGet(ctx context.Context, key string) ([]byte, error) {
	gw := c.GatewayURL()
	if gw == "" {
		return nil, fmt.Errorf("no gateway attached")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gw+"/ipfs/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError("gateway", resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) call(ctx context.Context, cmd string, query url.Values, contentType string, out any, body ...byte) error {
	resp, err := c.post(ctx, cmd, query, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", cmd, err)
	}
	return nil
}

// post issues POST /api/v0/<cmd>. Node RPC APIs reject GET.
func (c *Client) post(ctx context.Context, cmd string, query url.Values, contentType string, body []byte) (*http.Response, error) {
	u := c.baseURL + "/api/v0/" + cmd
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, responseError(cmd, resp)
	}
	return resp, nil
}

// Error is a non-2xx answer from the node.
type Error struct {
	Command    string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("node %s returned %d: %s", e.Command, e.StatusCode, e.Message)
}

func responseError(cmd string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"Message"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	return &Error{Command: cmd, StatusCode: resp.StatusCode, Message: msg}
}
