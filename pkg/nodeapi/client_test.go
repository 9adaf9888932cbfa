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
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverAddr(t *testing.T, srv *httptest.Server) ma.Multiaddr {
	t.Helper()
	addr, err := manet.FromNetAddr(srv.Listener.Addr())
	require.NoError(t, err)
	return addr
}

func fakeNode(t *testing.T) *httptest.Server {
	t.Helper()
	blocks := map[string][]byte{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/id", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(PeerInfo{ID: "peer-1", Addresses: []string{"/ip4/127.0.0.1/tcp/4001"}})
	})
	mux.HandleFunc("POST /api/v0/version", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Version":" 0.1.0 \n"}`))
	})
	mux.HandleFunc("POST /api/v0/shutdown", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/v0/block/put", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		blocks["k1"] = data
		_, _ = w.Write([]byte(`{"Key":"k1","Size":` + itoa(len(data)) + `}`))
	})
	mux.HandleFunc("POST /api/v0/block/get", func(w http.ResponseWriter, r *http.Request) {
		data, ok := blocks[r.URL.Query().Get("arg")]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"Message":"block not found","Code":0,"Type":"error"}`))
			return
		}
		_, _ = w.Write(data)
	})
	mux.HandleFunc("GET /ipfs/{key}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(blocks[r.PathValue("key")])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestURL(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{"/ip4/127.0.0.1/tcp/5001", "http://127.0.0.1:5001", false},
		{"/ip6/::1/tcp/5001", "http://[::1]:5001", false},
		{"/dns4/localhost/tcp/5001", "http://localhost:5001", false},
		{"/ip4/127.0.0.1/udp/5001", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := URL(ma.StringCast(tt.addr))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := URL(nil)
	assert.Error(t, err)
}

func TestClient(t *testing.T) {
	srv := fakeNode(t)
	c, err := New(serverAddr(t, srv))
	require.NoError(t, err)
	ctx := context.Background()

	info, err := c.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "peer-1", info.ID)
	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/4001"}, info.Addresses)

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", v)

	key, err := c.BlockPut(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "k1", key)

	data, err := c.BlockGet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = c.BlockGet(ctx, "missing")
	var nodeErr *Error
	require.True(t, errors.As(err, &nodeErr), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, nodeErr.StatusCode)
	assert.Equal(t, "block not found", nodeErr.Message)

	require.NoError(t, c.Shutdown(ctx))
}

func TestClient_Gateway(t *testing.T) {
	srv := fakeNode(t)
	addr := serverAddr(t, srv)
	c, err := New(addr)
	require.NoError(t, err)

	var _ GatewayAttacher = c
	assert.Empty(t, c.GatewayURL())
	_, err = c.GatewayGet(context.Background(), "k1")
	assert.Error(t, err)

	_, err = c.BlockPut(context.Background(), []byte("via gateway"))
	require.NoError(t, err)

	require.NoError(t, c.AttachGateway(addr))
	assert.Equal(t, srv.URL, c.GatewayURL())

	data, err := c.GatewayGet(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "via gateway", string(data))

	grpc := ma.StringCast("/ip4/127.0.0.1/tcp/5003")
	require.NoError(t, c.AttachGRPC(grpc))
	assert.True(t, grpc.Equal(c.GRPCAddr()))
}

func TestDefaultFactory(t *testing.T) {
	api, err := DefaultFactory(ma.StringCast("/ip4/127.0.0.1/tcp/5001"))
	require.NoError(t, err)
	c, ok := api.(*Client)
	require.True(t, ok)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/5001", c.APIAddr().String())

	_, err = DefaultFactory(ma.StringCast("/ip4/127.0.0.1/udp/5001"))
	assert.Error(t, err)
}
