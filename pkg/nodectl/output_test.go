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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/nodectl/internal/log"
)

func TestReadinessScanner(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		ready  bool
		want   announced
	}{
		{
			name: "go daemon",
			chunks: []string{
				"Initializing daemon...\n",
				"RPC API server listening on /ip4/127.0.0.1/tcp/5001\n",
				"WebUI: http://127.0.0.1:5001/webui\n",
				"Gateway server listening on /ip4/127.0.0.1/tcp/8080\n",
				"Daemon is ready\n",
			},
			ready: true,
			want:  announced{API: "/ip4/127.0.0.1/tcp/5001", Gateway: "/ip4/127.0.0.1/tcp/8080"},
		},
		{
			name: "js daemon with colon and grpc",
			chunks: []string{
				"js-ipfs version: 0.50.0\n",
				"HTTP API listening on: /ip4/127.0.0.1/tcp/5002/http\n",
				"gRPC listening on: /ip4/127.0.0.1/tcp/5003/ws\n",
				"HTTP Gateway listening on: /ip4/127.0.0.1/tcp/9090/http\n",
				"Daemon is ready\n",
			},
			ready: true,
			want: announced{
				API:     "/ip4/127.0.0.1/tcp/5002/http",
				Gateway: "/ip4/127.0.0.1/tcp/9090/http",
				GRPC:    "/ip4/127.0.0.1/tcp/5003/ws",
			},
		},
		{
			name: "lines split across chunks",
			chunks: []string{
				"RPC API serv", "er listening on /ip4/127.0.0.1/tc", "p/5001\nDaemon is re", "ady\n",
			},
			ready: true,
			want:  announced{API: "/ip4/127.0.0.1/tcp/5001"},
		},
		{
			name:   "lowercase running marker",
			chunks: []string{"API listening on /ip4/127.0.0.1/tcp/1\n", "the daemon is running\n"},
			ready:  true,
			want:   announced{API: "/ip4/127.0.0.1/tcp/1"},
		},
		{
			name:   "incomplete line is not scanned",
			chunks: []string{"RPC API server listening on /ip4/127.0.0.1/tcp/5001\n", "Daemon is ready"},
			ready:  false,
			want:   announced{API: "/ip4/127.0.0.1/tcp/5001"},
		},
		{
			name:   "no marker",
			chunks: []string{"Initializing daemon...\n", "Error: repo locked\n"},
			ready:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newReadinessScanner(nil)
			for _, c := range tt.chunks {
				n, err := s.Write([]byte(c))
				require.NoError(t, err)
				require.Equal(t, len(c), n)
			}

			select {
			case <-s.Ready():
				assert.True(t, tt.ready, "ready closed unexpectedly")
			default:
				assert.False(t, tt.ready, "ready not closed")
			}
			assert.Equal(t, tt.want, s.Addrs())
			assert.Equal(t, strings.Join(tt.chunks, ""), s.String())
		})
	}
}

func TestReadinessScanner_ForwardsAfterReady(t *testing.T) {
	var after strings.Builder
	s := newReadinessScanner(&after)
	_, _ = s.Write([]byte("API listening on /ip4/127.0.0.1/tcp/1\nDaemon is ready\n"))
	_, _ = s.Write([]byte("later output\n"))

	assert.Equal(t, "later output\n", after.String())
	assert.NotContains(t, s.String(), "later output")
}

func TestLineLogger(t *testing.T) {
	l := newLineLogger(log.Discard(), "stderr")
	_, _ = l.Write([]byte("first line\nsecond "))
	_, _ = l.Write([]byte("line\n"))
	assert.Equal(t, "first line\nsecond line\n", l.String())

	big := strings.Repeat("x", maxTail+10)
	_, _ = l.Write([]byte(big))
	assert.Len(t, l.String(), maxTail)
}
