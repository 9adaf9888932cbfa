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

package controlplane

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tombee/nodectl/internal/httputil"
	"github.com/tombee/nodectl/internal/log"
	"github.com/tombee/nodectl/internal/metrics"
	"github.com/tombee/nodectl/internal/repo"
	"github.com/tombee/nodectl/pkg/nodectl"
)

const maxBodyBytes = 1 << 20

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.RecordRateLimited()
		httputil.WriteError(w, http.StatusTooManyRequests, "spawn rate limit exceeded")
		return
	}

	var opts nodectl.Options
	if err := decodeBody(r, &opts); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The node lives here; a spawn must never bounce to another server.
	opts.Remote = nodectl.Bool(false)
	opts.Endpoint = ""

	c, err := s.factory.Spawn(r.Context(), opts)
	if err != nil {
		s.logger.Warn("spawn failed", slog.String("type", string(opts.Type)), log.Error(err))
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := s.registry.Add(c)
	s.logger.Info("node spawned",
		slog.String("node_id", id),
		slog.String("type", string(c.Type())),
		slog.String("repo", c.Path()))
	httputil.WriteJSON(w, http.StatusOK, nodectl.Snapshot(id, c))
}

// withNode resolves ?id= and runs fn while holding the node's lock.
func (s *Server) withNode(w http.ResponseWriter, r *http.Request, fn func(nodectl.Controller) (any, error)) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "missing id")
		return
	}
	e, ok := s.registry.get(id)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown node id %q", id))
		return
	}

	e.mu.Lock()
	out, err := fn(e.c)
	if out == nil && err == nil {
		out = nodectl.Snapshot(id, e.c)
	}
	e.mu.Unlock()

	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var opts *nodectl.InitOptions
	if err := decodeBody(r, &opts); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.withNode(w, r, func(c nodectl.Controller) (any, error) {
		return nil, c.Init(r.Context(), opts)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var opts *nodectl.StartOptions
	if err := decodeBody(r, &opts); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.withNode(w, r, func(c nodectl.Controller) (any, error) {
		return nil, c.Start(r.Context(), opts)
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.withNode(w, r, func(c nodectl.Controller) (any, error) {
		return nil, c.Stop(r.Context())
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.withNode(w, r, func(c nodectl.Controller) (any, error) {
		return nil, c.Cleanup(r.Context())
	})
}

func (s *Server) handlePID(w http.ResponseWriter, r *http.Request) {
	s.withNode(w, r, func(c nodectl.Controller) (any, error) {
		pid, err := c.PID(r.Context())
		if err != nil {
			return nil, err
		}
		return map[string]int{"pid": pid}, nil
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.withNode(w, r, func(c nodectl.Controller) (any, error) {
		v, err := c.Version(r.Context())
		if err != nil {
			return nil, err
		}
		return map[string]string{"version": v}, nil
	})
}

func (s *Server) handleTmpDir(w http.ResponseWriter, r *http.Request) {
	t, err := nodectl.ParseType(r.URL.Query().Get("type"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"tmpDir": repo.TmpPath(string(t))})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"nodes":  s.registry.Len(),
	})
}
