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

package memnode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/tombee/nodectl/internal/httputil"
	"github.com/tombee/nodectl/internal/log"
)

// maxBlockSize caps block/put bodies.
const maxBlockSize = 4 << 20

type versionResponse struct {
	Version string `json:"Version"`
	System  string `json:"System"`
	Golang  string `json:"Golang"`
}

type blockStat struct {
	Key  string `json:"Key"`
	Size int    `json:"Size"`
}

func (n *Node) apiHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/id", n.handleID)
	mux.HandleFunc("POST /api/v0/version", n.handleVersion)
	mux.HandleFunc("POST /api/v0/shutdown", n.handleShutdown)
	mux.HandleFunc("POST /api/v0/block/put", n.handleBlockPut)
	mux.HandleFunc("POST /api/v0/block/get", n.handleBlockGet)
	mux.HandleFunc("POST /api/v0/block/stat", n.handleBlockStat)
	return log.HTTPMiddleware(n.logger)(mux)
}

func (n *Node) gatewayHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ipfs/{key}", n.handleGatewayGet)
	return mux
}

func (n *Node) handleID(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, n.Peer())
}

func (n *Node) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, versionResponse{
		Version: Version,
		System:  runtime.GOARCH + "/" + runtime.GOOS,
		Golang:  runtime.Version(),
	})
}

func (n *Node) handleShutdown(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	go func() {
		// let the response flush before the listener goes away
		time.Sleep(10 * time.Millisecond)
		if err := n.Stop(context.Background()); err != nil {
			n.logger.Error("shutdown failed", slog.Any("error", err))
		}
	}()
}

func (n *Node) handleBlockPut(w http.ResponseWriter, r *http.Request) {
	data, err := readBlock(r)
	if err != nil {
		httputil.WriteCommandError(w, err.Error())
		return
	}
	key, err := n.store.Put(data)
	if err != nil {
		httputil.WriteCommandError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, blockStat{Key: key, Size: len(data)})
}

// readBlock accepts either a raw body or a multipart form with a "file"
// part, the way RPC clients usually upload.
func readBlock(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxBlockSize); err != nil {
			return nil, err
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxBlockSize+1))
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBlockSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBlockSize {
		return nil, errors.New("block too large")
	}
	return data, nil
}

func (n *Node) handleBlockGet(w http.ResponseWriter, r *http.Request) {
	data, err := n.store.Get(r.URL.Query().Get("arg"))
	if err != nil {
		httputil.WriteCommandError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (n *Node) handleBlockStat(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("arg")
	data, err := n.store.Get(key)
	if err != nil {
		httputil.WriteCommandError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, blockStat{Key: key, Size: len(data)})
}

func (n *Node) handleGatewayGet(w http.ResponseWriter, r *http.Request) {
	data, err := n.store.Get(r.PathValue("key"))
	if errors.Is(err, ErrBlockNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
