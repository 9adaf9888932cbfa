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

// Package repo holds filesystem helpers for node repositories: existence,
// temporary paths, removal and detection of a node already running against
// a repo through its api sentinel file.
package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/tombee/nodectl/internal/lifecycle"
	"github.com/tombee/nodectl/pkg/nodeapi"
)

const (
	// ConfigFile marks an initialized repo.
	ConfigFile = "config"

	// APIFile is the sentinel a running daemon writes with its API address.
	APIFile = "api"

	// PathEnv overrides the default repo location.
	PathEnv = "IPFS_PATH"

	// DefaultProbeTimeout bounds the already-running API probe.
	DefaultProbeTimeout = 2 * time.Second
)

// Exists reports whether path holds an initialized repo.
func Exists(path string) bool {
	info, err := os.Stat(filepath.Join(path, ConfigFile))
	return err == nil && !info.IsDir()
}

// DefaultPath returns the repo location used when none is configured:
// $IPFS_PATH if set, otherwise a per-type directory under the home dir.
func DefaultPath(nodeType string) string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	if nodeType == "js" || nodeType == "proc" {
		return filepath.Join(home, ".jsipfs")
	}
	return filepath.Join(home, ".ipfs")
}

// TmpPath returns a fresh, not yet created, repo path in the system temp dir.
func TmpPath(nodeType string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s_ipfs_%s", nodeType, uuid.NewString()))
}

// Remove deletes a repo recursively. A repo that is already gone or whose
// directory is still busy is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.RemoveAll(path)
	if err == nil || os.IsNotExist(err) || errors.Is(err, syscall.EBUSY) {
		return nil
	}
	return fmt.Errorf("remove repo %s: %w", path, err)
}

// ReadAPIAddr parses the sentinel api file. It returns os.ErrNotExist when
// no node has recorded an address.
func ReadAPIAddr(path string) (ma.Multiaddr, error) {
	data, err := os.ReadFile(filepath.Join(path, APIFile))
	if err != nil {
		return nil, err
	}
	addr, err := ma.NewMultiaddr(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid api file in %s: %w", path, err)
	}
	return addr, nil
}

// WriteAPIAddr records addr as the repo's running API.
func WriteAPIAddr(path string, addr ma.Multiaddr) error {
	return os.WriteFile(filepath.Join(path, APIFile), []byte(addr.String()), 0600)
}

// RemoveAPIFile deletes the sentinel. A missing file is not an error.
func RemoveAPIFile(path string) error {
	err := os.Remove(filepath.Join(path, APIFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CheckRunning reports the API address of a node already serving this
// repo. The sentinel alone is not trusted: the API must answer a version
// call within timeout.
func CheckRunning(ctx context.Context, path string, timeout time.Duration) (ma.Multiaddr, bool) {
	addr, err := ReadAPIAddr(path)
	if err != nil {
		return nil, false
	}
	base, err := nodeapi.URL(addr)
	if err != nil {
		return nil, false
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	checker := lifecycle.NewHealthChecker(base + "/api/v0/version").
		WithMethod(http.MethodPost).
		WithHTTPClient(&http.Client{Timeout: timeout})
	if res := checker.Check(ctx); !res.Success {
		return nil, false
	}
	return addr, true
}
