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
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// ErrBlockNotFound is returned by Get for unknown keys.
var ErrBlockNotFound = errors.New("block not found")

// Blockstore keeps blocks as files named by the hex BLAKE3 digest of their
// content.
type Blockstore struct {
	dir string
}

// OpenBlockstore opens (creating if needed) a blockstore rooted at dir.
func OpenBlockstore(dir string) (*Blockstore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create blockstore: %w", err)
	}
	return &Blockstore{dir: dir}, nil
}

// Key returns the content key of data.
func Key(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func validKey(key string) bool {
	if len(key) != 64 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

// Put stores data and returns its key. Storing the same content twice is
// a no-op.
func (b *Blockstore) Put(data []byte) (string, error) {
	key := Key(data)
	path := filepath.Join(b.dir, key)
	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	tmp, err := os.CreateTemp(b.dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("put block: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("put block: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("put block: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("put block: %w", err)
	}
	return key, nil
}

// Get returns the block stored under key.
func (b *Blockstore) Get(key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("invalid key %q: %w", key, ErrBlockNotFound)
	}
	data, err := os.ReadFile(filepath.Join(b.dir, key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", key, ErrBlockNotFound)
	}
	return data, err
}

// Has reports whether key is stored.
func (b *Blockstore) Has(key string) bool {
	if !validKey(key) {
		return false
	}
	_, err := os.Stat(filepath.Join(b.dir, key))
	return err == nil
}
