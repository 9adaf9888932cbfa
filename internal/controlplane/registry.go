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
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tombee/nodectl/internal/metrics"
	"github.com/tombee/nodectl/pkg/nodectl"
)

// entry serializes operations on one controller, which is not safe for
// concurrent use on its own.
type entry struct {
	mu sync.Mutex
	c  nodectl.Controller
}

// Registry maps opaque ids to controllers. Entries are never removed
// automatically; a cleaned node keeps answering with its final state.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*entry)}
}

// Add stores c under a fresh random id.
func (r *Registry) Add(c nodectl.Controller) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.nodes[id] = &entry{c: c}
	n := len(r.nodes)
	r.mu.Unlock()
	metrics.SetRegistrySize(n)
	return id
}

func (r *Registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[id]
	return e, ok
}

// Get returns the controller stored under id.
func (r *Registry) Get(id string) (nodectl.Controller, bool) {
	e, ok := r.get(id)
	if !ok {
		return nil, false
	}
	return e.c, true
}

// Len returns the number of ids held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// IDs returns every id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Clear forgets every id.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.nodes = make(map[string]*entry)
	r.mu.Unlock()
	metrics.SetRegistrySize(0)
}
