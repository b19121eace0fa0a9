// Copyright 2025 Google LLC
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

// Package inode holds the in-memory, cacheable wrappers around the
// on-disk objects defined in internal/fsobjects: a Cached wraps one
// fsobjects.Inode with its own mutex and dirty flag (spec §4.6's
// CacheableObject). The fs package's inode cache holds these wrappers,
// never bare fsobjects values, so a caller that gets one back from the
// cache always gets a lock to hold along with it.
package inode

import (
	"sync"

	"github.com/blockvault/bfs/internal/fsobjects"
)

// Cached is one inode table entry plus the per-object lock and dirty bit
// spec §4.6 calls CacheableObject. Every mutating accessor sets dirty;
// the cache's flush callback clears it after a successful write-back.
type Cached struct {
	mu sync.Mutex

	obj   fsobjects.Inode
	dirty bool
}

// NewCached wraps obj for insertion into the inode cache.
func NewCached(obj fsobjects.Inode) *Cached {
	return &Cached{obj: obj}
}

// Lock and Unlock satisfy sync.Locker. Callers obtained from the cache
// must hold this lock for the duration of any read or mutation and
// release it on every exit path, including error returns.
func (c *Cached) Lock()   { c.mu.Lock() }
func (c *Cached) Unlock() { c.mu.Unlock() }

// ID returns the wrapped inode's ID without requiring the lock.
func (c *Cached) ID() uint64 { return c.obj.ID }

// Get returns a copy of the wrapped inode. Caller must hold the lock.
func (c *Cached) Get() fsobjects.Inode { return c.obj }

// Set replaces the wrapped inode and marks the entry dirty. Caller must
// hold the lock.
func (c *Cached) Set(obj fsobjects.Inode) {
	c.obj = obj
	c.dirty = true
}

// Dirty reports whether the entry has unflushed changes. Caller must hold
// the lock.
func (c *Cached) Dirty() bool { return c.dirty }

// ClearDirty is called by the cache's flush callback once the object has
// been durably written. Caller must hold the lock.
func (c *Cached) ClearDirty() { c.dirty = false }
