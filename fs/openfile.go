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

package fs

import "sync"

// dirFDBase is added to directory handle numbers so release() can route
// between the file and directory tables by inspecting the handle value
// alone (spec §3 OpenFile: "a second range ... so the handler can route
// release correctly").
const (
	startFD    = 3
	dirFDBase  = 1_000_003
)

// OpenFile is one entry in the open-file table: an (inode_id, offset)
// pair plus whether it was opened for directory iteration.
type OpenFile struct {
	Handle  uint64
	InodeID uint64
	Offset  int64
	IsDir   bool
}

// openFileTable is the single mutex-guarded map spec §5 calls out:
// "guarded by a single mutex; short critical sections around
// insert/lookup/erase."
type openFileTable struct {
	mu      sync.Mutex
	entries map[uint64]*OpenFile
	nextFH  uint64
	nextDFH uint64
}

func newOpenFileTable() *openFileTable {
	return &openFileTable{
		entries: make(map[uint64]*OpenFile),
		nextFH:  startFD,
		nextDFH: dirFDBase,
	}
}

func (t *openFileTable) insert(inodeID uint64, offset int64, isDir bool) *OpenFile {
	t.mu.Lock()
	defer t.mu.Unlock()

	var h uint64
	if isDir {
		h = t.nextDFH
		t.nextDFH++
	} else {
		h = t.nextFH
		t.nextFH++
	}

	of := &OpenFile{Handle: h, InodeID: inodeID, Offset: offset, IsDir: isDir}
	t.entries[h] = of
	return of
}

func (t *openFileTable) lookup(handle uint64) (*OpenFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.entries[handle]
	return of, ok
}

func (t *openFileTable) remove(handle uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, handle)
}
