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

import (
	"strings"

	"github.com/blockvault/bfs/internal/bfserrors"
	"github.com/blockvault/bfs/internal/fsobjects"
	"github.com/blockvault/bfs/internal/layout"
)

// direntHandler parameterizes the one directory-scanning routine spec
// §4.7 describes: "one routine, parameterized by handler code".
type direntHandler int

const (
	handlerGetDE direntHandler = iota
	handlerReaddir
	handlerFindEmpty
)

// direntScanResult is the handler-dependent outcome of searchDir.
type direntScanResult struct {
	found      bool
	dirent     fsobjects.Dirent
	parentVbid uint64
	slotIndex  int
	all        []fsobjects.Dirent
}

// searchDir scans dirIno's data blocks applying handler, stopping once it
// has examined dirIno.Links live slots (spec §4.7 path-resolution note:
// "resolution stops when it has tested that many live dentries").
// handlerFindEmpty is the exception: it keeps scanning every block until
// it meets the first free slot. name is ignored by handlerReaddir and
// handlerFindEmpty.
func (fs *FileSystem) searchDir(dirIno fsobjects.Inode, handler direntHandler, name string) (direntScanResult, error) {
	var res direntScanResult
	liveSeen := uint64(0)
	numBlocks := (dirIno.Size + layout.BlockSize - 1) / layout.BlockSize

	for bi := uint64(0); bi < numBlocks && (handler == handlerFindEmpty || liveSeen < dirIno.Links); bi++ {
		vbid, ok, _, err := fs.blockPointer(&dirIno, bi, false)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}

		block, err := fs.bs.ReadBlock(vbid)
		if err != nil {
			return res, err
		}

		for slot := 0; slot < fsobjects.DirentsPerBlock; slot++ {
			d, err := fsobjects.DirentSlot(block, slot)
			if err != nil {
				return res, err
			}

			if d.InodeID == 0 {
				if handler == handlerFindEmpty {
					return direntScanResult{found: true, parentVbid: vbid, slotIndex: slot}, nil
				}
				continue
			}

			liveSeen++
			switch handler {
			case handlerGetDE:
				if d.Name == name {
					return direntScanResult{found: true, dirent: d, parentVbid: vbid, slotIndex: slot}, nil
				}
			case handlerReaddir:
				res.all = append(res.all, d)
			}

			if handler != handlerFindEmpty && liveSeen >= dirIno.Links {
				break
			}
		}
	}

	if handler == handlerFindEmpty && res.found {
		return res, nil
	}
	if handler == handlerGetDE {
		return direntScanResult{}, bfserrors.NotFound(name)
	}
	return res, nil
}

// appendDentry allocates a new data block for dirIno if every existing
// block is full, writes d into the first free (or newly allocated) slot,
// and bumps dirIno.Links. Caller holds the lock on dirIno's cache entry.
func (fs *FileSystem) appendDentry(dirIno *fsobjects.Inode, d fsobjects.Dirent) error {
	res, err := fs.searchDir(*dirIno, handlerFindEmpty, "")
	if err == nil && res.found {
		block, err := fs.bs.ReadBlock(res.parentVbid)
		if err != nil {
			return err
		}
		if err := fsobjects.PutDirentSlot(block, res.slotIndex, d); err != nil {
			return err
		}
		if err := fs.bs.WriteBlock(res.parentVbid, block); err != nil {
			return err
		}
		dirIno.Links++
		return nil
	}

	bi := (dirIno.Size + layout.BlockSize - 1) / layout.BlockSize
	vbid, ok, _, err := fs.blockPointer(dirIno, bi, true)
	if err != nil {
		return err
	}
	if !ok {
		return bfserrors.NoSpace("could not allocate directory block")
	}

	block := make([]byte, layout.BlockSize)
	if err := fsobjects.PutDirentSlot(block, 0, d); err != nil {
		return err
	}
	if err := fs.bs.WriteBlock(vbid, block); err != nil {
		return err
	}

	dirIno.Size = (bi + 1) * layout.BlockSize
	dirIno.Links++
	return nil
}

// removeDentry clears the slot at parentVbid/slotIndex and decrements
// dirIno.Links.
func (fs *FileSystem) removeDentry(dirIno *fsobjects.Inode, parentVbid uint64, slotIndex int) error {
	block, err := fs.bs.ReadBlock(parentVbid)
	if err != nil {
		return err
	}
	if err := fsobjects.PutDirentSlot(block, slotIndex, fsobjects.Dirent{}); err != nil {
		return err
	}
	if err := fs.bs.WriteBlock(parentVbid, block); err != nil {
		return err
	}
	dirIno.Links--
	return nil
}

// splitPath splits an absolute path into its component names, rejecting
// paths that are not absolute or exceed the configured length limits.
func splitPath(path string) ([]string, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, bfserrors.Invalid("path must be absolute")
	}
	if len(path) > layout.MaxPathLen {
		return nil, bfserrors.NameTooLong(path)
	}
	if path == "/" {
		return nil, nil
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, p := range parts {
		if len(p) == 0 || len(p) > layout.MaxFileNameLen {
			return nil, bfserrors.NameTooLong(p)
		}
	}
	return parts, nil
}

// resolve walks path from the root inode, consulting and populating the
// dentry and inode caches along the way, and returns the inode at the end
// of the path along with its parent's inode (nil at the root) and its own
// final path component (empty at the root).
func (fs *FileSystem) resolve(path string) (ino fsobjects.Inode, parent *fsobjects.Inode, name string, err error) {
	parts, err := splitPath(path)
	if err != nil {
		return fsobjects.Inode{}, nil, "", err
	}

	cur, err := fs.getInode(fs.sb.RootInodeID)
	if err != nil {
		return fsobjects.Inode{}, nil, "", err
	}
	if len(parts) == 0 {
		return cur, nil, "", nil
	}

	var parentIno fsobjects.Inode
	prefix := ""
	for i, part := range parts {
		prefix += "/" + part

		var childID uint64
		if id, hit := fs.dentries.Get(prefix); hit {
			childID = id
		} else {
			if !cur.IsDir() {
				return fsobjects.Inode{}, nil, "", bfserrors.NotDir(path)
			}
			res, err := fs.searchDir(cur, handlerGetDE, part)
			if err != nil {
				return fsobjects.Inode{}, nil, "", err
			}
			childID = res.dirent.InodeID
			fs.dentries.Put(prefix, childID)
		}

		child, err := fs.getInode(childID)
		if err != nil {
			return fsobjects.Inode{}, nil, "", err
		}

		parentIno = cur
		cur = child
		if i == len(parts)-1 {
			return cur, &parentIno, part, nil
		}
	}
	return cur, &parentIno, "", nil
}
