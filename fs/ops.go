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
	"time"

	"github.com/blockvault/bfs/internal/aclcheck"
	"github.com/blockvault/bfs/internal/bfserrors"
	"github.com/blockvault/bfs/internal/fsobjects"
	"github.com/blockvault/bfs/internal/layout"
)

// Attr is the getattr result (spec §4.7 operations table).
type Attr struct {
	UID   uint32
	Ino   uint64
	Mode  uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

func attrFromInode(ino fsobjects.Inode) Attr {
	return Attr{
		UID:   ino.UID,
		Ino:   ino.ID,
		Mode:  ino.Mode,
		Size:  ino.Size,
		Atime: time.Unix(0, ino.Atime),
		Mtime: time.Unix(0, ino.Mtime),
		Ctime: time.Unix(0, ino.Ctime),
	}
}

// GetAttr returns attributes for path.
func (fs *FileSystem) GetAttr(uid uint32, path string) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, _, _, err := fs.resolve(path)
	if err != nil {
		return Attr{}, err
	}
	if !fs.acl.IsPermitted(uid, ino, aclcheck.OpRead) {
		return Attr{}, bfserrors.NewAccessDenied("getattr: " + path)
	}
	return attrFromInode(ino), nil
}

// Mkdir creates a new directory at path with the given permission bits.
func (fs *FileSystem) Mkdir(uid uint32, path string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, _, _, err := fs.resolve(path); err == nil {
		return bfserrors.Exists(path)
	}

	parentPath, name := splitLast(path)
	parentIno, _, _, err := fs.resolve(parentPath)
	if err != nil {
		return err
	}
	if !parentIno.IsDir() {
		return bfserrors.NotDir(parentPath)
	}
	if !fs.acl.IsPermitted(uid, parentIno, aclcheck.OpWrite) {
		return bfserrors.NewAccessDenied("mkdir: " + path)
	}

	newIno, err := fs.allocInode(uid, fsobjects.ModeIFDIR|(mode&fsobjects.ModePermMask))
	if err != nil {
		return err
	}

	// "." and ".." seed the new directory's link count at 2 (spec §9
	// open question: i_links counts live dentries including the two
	// self-referential entries every directory carries).
	if err := fs.appendDentry(&newIno, fsobjects.Dirent{InodeID: newIno.ID, Name: "."}); err != nil {
		return err
	}
	if err := fs.appendDentry(&newIno, fsobjects.Dirent{InodeID: parentIno.ID, Name: ".."}); err != nil {
		return err
	}
	if err := fs.putInode(newIno); err != nil {
		return err
	}

	if err := fs.appendDentry(&parentIno, fsobjects.Dirent{InodeID: newIno.ID, Name: name}); err != nil {
		return err
	}
	parentIno.Mtime = fs.clk.Now().UnixNano()
	parentIno.Ctime = parentIno.Mtime
	return fs.putInode(parentIno)
}

// Rmdir removes the empty directory at path.
func (fs *FileSystem) Rmdir(uid uint32, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, parentIno, name, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if !ino.IsDir() {
		return bfserrors.NotDir(path)
	}
	if ino.Links != 2 {
		return bfserrors.NotEmpty(path)
	}
	if ino.RefCnt != 0 {
		return bfserrors.Busy(path)
	}
	if !fs.acl.IsPermitted(uid, *parentIno, aclcheck.OpWrite) {
		return bfserrors.NewAccessDenied("rmdir: " + path)
	}

	res, err := fs.searchDir(*parentIno, handlerGetDE, name)
	if err != nil {
		return err
	}
	if err := fs.removeDentry(parentIno, res.parentVbid, res.slotIndex); err != nil {
		return err
	}
	if err := fs.putInode(*parentIno); err != nil {
		return err
	}
	fs.dentries.Remove(path)
	return fs.freeInode(ino)
}

// Unlink removes the regular file at path.
func (fs *FileSystem) Unlink(uid uint32, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, parentIno, name, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if ino.IsDir() {
		return bfserrors.IsDir(path)
	}
	if ino.RefCnt != 0 {
		return bfserrors.Busy(path)
	}
	if !fs.acl.IsPermitted(uid, *parentIno, aclcheck.OpUnlink) {
		return bfserrors.NewAccessDenied("unlink: " + path)
	}

	res, err := fs.searchDir(*parentIno, handlerGetDE, name)
	if err != nil {
		return err
	}
	if err := fs.removeDentry(parentIno, res.parentVbid, res.slotIndex); err != nil {
		return err
	}
	if err := fs.putInode(*parentIno); err != nil {
		return err
	}
	fs.dentries.Remove(path)
	return fs.freeInode(ino)
}

// Rename moves the regular file at from to to, overwriting to if it
// already exists (spec invariant P8).
func (fs *FileSystem) Rename(uid uint32, from, to string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fromIno, fromParent, fromName, err := fs.resolve(from)
	if err != nil {
		return err
	}
	if fromIno.IsDir() {
		return bfserrors.IsDir(from)
	}
	if !fs.acl.IsPermitted(uid, *fromParent, aclcheck.OpWrite) {
		return bfserrors.NewAccessDenied("rename: " + from)
	}

	toParentPath, toName := splitLast(to)
	toParentIno, _, _, err := fs.resolve(toParentPath)
	if err != nil {
		return err
	}
	if !toParentIno.IsDir() {
		return bfserrors.NotDir(toParentPath)
	}

	fromRes, err := fs.searchDir(*fromParent, handlerGetDE, fromName)
	if err != nil {
		return err
	}
	if err := fs.removeDentry(fromParent, fromRes.parentVbid, fromRes.slotIndex); err != nil {
		return err
	}
	if err := fs.putInode(*fromParent); err != nil {
		return err
	}
	fs.dentries.Remove(from)
	if toParentIno.ID == fromParent.ID {
		toParentIno = *fromParent
	}

	if toIno, _, _, err := fs.resolve(to); err == nil {
		toRes, err := fs.searchDir(toParentIno, handlerGetDE, toName)
		if err != nil {
			return err
		}
		if err := fs.removeDentry(&toParentIno, toRes.parentVbid, toRes.slotIndex); err != nil {
			return err
		}
		if err := fs.freeInode(toIno); err != nil {
			return err
		}
		fs.dentries.Remove(to)
	}

	if err := fs.appendDentry(&toParentIno, fsobjects.Dirent{InodeID: fromIno.ID, Name: toName}); err != nil {
		return err
	}
	return fs.putInode(toParentIno)
}

// Create makes a new regular file at path and returns an open handle for
// it, as if by create()-then-open() (spec §4.7).
func (fs *FileSystem) Create(uid uint32, path string, mode uint32) (*OpenFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, _, _, err := fs.resolve(path); err == nil {
		return nil, bfserrors.Exists(path)
	}

	parentPath, name := splitLast(path)
	parentIno, _, _, err := fs.resolve(parentPath)
	if err != nil {
		return nil, err
	}
	if !parentIno.IsDir() {
		return nil, bfserrors.NotDir(parentPath)
	}
	if !fs.acl.IsPermitted(uid, parentIno, aclcheck.OpWrite) {
		return nil, bfserrors.NewAccessDenied("create: " + path)
	}

	newIno, err := fs.allocInode(uid, fsobjects.ModeIFREG|(mode&fsobjects.ModePermMask))
	if err != nil {
		return nil, err
	}
	newIno.RefCnt = 1
	if err := fs.putInode(newIno); err != nil {
		return nil, err
	}

	if err := fs.appendDentry(&parentIno, fsobjects.Dirent{InodeID: newIno.ID, Name: name}); err != nil {
		return nil, err
	}
	if err := fs.putInode(parentIno); err != nil {
		return nil, err
	}

	fs.dentries.Put(path, newIno.ID)
	return fs.files.insert(newIno.ID, 0, false), nil
}

// OAppend is the only open flag this layer acts on (POSIX O_APPEND);
// every other flag is the dispatcher's concern.
const OAppend = 1 << 0

// Open opens the regular file at path, returning a handle positioned at
// offset 0 or at EOF if flags carries OAppend.
func (fs *FileSystem) Open(uid uint32, path string, flags int) (*OpenFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, _, _, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	if ino.IsDir() {
		return nil, bfserrors.IsDir(path)
	}
	if !fs.acl.IsPermitted(uid, ino, aclcheck.OpRead) {
		return nil, bfserrors.NewAccessDenied("open: " + path)
	}

	ino.RefCnt++
	if err := fs.putInode(ino); err != nil {
		return nil, err
	}

	off := int64(0)
	if flags&OAppend != 0 {
		off = int64(ino.Size)
	}
	return fs.files.insert(ino.ID, off, false), nil
}

// OpenDir is Open's directory-handle counterpart.
func (fs *FileSystem) OpenDir(uid uint32, path string) (*OpenFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, _, _, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	if !ino.IsDir() {
		return nil, bfserrors.NotDir(path)
	}
	if !fs.acl.IsPermitted(uid, ino, aclcheck.OpRead) {
		return nil, bfserrors.NewAccessDenied("opendir: " + path)
	}
	return fs.files.insert(ino.ID, 0, true), nil
}

// ReadDir returns every live dentry in the directory opened as handle.
func (fs *FileSystem) ReadDir(handle uint64) ([]fsobjects.Dirent, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	of, ok := fs.files.lookup(handle)
	if !ok || !of.IsDir {
		return nil, bfserrors.Invalid("bad directory handle")
	}
	ino, err := fs.getInode(of.InodeID)
	if err != nil {
		return nil, err
	}
	res, err := fs.searchDir(ino, handlerReaddir, "")
	if err != nil {
		return nil, err
	}
	return res.all, nil
}

// Chmod updates path's permission bits.
func (fs *FileSystem) Chmod(uid uint32, path string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, _, _, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if uid != 0 && uid != ino.UID {
		return bfserrors.NewAccessDenied("chmod: " + path)
	}

	ino.Mode = (ino.Mode &^ fsobjects.ModePermMask) | (mode & fsobjects.ModePermMask)
	ino.Ctime = fs.clk.Now().UnixNano()
	return fs.putInode(ino)
}

// Truncate resizes handle's file to size, freeing any data blocks past
// the new end and leaving bytes before it untouched. Growing a file only
// updates the recorded size: the gap reads back as zeros the same way an
// unwritten hole does (spec invariant P9), no blocks are allocated until
// something is actually written there.
func (fs *FileSystem) Truncate(handle uint64, size uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	of, ok := fs.files.lookup(handle)
	if !ok || of.IsDir {
		return bfserrors.Invalid("bad file handle")
	}
	ino, err := fs.getInode(of.InodeID)
	if err != nil {
		return err
	}

	if size < ino.Size {
		if po := size % layout.BlockSize; po != 0 {
			if _, err := fs.writeRangeRaw(&ino, int64(size), make([]byte, min(layout.BlockSize-po, ino.Size-size))); err != nil {
				return err
			}
		}
		firstFreedBlock := (size + layout.BlockSize - 1) / layout.BlockSize
		lastBlock := (ino.Size + layout.BlockSize - 1) / layout.BlockSize
		for bi := firstFreedBlock; bi < lastBlock; bi++ {
			_, ok, _, err := fs.blockPointer(&ino, bi, false)
			if err != nil {
				return err
			}
			if ok {
				fs.freeDataBlock()
				if bi < layout.NumDirectBlocks {
					ino.Direct[bi] = 0
				} else if ib, err := fs.readIndirectBlock(ino.Indirect); err != nil {
					return err
				} else {
					ib[bi-layout.NumDirectBlocks] = 0
					if err := fs.writeIndirectBlock(ino.Indirect, ib); err != nil {
						return err
					}
				}
			}
		}
		if err := fs.writeSuperblock(); err != nil {
			return err
		}
	}

	ino.Size = size
	now := fs.clk.Now().UnixNano()
	ino.Mtime = now
	ino.Ctime = now
	return fs.putInode(ino)
}

// Fsync flushes handle's inode to stable storage. Block and tree writes
// are already synchronous (spec §4.5), so this persists the inode itself,
// drops it from the dirty set, and syncs the device.
func (fs *FileSystem) Fsync(handle uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	of, ok := fs.files.lookup(handle)
	if !ok {
		return bfserrors.Invalid("bad file handle")
	}
	if c, hit := fs.inodes.Get(of.InodeID); hit {
		if err := fs.flushInode(of.InodeID, c); err != nil {
			return err
		}
	}
	if err := fs.dev.Sync(); err != nil {
		return bfserrors.NewServerError("Fsync", 0, err)
	}
	return nil
}

// Release closes handle, decrementing the underlying inode's reference
// count.
func (fs *FileSystem) Release(handle uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	of, ok := fs.files.lookup(handle)
	if !ok {
		return bfserrors.Invalid("bad file handle")
	}
	fs.files.remove(handle)
	if of.IsDir {
		return nil
	}

	ino, err := fs.getInode(of.InodeID)
	if err != nil {
		return err
	}
	if ino.RefCnt > 0 {
		ino.RefCnt--
	}
	return fs.putInode(ino)
}

// Statfs reports volume-wide occupancy, the supplemented statfs
// operation SPEC_FULL.md adds to the spec's table.
type StatfsResult struct {
	TotalInodes uint64
	FreeInodes  uint64
	TotalBlocks uint64
	FreeBlocks  uint64
	BlockSize   uint64
}

func (fs *FileSystem) Statfs() StatfsResult {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return StatfsResult{
		TotalInodes: fs.sb.NumInodes,
		FreeInodes:  fs.sb.FreeInodes,
		TotalBlocks: fs.sb.NumDataBlocks,
		FreeBlocks:  fs.sb.FreeDataBlocks,
		BlockSize:   layout.BlockSize,
	}
}

// splitLast splits an absolute path into its parent directory and final
// component. splitLast("/") is never called by a caller that already
// checked existence, since "/" always resolves.
func splitLast(path string) (parent, name string) {
	i := len(path) - 1
	for i > 0 && path[i] != '/' {
		i--
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}
