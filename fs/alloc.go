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
	"github.com/blockvault/bfs/internal/bfserrors"
	"github.com/blockvault/bfs/internal/fsobjects"
	"github.com/blockvault/bfs/internal/layout"
)

// allocInode walks the inode bitmap for the first clear bit, sets it,
// writes a fresh inode record, and decrements sb.FreeInodes (spec §4.7
// "Block allocation"). Caller must hold fs.mu.
func (fs *FileSystem) allocInode(uid uint32, mode uint32) (fsobjects.Inode, error) {
	if fs.sb.FreeInodes == 0 {
		return fsobjects.Inode{}, bfserrors.NoSpace("no free inodes")
	}

	for blockOff := uint64(0); blockOff < fs.lo.IbitmapLen; blockOff++ {
		blockNo := fs.lo.IbitmapStart + blockOff
		block := make([]byte, layout.BlockSize)
		if err := fs.dev.Get(int64(blockNo), block); err != nil {
			return fsobjects.Inode{}, bfserrors.NewServerError("allocInode", int64(blockNo), err)
		}

		bit, ok := fsobjects.FirstClearBit(block)
		id := blockOff*layout.BlockSize*8 + bit
		if !ok || id >= fs.lo.NumInodes {
			continue
		}

		fsobjects.SetBit(block, bit)
		if err := fs.dev.Put(int64(blockNo), block); err != nil {
			return fsobjects.Inode{}, bfserrors.NewServerError("allocInode", int64(blockNo), err)
		}

		now := fs.clk.Now().UnixNano()
		ino := fsobjects.Inode{
			ID:     id,
			UID:    uid,
			Mode:   mode,
			RefCnt: 0,
			Atime:  now,
			Mtime:  now,
			Ctime:  now,
		}
		if err := fs.putInode(ino); err != nil {
			return fsobjects.Inode{}, err
		}

		fs.sb.FreeInodes--
		if err := fs.writeSuperblock(); err != nil {
			return fsobjects.Inode{}, err
		}
		return ino, nil
	}

	return fsobjects.Inode{}, bfserrors.NoSpace("inode bitmap exhausted despite free count")
}

// freeInode clears id's bitmap bit, frees its data blocks, and zeroes its
// table slot. Caller must hold fs.mu and any lock on the inode itself.
func (fs *FileSystem) freeInode(ino fsobjects.Inode) error {
	for _, vbid := range ino.Direct {
		if fs.lo.IsDataVbid(vbid) {
			fs.freeDataBlock()
		}
	}
	if fs.lo.IsDataVbid(ino.Indirect) {
		ib, err := fs.readIndirectBlock(ino.Indirect)
		if err == nil {
			for _, vbid := range ib {
				if fs.lo.IsDataVbid(vbid) {
					fs.freeDataBlock()
				}
			}
		}
		fs.freeDataBlock()
	}

	blockNo, bitInBlock := fs.lo.BitmapLocation(ino.ID)
	block := make([]byte, layout.BlockSize)
	if err := fs.dev.Get(int64(blockNo), block); err != nil {
		return bfserrors.NewServerError("freeInode", int64(blockNo), err)
	}
	fsobjects.ClearBit(block, bitInBlock)
	if err := fs.dev.Put(int64(blockNo), block); err != nil {
		return bfserrors.NewServerError("freeInode", int64(blockNo), err)
	}

	if err := fs.putInode(fsobjects.Inode{ID: ino.ID}); err != nil {
		return err
	}

	fs.sb.FreeInodes++
	return fs.writeSuperblock()
}

// allocDataBlock advances the monotonic next_vbid cursor (spec §4.7:
// "Data-block allocation is a monotonic counter next_vbid ... Dealloc
// simply increments free_data_blocks ... no reuse occurs during a
// session").
func (fs *FileSystem) allocDataBlock() (uint64, error) {
	if fs.sb.FreeDataBlocks == 0 {
		return 0, bfserrors.NoSpace("no free data blocks")
	}
	vbid := fs.sb.NextVbid
	if !fs.lo.IsDataVbid(vbid) {
		return 0, bfserrors.NoSpace("data region exhausted")
	}

	fs.sb.NextVbid++
	fs.sb.FreeDataBlocks--
	if err := fs.writeSuperblock(); err != nil {
		return 0, err
	}
	return vbid, nil
}

// freeDataBlock increments the free-block count. No block is actually
// reclaimed during a session, matching the monotonic-allocation design.
func (fs *FileSystem) freeDataBlock() {
	fs.sb.FreeDataBlocks++
}
