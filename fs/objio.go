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

// readInodeRaw fetches inode id directly from the inode table (not tree-
// or AEAD-protected; spec §4.5 scopes the block-security pipeline to the
// data region only).
func (fs *FileSystem) readInodeRaw(id uint64) (fsobjects.Inode, error) {
	blockNo, offset := fs.lo.InodeLocation(id)
	block := make([]byte, layout.BlockSize)
	if err := fs.dev.Get(int64(blockNo), block); err != nil {
		return fsobjects.Inode{}, bfserrors.NewServerError("readInodeRaw", int64(id), err)
	}
	ino, err := fsobjects.DecodeInode(block[offset : offset+layout.InodeSize])
	if err != nil {
		return fsobjects.Inode{}, bfserrors.NewServerError("readInodeRaw", int64(id), err)
	}
	return ino, nil
}

// writeInodeRaw splices ino into its table slot and writes the block back.
func (fs *FileSystem) writeInodeRaw(ino fsobjects.Inode) error {
	blockNo, offset := fs.lo.InodeLocation(ino.ID)
	block := make([]byte, layout.BlockSize)
	if err := fs.dev.Get(int64(blockNo), block); err != nil {
		return bfserrors.NewServerError("writeInodeRaw", int64(ino.ID), err)
	}
	copy(block[offset:offset+layout.InodeSize], fsobjects.EncodeInode(ino))
	if err := fs.dev.Put(int64(blockNo), block); err != nil {
		return bfserrors.NewServerError("writeInodeRaw", int64(ino.ID), err)
	}
	return nil
}

// writeSuperblock persists fs.sb to block 0. Called after every field
// mutation so a crash never loses an allocation decision that was already
// handed out to a caller.
func (fs *FileSystem) writeSuperblock() error {
	if err := fs.dev.Put(layout.SuperblockNum, fsobjects.EncodeSuperblock(fs.sb)); err != nil {
		return bfserrors.NewServerError("writeSuperblock", layout.SuperblockNum, err)
	}
	return nil
}

// readIndirectBlock reads and decodes the indirect block at vbid through
// the block security layer (indirect blocks live in the data region and
// are fully encrypted and tree-verified).
func (fs *FileSystem) readIndirectBlock(vbid uint64) (fsobjects.IndirectBlock, error) {
	pt, err := fs.bs.ReadBlock(vbid)
	if err != nil {
		return fsobjects.IndirectBlock{}, err
	}
	return fsobjects.DecodeIndirectBlock(pt)
}

// writeIndirectBlock encodes and writes ib to vbid through the block
// security layer.
func (fs *FileSystem) writeIndirectBlock(vbid uint64, ib fsobjects.IndirectBlock) error {
	return fs.bs.WriteBlock(vbid, fsobjects.EncodeIndirectBlock(ib))
}

// blockPointer resolves the vbid backing logical block index bi of ino,
// allocating direct or indirect storage on demand when alloc is true
// (the write path); on the read path (alloc=false) a hole returns
// (0, false, false, nil). fresh reports whether this call allocated a
// brand-new block (so its content need not be read back before a
// partial-block write splices into it).
func (fs *FileSystem) blockPointer(ino *fsobjects.Inode, bi uint64, alloc bool) (vbid uint64, ok bool, fresh bool, err error) {
	if bi < layout.NumDirectBlocks {
		if ino.Direct[bi] != 0 {
			return ino.Direct[bi], true, false, nil
		}
		if !alloc {
			return 0, false, false, nil
		}
		nb, err := fs.allocDataBlock()
		if err != nil {
			return 0, false, false, err
		}
		ino.Direct[bi] = nb
		return nb, true, true, nil
	}

	ii := bi - layout.NumDirectBlocks
	if ii >= layout.IndirectCap {
		return 0, false, false, bfserrors.NoSpace("file exceeds maximum indirect-addressable size")
	}

	if ino.Indirect == 0 {
		if !alloc {
			return 0, false, false, nil
		}
		nb, err := fs.allocDataBlock()
		if err != nil {
			return 0, false, false, err
		}
		ino.Indirect = nb
		if err := fs.writeIndirectBlock(nb, fsobjects.IndirectBlock{}); err != nil {
			return 0, false, false, err
		}
	}

	ib, err := fs.readIndirectBlock(ino.Indirect)
	if err != nil {
		return 0, false, false, err
	}

	if ib[ii] != 0 {
		return ib[ii], true, false, nil
	}
	if !alloc {
		return 0, false, false, nil
	}

	nb, err := fs.allocDataBlock()
	if err != nil {
		return 0, false, false, err
	}
	ib[ii] = nb
	if err := fs.writeIndirectBlock(ino.Indirect, ib); err != nil {
		return 0, false, false, err
	}
	return nb, true, true, nil
}
