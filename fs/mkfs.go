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

	"github.com/blockvault/bfs/internal/blockdev"
	"github.com/blockvault/bfs/internal/blocksec"
	"github.com/blockvault/bfs/internal/fsobjects"
	"github.com/blockvault/bfs/internal/layout"
	"github.com/blockvault/bfs/internal/merkle"
	"github.com/blockvault/bfs/internal/metaregion"
	"github.com/blockvault/bfs/internal/secassoc"
)

// rootInodeID is the well-known inode number for "/".
const rootInodeID = 1

// Format writes a fresh superblock, an empty Merkle tree, and a root
// directory containing "." and ".." onto dev, which must already be sized
// to hold numBlocks blocks (blockdev.Open's initialBlocks argument does
// this). This is the mkfs path of spec §8 scenario 1. The superblock is
// first written with State=Formatting so a crash mid-format leaves a
// mark distinct from both Uninit and a completed Formatted volume, then
// rewritten in full with State=Formatted once every region is laid out.
func Format(dev *blockdev.BlockDevice, ownSA *secassoc.SecAssociation, numInodes, numBlocks uint64) error {
	formatting := fsobjects.Superblock{State: fsobjects.StateFormatting}
	if err := dev.Put(layout.SuperblockNum, fsobjects.EncodeSuperblock(formatting)); err != nil {
		return err
	}

	lo := layout.New(numInodes, numBlocks)
	mr := metaregion.New(dev, lo, ownSA)

	bs := blocksec.New(dev, ownSA, mr, nil, lo)
	tree := merkle.New(ownSA, mr, bs, lo.DataLen, lo.DataStart, true)
	bs.SetTree(tree)
	if err := tree.InitEmpty(); err != nil {
		return err
	}

	zero := make([]byte, layout.BlockSize)
	for b := lo.IbitmapStart; b < lo.IbitmapStart+lo.IbitmapLen; b++ {
		if err := dev.Put(int64(b), zero); err != nil {
			return err
		}
	}
	for b := lo.ItableStart; b < lo.ItableStart+lo.ItableLen; b++ {
		if err := dev.Put(int64(b), zero); err != nil {
			return err
		}
	}

	blockNo, bitInBlock := lo.BitmapLocation(rootInodeID)
	bitmapBlock := make([]byte, layout.BlockSize)
	if err := dev.Get(int64(blockNo), bitmapBlock); err != nil {
		return err
	}
	// Inode 0 is reserved: a dirent with InodeID 0 marks a free slot, so
	// no live inode may carry that number.
	fsobjects.SetBit(bitmapBlock, 0)
	fsobjects.SetBit(bitmapBlock, bitInBlock)
	if err := dev.Put(int64(blockNo), bitmapBlock); err != nil {
		return err
	}

	now := time.Now().UnixNano()
	rootIno := fsobjects.Inode{
		ID:    rootInodeID,
		UID:   0,
		Mode:  fsobjects.ModeIFDIR | 0o755,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Links: 2,
		Size:  layout.BlockSize,
	}
	rootIno.Direct[0] = lo.DataStart

	dirBlock, err := fsobjects.EncodeDirentBlock([]fsobjects.Dirent{
		{InodeID: rootInodeID, Name: "."},
		{InodeID: rootInodeID, Name: ".."},
	})
	if err != nil {
		return err
	}
	if err := bs.WriteBlock(lo.DataStart, dirBlock); err != nil {
		return err
	}

	itBlockNo, itOffset := lo.InodeLocation(rootInodeID)
	itBlock := make([]byte, layout.BlockSize)
	if err := dev.Get(int64(itBlockNo), itBlock); err != nil {
		return err
	}
	copy(itBlock[itOffset:itOffset+layout.InodeSize], fsobjects.EncodeInode(rootIno))
	if err := dev.Put(int64(itBlockNo), itBlock); err != nil {
		return err
	}

	sb := fsobjects.Superblock{
		Magic:            layout.Magic,
		BlockSize:        layout.BlockSize,
		InodeSize:        layout.InodeSize,
		NumBlocks:        numBlocks,
		NumDataBlocks:    lo.DataLen,
		NumInodes:        numInodes,
		FreeDataBlocks:   lo.DataLen - 1,
		FreeInodes:       numInodes - 2,
		FirstDataBlkLoc:  lo.DataStart,
		NextVbid:         lo.DataStart + 1,
		RootInodeID:      rootInodeID,
		FirstUnresvInode: rootInodeID + 1,
		State:            fsobjects.StateFormatted,
	}
	if err := dev.Put(layout.SuperblockNum, fsobjects.EncodeSuperblock(sb)); err != nil {
		return err
	}

	return dev.Sync()
}
