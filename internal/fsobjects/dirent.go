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

package fsobjects

import (
	"encoding/binary"
	"fmt"

	"github.com/blockvault/bfs/internal/layout"
)

// Dirent is one fixed-size slot in a directory's data blocks: an inode ID
// plus a NUL-padded name. InodeID == 0 marks a free (deleted or
// never-used) slot, the same "free by zero" convention the inode bitmap
// avoids having to consult for directory scans.
type Dirent struct {
	InodeID uint64
	Name    string
}

const direntWireSize = 8 + layout.MaxFileNameLen + 1

// EncodeDirent packs d into a fixed direntWireSize-byte record.
func EncodeDirent(d Dirent) ([]byte, error) {
	if len(d.Name) > layout.MaxFileNameLen {
		return nil, fmt.Errorf("fsobjects: name %q exceeds %d bytes", d.Name, layout.MaxFileNameLen)
	}
	buf := make([]byte, direntWireSize)
	binary.LittleEndian.PutUint64(buf[0:8], d.InodeID)
	copy(buf[8:], d.Name)
	return buf, nil
}

// DecodeDirent unpacks a direntWireSize-byte record.
func DecodeDirent(buf []byte) (Dirent, error) {
	if len(buf) < direntWireSize {
		return Dirent{}, fmt.Errorf("fsobjects: dirent buffer too short")
	}
	id := binary.LittleEndian.Uint64(buf[0:8])
	nameBuf := buf[8:direntWireSize]
	nul := len(nameBuf)
	for i, b := range nameBuf {
		if b == 0 {
			nul = i
			break
		}
	}
	return Dirent{InodeID: id, Name: string(nameBuf[:nul])}, nil
}

// DirentsPerBlock is how many fixed-size Dirent slots fit in one data
// block's directory content.
const DirentsPerBlock = layout.BlockSize / direntWireSize

// EncodeDirentBlock packs up to DirentsPerBlock entries into one
// plaintext data block, zero-filling unused slots.
func EncodeDirentBlock(entries []Dirent) ([]byte, error) {
	if len(entries) > DirentsPerBlock {
		return nil, fmt.Errorf("fsobjects: %d dirents exceeds %d per block", len(entries), DirentsPerBlock)
	}
	block := make([]byte, layout.BlockSize)
	for i, d := range entries {
		raw, err := EncodeDirent(d)
		if err != nil {
			return nil, err
		}
		copy(block[i*direntWireSize:], raw)
	}
	return block, nil
}

// DecodeDirentBlock unpacks every non-free slot in a plaintext data block.
func DecodeDirentBlock(block []byte) ([]Dirent, error) {
	if len(block) < layout.BlockSize {
		return nil, fmt.Errorf("fsobjects: dirent block buffer too short")
	}
	var out []Dirent
	for i := 0; i < DirentsPerBlock; i++ {
		raw := block[i*direntWireSize : (i+1)*direntWireSize]
		d, err := DecodeDirent(raw)
		if err != nil {
			return nil, err
		}
		if d.InodeID == 0 {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// DirentSlot decodes slot i (0-indexed) out of a raw plaintext directory
// data block, for callers that need to address a specific slot (the
// FIND_EMPTY and rename/unlink overwrite paths).
func DirentSlot(block []byte, i int) (Dirent, error) {
	if i < 0 || i >= DirentsPerBlock {
		return Dirent{}, fmt.Errorf("fsobjects: slot index %d out of range", i)
	}
	return DecodeDirent(block[i*direntWireSize : (i+1)*direntWireSize])
}

// PutDirentSlot splices d into slot i of a raw plaintext directory data
// block.
func PutDirentSlot(block []byte, i int, d Dirent) error {
	if i < 0 || i >= DirentsPerBlock {
		return fmt.Errorf("fsobjects: slot index %d out of range", i)
	}
	raw, err := EncodeDirent(d)
	if err != nil {
		return err
	}
	copy(block[i*direntWireSize:], raw)
	return nil
}

// IndirectBlock is a packed array of layout.IndirectCap vbid pointers
// (0 == hole), the inode's sole level of indirection beyond its 12 direct
// pointers.
type IndirectBlock [layout.IndirectCap]uint64

// EncodeIndirectBlock packs ib into a plaintext data block.
func EncodeIndirectBlock(ib IndirectBlock) []byte {
	block := make([]byte, layout.BlockSize)
	for i, v := range ib {
		binary.LittleEndian.PutUint64(block[i*layout.IndirectEntrySz:], v)
	}
	return block
}

// DecodeIndirectBlock unpacks a plaintext data block into an IndirectBlock.
func DecodeIndirectBlock(block []byte) (IndirectBlock, error) {
	var ib IndirectBlock
	if len(block) < layout.BlockSize {
		return ib, fmt.Errorf("fsobjects: indirect block buffer too short")
	}
	for i := range ib {
		ib[i] = binary.LittleEndian.Uint64(block[i*layout.IndirectEntrySz:])
	}
	return ib, nil
}
