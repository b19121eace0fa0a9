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

// Mode bits mirror POSIX st_mode: the type occupies the high bits, the
// permission bits occupy the low 9.
const (
	ModeTypeMask = 0xF000
	ModeIFDIR    = 0x4000
	ModeIFREG    = 0x8000
	ModeIFLNK    = 0xA000
	ModePermMask = 0x01FF
)

// Inode is the in-memory form of the 256-byte packed on-disk inode record
// (spec §6): id, uid, mode, ref_cnt, a/m/ctime, size, links, 12 direct
// pointers, 1 indirect pointer.
type Inode struct {
	ID      uint64
	UID     uint32
	Mode    uint32 // type (ModeIFDIR/ModeIFREG/ModeIFLNK) | permission bits
	RefCnt  uint64 // open-file reference count
	Atime   int64  // unix nanoseconds
	Mtime   int64
	Ctime   int64
	Size    uint64
	Links   uint64 // directory child count (i_links); unused on regular files

	Direct   [layout.NumDirectBlocks]uint64 // 0 == unallocated hole
	Indirect uint64                         // 0 == no indirect block allocated
}

// IsDir, IsRegular, IsSymlink read the type bits out of Mode.
func (ino Inode) IsDir() bool     { return ino.Mode&ModeTypeMask == ModeIFDIR }
func (ino Inode) IsRegular() bool { return ino.Mode&ModeTypeMask == ModeIFREG }
func (ino Inode) IsSymlink() bool { return ino.Mode&ModeTypeMask == ModeIFLNK }

// Perm returns the permission bits alone.
func (ino Inode) Perm() uint32 { return ino.Mode & ModePermMask }

// EncodeInode packs ino into a fixed layout.InodeSize-byte record.
func EncodeInode(ino Inode) []byte {
	buf := make([]byte, layout.InodeSize)
	binary.LittleEndian.PutUint64(buf[0:8], ino.ID)
	binary.LittleEndian.PutUint32(buf[8:12], ino.UID)
	binary.LittleEndian.PutUint32(buf[12:16], ino.Mode)
	binary.LittleEndian.PutUint64(buf[16:24], ino.RefCnt)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(ino.Atime))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(ino.Mtime))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(ino.Ctime))
	binary.LittleEndian.PutUint64(buf[48:56], ino.Size)
	binary.LittleEndian.PutUint64(buf[56:64], ino.Links)

	off := 64
	for i := 0; i < len(ino.Direct); i++ {
		binary.LittleEndian.PutUint64(buf[off:off+8], ino.Direct[i])
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:off+8], ino.Indirect)

	return buf
}

// DecodeInode unpacks a layout.InodeSize-byte record.
func DecodeInode(buf []byte) (Inode, error) {
	if len(buf) < layout.InodeSize {
		return Inode{}, fmt.Errorf("fsobjects: inode buffer too short")
	}

	ino := Inode{
		ID:     binary.LittleEndian.Uint64(buf[0:8]),
		UID:    binary.LittleEndian.Uint32(buf[8:12]),
		Mode:   binary.LittleEndian.Uint32(buf[12:16]),
		RefCnt: binary.LittleEndian.Uint64(buf[16:24]),
		Atime:  int64(binary.LittleEndian.Uint64(buf[24:32])),
		Mtime:  int64(binary.LittleEndian.Uint64(buf[32:40])),
		Ctime:  int64(binary.LittleEndian.Uint64(buf[40:48])),
		Size:   binary.LittleEndian.Uint64(buf[48:56]),
		Links:  binary.LittleEndian.Uint64(buf[56:64]),
	}

	off := 64
	for i := 0; i < len(ino.Direct); i++ {
		ino.Direct[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	ino.Indirect = binary.LittleEndian.Uint64(buf[off : off+8])

	return ino, nil
}

// IsAllocated reports whether the inode's table slot holds a live inode,
// by the same "id 0 means free" convention the bitmap tracks
// independently (spec invariant P4 ties the two together).
func (ino Inode) IsAllocated() bool {
	return ino.ID != 0
}
