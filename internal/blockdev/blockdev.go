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

// Package blockdev implements the fixed-size, random-access block store
// every higher layer reads and writes through. It is a thin wrapper over
// os.File's ReadAt/WriteAt, the same pattern the retrieval pack uses
// throughout for raw disk-image access (e.g. vorteil's image builders)
// rather than a buffered io.ReadWriteSeeker -- concurrent readers and
// writers at different offsets must not interfere with each other, which
// ReadAt/WriteAt guarantee and Seek+Read/Write do not.
package blockdev

import (
	"fmt"
	"os"
	"sync"
)

// BlockDevice is safe for concurrent use: Get and Put operate at whole-block
// granularity via pread/pwrite-style calls, which the OS already
// serializes per file description, and blockCount is read under a mutex
// since it can change as the device grows (format time only).
type BlockDevice struct {
	f         *os.File
	blockSize int

	mu         sync.RWMutex
	blockCount int64
}

// Open opens or creates path as a block device with the given block size.
// If the file is smaller than initialBlocks*blockSize, it is extended
// (sparse) to that size; this is the mkfs path. Opening an existing,
// already-sized file for mount passes initialBlocks=0.
func Open(path string, blockSize int, initialBlocks int64) (*BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}

	bd := &BlockDevice{f: f, blockSize: blockSize}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
	}

	wantSize := initialBlocks * int64(blockSize)
	if wantSize > info.Size() {
		if err := f.Truncate(wantSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
		}
		bd.blockCount = initialBlocks
	} else {
		bd.blockCount = info.Size() / int64(blockSize)
	}

	return bd, nil
}

// BlockSize returns the fixed block size this device was opened with.
func (bd *BlockDevice) BlockSize() int { return bd.blockSize }

// BlockCount returns the number of addressable blocks.
func (bd *BlockDevice) BlockCount() int64 {
	bd.mu.RLock()
	defer bd.mu.RUnlock()
	return bd.blockCount
}

// Get reads the block at pbid into buf, which must be exactly BlockSize()
// long.
func (bd *BlockDevice) Get(pbid int64, buf []byte) error {
	if len(buf) != bd.blockSize {
		return fmt.Errorf("blockdev: buf length %d != block size %d", len(buf), bd.blockSize)
	}
	if pbid < 0 || pbid >= bd.BlockCount() {
		return fmt.Errorf("blockdev: pbid %d out of range [0,%d)", pbid, bd.BlockCount())
	}

	off := pbid * int64(bd.blockSize)
	if _, err := bd.f.ReadAt(buf, off); err != nil {
		return fmt.Errorf("blockdev: ReadAt pbid %d: %w", pbid, err)
	}
	return nil
}

// Put writes buf (exactly BlockSize() long) to the block at pbid.
func (bd *BlockDevice) Put(pbid int64, buf []byte) error {
	if len(buf) != bd.blockSize {
		return fmt.Errorf("blockdev: buf length %d != block size %d", len(buf), bd.blockSize)
	}
	if pbid < 0 || pbid >= bd.BlockCount() {
		return fmt.Errorf("blockdev: pbid %d out of range [0,%d)", pbid, bd.BlockCount())
	}

	off := pbid * int64(bd.blockSize)
	if _, err := bd.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("blockdev: WriteAt pbid %d: %w", pbid, err)
	}
	return nil
}

// Sync flushes any OS-buffered writes to stable storage. Called by the
// Merkle tree's root-persistence step and by fsync.
func (bd *BlockDevice) Sync() error {
	return bd.f.Sync()
}

// Close releases the underlying file descriptor.
func (bd *BlockDevice) Close() error {
	return bd.f.Close()
}
