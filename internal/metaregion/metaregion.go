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

// Package metaregion stores the packed (nonce, tag) record for every vbid
// in the reserved meta blocks (spec §4.3), plus the encrypted root-hash
// record in block 1. Meta blocks are stored in the clear: a tag alone
// reveals nothing beyond ciphertext equality, so encrypting them would buy
// no confidentiality while adding another thing that can fail to decrypt.
package metaregion

import (
	"fmt"
	"sync"

	"github.com/blockvault/bfs/internal/blockdev"
	"github.com/blockvault/bfs/internal/layout"
	"github.com/blockvault/bfs/internal/secassoc"
)

// rootHashAAD binds the root-hash record to its purpose so that ciphertext
// cannot be replayed into a different block.
var rootHashAAD = []byte("mt-root")

type Slot struct {
	Nonce [layout.NonceSize]byte
	Tag   [layout.TagSize]byte
}

// MetaRegion owns the per-block (nonce, tag) table and the root-hash
// record. Reads and writes happen one meta block at a time: the block is
// fetched from the device, the 28-byte slot is spliced in place, and the
// whole block is written back.
type MetaRegion struct {
	dev    *blockdev.BlockDevice
	lo     layout.Layout
	ownSA  *secassoc.SecAssociation

	mu sync.Mutex // serializes read-modify-write of meta blocks
}

func New(dev *blockdev.BlockDevice, lo layout.Layout, ownSA *secassoc.SecAssociation) *MetaRegion {
	return &MetaRegion{dev: dev, lo: lo, ownSA: ownSA}
}

// ReadMeta returns the (nonce, tag) slot recorded for vbid.
func (m *MetaRegion) ReadMeta(vbid uint64) (Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blockNo, offset := m.lo.MetaBlockFor(vbid)
	block := make([]byte, layout.BlockSize)
	if err := m.dev.Get(int64(blockNo), block); err != nil {
		return Slot{}, fmt.Errorf("metaregion: read meta block %d: %w", blockNo, err)
	}

	var s Slot
	copy(s.Nonce[:], block[offset:offset+layout.NonceSize])
	copy(s.Tag[:], block[offset+layout.NonceSize:offset+layout.MetaSlotSize])
	return s, nil
}

// WriteMeta splices (nonce, tag) into vbid's slot and writes the
// containing meta block back.
func (m *MetaRegion) WriteMeta(vbid uint64, nonce, tag []byte) error {
	if len(nonce) != layout.NonceSize || len(tag) != layout.TagSize {
		return fmt.Errorf("metaregion: bad nonce/tag length %d/%d", len(nonce), len(tag))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	blockNo, offset := m.lo.MetaBlockFor(vbid)
	block := make([]byte, layout.BlockSize)
	if err := m.dev.Get(int64(blockNo), block); err != nil {
		return fmt.Errorf("metaregion: read meta block %d: %w", blockNo, err)
	}

	copy(block[offset:offset+layout.NonceSize], nonce)
	copy(block[offset+layout.NonceSize:offset+layout.MetaSlotSize], tag)

	if err := m.dev.Put(int64(blockNo), block); err != nil {
		return fmt.Errorf("metaregion: write meta block %d: %w", blockNo, err)
	}
	return nil
}

// ReadRootHash decrypts and returns the 32-byte Merkle root persisted in
// block 1, verified with the server's own SecAssociation under AAD
// "mt-root".
func (m *MetaRegion) ReadRootHash() ([]byte, error) {
	block := make([]byte, layout.BlockSize)
	if err := m.dev.Get(layout.RootHashBlock, block); err != nil {
		return nil, fmt.Errorf("metaregion: read root-hash block: %w", err)
	}

	// Layout within the block: nonce || tag || ciphertext(32 bytes of hash).
	nonce := block[0:layout.NonceSize]
	tag := block[layout.NonceSize : layout.NonceSize+layout.TagSize]
	ct := block[layout.NonceSize+layout.TagSize : layout.NonceSize+layout.TagSize+32]

	pt, err := m.ownSA.Decrypt(ct, rootHashAAD, nonce, tag)
	if err != nil {
		return nil, fmt.Errorf("metaregion: decrypt root hash: %w", err)
	}
	return pt, nil
}

// WriteRootHash encrypts hash (32 bytes) and persists it to block 1.
func (m *MetaRegion) WriteRootHash(hash []byte) error {
	if len(hash) != 32 {
		return fmt.Errorf("metaregion: root hash must be 32 bytes, got %d", len(hash))
	}

	ct, nonce, tag, err := m.ownSA.Encrypt(hash, rootHashAAD)
	if err != nil {
		return fmt.Errorf("metaregion: encrypt root hash: %w", err)
	}

	block := make([]byte, layout.BlockSize)
	copy(block[0:layout.NonceSize], nonce)
	copy(block[layout.NonceSize:layout.NonceSize+layout.TagSize], tag)
	copy(block[layout.NonceSize+layout.TagSize:layout.NonceSize+layout.TagSize+len(ct)], ct)

	if err := m.dev.Put(layout.RootHashBlock, block); err != nil {
		return fmt.Errorf("metaregion: write root-hash block: %w", err)
	}
	return m.dev.Sync()
}
