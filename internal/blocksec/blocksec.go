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

// Package blocksec implements the block security layer (spec §4.5):
// ReadBlock decrypts and Merkle-verifies a data-region vbid against its
// meta-region tag; WriteBlock re-encrypts with a fresh nonce, records the
// new (nonce, tag) in the meta region, and pushes that tag into the
// Merkle tree as the vbid's new leaf. Package fs reads and writes data-
// region blocks (file data, directory and indirect blocks) through this
// type; the superblock, inode bitmap and inode table lie outside the data
// region and package fs reads and writes them through blockdev directly.
package blocksec

import (
	"fmt"

	"github.com/blockvault/bfs/internal/bfserrors"
	"github.com/blockvault/bfs/internal/blockdev"
	"github.com/blockvault/bfs/internal/layout"
	"github.com/blockvault/bfs/internal/merkle"
	"github.com/blockvault/bfs/internal/metaregion"
	"github.com/blockvault/bfs/internal/secassoc"
)

// Layer wires the block device, the server's own SecAssociation, the meta
// region, and the Merkle tree into one read_blk/write_blk contract.
type Layer struct {
	dev  *blockdev.BlockDevice
	sa   *secassoc.SecAssociation
	mr   *metaregion.MetaRegion
	tree *merkle.Tree
	lo   layout.Layout
}

// New constructs a Layer. tree may be nil when the Layer is only being
// used as a merkle.LeafSource to build the tree itself (Leaf never reads
// l.tree); callers that construct the tree this way must call SetTree
// before ReadBlock or WriteBlock are used.
func New(dev *blockdev.BlockDevice, sa *secassoc.SecAssociation, mr *metaregion.MetaRegion, tree *merkle.Tree, lo layout.Layout) *Layer {
	return &Layer{dev: dev, sa: sa, mr: mr, tree: tree, lo: lo}
}

// SetTree attaches the Merkle tree after construction, for the
// Leaf-as-bootstrap-source ordering described on New.
func (l *Layer) SetTree(tree *merkle.Tree) { l.tree = tree }

// Leaf is the literal AEAD tag for vbid, matching merkle.LeafSource's
// contract when the layer is handed to merkle.New.
func (l *Layer) Leaf(vbid uint64) ([]byte, error) {
	slot, err := l.mr.ReadMeta(vbid)
	if err != nil {
		return nil, err
	}
	out := make([]byte, layout.TagSize)
	copy(out, slot.Tag[:])
	return out, nil
}

// ReadBlock verifies vbid's meta-region tag against the Merkle tree and
// decrypts vbid's current ciphertext, returning the plaintext.
func (l *Layer) ReadBlock(vbid uint64) ([]byte, error) {
	if !l.lo.IsDataVbid(vbid) {
		return nil, bfserrors.NewServerError("ReadBlock", int64(vbid), fmt.Errorf("vbid outside data region"))
	}

	ct := make([]byte, layout.BlockSize)
	if err := l.dev.Get(int64(vbid), ct); err != nil {
		return nil, bfserrors.NewServerError("ReadBlock", int64(vbid), err)
	}

	slot, err := l.mr.ReadMeta(vbid)
	if err != nil {
		return nil, bfserrors.NewServerError("ReadBlock", int64(vbid), err)
	}

	if err := l.tree.Verify(vbid, slot.Tag[:]); err != nil {
		return nil, bfserrors.IntegrityViolation("ReadBlock", int64(vbid), err.Error())
	}

	aad := vbidAAD(vbid)
	pt, err := l.sa.Decrypt(ct, aad, slot.Nonce[:], slot.Tag[:])
	if err != nil {
		return nil, bfserrors.IntegrityViolation("ReadBlock", int64(vbid), "AEAD authentication failed")
	}
	return pt, nil
}

// WriteBlock encrypts plaintext (exactly layout.BlockSize bytes) under a
// fresh random nonce, persists ciphertext+meta+tree root, in that order so
// a crash mid-write never leaves the tree pointing at ciphertext that
// was never durably stored.
func (l *Layer) WriteBlock(vbid uint64, plaintext []byte) error {
	if !l.lo.IsDataVbid(vbid) {
		return bfserrors.NewServerError("WriteBlock", int64(vbid), fmt.Errorf("vbid outside data region"))
	}
	if len(plaintext) != layout.BlockSize {
		return bfserrors.NewServerError("WriteBlock", int64(vbid), fmt.Errorf("plaintext length %d != block size", len(plaintext)))
	}

	aad := vbidAAD(vbid)
	ct, nonce, tag, err := l.sa.Encrypt(plaintext, aad)
	if err != nil {
		return bfserrors.NewServerError("WriteBlock", int64(vbid), err)
	}

	if err := l.dev.Put(int64(vbid), ct); err != nil {
		return bfserrors.NewServerError("WriteBlock", int64(vbid), err)
	}
	if err := l.mr.WriteMeta(vbid, nonce, tag); err != nil {
		return bfserrors.NewServerError("WriteBlock", int64(vbid), err)
	}

	if err := l.tree.Update(vbid, tag); err != nil {
		return bfserrors.NewServerError("WriteBlock", int64(vbid), err)
	}
	return nil
}

// vbidAAD binds ciphertext to its block address so that swapping two
// ciphertexts between vbids fails authentication even if both carry valid
// tags for their original position.
func vbidAAD(vbid uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(vbid >> (8 * i))
	}
	return b[:]
}
