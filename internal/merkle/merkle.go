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

// Package merkle implements the integrity tree over the device's data-
// region vbid space (spec §4.4). Leaf i holds the literal AEAD tag of
// vbid i (spec §3, §4.4: "fill each leaf by reading the corresponding
// meta tag"); internal nodes are HMAC-SHA256(left || right), with the
// level directly above the leaves hashing two tags and every level above
// that hashing two HMAC outputs. The root is recomputed and persisted on
// every write; a read compares the block's tag with its leaf and, in
// paranoid mode, the in-memory root with the persisted one.
//
// The tree itself is never persisted as a whole -- only its root, via
// metaregion.WriteRootHash. Internal nodes are recomputed bottom-up on
// every mutation from the leaf upward, same cost as a textbook Merkle
// update: O(log N) HMACs per block touched.
package merkle

import (
	"fmt"
	"sync"

	"github.com/blockvault/bfs/internal/metaregion"
	"github.com/blockvault/bfs/internal/secassoc"
)

// LeafSource supplies the current AEAD tag for a data-region vbid so the
// tree can recompute that leaf without owning block storage itself.
type LeafSource interface {
	// Leaf returns vbid's current AEAD tag, the literal value the tree
	// stores at that leaf (spec §3: "Leaf i...holds the AEAD tag of vbid
	// i").
	Leaf(vbid uint64) ([]byte, error)
}

// Tree is a binary Merkle tree over a fixed, power-of-two number of data
// leaves. Node i's children are at 2i+1 and 2i+2 in the conventional array
// layout; node 0 is the root.
type Tree struct {
	sa       *secassoc.SecAssociation
	mr       *metaregion.MetaRegion
	src      LeafSource
	numLeafs uint64
	dataBase uint64 // first data-region vbid, so leaf index = vbid - dataBase

	paranoid bool // re-verify root against metaregion on every read (spec Open Question)

	firstLeaf int // array index of the first leaf node

	mu    sync.Mutex
	nodes [][]byte // nodes[i]: a literal tag at the leaf level, an HMAC-SHA256 output elsewhere
}

// New builds a tree sized for numLeafs data blocks (rounded up to the next
// power of two internally is the caller's job -- layout.Layout.DataLen is
// expected to already be sized that way at mkfs time).
func New(sa *secassoc.SecAssociation, mr *metaregion.MetaRegion, src LeafSource, numLeafs, dataBase uint64, paranoid bool) *Tree {
	return &Tree{
		sa:        sa,
		mr:        mr,
		src:       src,
		numLeafs:  numLeafs,
		dataBase:  dataBase,
		paranoid:  paranoid,
		firstLeaf: int(numLeafs) - 1,
		nodes:     make([][]byte, 2*numLeafs-1),
	}
}

// childPerLen returns the byte length HMAC must require of parentIdx's two
// children: a tag length when those children are leaves, an HMAC output
// length everywhere else in the tree.
func (t *Tree) childPerLen(parentIdx int) int {
	if 2*parentIdx+1 >= t.firstLeaf {
		return secassoc.TagLen
	}
	return secassoc.HMACLen
}

func (t *Tree) leafIndex(vbid uint64) (int, error) {
	if vbid < t.dataBase || vbid >= t.dataBase+t.numLeafs {
		return 0, fmt.Errorf("merkle: vbid %d outside data region", vbid)
	}
	firstLeaf := t.numLeafs - 1
	return int(firstLeaf + (vbid - t.dataBase)), nil
}

func parent(i int) int { return (i - 1) / 2 }

// InitFromDevice rebuilds every node bottom-up by reading every leaf's
// current AEAD tag from src, then compares the computed root with the
// persisted one and returns an error if they differ. Used at mount time.
func (t *Tree) InitFromDevice() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < int(t.numLeafs); i++ {
		vbid := t.dataBase + uint64(i)
		tag, err := t.src.Leaf(vbid)
		if err != nil {
			return fmt.Errorf("merkle: read leaf vbid %d: %w", vbid, err)
		}
		t.nodes[t.firstLeaf+i] = append([]byte(nil), tag...)
	}

	for i := t.firstLeaf - 1; i >= 0; i-- {
		t.nodes[i] = t.sa.HMAC(t.nodes[2*i+1], t.nodes[2*i+2], t.childPerLen(i))
	}

	persisted, err := t.mr.ReadRootHash()
	if err != nil {
		return fmt.Errorf("merkle: read persisted root: %w", err)
	}
	if !bytesEqual(persisted, t.nodes[0]) {
		return fmt.Errorf("merkle: computed root does not match persisted root")
	}
	return nil
}

// InitEmpty seeds every leaf with the all-zero tag of a not-yet-written
// block instead of reading the device, for the mkfs path (spec §4.4
// "initial=true ... leaves are treated as uninitialized and filled
// lazily as blocks are first written"). Each leaf's real content is
// installed the first time Update touches it.
func (t *Tree) InitEmpty() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	emptyLeaf := make([]byte, secassoc.TagLen)
	for i := t.firstLeaf; i < len(t.nodes); i++ {
		t.nodes[i] = append([]byte(nil), emptyLeaf...)
	}
	for i := t.firstLeaf - 1; i >= 0; i-- {
		t.nodes[i] = t.sa.HMAC(t.nodes[2*i+1], t.nodes[2*i+2], t.childPerLen(i))
	}
	return t.mr.WriteRootHash(t.nodes[0])
}

// Verify confirms that vbid's current AEAD tag matches the literal value
// stored at its leaf in the in-memory tree. In paranoid mode it first
// re-reads the root from metaregion and requires it to match the
// in-memory root (spec Open Question: paranoid defaults true). It does
// not recompute HMACs along the leaf's path to the root.
func (t *Tree) Verify(vbid uint64, tag []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.paranoid {
		persisted, err := t.mr.ReadRootHash()
		if err != nil {
			return fmt.Errorf("merkle: read persisted root: %w", err)
		}
		if !bytesEqual(persisted, t.nodes[0]) {
			return fmt.Errorf("merkle: in-memory root diverged from persisted root")
		}
	}

	idx, err := t.leafIndex(vbid)
	if err != nil {
		return err
	}

	if !bytesEqual(tag, t.nodes[idx]) {
		return fmt.Errorf("merkle: leaf mismatch at vbid %d", vbid)
	}
	return nil
}

// Update installs vbid's new AEAD tag as the literal leaf value,
// propagates the change up to the root, and persists the new root.
func (t *Tree) Update(vbid uint64, tag []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, err := t.leafIndex(vbid)
	if err != nil {
		return err
	}

	t.nodes[idx] = append([]byte(nil), tag...)
	for idx != 0 {
		p := parent(idx)
		t.nodes[p] = t.sa.HMAC(t.nodes[2*p+1], t.nodes[2*p+2], t.childPerLen(p))
		idx = p
	}

	return t.mr.WriteRootHash(t.nodes[0])
}

// BatchUpdate recomputes and propagates several leaves in one pass, then
// persists the root once. Equivalent to calling Update for each vbid but
// avoids redundant root writes when a single operation touches an
// indirect block plus several data blocks.
func (t *Tree) BatchUpdate(leaves map[uint64][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	dirty := make(map[int]bool)
	for vbid, tag := range leaves {
		idx, err := t.leafIndex(vbid)
		if err != nil {
			return err
		}
		t.nodes[idx] = append([]byte(nil), tag...)
		dirty[idx] = true
	}

	for len(dirty) > 0 && !dirty[0] {
		next := make(map[int]bool)
		for idx := range dirty {
			p := parent(idx)
			t.nodes[p] = t.sa.HMAC(t.nodes[2*p+1], t.nodes[2*p+2], t.childPerLen(p))
			next[p] = true
		}
		dirty = next
	}

	return t.mr.WriteRootHash(t.nodes[0])
}

// Root returns the current in-memory root hash.
func (t *Tree) Root() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.nodes[0]))
	copy(out, t.nodes[0])
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
