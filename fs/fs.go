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

// Package fs implements the filesystem operations engine (spec §4.7):
// getattr, mkdir, rmdir, unlink, rename, create, open, read, write,
// fsync, release, opendir, readdir, chmod, plus the supplemented truncate
// and statfs. It is the sole caller of internal/blocksec, the sole owner
// of the inode and dentry caches, and the only place lock ordering
// between the filesystem-wide mutex and per-object locks is decided.
//
// Lock ordering, matching the discipline gcsfuse's fs.fileSystem
// documents for its own InvariantMutex: fs.mu is acquired first and
// guards the superblock, the open-file table's shape, and cache
// membership; per-inode locks (held via *inode.Cached) are acquired only
// while fs.mu is held or after it has been released, never the other
// order. Eviction callbacks (flushInode) run under the fs.mu already held
// by the operation that triggered the eviction and take only the evicted
// entry's own lock.
package fs

import (
	"fmt"

	"github.com/blockvault/bfs/clock"
	"github.com/blockvault/bfs/fs/inode"
	"github.com/blockvault/bfs/internal/aclcheck"
	"github.com/blockvault/bfs/internal/bfserrors"
	"github.com/blockvault/bfs/internal/blockdev"
	"github.com/blockvault/bfs/internal/blocksec"
	"github.com/blockvault/bfs/internal/cache"
	"github.com/blockvault/bfs/internal/fsobjects"
	"github.com/blockvault/bfs/internal/layout"
	"github.com/blockvault/bfs/internal/merkle"
	"github.com/blockvault/bfs/internal/metaregion"
	"github.com/blockvault/bfs/internal/metrics"
	"github.com/blockvault/bfs/internal/secassoc"
	"github.com/jacobsa/syncutil"
)

// Config collects the knobs FileSystem needs beyond the already-open
// block device and keys (spec §6 bfsUtilLayer.* / bfsCommon.*).
type Config struct {
	CacheSizeLimit int
	CacheEnabled   bool
	MerkleParanoid bool
	ACL            aclcheck.Checker
	Clock          clock.Clock
	Metrics        *metrics.Recorder
}

// FileSystem is the mounted, ready-to-serve handle for one formatted
// volume.
type FileSystem struct {
	mu syncutil.InvariantMutex

	dev *blockdev.BlockDevice
	bs  *blocksec.Layer
	lo  layout.Layout
	sb  fsobjects.Superblock

	inodes   *cache.Cache[uint64, *inode.Cached]
	dentries *cache.Cache[string, uint64]

	files *openFileTable

	acl     aclcheck.Checker
	clk     clock.Clock
	metrics *metrics.Recorder
}

// Mount opens an already-formatted volume: reads and validates the
// superblock, rebuilds the Merkle tree in memory and verifies its root
// (refusing to mount on mismatch per spec §4.4), and wires up the caches.
func Mount(dev *blockdev.BlockDevice, ownSA *secassoc.SecAssociation, cfg Config) (*FileSystem, error) {
	sbBlock := make([]byte, layout.BlockSize)
	if err := dev.Get(layout.SuperblockNum, sbBlock); err != nil {
		return nil, bfserrors.NewServerError("Mount", 0, err)
	}
	sb, err := fsobjects.DecodeSuperblock(sbBlock)
	if err != nil {
		return nil, bfserrors.IntegrityViolation("Mount", 0, err.Error())
	}

	lo := layout.New(sb.NumInodes, sb.NumBlocks)
	mr := metaregion.New(dev, lo, ownSA)

	fs := &FileSystem{dev: dev, lo: lo, sb: sb, acl: cfg.ACL, clk: cfg.Clock, metrics: cfg.Metrics}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	bs := blocksec.New(dev, ownSA, mr, nil, lo)
	tree := merkle.New(ownSA, mr, bs, lo.DataLen, lo.DataStart, cfg.MerkleParanoid)
	bs.SetTree(tree)
	fs.bs = bs

	if err := tree.InitFromDevice(); err != nil {
		return nil, bfserrors.IntegrityViolation("Mount", 0, "merkle root mismatch on mount")
	}

	switch sb.State {
	case fsobjects.StateCorrupted:
		return nil, bfserrors.IntegrityViolation("Mount", 0, "superblock marked corrupted")
	case fsobjects.StateFormatted:
		// expected steady state after a clean Format or Unmount.
	case fsobjects.StateMounted:
		// a crash left the superblock marked Mounted without an
		// intervening Unmount; the Merkle root check above already
		// confirmed the data region is intact, so remounting is safe.
	default:
		return nil, bfserrors.IntegrityViolation("Mount", 0, fmt.Sprintf("volume not formatted (state %d)", sb.State))
	}

	cacheCap := cfg.CacheSizeLimit
	if cacheCap <= 0 {
		cacheCap = 1024
	}
	fs.inodes = cache.New[uint64, *inode.Cached](cacheCap, fs.flushInode)
	fs.dentries = cache.New[string, uint64](cacheCap, nil)
	fs.files = newOpenFileTable()

	if fs.acl == nil {
		fs.acl = aclcheck.AllowAll{}
	}
	if fs.clk == nil {
		fs.clk = clock.RealClock{}
	}

	sb.State = fsobjects.StateMounted
	fs.sb = sb
	if err := fs.writeSuperblock(); err != nil {
		return nil, err
	}

	return fs, nil
}

// flushInode is the inode cache's eviction callback (spec §4.6): it
// writes the object back through writeInodeRaw iff dirty.
func (fs *FileSystem) flushInode(id uint64, c *inode.Cached) error {
	c.Lock()
	defer c.Unlock()
	if !c.Dirty() {
		return nil
	}
	if err := fs.writeInodeRaw(c.Get()); err != nil {
		return err
	}
	c.ClearDirty()
	return nil
}

// checkInvariants is called by the InvariantMutex on every Lock/Unlock
// under the race detector. It checks only that next_vbid has not fallen
// below the start of the data region.
func (fs *FileSystem) checkInvariants() {
	if fs.sb.NextVbid < fs.lo.DataStart {
		panic(fmt.Sprintf("fs: next_vbid %d precedes data region start %d", fs.sb.NextVbid, fs.lo.DataStart))
	}
}

// Unmount flushes every dirty cache entry, marks the superblock back to
// Formatted, and persists it.
func (fs *FileSystem) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.inodes.FlushAll(); err != nil {
		return err
	}
	fs.sb.State = fsobjects.StateFormatted
	return fs.writeSuperblock()
}

// getInode returns a copy of inode id, serving it from the inode cache on
// a hit and loading it from disk through readInodeRaw on a miss, caching
// the freshly loaded copy for next time.
func (fs *FileSystem) getInode(id uint64) (fsobjects.Inode, error) {
	if c, ok := fs.inodes.Get(id); ok {
		c.Lock()
		ino := c.Get()
		c.Unlock()
		return ino, nil
	}

	raw, err := fs.readInodeRaw(id)
	if err != nil {
		return fsobjects.Inode{}, err
	}
	c := inode.NewCached(raw)
	if err := fs.inodes.Put(id, c); err != nil {
		return fsobjects.Inode{}, err
	}
	return raw, nil
}

// putInode writes ino through to disk (spec §4.5's pipeline is
// write-through; the inode cache only accelerates reads) and refreshes
// or seeds the cache entry so the next getInode sees the new value
// without another disk round trip.
func (fs *FileSystem) putInode(ino fsobjects.Inode) error {
	if err := fs.writeInodeRaw(ino); err != nil {
		return err
	}
	if c, ok := fs.inodes.Get(ino.ID); ok {
		c.Lock()
		c.Set(ino)
		c.ClearDirty()
		c.Unlock()
		return nil
	}
	c := inode.NewCached(ino)
	return fs.inodes.Put(ino.ID, c)
}
