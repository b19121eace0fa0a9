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

package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/blockvault/bfs/clock"
	"github.com/blockvault/bfs/fs"
	"github.com/blockvault/bfs/internal/aclcheck"
	"github.com/blockvault/bfs/internal/blockdev"
	"github.com/blockvault/bfs/internal/buffer"
	"github.com/blockvault/bfs/internal/layout"
	"github.com/blockvault/bfs/internal/metaregion"
	"github.com/blockvault/bfs/internal/rpcwire"
	"github.com/blockvault/bfs/internal/secassoc"
	"github.com/stretchr/testify/require"
)

const (
	testNumInodes = 64
	testNumBlocks = 256
)

// mountTestVolume formats and mounts a fresh volume, returning the handle
// along with the raw device, key and layout needed to tamper with on-disk
// state directly, bypassing the filesystem's own write path.
func mountTestVolume(t *testing.T) (*fs.FileSystem, *blockdev.BlockDevice, *secassoc.SecAssociation, layout.Layout) {
	t.Helper()

	devPath := filepath.Join(t.TempDir(), "image.bfs")

	key := bytes.Repeat([]byte{0x23}, secassoc.KeyLen)
	sa, err := secassoc.New(key)
	require.NoError(t, err)

	dev, err := blockdev.Open(devPath, layout.BlockSize, testNumBlocks)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	require.NoError(t, fs.Format(dev, sa, testNumInodes, testNumBlocks))

	volume, err := fs.Mount(dev, sa, fs.Config{
		CacheSizeLimit: 32,
		CacheEnabled:   true,
		MerkleParanoid: true,
		ACL:            aclcheck.AllowAll{},
		Clock:          clock.RealClock{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { volume.Unmount() })

	return volume, dev, sa, layout.New(testNumInodes, testNumBlocks)
}

func readArgs(handle uint64, off uint64, n uint32) []byte {
	b := buffer.NewFlexBuffer(0, 0, nil)
	b.PutUint64(handle)
	b.PutUint64(off)
	b.PutUint32(n)
	return b.Payload()
}

func TestDispatchOrdinaryFailureReturnsErrorFrame(t *testing.T) {
	volume, _, _, _ := mountTestVolume(t)
	disp := newDispatcher(volume)

	resp, err := disp.Dispatch(rpcwire.Frame{
		Type: rpcwire.ToServer,
		Op:   rpcwire.OpRead,
		Args: readArgs(9999, 0, 16), // bad handle, never opened
	})
	require.NoError(t, err, "an ordinary request failure must not be session-fatal")
	require.Equal(t, rpcwire.FromServer, resp.Type)
}

// TestDispatchIntegrityViolationDropsSession exercises spec's mandatory
// tag-tampering scenario: a read whose Merkle verification fails must come
// back as a non-nil Dispatch error so the caller drops the connection,
// never as an ordinary error-frame response.
func TestDispatchIntegrityViolationDropsSession(t *testing.T) {
	volume, dev, sa, lo := mountTestVolume(t)
	disp := newDispatcher(volume)

	of, err := volume.Create(0, "/tampered.bin", 0o644)
	require.NoError(t, err)

	n, err := volume.Write(of.Handle, 0, bytes.Repeat([]byte{0x55}, layout.BlockSize))
	require.NoError(t, err)
	require.Equal(t, layout.BlockSize, n)

	// lo.DataStart holds the root directory; the file's first data block
	// is the next vbid the monotonic allocator hands out.
	fileVbid := lo.DataStart + 1
	mr := metaregion.New(dev, lo, sa)
	slot, err := mr.ReadMeta(fileVbid)
	require.NoError(t, err)
	tampered := slot.Tag
	tampered[0] ^= 0xFF
	require.NoError(t, mr.WriteMeta(fileVbid, slot.Nonce[:], tampered[:]))

	_, err = disp.Dispatch(rpcwire.Frame{
		Type: rpcwire.ToServer,
		Op:   rpcwire.OpRead,
		Args: readArgs(of.Handle, 0, 16),
	})
	require.Error(t, err, "a tampered block must drop the session, not return an error frame")
}
