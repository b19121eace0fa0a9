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

package blocksec

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/blockvault/bfs/internal/bfserrors"
	"github.com/blockvault/bfs/internal/blockdev"
	"github.com/blockvault/bfs/internal/layout"
	"github.com/blockvault/bfs/internal/merkle"
	"github.com/blockvault/bfs/internal/metaregion"
	"github.com/blockvault/bfs/internal/secassoc"
	"github.com/stretchr/testify/require"
)

const testNumLeaves = 8 // power of two, merkle.Tree's array layout requires it

func newTestLayer(t *testing.T) (*Layer, *metaregion.MetaRegion, layout.Layout) {
	t.Helper()

	lo := layout.New(64, 512)
	dev, err := blockdev.Open(filepath.Join(t.TempDir(), "image.bfs"), layout.BlockSize, int64(lo.NumBlocks))
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	key := bytes.Repeat([]byte{0x07}, secassoc.KeyLen)
	sa, err := secassoc.New(key)
	require.NoError(t, err)

	mr := metaregion.New(dev, lo, sa)
	layer := New(dev, sa, mr, nil, lo)
	tree := merkle.New(sa, mr, layer, testNumLeaves, lo.DataStart, true)
	layer.SetTree(tree)
	require.NoError(t, tree.InitEmpty())

	return layer, mr, lo
}

func TestWriteReadBlockRoundTrip(t *testing.T) {
	layer, _, lo := newTestLayer(t)

	want := bytes.Repeat([]byte{0x42}, layout.BlockSize)
	require.NoError(t, layer.WriteBlock(lo.DataStart, want))

	got, err := layer.ReadBlock(lo.DataStart)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLeafIsLiteralMetaTag(t *testing.T) {
	layer, mr, lo := newTestLayer(t)

	require.NoError(t, layer.WriteBlock(lo.DataStart, bytes.Repeat([]byte{0x99}, layout.BlockSize)))

	slot, err := mr.ReadMeta(lo.DataStart)
	require.NoError(t, err)

	leaf, err := layer.Leaf(lo.DataStart)
	require.NoError(t, err)
	require.Equal(t, slot.Tag[:], leaf)
}

// TestReadBlockDetectsTagTampering exercises spec's mandatory integrity
// scenario: corrupting a block's on-disk tag must fail the subsequent
// read with a server-fatal error, never a silent ordinary failure.
func TestReadBlockDetectsTagTampering(t *testing.T) {
	layer, mr, lo := newTestLayer(t)

	require.NoError(t, layer.WriteBlock(lo.DataStart, bytes.Repeat([]byte{0x11}, layout.BlockSize)))

	slot, err := mr.ReadMeta(lo.DataStart)
	require.NoError(t, err)
	tampered := slot.Tag
	tampered[0] ^= 0xFF
	require.NoError(t, mr.WriteMeta(lo.DataStart, slot.Nonce[:], tampered[:]))

	_, err = layer.ReadBlock(lo.DataStart)
	require.Error(t, err)
	require.True(t, bfserrors.IsServerFatal(err))
}
