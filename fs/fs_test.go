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
	"bytes"
	"path/filepath"
	"testing"

	"github.com/blockvault/bfs/clock"
	"github.com/blockvault/bfs/internal/aclcheck"
	"github.com/blockvault/bfs/internal/blockdev"
	"github.com/blockvault/bfs/internal/layout"
	"github.com/blockvault/bfs/internal/secassoc"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FileSystemTest struct {
	suite.Suite
	fs *FileSystem
}

func TestFileSystemSuite(t *testing.T) {
	suite.Run(t, new(FileSystemTest))
}

func (t *FileSystemTest) SetupTest() {
	dir := t.T().TempDir()
	devPath := filepath.Join(dir, "image.bfs")

	key := bytes.Repeat([]byte{0x11}, secassoc.KeyLen)
	sa, err := secassoc.New(key)
	require.NoError(t.T(), err)

	const numInodes, numBlocks = 64, 256
	lo := layout.New(numInodes, numBlocks)
	dev, err := blockdev.Open(devPath, layout.BlockSize, int64(lo.NumBlocks))
	require.NoError(t.T(), err)

	require.NoError(t.T(), Format(dev, sa, numInodes, numBlocks))

	volume, err := Mount(dev, sa, Config{
		CacheSizeLimit: 32,
		CacheEnabled:   true,
		MerkleParanoid: true,
		ACL:            aclcheck.AllowAll{},
		Clock:          clock.RealClock{},
	})
	require.NoError(t.T(), err)
	t.fs = volume
}

func (t *FileSystemTest) TestRootDirectoryExists() {
	attr, err := t.fs.GetAttr(0, "/")
	require.NoError(t.T(), err)
	t.True(attr.Mode&0o40000 != 0 || attr.Ino == rootInodeID)
}

func (t *FileSystemTest) TestMkdirCreateWriteReadRoundTrip() {
	require.NoError(t.T(), t.fs.Mkdir(0, "/dir", 0o755))

	of, err := t.fs.Create(0, "/dir/file.txt", 0o644)
	require.NoError(t.T(), err)

	payload := []byte("hello, bfs")
	n, err := t.fs.Write(of.Handle, 0, payload)
	require.NoError(t.T(), err)
	t.Equal(len(payload), n)

	out, err := t.fs.Read(of.Handle, 0, len(payload))
	require.NoError(t.T(), err)
	t.Equal(payload, out)

	require.NoError(t.T(), t.fs.Release(of.Handle))
}

func (t *FileSystemTest) TestWriteCreatesHoleReadsAsZero() {
	of, err := t.fs.Create(0, "/sparse.bin", 0o644)
	require.NoError(t.T(), err)

	_, err = t.fs.Write(of.Handle, 4096, []byte("tail"))
	require.NoError(t.T(), err)

	hole, err := t.fs.Read(of.Handle, 0, 4096)
	require.NoError(t.T(), err)
	t.Equal(make([]byte, 4096), hole)

	tail, err := t.fs.Read(of.Handle, 4096, 4)
	require.NoError(t.T(), err)
	t.Equal([]byte("tail"), tail)
}

func (t *FileSystemTest) TestTruncateGrowLeavesHoleThenShrinkSetsSize() {
	of, err := t.fs.Create(0, "/trunc.bin", 0o644)
	require.NoError(t.T(), err)

	_, err = t.fs.Write(of.Handle, 0, []byte("0123456789"))
	require.NoError(t.T(), err)

	require.NoError(t.T(), t.fs.Truncate(of.Handle, 20))
	grown, err := t.fs.Read(of.Handle, 10, 10)
	require.NoError(t.T(), err)
	t.Equal(make([]byte, 10), grown)

	require.NoError(t.T(), t.fs.Truncate(of.Handle, 5))
	attr, err := t.fs.GetAttr(0, "/trunc.bin")
	require.NoError(t.T(), err)
	t.Equal(uint64(5), attr.Size)
}

func (t *FileSystemTest) TestRenameOverwritesDestination() {
	of, err := t.fs.Create(0, "/a.txt", 0o644)
	require.NoError(t.T(), err)
	_, err = t.fs.Write(of.Handle, 0, []byte("from a"))
	require.NoError(t.T(), err)
	require.NoError(t.T(), t.fs.Release(of.Handle))

	of2, err := t.fs.Create(0, "/b.txt", 0o644)
	require.NoError(t.T(), err)
	require.NoError(t.T(), t.fs.Release(of2.Handle))

	require.NoError(t.T(), t.fs.Rename(0, "/a.txt", "/b.txt"))

	_, err = t.fs.GetAttr(0, "/a.txt")
	t.Error(err)

	bAttr, err := t.fs.GetAttr(0, "/b.txt")
	require.NoError(t.T(), err)
	t.Equal(uint64(6), bAttr.Size)
}

func (t *FileSystemTest) TestMkdirThenUnmount() {
	require.NoError(t.T(), t.fs.Mkdir(0, "/persisted", 0o755))
	require.NoError(t.T(), t.fs.Unmount())
}
