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
	"encoding/binary"
	"fmt"

	"github.com/blockvault/bfs/fs"
	"github.com/blockvault/bfs/internal/bfserrors"
	"github.com/blockvault/bfs/internal/buffer"
	"github.com/blockvault/bfs/internal/fsobjects"
	"github.com/blockvault/bfs/internal/rpcwire"
)

// fsDispatcher implements rpcwire.Dispatcher, unmarshalling each opcode's
// positional arguments and calling the matching fs.FileSystem operation.
// The connection worker model and request queueing that calls Dispatch
// are out of scope (spec.md's RPC dispatch Non-goal); this type only
// owns the args<->call mapping.
type fsDispatcher struct {
	fs *fs.FileSystem
}

func newDispatcher(f *fs.FileSystem) *fsDispatcher {
	return &fsDispatcher{fs: f}
}

// decoder walks a []byte left to right, the inverse of the encoder below.
type decoder struct {
	buf []byte
	off int
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) u32() uint32 {
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64() uint64 {
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) bytes(n int) []byte {
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) str() string {
	n := int(d.u32())
	return string(d.bytes(n))
}

func putStr(b *buffer.FlexBuffer, s string) {
	b.PutUint32(uint32(len(s)))
	b.Append([]byte(s))
}

func (disp *fsDispatcher) Dispatch(req rpcwire.Frame) (rpcwire.Frame, error) {
	resp := buffer.NewFlexBuffer(0, 0, nil)
	d := newDecoder(req.Args)

	var opErr error
	switch req.Op {
	case rpcwire.OpInit, rpcwire.OpInitMkfs, rpcwire.OpDestroy:
		// Session lifecycle, not a filesystem operation; the dispatch
		// loop that owns connection setup/teardown handles these.

	case rpcwire.OpGetattr:
		uid := d.u32()
		path := d.str()
		var attr fs.Attr
		attr, opErr = disp.fs.GetAttr(uid, path)
		if opErr == nil {
			resp.PutUint64(attr.Ino)
			resp.PutUint32(attr.UID)
			resp.PutUint32(attr.Mode)
			resp.PutUint64(attr.Size)
			resp.PutUint64(uint64(attr.Atime.UnixNano()))
			resp.PutUint64(uint64(attr.Mtime.UnixNano()))
			resp.PutUint64(uint64(attr.Ctime.UnixNano()))
		}

	case rpcwire.OpMkdir:
		uid := d.u32()
		mode := d.u32()
		path := d.str()
		opErr = disp.fs.Mkdir(uid, path, mode)

	case rpcwire.OpUnlink:
		uid := d.u32()
		path := d.str()
		opErr = disp.fs.Unlink(uid, path)

	case rpcwire.OpRmdir:
		uid := d.u32()
		path := d.str()
		opErr = disp.fs.Rmdir(uid, path)

	case rpcwire.OpRename:
		uid := d.u32()
		from := d.str()
		to := d.str()
		opErr = disp.fs.Rename(uid, from, to)

	case rpcwire.OpCreate:
		uid := d.u32()
		mode := d.u32()
		path := d.str()
		var of *fs.OpenFile
		of, opErr = disp.fs.Create(uid, path, mode)
		if opErr == nil {
			resp.PutUint64(of.Handle)
		}

	case rpcwire.OpOpen:
		uid := d.u32()
		flags := d.u32()
		path := d.str()
		var of *fs.OpenFile
		of, opErr = disp.fs.Open(uid, path, int(flags))
		if opErr == nil {
			resp.PutUint64(of.Handle)
		}

	case rpcwire.OpOpendir:
		uid := d.u32()
		path := d.str()
		var of *fs.OpenFile
		of, opErr = disp.fs.OpenDir(uid, path)
		if opErr == nil {
			resp.PutUint64(of.Handle)
		}

	case rpcwire.OpRead:
		handle := d.u64()
		off := int64(d.u64())
		n := int(d.u32())
		var out []byte
		out, opErr = disp.fs.Read(handle, off, n)
		if opErr == nil {
			resp.PutUint32(uint32(len(out)))
			resp.Append(out)
		}

	case rpcwire.OpWrite:
		handle := d.u64()
		off := int64(d.u64())
		n := int(d.u32())
		payload := d.bytes(n)
		var written int
		written, opErr = disp.fs.Write(handle, off, payload)
		if opErr == nil {
			resp.PutUint32(uint32(written))
		}

	case rpcwire.OpRelease:
		handle := d.u64()
		opErr = disp.fs.Release(handle)

	case rpcwire.OpFsync:
		handle := d.u64()
		opErr = disp.fs.Fsync(handle)

	case rpcwire.OpReaddir:
		handle := d.u64()
		var entries []fsobjects.Dirent
		entries, opErr = disp.fs.ReadDir(handle)
		if opErr == nil {
			resp.PutUint32(uint32(len(entries)))
			for _, e := range entries {
				resp.PutUint64(e.InodeID)
				putStr(resp, e.Name)
			}
		}

	case rpcwire.OpChmod:
		uid := d.u32()
		mode := d.u32()
		path := d.str()
		opErr = disp.fs.Chmod(uid, path, mode)

	case rpcwire.OpTruncate:
		handle := d.u64()
		size := d.u64()
		opErr = disp.fs.Truncate(handle, size)

	default:
		opErr = fmt.Errorf("dispatcher: unknown opcode %d", req.Op)
	}

	if opErr != nil {
		// Server-fatal errors (integrity violations, crypto/disk
		// failures) must drop the session per spec §7 rather than be
		// reported to the client as an ordinary request failure.
		if bfserrors.IsServerFatal(opErr) {
			return rpcwire.Frame{}, opErr
		}
		return errorFrame(opErr), nil
	}
	return rpcwire.Frame{Type: rpcwire.FromServer, Op: req.Op, Args: resp.Payload()}, nil
}

// errorFrame encodes a failed operation's errno (EIO for a kind with no
// more specific syscall.Errno mapping) as the sole payload; the client
// maps it back to its own error taxonomy.
func errorFrame(err error) rpcwire.Frame {
	out := buffer.NewFlexBuffer(0, 0, nil)
	out.PutUint32(uint32(bfserrors.Errno(err)))
	return rpcwire.Frame{Type: rpcwire.FromServer, Op: 0, Args: out.Payload()}
}
