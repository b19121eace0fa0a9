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

// Package rpcwire implements the length-framed, AEAD-sealed request and
// response codec (spec §4.8, §6): wire frame
// [4B big-endian length][sealed payload], payload plaintext
// [mtype u32][otype u32][args...], AAD [peer_seq u32]. The dispatch loop
// and worker model that own the network connection are out of scope
// here; this package only encodes and decodes one frame at a time.
package rpcwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blockvault/bfs/internal/buffer"
	"github.com/blockvault/bfs/internal/secassoc"
)

// MsgType is the directional tag every payload carries.
type MsgType uint32

const (
	ToServer MsgType = iota
	FromServer
)

// Opcode enumerates the wire opcode set from spec §6.
type Opcode uint32

const (
	OpGetattr Opcode = iota
	OpMkdir
	OpUnlink
	OpRmdir
	OpRename
	OpOpen
	OpRead
	OpWrite
	OpRelease
	OpFsync
	OpOpendir
	OpReaddir
	OpInit
	OpInitMkfs
	OpDestroy
	OpCreate
	OpChmod
	OpTruncate
)

const maxFrameLen = 16 << 20 // generous ceiling; largest legitimate payload is one 4096B block plus header

// Frame is one decoded request or response: its type/opcode header plus
// the still-serialized argument bytes, which a Dispatcher unmarshals
// according to Opcode.
type Frame struct {
	Type   MsgType
	Op     Opcode
	Args   []byte
}

// Codec seals and opens frames for one connection's single direction of
// traffic (a server needs one Codec per SecAssociation per direction, or
// one Codec reused with separate send/receive sequence counters).
type Codec struct {
	sa      *secassoc.SecAssociation
	sendSeq uint32
	recvSeq uint32
}

func NewCodec(sa *secassoc.SecAssociation) *Codec {
	return &Codec{sa: sa}
}

// Encode seals f and returns a complete wire frame (length prefix
// included), incrementing the send sequence.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	payload := buffer.NewFlexBuffer(0, 0, nil)
	payload.PutUint32(uint32(f.Type))
	payload.PutUint32(uint32(f.Op))
	payload.Append(f.Args)

	aad := seqAAD(c.sendSeq)
	ct, nonce, tag, err := c.sa.Encrypt(payload.Payload(), aad)
	if err != nil {
		return nil, fmt.Errorf("rpcwire: encrypt: %w", err)
	}
	c.sendSeq++

	out := buffer.NewFlexBuffer(4, 0, nil)
	out.Append(nonce)
	out.Append(tag)
	out.Append(ct)

	framed := buffer.NewFlexBuffer(0, 0, nil)
	framed.PutUint32BE(uint32(out.Len()))
	framed.Append(out.Payload())
	return framed.Payload(), nil
}

// ReadFrame reads one length-prefixed frame from r, verifies and opens
// it, and checks the sequence number, incrementing the receive sequence
// on success. A sequence mismatch or AEAD failure means the connection
// must be dropped -- the caller owns that decision.
func (c *Codec) ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("rpcwire: read length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrameLen {
		return Frame{}, fmt.Errorf("rpcwire: frame length %d out of range", n)
	}

	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Frame{}, fmt.Errorf("rpcwire: read payload: %w", err)
	}

	if len(raw) < secassoc.NonceLen+secassoc.TagLen {
		return Frame{}, fmt.Errorf("rpcwire: frame too short for nonce+tag")
	}
	nonce := raw[:secassoc.NonceLen]
	tag := raw[secassoc.NonceLen : secassoc.NonceLen+secassoc.TagLen]
	ct := raw[secassoc.NonceLen+secassoc.TagLen:]

	aad := seqAAD(c.recvSeq)
	pt, err := c.sa.Decrypt(ct, aad, nonce, tag)
	if err != nil {
		return Frame{}, fmt.Errorf("rpcwire: %w", err)
	}
	c.recvSeq++

	if len(pt) < 8 {
		return Frame{}, fmt.Errorf("rpcwire: payload too short for header")
	}
	return Frame{
		Type: MsgType(binary.LittleEndian.Uint32(pt[0:4])),
		Op:   Opcode(binary.LittleEndian.Uint32(pt[4:8])),
		Args: pt[8:],
	}, nil
}

func seqAAD(seq uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], seq)
	return b[:]
}

// Dispatcher is the thin contract the (out-of-scope) connection worker
// calls into: decode a frame's Args for its Op, run the corresponding FS
// operation, and produce a response Frame. A non-nil returned error means
// the failure is session-fatal (spec §7) and the caller must drop the
// connection rather than write a response frame; an ordinary request
// failure is instead reported as a normal response frame carrying an
// errno. Implementations live in the server's command layer, not in this
// package.
type Dispatcher interface {
	Dispatch(req Frame) (resp Frame, err error)
}
