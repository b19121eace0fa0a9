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

// Package buffer provides FlexBuffer, a contiguous byte region with
// reserved head and tail padding so that crypto headers and wire framing
// can be prepended or appended in place without reallocating or shifting
// the payload. The shape follows jacobsa/fuse's internal/buffer
// OutMessage/InMessage (Grow/Append/Consume over one backing array), but
// drops the unsafe.Pointer/reflect.SliceHeader punning that package needs
// for kernel message interop -- this system never talks to the fuse
// kernel ABI, so plain slicing is both simpler and just as fast.
package buffer

import "encoding/binary"

// FlexBuffer holds a payload with spare capacity reserved on both ends.
// prepend/append write into that spare capacity without copying the
// payload; only when the reserved padding is exhausted does the backing
// array get reallocated.
type FlexBuffer struct {
	buf   []byte // full backing array
	head  int    // offset of payload start within buf
	tail  int    // offset just past payload end within buf
}

// NewFlexBuffer allocates a buffer with minHead bytes of head padding,
// minTail bytes of tail padding, and payload initialized to the contents
// of payload (copied in).
func NewFlexBuffer(minHead, minTail int, payload []byte) *FlexBuffer {
	total := minHead + len(payload) + minTail
	buf := make([]byte, total)
	copy(buf[minHead:minHead+len(payload)], payload)
	return &FlexBuffer{buf: buf, head: minHead, tail: minHead + len(payload)}
}

// Payload returns the current payload region. The slice aliases the
// buffer's backing array and is invalidated by the next mutating call.
func (b *FlexBuffer) Payload() []byte {
	return b.buf[b.head:b.tail]
}

func (b *FlexBuffer) Len() int { return b.tail - b.head }

// HeadRoom and TailRoom report the unused reserved padding on each end.
func (b *FlexBuffer) HeadRoom() int { return b.head }
func (b *FlexBuffer) TailRoom() int { return len(b.buf) - b.tail }

// Prepend writes src immediately before the current payload, growing into
// head padding in place when there is room, else reallocating.
func (b *FlexBuffer) Prepend(src []byte) {
	n := len(src)
	if b.head < n {
		b.growHead(n)
	}
	copy(b.buf[b.head-n:b.head], src)
	b.head -= n
}

// Append writes src immediately after the current payload, growing into
// tail padding in place when there is room, else reallocating.
func (b *FlexBuffer) Append(src []byte) {
	n := len(src)
	if len(b.buf)-b.tail < n {
		b.growTail(n)
	}
	copy(b.buf[b.tail:b.tail+n], src)
	b.tail += n
}

// PopHead removes and returns the first n bytes of the payload.
func (b *FlexBuffer) PopHead(n int) []byte {
	if n > b.Len() {
		panic("buffer: PopHead beyond payload length")
	}
	out := make([]byte, n)
	copy(out, b.buf[b.head:b.head+n])
	b.head += n
	return out
}

// PopTail removes and returns the last n bytes of the payload.
func (b *FlexBuffer) PopTail(n int) []byte {
	if n > b.Len() {
		panic("buffer: PopTail beyond payload length")
	}
	out := make([]byte, n)
	copy(out, b.buf[b.tail-n:b.tail])
	b.tail -= n
	return out
}

// Resize reshapes the buffer so that at least minHead bytes of head
// padding and minTail bytes of tail padding surround a payload of
// newPayloadLen bytes. Existing payload bytes (up to newPayloadLen) are
// preserved; any growth beyond the old payload length is zeroed.
func (b *FlexBuffer) Resize(minHead, newPayloadLen, minTail int) {
	total := minHead + newPayloadLen + minTail
	buf := make([]byte, total)
	copyLen := b.Len()
	if copyLen > newPayloadLen {
		copyLen = newPayloadLen
	}
	copy(buf[minHead:minHead+copyLen], b.buf[b.head:b.head+copyLen])
	b.buf = buf
	b.head = minHead
	b.tail = minHead + newPayloadLen
}

// Burn zeroes every byte of the backing array, including padding. Used by
// the secure variant of this type to avoid leaving key material or
// plaintext behind in freed memory.
func (b *FlexBuffer) Burn() {
	for i := range b.buf {
		b.buf[i] = 0
	}
}

func (b *FlexBuffer) growHead(extra int) {
	need := extra - b.head
	if need < extra {
		need = extra
	}
	newBuf := make([]byte, len(b.buf)+need)
	newHead := b.head + need
	copy(newBuf[newHead:newHead+b.Len()], b.buf[b.head:b.tail])
	b.tail = newHead + b.Len()
	b.head = newHead
	b.buf = newBuf
}

func (b *FlexBuffer) growTail(extra int) {
	newBuf := make([]byte, len(b.buf)+extra)
	copy(newBuf[b.head:b.tail], b.buf[b.head:b.tail])
	b.buf = newBuf
}

// SecureFlexBuffer is a FlexBuffer whose Free method zeroizes the backing
// storage before releasing it, for use with key material and decrypted
// plaintext that must not linger in the allocator's free list.
type SecureFlexBuffer struct {
	FlexBuffer
}

// NewSecureFlexBuffer mirrors NewFlexBuffer for the zeroizing variant.
func NewSecureFlexBuffer(minHead, minTail int, payload []byte) *SecureFlexBuffer {
	return &SecureFlexBuffer{FlexBuffer: *NewFlexBuffer(minHead, minTail, payload)}
}

// Free zeroes the buffer's contents; the buffer must not be used afterward.
func (b *SecureFlexBuffer) Free() {
	b.Burn()
	b.buf = nil
	b.head, b.tail = 0, 0
}

// Fixed-width helpers in host (little-endian, matching the on-disk format
// in spec §6) byte order, composing to form the RPC codec (internal/rpcwire).

// PutUint32BE appends a big-endian length-prefix field (used only for the
// wire frame's 4-byte length header -- every other fixed-width field in
// this system is little-endian per the on-disk format).
func (b *FlexBuffer) PutUint32BE(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Append(tmp[:])
}

func (b *FlexBuffer) PutUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Append(tmp[:])
}

func (b *FlexBuffer) PutUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.Append(tmp[:])
}

// ConsumeUint32 pops the next 4 bytes of payload as a little-endian uint32.
func (b *FlexBuffer) ConsumeUint32() uint32 {
	raw := b.PopHead(4)
	return binary.LittleEndian.Uint32(raw)
}

func (b *FlexBuffer) ConsumeUint64() uint64 {
	raw := b.PopHead(8)
	return binary.LittleEndian.Uint64(raw)
}
