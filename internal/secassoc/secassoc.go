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

// Package secassoc implements the fixed cipher suite used throughout bfs:
// AES-128-GCM for block confidentiality/integrity and HMAC-SHA-256 for the
// Merkle tree's internal nodes. A SecAssociation owns exactly one symmetric
// key and is never rotated; one instance exists per peer (client<->server)
// plus one "own" instance the server uses to seal its own blocks.
//
// There is no third-party wrapper for AES-GCM/HMAC-SHA256 anywhere in the
// retrieval pack -- every repo that touches crypto primitives (the mpt
// on-disk tree, the dragonstash file cache) reaches directly into
// crypto/aes, crypto/cipher, crypto/hmac and crypto/sha256, so this package
// does the same.
package secassoc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	KeyLen   = 16 // AES-128
	NonceLen = 12 // GCM standard nonce
	TagLen   = 16 // GCM standard tag
	HMACLen  = 32 // SHA-256 output
)

// ErrAuthenticationFailed is returned by Decrypt when the AEAD tag does not
// verify. Spec §4.2 names this as a distinguished failure mode; callers at
// the block-security layer translate it into an IntegrityViolation.
var ErrAuthenticationFailed = errors.New("secassoc: authentication failed")

// SecAssociation binds one peer identity to one symmetric key and exposes
// the AEAD and HMAC operations that key is used for. It is immutable after
// construction: there is no key-rotation operation by design (spec §4.2).
type SecAssociation struct {
	key   [KeyLen]byte
	block cipher.Block
	gcm   cipher.AEAD
}

// New constructs a SecAssociation from a pre-shared 16-byte key (as
// hex-decoded from the sec-assoc.fs-sa-key / sec-assoc.cl-serv-sa-key
// configuration keys).
func New(key []byte) (*SecAssociation, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("secassoc: key must be %d bytes, got %d", KeyLen, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secassoc: aes.NewCipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceLen)
	if err != nil {
		return nil, fmt.Errorf("secassoc: cipher.NewGCM: %w", err)
	}

	sa := &SecAssociation{block: block, gcm: gcm}
	copy(sa.key[:], key)
	return sa, nil
}

// Encrypt seals plaintext under a freshly generated random nonce and aad,
// returning the ciphertext, the nonce used, and the authentication tag.
// aad must be non-empty -- every caller binds some context into it (a vbid,
// a sequence number, or the literal "mt-root").
func (sa *SecAssociation) Encrypt(plaintext, aad []byte) (ciphertext, nonce, tag []byte, err error) {
	if len(aad) == 0 {
		return nil, nil, nil, errors.New("secassoc: aad must be non-empty")
	}

	nonce = make([]byte, NonceLen)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("secassoc: rand.Read nonce: %w", err)
	}

	sealed := sa.gcm.Seal(nil, nonce, plaintext, aad)
	ciphertext = sealed[:len(sealed)-TagLen]
	tag = sealed[len(sealed)-TagLen:]
	return ciphertext, nonce, tag, nil
}

// Decrypt verifies tag over ciphertext+aad under nonce and, only if it
// verifies, returns the recovered plaintext. On mismatch it returns
// ErrAuthenticationFailed and no plaintext.
func (sa *SecAssociation) Decrypt(ciphertext, aad, nonce, tag []byte) ([]byte, error) {
	if len(nonce) != NonceLen {
		return nil, fmt.Errorf("secassoc: bad nonce length %d", len(nonce))
	}
	if len(tag) != TagLen {
		return nil, fmt.Errorf("secassoc: bad tag length %d", len(tag))
	}
	if len(aad) == 0 {
		return nil, errors.New("secassoc: aad must be non-empty")
	}

	sealed := make([]byte, 0, len(ciphertext)+TagLen)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := sa.gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// HMAC computes HMAC-SHA256(left || right) for two Merkle-tree child
// hashes, each expected to be perChildLen bytes (32 for HMACLen-sized
// nodes). Used only by the tree -- never for block AEAD.
func (sa *SecAssociation) HMAC(left, right []byte, perChildLen int) []byte {
	if len(left) != perChildLen || len(right) != perChildLen {
		panic(fmt.Sprintf("secassoc: HMAC child length mismatch: want %d, got %d/%d", perChildLen, len(left), len(right)))
	}

	mac := hmac.New(sha256.New, sa.key[:])
	mac.Write(left)
	mac.Write(right)
	return mac.Sum(nil)
}

// Pkcs7Pad pads buf to a multiple of blockSize using PKCS#7. Only used for
// variable-length RPC payloads -- fixed 4096-byte blocks never go through
// padding (spec §4.2).
func Pkcs7Pad(buf []byte, blockSize int) []byte {
	if blockSize <= 0 || blockSize > 255 {
		panic("secassoc: invalid PKCS7 block size")
	}
	padLen := blockSize - (len(buf) % blockSize)
	out := make([]byte, len(buf)+padLen)
	copy(out, buf)
	for i := len(buf); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// Pkcs7Unpad strips and validates PKCS#7 padding added by Pkcs7Pad.
func Pkcs7Unpad(buf []byte, blockSize int) ([]byte, error) {
	if len(buf) == 0 || len(buf)%blockSize != 0 {
		return nil, errors.New("secassoc: bad padded length")
	}
	padLen := int(buf[len(buf)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(buf) {
		return nil, errors.New("secassoc: bad padding")
	}
	for _, b := range buf[len(buf)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("secassoc: bad padding")
		}
	}
	return buf[:len(buf)-padLen], nil
}
