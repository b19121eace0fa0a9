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

// Package aclcheck exposes the opaque is_permitted(user, mode) predicate
// the access-control layer is specified only as a contract for, with two
// policies: AllowAll grants everything, and OwnerOnly is a minimal
// uid-and-permission-bits policy.
package aclcheck

import "github.com/blockvault/bfs/internal/fsobjects"

// Op identifies the kind of access being checked.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpExec
	OpChmod
	OpUnlink
)

// Checker is the contract the FS operations layer calls before touching an
// inode on behalf of a uid. A real deployment supplies one backed by
// whatever access-control mechanism sits in front of this server; that
// mechanism's internals are out of scope here.
type Checker interface {
	IsPermitted(uid uint32, ino fsobjects.Inode, op Op) bool
}

// AllowAll is the zero-configuration Checker: every request is permitted.
// Used when no ACL layer is wired in, and by tests.
type AllowAll struct{}

func (AllowAll) IsPermitted(uint32, fsobjects.Inode, Op) bool { return true }

// OwnerOnly permits uid 0 (root) and an inode's own owner unconditionally,
// and otherwise falls back to the POSIX permission bits for the "other"
// class -- a minimal real policy usable without an external ACL service.
type OwnerOnly struct{}

func (OwnerOnly) IsPermitted(uid uint32, ino fsobjects.Inode, op Op) bool {
	if uid == 0 || uid == ino.UID {
		return true
	}
	perm := ino.Perm()
	switch op {
	case OpRead:
		return perm&0o004 != 0
	case OpWrite, OpUnlink:
		return perm&0o002 != 0
	case OpExec:
		return perm&0o001 != 0
	case OpChmod:
		return false
	default:
		return false
	}
}
