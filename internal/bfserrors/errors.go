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

// Package bfserrors defines the three error kinds that every operation in
// the block security, Merkle, and file-system layers is classified into at
// its boundary: ServerError (session-fatal), ClientRequestFailed (maps to a
// POSIX errno on the wire) and AccessDenied (maps to EACCES/EPERM).
package bfserrors

import (
	"errors"
	"fmt"
	"syscall"
)

// Classified is implemented by every error kind defined in this package so
// that callers can dispatch on taxonomy with a single type switch or
// errors.As chain.
type Classified interface {
	error
	bfsErrorKind() string
}

// ServerError is fatal to the connection that observed it: integrity
// failures, crypto failures, disk/network I/O failures, lock acquisition
// failures, and violated internal assertions all surface as ServerError.
// The caller must log it and drop the session (or, at mount time, refuse to
// mount).
type ServerError struct {
	Op  string
	Vbid int64 // -1 when not applicable
	Err error
}

func (e *ServerError) Error() string {
	if e.Vbid >= 0 {
		return fmt.Sprintf("%s: vbid %d: %v", e.Op, e.Vbid, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error    { return e.Err }
func (e *ServerError) bfsErrorKind() string { return "server" }

// NewServerError wraps err as a session-fatal ServerError attributed to op.
// vbid may be -1 if the error is not attached to a specific block.
func NewServerError(op string, vbid int64, err error) *ServerError {
	return &ServerError{Op: op, Vbid: vbid, Err: err}
}

// IntegrityViolation is the ServerError sub-case raised by tag mismatches,
// tree-root mismatches, or leaf/parent mismatches (spec §7, kind 1).
func IntegrityViolation(op string, vbid int64, detail string) *ServerError {
	return NewServerError(op, vbid, errors.New("integrity violation: "+detail))
}

// ClientRequestFailed carries a POSIX errno to return to the client; it is
// not fatal to the session.
type ClientRequestFailed struct {
	Errno syscall.Errno
	Msg   string
}

func (e *ClientRequestFailed) Error() string {
	if e.Msg == "" {
		return e.Errno.Error()
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Errno.Error())
}

func (e *ClientRequestFailed) bfsErrorKind() string { return "client" }

func newClientError(errno syscall.Errno, msg string) *ClientRequestFailed {
	return &ClientRequestFailed{Errno: errno, Msg: msg}
}

// Named constructors for the errno set spec §7 kind 4 requires.
func NotFound(msg string) error    { return newClientError(syscall.ENOENT, msg) }
func Exists(msg string) error      { return newClientError(syscall.EEXIST, msg) }
func NotEmpty(msg string) error    { return newClientError(syscall.ENOTEMPTY, msg) }
func Busy(msg string) error        { return newClientError(syscall.EBUSY, msg) }
func IsDir(msg string) error       { return newClientError(syscall.EISDIR, msg) }
func NotDir(msg string) error      { return newClientError(syscall.ENOTDIR, msg) }
func NameTooLong(msg string) error { return newClientError(syscall.ENAMETOOLONG, msg) }
func TooManyOpen(msg string) error { return newClientError(syscall.EMFILE, msg) }
func NoSpace(msg string) error     { return newClientError(syscall.ENOSPC, msg) }
func Invalid(msg string) error     { return newClientError(syscall.EINVAL, msg) }

// AccessDenied maps to EACCES/EPERM (spec §7 kind 5).
type AccessDenied struct {
	Msg    string
	Perm   bool // true => EPERM, false => EACCES
}

func (e *AccessDenied) Error() string {
	errno := syscall.EACCES
	if e.Perm {
		errno = syscall.EPERM
	}
	return fmt.Sprintf("%s: %s", e.Msg, errno.Error())
}

func (e *AccessDenied) bfsErrorKind() string { return "access" }

func NewAccessDenied(msg string) *AccessDenied {
	return &AccessDenied{Msg: msg}
}

// Errno extracts the wire errno for any error produced by this package,
// defaulting to EIO for ServerErrors (which should never reach the wire --
// the caller is expected to have dropped the session first).
func Errno(err error) syscall.Errno {
	var client *ClientRequestFailed
	if errors.As(err, &client) {
		return client.Errno
	}

	var denied *AccessDenied
	if errors.As(err, &denied) {
		if denied.Perm {
			return syscall.EPERM
		}
		return syscall.EACCES
	}

	return syscall.EIO
}

// IsServerFatal reports whether err should terminate the owning session.
func IsServerFatal(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
