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

package bfserrors

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrno_ClientRequestFailed(t *testing.T) {
	assert.Equal(t, syscall.ENOENT, Errno(NotFound("missing")))
	assert.Equal(t, syscall.EEXIST, Errno(Exists("present")))
	assert.Equal(t, syscall.ENOTEMPTY, Errno(NotEmpty("dir")))
	assert.Equal(t, syscall.EINVAL, Errno(Invalid("bad")))
}

func TestErrno_AccessDenied(t *testing.T) {
	assert.Equal(t, syscall.EACCES, Errno(NewAccessDenied("nope")))
	assert.Equal(t, syscall.EPERM, Errno(&AccessDenied{Msg: "nope", Perm: true}))
}

func TestErrno_ServerErrorDefaultsToEIO(t *testing.T) {
	assert.Equal(t, syscall.EIO, Errno(NewServerError("op", -1, assertErr{})))
}

func TestIsServerFatal(t *testing.T) {
	assert.True(t, IsServerFatal(NewServerError("op", -1, assertErr{})))
	assert.True(t, IsServerFatal(IntegrityViolation("op", 3, "root mismatch")))
	assert.False(t, IsServerFatal(NotFound("missing")))
	assert.False(t, IsServerFatal(NewAccessDenied("nope")))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
