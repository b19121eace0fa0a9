// Copyright 2024 Google Inc. All Rights Reserved.
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

package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSeverity_UnmarshalText(t *testing.T) {
	var l LogSeverity
	require.NoError(t, l.UnmarshalText([]byte("warning")))
	assert.Equal(t, WarningLogSeverity, l)

	assert.Error(t, l.UnmarshalText([]byte("not-a-level")))
}

func TestLogSeverity_Rank(t *testing.T) {
	assert.Less(t, TraceLogSeverity.Rank(), DebugLogSeverity.Rank())
	assert.Less(t, ErrorLogSeverity.Rank(), OffLogSeverity.Rank())
	assert.Equal(t, -1, LogSeverity("bogus").Rank())
}

func TestResolvedPath_UnmarshalText(t *testing.T) {
	var p ResolvedPath
	require.NoError(t, p.UnmarshalText([]byte("relative/path")))
	assert.True(t, len(p) > 0 && p[0] == '/')
}

func TestHexKey_UnmarshalText(t *testing.T) {
	var k HexKey
	require.NoError(t, k.UnmarshalText([]byte("0102030405060708090a0b0c0d0e0f10")))
	assert.Len(t, k, 16)
	assert.Equal(t, byte(0x01), k[0])

	assert.Error(t, k.UnmarshalText([]byte("not-hex")))
}
