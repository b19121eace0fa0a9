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
)

func TestValidate_CacheEnabledRequiresNonZeroLimit(t *testing.T) {
	c := Config{BfsUtilLayer: BfsUtilLayerConfig{CacheEnabled: true, CacheSzLimit: 0}}
	assert.Error(t, c.Validate())

	c.BfsUtilLayer.CacheSzLimit = 1024
	assert.NoError(t, c.Validate())
}

func TestValidate_CacheDisabledAllowsZeroLimit(t *testing.T) {
	c := Config{BfsUtilLayer: BfsUtilLayerConfig{CacheEnabled: false, CacheSzLimit: 0}}
	assert.NoError(t, c.Validate())
}

func TestValidate_NegativeMerkleVerifyDepthRejected(t *testing.T) {
	c := Config{BfsCommon: BfsCommonConfig{MerkleVerifyDepth: -1}}
	assert.Error(t, c.Validate())
}

func TestValidate_LogToFileRequiresLogfile(t *testing.T) {
	c := Config{Logging: LoggingConfig{ToFile: true}}
	assert.Error(t, c.Validate())

	c.Logging.File = "/var/log/bfs.log"
	assert.NoError(t, c.Validate())
}

func TestValidate_ZeroValueConfigIsValid(t *testing.T) {
	var c Config
	assert.NoError(t, c.Validate())
}
