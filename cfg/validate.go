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

import "fmt"

// Validate checks the cross-field constraints the flag/YAML layer alone
// cannot express.
func (c *Config) Validate() error {
	if c.BfsUtilLayer.CacheEnabled && c.BfsUtilLayer.CacheSzLimit == 0 {
		return fmt.Errorf("bfs-util-layer.cache-sz-limit must be positive when caching is enabled")
	}
	if c.BfsCommon.MerkleVerifyDepth < 0 {
		return fmt.Errorf("bfs-common.merkle-verify-depth cannot be negative")
	}
	if c.Logging.ToFile && c.Logging.File == "" {
		return fmt.Errorf("logging.logfile is required when logging.log-to-file is set")
	}
	return nil
}
