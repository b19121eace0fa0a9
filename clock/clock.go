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

// Package clock abstracts wall-clock time so that inode a/m/ctime handling
// can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source package fs uses for inode timestamp updates
// on a mounted volume; fs.Format stamps the root inode with time.Now.
type Clock interface {
	// Now returns the current local time.
	Now() time.Time

	// After notifies on the returned channel after d has passed.
	After(d time.Duration) <-chan time.Time
}

var (
	_ Clock = RealClock{}
	_ Clock = &FakeClock{}
)
