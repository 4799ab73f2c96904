/*
 * Copyright 2026 The FileRipper Team
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package pfte ("parallel file transfer engine") holds the resumable
// transfer state machines and the queue that drives them.
package pfte

import (
	"fmt"
	"hash"
	"hash/crc32"
)

// runningChecksum accumulates a CRC32 over bytes as they cross a transfer
// operation, so the operation's Checksum method can report an integrity
// digest without a second pass over the file. CRC32 is used rather than a cryptographic
// hash because this is a corruption check on top of the already-reliable
// SSH transport, not a security boundary.
type runningChecksum struct {
	hasher hash.Hash32
}

func newRunningChecksum() *runningChecksum {
	return &runningChecksum{hasher: crc32.NewIEEE()}
}

func (c *runningChecksum) update(p []byte) {
	if len(p) == 0 {
		return
	}
	c.hasher.Write(p)
}

func (c *runningChecksum) sum() string {
	return fmt.Sprintf("%08x", c.hasher.Sum32())
}
