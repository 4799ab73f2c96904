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

package pfte

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeStrand is a minimal strandPusher that runs tasks synchronously on
// whatever goroutine calls PushTask, which is enough to exercise Driver's
// throttle/kick bookkeeping without a real async.ProcessingStrand.
type fakeStrand struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeStrand) PushTask(fn func()) bool {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	fn()
	return true
}

func TestDriverKickRunsQueueUntilDry(t *testing.T) {
	q := &OperationQueue{parallelism: 1}
	q.reentry = newTestSemaphore()
	op := newFakeOperation(2)
	q.entries = []Operation{op}

	strand := &fakeStrand{}
	d := NewDriver(strand, q)
	d.Kick()

	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	d.Stop()
}

func TestDriverKickIsNoopWhenAlreadyScheduled(t *testing.T) {
	q := &OperationQueue{parallelism: 1, paused: true}
	q.reentry = newTestSemaphore()

	strand := &fakeStrand{}
	d := NewDriver(strand, q)
	d.scheduled = true

	d.Kick()
	strand.mu.Lock()
	calls := strand.calls
	strand.mu.Unlock()
	assert.Equal(t, 0, calls, "Kick must not push a second cycle while one is already scheduled")
}
