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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"tunnelpilot/internal/core"
)

func newTestSemaphore() *semaphore.Weighted { return semaphore.NewWeighted(1) }

// fakeOperation is a minimal Operation double so OperationQueue's driver
// logic can be tested without a live SFTP session.
type fakeOperation struct {
	id         core.OperationId
	isBarrier  bool
	quanta     int
	failAt     int
	calls      int
	cancelled  bool
}

func newFakeOperation(quanta int) *fakeOperation {
	return &fakeOperation{id: core.NewOperationId(), quanta: quanta, failAt: -1}
}

func (f *fakeOperation) ID() core.OperationId                    { return f.id }
func (f *fakeOperation) State() core.OperationState              { return core.StateRunning }
func (f *fakeOperation) IsBarrier() bool                         { return f.isBarrier }
func (f *fakeOperation) ParallelWorkDoable(maxParallel int) int  { return 1 }
func (f *fakeOperation) LocalPath() string                       { return "local" }
func (f *fakeOperation) RemotePath() string                      { return "remote" }
func (f *fakeOperation) Cancel(adopt bool)                       { f.cancelled = true }

func (f *fakeOperation) Work() core.WorkResult {
	f.calls++
	if f.calls == f.failAt {
		return core.Failed(core.NewOperationError(core.ErrSftpError, nil))
	}
	if f.calls >= f.quanta {
		return core.Complete
	}
	return core.MoreWork
}

func TestQueueWorkRemovesCompletedOperation(t *testing.T) {
	q := &OperationQueue{parallelism: 1}
	q.reentry = newTestSemaphore()
	op := newFakeOperation(1)
	q.entries = []Operation{op}

	changed := q.Work()
	require.True(t, changed)
	assert.Equal(t, 0, q.Len())
}

func TestQueueWorkKeepsRunningOperationQueued(t *testing.T) {
	q := &OperationQueue{parallelism: 1}
	q.reentry = newTestSemaphore()
	op := newFakeOperation(3)
	q.entries = []Operation{op}

	changed := q.Work()
	require.True(t, changed)
	assert.Equal(t, 1, q.Len())
}

func TestQueueWorkEmitsFailureAndRemoves(t *testing.T) {
	q := &OperationQueue{parallelism: 1}
	q.reentry = newTestSemaphore()
	op := newFakeOperation(5)
	op.failAt = 1
	q.entries = []Operation{op}

	var completed []OperationCompleted
	q.observers = []QueueObserver{&recordingObserver{completed: &completed}}

	changed := q.Work()
	require.True(t, changed)
	assert.Equal(t, 0, q.Len())
	require.Len(t, completed, 1)
	assert.Equal(t, core.ReasonFailed, completed[0].Reason)
}

func TestQueueWorkStopsAtBarrierPastFirstEntry(t *testing.T) {
	q := &OperationQueue{parallelism: 2}
	q.reentry = newTestSemaphore()
	first := newFakeOperation(3)
	barrier := newFakeOperation(3)
	barrier.isBarrier = true
	q.entries = []Operation{first, barrier}

	q.Work()
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, barrier.calls, "a barrier past the first slot must not run this cycle")
}

func TestQueuePausedDoesNoWork(t *testing.T) {
	q := &OperationQueue{parallelism: 1, paused: true}
	q.reentry = newTestSemaphore()
	op := newFakeOperation(1)
	q.entries = []Operation{op}

	changed := q.Work()
	assert.False(t, changed)
	assert.Equal(t, 0, op.calls)
}

type recordingObserver struct {
	completed *[]OperationCompleted
}

func (r *recordingObserver) OnOperationAdded(OperationAdded)         {}
func (r *recordingObserver) OnOperationCompleted(ev OperationCompleted) {
	*r.completed = append(*r.completed, ev)
}
