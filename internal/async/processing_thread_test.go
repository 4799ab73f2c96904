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

package async

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestThread(t *testing.T) *ProcessingThread {
	t.Helper()
	th := NewProcessingThread(nil)
	th.Start(time.Millisecond)
	t.Cleanup(th.Stop)
	return th
}

func TestPushTaskRunsInOrder(t *testing.T) {
	th := newTestThread(t)

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		th.PushTask(func() {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
		})
	}
	<-done
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPushTaskRejectsEmptyFunction(t *testing.T) {
	th := newTestThread(t)
	assert.False(t, th.PushTask(nil))
}

func TestPushPromiseTaskResolves(t *testing.T) {
	th := newTestThread(t)
	future := PushPromiseTask(th, func() (int, error) { return 42, nil })
	v, err, ok := future.Get(time.Second)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPushPromiseTaskCapturesPanic(t *testing.T) {
	th := newTestThread(t)
	future := PushPromiseTask(th, func() (int, error) {
		panic("boom")
	})
	_, err, ok := future.Get(time.Second)
	require.True(t, ok)
	require.Error(t, err)
}

func TestPermanentTaskRunsEveryCycle(t *testing.T) {
	th := newTestThread(t)
	var count atomic.Int64
	accepted, id := th.PushPermanentTask(func() { count.Add(1) })
	require.True(t, accepted)

	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)

	removed := th.RemovePermanentTask(id)
	assert.True(t, removed)

	seenAfterRemoval := count.Load()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, count.Load(), seenAfterRemoval+1)
}

func TestRemovePermanentTaskTwiceReturnsFalseSecondTime(t *testing.T) {
	th := newTestThread(t)
	_, id := th.PushPermanentTask(func() {})
	require.True(t, th.RemovePermanentTask(id))
	require.False(t, th.RemovePermanentTask(id))
}

func TestRemovePermanentTaskFromInsideAPermanentTask(t *testing.T) {
	th := newTestThread(t)
	var id PermanentTaskID
	var removeResult atomic.Bool
	removedOnce := make(chan struct{})

	_, id = th.PushPermanentTask(func() {
		select {
		case <-removedOnce:
			return
		default:
		}
		close(removedOnce)
		removeResult.Store(th.RemovePermanentTask(id))
	})

	<-removedOnce
	require.Eventually(t, func() bool { return removeResult.Load() }, time.Second, time.Millisecond)
}

func TestAwaitCycleReachesCompletion(t *testing.T) {
	th := newTestThread(t)
	assert.True(t, th.AwaitCycle(time.Second))
}

func TestPushTaskAfterStopIsRejected(t *testing.T) {
	th := NewProcessingThread(nil)
	th.Start(time.Millisecond)
	var ran atomic.Bool
	th.Stop()
	accepted := th.PushTask(func() { ran.Store(true) })
	assert.False(t, accepted, "tasks pushed after Stop must be rejected")
	assert.False(t, ran.Load())
}

func TestWithinProcessingThread(t *testing.T) {
	th := newTestThread(t)
	assert.False(t, th.WithinProcessingThread())

	var insideValue bool
	done := make(chan struct{})
	th.PushTask(func() {
		insideValue = th.WithinProcessingThread()
		close(done)
	})
	<-done
	assert.True(t, insideValue)
}
