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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrandTasksNeverInterleave(t *testing.T) {
	th := newTestThread(t)
	strandA := NewProcessingStrand(th)
	strandB := NewProcessingStrand(th)

	var mu sync.Mutex
	active := 0
	maxActive := 0
	observe := func() {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		strandA.PushTask(func() { defer wg.Done(); observe() })
		strandB.PushTask(func() { defer wg.Done(); observe() })
	}
	wg.Wait()

	assert.LessOrEqual(t, maxActive, 1, "the thread only ever runs one task, across both strands")
}

func TestStrandPreservesOrderWithinItself(t *testing.T) {
	th := newTestThread(t)
	strand := NewProcessingStrand(th)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		strand.PushTask(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestFinalPromiseTaskFinalizesStrand(t *testing.T) {
	th := newTestThread(t)
	strand := NewProcessingStrand(th)

	future := PushFinalStrandPromiseTask(strand, func() (int, error) { return 7, nil })
	v, err, ok := future.Get(time.Second)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	assert.True(t, strand.IsFinalized())
	assert.False(t, strand.PushTask(func() {}))
}

func TestStrandPromiseTaskOnFinalizedStrandFails(t *testing.T) {
	th := newTestThread(t)
	strand := NewProcessingStrand(th)
	PushFinalStrandPromiseTask(strand, func() (int, error) { return 0, nil })

	future := PushStrandPromiseTask(strand, func() (int, error) { return 1, nil })
	_, err, ok := future.Get(time.Second)
	require.True(t, ok)
	require.ErrorIs(t, err, ErrStrandFinalized)
}
