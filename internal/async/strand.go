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

	"github.com/sasha-s/go-deadlock"
)

// ProcessingStrand serializes its own tasks against each other on top of
// a shared ProcessingThread. Tasks from different strands on the same
// thread may interleave; tasks within one strand never do. This is what
// lets an SshSession run several SftpSessions on a single thread without
// their individual task sequences stepping on each other.
type ProcessingStrand struct {
	thread *ProcessingThread

	mu        deadlock.Mutex
	queue     []func()
	running   bool
	finalized atomic.Bool
}

// NewProcessingStrand attaches a new strand to thread.
func NewProcessingStrand(thread *ProcessingThread) *ProcessingStrand {
	return &ProcessingStrand{thread: thread}
}

// WithinProcessingThread delegates to the owning thread.
func (s *ProcessingStrand) WithinProcessingThread() bool {
	return s.thread.WithinProcessingThread()
}

// IsFinalized reports whether PushFinalStrandPromiseTask has queued a
// final task on this strand, after which it accepts no further submissions.
func (s *ProcessingStrand) IsFinalized() bool { return s.finalized.Load() }

// PushTask enqueues fn on the strand. fn will not run concurrently with
// any other task pushed to the same strand.
func (s *ProcessingStrand) PushTask(fn func()) bool {
	if fn == nil || s.finalized.Load() {
		return false
	}
	s.mu.Lock()
	if s.finalized.Load() {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	alreadyRunning := s.running
	s.running = true
	s.mu.Unlock()

	if !alreadyRunning {
		return s.thread.PushTask(s.drainOne)
	}
	return true
}

// drainOne pops and runs exactly one queued task, then — if more remain —
// re-submits itself to the thread so the strand keeps making progress
// without ever holding two of its own tasks concurrently.
func (s *ProcessingStrand) drainOne() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.running = false
		s.mu.Unlock()
		return
	}
	fn := s.queue[0]
	s.queue = s.queue[1:]
	more := len(s.queue) > 0
	s.mu.Unlock()

	fn()

	if more {
		s.thread.PushTask(s.drainOne)
		return
	}

	s.mu.Lock()
	if len(s.queue) == 0 {
		s.running = false
	} else {
		s.running = true
		s.mu.Unlock()
		s.thread.PushTask(s.drainOne)
		return
	}
	s.mu.Unlock()
}

// PushStrandPromiseTask runs fn on the strand and resolves the returned future
// with its result, recovering any panic into the future's error.
func PushStrandPromiseTask[T any](s *ProcessingStrand, fn func() (T, error)) *Future[T] {
	future := NewFuture[T]()
	accepted := s.PushTask(func() {
		v, err := callRecovered(fn)
		future.resolve(v, err)
	})
	if !accepted {
		var zero T
		err := ErrStrandFinalized
		if s.thread.shuttingDown.Load() {
			err = ErrThreadStopped
		}
		future.resolve(zero, err)
	}
	return future
}

// PushFinalStrandPromiseTask queues fn on the strand and marks the strand
// finalized as soon as the task is accepted, so later submissions are
// rejected; tasks queued before it still run first.
func PushFinalStrandPromiseTask[T any](s *ProcessingStrand, fn func() (T, error)) *Future[T] {
	future := NewFuture[T]()
	accepted := s.PushTask(func() {
		v, err := callRecovered(fn)
		future.resolve(v, err)
	})
	if !accepted {
		var zero T
		future.resolve(zero, ErrStrandFinalized)
		return future
	}
	s.finalized.Store(true)
	return future
}
