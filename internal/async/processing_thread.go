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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// maximumTasksProcessableAtOnce bounds how many one-shot tasks are drained
// in a single cycle, so that a burst of submissions can't starve the
// permanent-task pass indefinitely.
const maximumTasksProcessableAtOnce = 100

// PermanentTaskID identifies a permanent task so it can later be removed.
type PermanentTaskID int

type deferredKind int

const (
	deferredRemoveOne deferredKind = iota
	deferredClearAll
)

type deferredModification struct {
	kind   deferredKind
	id     PermanentTaskID
	result chan bool // non-nil iff an out-of-thread caller is waiting
}

// ProcessingThread is a dedicated goroutine that executes submitted tasks
// FIFO, plus a set of "permanent" tasks re-run once per cycle until
// explicitly removed. Every native SSH/SFTP handle owned by a session
// must only ever be touched from task bodies running on that session's
// ProcessingThread.
//
// We don't pin this to an OS thread with runtime.LockOSThread: the native
// calls made from task bodies are pure-Go (golang.org/x/crypto/ssh,
// github.com/pkg/sftp), not cgo, so there is nothing that requires a
// fixed kernel thread — only a single logical executor, which one
// goroutine already gives us.
type ProcessingThread struct {
	log logrus.FieldLogger

	mu                  deadlock.Mutex
	oneShot             []func()
	permanents          map[PermanentTaskID]func()
	nextPermanentID     PermanentTaskID
	processingPermanent bool
	deferredMods        []deferredModification

	shuttingDown atomic.Bool
	running      atomic.Bool

	minCycleWait time.Duration
	stopCh       chan struct{}
	startedCh    chan struct{}
	doneCh       chan struct{}

	// runningTask is set while a task body dispatched by this thread is
	// executing (including the final drain performed by Stop() on the
	// caller's own goroutine). It is one flag for the whole thread and does
	// not record which goroutine is running the task.
	runningTask atomic.Bool
}

// NewProcessingThread allocates a thread that has not been started yet.
func NewProcessingThread(log logrus.FieldLogger) *ProcessingThread {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ProcessingThread{
		log:        log,
		permanents: make(map[PermanentTaskID]func()),
		stopCh:     make(chan struct{}),
		startedCh:  make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the loop goroutine and returns only once it has begun
// executing, per spec §4.1.
func (t *ProcessingThread) Start(minCycleWait time.Duration) {
	t.minCycleWait = minCycleWait
	t.running.Store(true)
	go t.loop()
	<-t.startedCh
}

// IsRunning reports whether the loop is still alive. Once a plain one-shot
// task panics, the loop stops and this flips to false — callers observe
// the death through this or through their own pending futures.
func (t *ProcessingThread) IsRunning() bool { return t.running.Load() }

// WithinProcessingThread reports whether a task dispatched by this thread
// is currently executing. It does not identify the caller: a goroutine
// outside the thread also gets true while a task is running.
func (t *ProcessingThread) WithinProcessingThread() bool { return t.runningTask.Load() }

// PushTask enqueues a one-shot task. Rejected only if the thread is
// shutting down or fn is nil (a precondition violation, logged and
// rejected rather than panicking the caller).
func (t *ProcessingThread) PushTask(fn func()) bool {
	if fn == nil {
		t.log.Warn("async: pushTask called with an empty function")
		return false
	}
	if t.shuttingDown.Load() {
		return false
	}
	t.mu.Lock()
	if t.shuttingDown.Load() {
		t.mu.Unlock()
		return false
	}
	t.oneShot = append(t.oneShot, fn)
	t.mu.Unlock()
	return true
}

// PushPromiseTask wraps a function returning (T, error); the returned
// future resolves with whatever it produced, including a recovered panic.
func PushPromiseTask[T any](t *ProcessingThread, fn func() (T, error)) *Future[T] {
	future := NewFuture[T]()
	accepted := t.PushTask(func() {
		v, err := callRecovered(fn)
		future.resolve(v, err)
	})
	if !accepted {
		var zero T
		future.resolve(zero, ErrThreadStopped)
	}
	return future
}

func callRecovered[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredToError(r)
		}
	}()
	return fn()
}

// PushPermanentTask registers fn to be invoked once per cycle until
// RemovePermanentTask(id) or ClearPermanentTasks() removes it.
func (t *ProcessingThread) PushPermanentTask(fn func()) (accepted bool, id PermanentTaskID) {
	if fn == nil || t.shuttingDown.Load() {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shuttingDown.Load() {
		return false, 0
	}
	t.nextPermanentID++
	id = t.nextPermanentID
	t.permanents[id] = fn
	return true, id
}

// RemovePermanentTask removes a permanent task. While a permanents pass is
// in flight the removal is deferred to the end of that pass: if a task of
// this thread is running (see WithinProcessingThread) the call returns at
// once, reporting whether the task existed; otherwise it blocks until the
// removal has been applied.
func (t *ProcessingThread) RemovePermanentTask(id PermanentTaskID) bool {
	t.mu.Lock()
	if !t.processingPermanent {
		_, existed := t.permanents[id]
		delete(t.permanents, id)
		t.mu.Unlock()
		return existed
	}

	withinThread := t.runningTask.Load()
	mod := deferredModification{kind: deferredRemoveOne, id: id}
	if withinThread {
		// Can't block ourselves waiting for the pass we're inside of to
		// finish; report presence now and apply the removal once the
		// pass ends.
		_, existed := t.permanents[id]
		t.deferredMods = append(t.deferredMods, mod)
		t.mu.Unlock()
		return existed
	}

	mod.result = make(chan bool, 1)
	t.deferredMods = append(t.deferredMods, mod)
	t.mu.Unlock()
	return <-mod.result
}

// ClearPermanentTasks removes every permanent task, with the same
// deferred-while-iterating semantics as RemovePermanentTask.
func (t *ProcessingThread) ClearPermanentTasks() {
	t.mu.Lock()
	if !t.processingPermanent {
		t.permanents = make(map[PermanentTaskID]func())
		t.mu.Unlock()
		return
	}

	withinThread := t.runningTask.Load()
	mod := deferredModification{kind: deferredClearAll}
	if withinThread {
		t.deferredMods = append(t.deferredMods, mod)
		t.mu.Unlock()
		return
	}

	mod.result = make(chan bool, 1)
	t.deferredMods = append(t.deferredMods, mod)
	t.mu.Unlock()
	<-mod.result
}

// AwaitCycle pushes a no-op promise task and waits up to maxWait for it to
// resolve, i.e. for one full cycle of the loop to complete.
func (t *ProcessingThread) AwaitCycle(maxWait time.Duration) bool {
	future := PushPromiseTask(t, func() (struct{}, error) { return struct{}{}, nil })
	_, _, ok := future.Get(maxWait)
	return ok
}

// Stop raises the shutdown flag, waits for the loop to exit, then drains
// and executes every remaining one-shot task on the calling goroutine, as
// required by spec §4.1.
func (t *ProcessingThread) Stop() {
	if !t.shuttingDown.CompareAndSwap(false, true) {
		<-t.doneCh
		return
	}
	close(t.stopCh)
	<-t.doneCh

	t.mu.Lock()
	remaining := t.oneShot
	t.oneShot = nil
	t.mu.Unlock()

	t.runningTask.Store(true)
	for _, fn := range remaining {
		runTaskSafely(t.log, fn)
	}
	t.runningTask.Store(false)
}

func (t *ProcessingThread) loop() {
	close(t.startedCh)
	defer close(t.doneCh)
	defer t.running.Store(false)

	for {
		cycleStart := time.Now()

		if t.stopRequested() {
			return
		}

		if !t.runPermanentsPass() {
			return
		}

		if !t.drainOneShots() {
			return
		}

		elapsed := time.Since(cycleStart)
		if t.minCycleWait > elapsed {
			select {
			case <-time.After(t.minCycleWait - elapsed):
			case <-t.stopCh:
				return
			}
		}

		if t.stopRequested() {
			return
		}
	}
}

func (t *ProcessingThread) stopRequested() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// runPermanentsPass executes one round of permanent tasks. It returns
// false if a panic escaped a task and the loop must stop.
func (t *ProcessingThread) runPermanentsPass() (ok bool) {
	t.mu.Lock()
	if len(t.permanents) == 0 {
		t.mu.Unlock()
		return true
	}
	snapshot := make(map[PermanentTaskID]func(), len(t.permanents))
	for id, fn := range t.permanents {
		snapshot[id] = fn
	}
	t.processingPermanent = true
	t.mu.Unlock()

	t.runningTask.Store(true)
	survived := true
	for _, fn := range snapshot {
		if !runTaskSafely(t.log, fn) {
			survived = false
			break
		}
	}
	t.runningTask.Store(false)

	t.mu.Lock()
	t.processingPermanent = false
	for k, v := range t.permanents {
		if _, already := snapshot[k]; !already {
			snapshot[k] = v
		}
	}
	t.permanents = snapshot
	mods := t.deferredMods
	t.deferredMods = nil
	t.mu.Unlock()

	t.applyDeferredMods(mods)
	return survived
}

func (t *ProcessingThread) applyDeferredMods(mods []deferredModification) {
	if len(mods) == 0 {
		return
	}
	t.mu.Lock()
	results := make([]func(), 0, len(mods))
	for _, mod := range mods {
		mod := mod
		switch mod.kind {
		case deferredClearAll:
			t.permanents = make(map[PermanentTaskID]func())
			if mod.result != nil {
				results = append(results, func() { mod.result <- true })
			}
		default:
			_, existed := t.permanents[mod.id]
			delete(t.permanents, mod.id)
			if mod.result != nil {
				results = append(results, func() { mod.result <- existed })
			}
		}
	}
	t.mu.Unlock()
	for _, deliver := range results {
		deliver()
	}
}

// drainOneShots executes up to maximumTasksProcessableAtOnce one-shot
// tasks. Returns false if a panic escaped one and the loop must stop.
func (t *ProcessingThread) drainOneShots() bool {
	t.mu.Lock()
	n := len(t.oneShot)
	if n > maximumTasksProcessableAtOnce {
		n = maximumTasksProcessableAtOnce
	}
	batch := t.oneShot[:n]
	t.oneShot = t.oneShot[n:]
	t.mu.Unlock()

	if n == 0 {
		return true
	}

	t.runningTask.Store(true)
	defer t.runningTask.Store(false)
	for _, fn := range batch {
		if !runTaskSafely(t.log, fn) {
			return false
		}
	}
	return true
}

// runTaskSafely invokes fn, recovering a panic and logging it as a fatal
// condition for the thread (per spec §7: "Fatal conditions ... stop the
// thread"). Returns false iff fn panicked.
func runTaskSafely(log logrus.FieldLogger, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("async: task panicked, stopping processing thread: %v", r)
			ok = false
		}
	}()
	fn()
	return true
}

func recoveredToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{value: r}
}

type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("async: recovered panic: %v", p.value) }
