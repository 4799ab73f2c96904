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

// Package async provides the cooperative scheduling primitives the rest of
// the library is built on: a single-goroutine ProcessingThread that runs
// submitted tasks FIFO plus a set of permanent tasks re-run every cycle,
// and ProcessingStrand, a sub-FIFO that serializes its own tasks against
// each other without claiming the whole thread.
package async

import "github.com/pkg/errors"

// ErrThreadStopped is the error a PushPromiseTask or PushStrandPromiseTask
// future resolves with when the thread rejected the task because it has
// started shutting down. PushTask and PushPermanentTask report the same
// rejection by returning false. A loop stopped by a task panic does not
// count as shutting down and keeps accepting tasks.
var ErrThreadStopped = errors.New("processing thread is not accepting tasks")

// ErrStrandFinalized is returned once a strand has been finalized via
// PushFinalStrandPromiseTask; it rejects all further submissions.
var ErrStrandFinalized = errors.New("processing strand is finalized")

// ErrEmptyTask names the precondition violation of submitting a nil
// function. PushTask does not return it: it logs a warning and returns
// false instead.
var ErrEmptyTask = errors.New("pushTask called with an empty function")

// ErrFutureTimeout is returned by Future.Get when the timeout elapses
// before the task resolves it.
var ErrFutureTimeout = errors.New("future timed out waiting for resolution")
