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
	"os"
	"time"

	"tunnelpilot/internal/async"
	"tunnelpilot/internal/core"
	"tunnelpilot/internal/network"
)

// ProgressCallback reports transfer progress; max is 0 when unknown.
type ProgressCallback func(current, max int64)

// sftpHandle is the subset of *network.SftpSession that
// DownloadOperation, UploadOperation, ScanOperation, and
// BulkDownloadOperation depend on. *network.SftpSession satisfies it
// structurally; tests substitute a fake that resolves its futures
// immediately so state-machine edge cases (oversized ".part", zero-byte
// file, resume) run without a live SSH server.
type sftpHandle interface {
	Stat(path string) *async.Future[os.FileInfo]
	ReadDir(path string) *async.Future[[]os.FileInfo]
	Rename(oldPath, newPath string) *async.Future[struct{}]
	Open(path string, flags network.OpenFlag, perms *os.FileMode) *async.Future[network.FileHandle]
}

// Operation is the interface the queue drives. Every concrete operation's
// work() moves it through the canonical state machine: NotStarted →
// Preparing → Prepared → Running → Finalizing → Completed, with Canceled
// and Failed as the two off-ramps.
type Operation interface {
	ID() core.OperationId
	State() core.OperationState
	IsBarrier() bool
	ParallelWorkDoable(maxParallel int) int
	Work() core.WorkResult
	Cancel(adoptCancelState bool)
	LocalPath() string
	RemotePath() string
}

// operationBase factors the state machine and error bookkeeping shared by
// every concrete operation, mirroring how the teacher's own job types
// shared almost nothing — this is the one abstraction the spec's state
// machine actually calls for.
type operationBase struct {
	id    core.OperationId
	state core.OperationState
	err   *core.OperationError

	isBarrier bool

	// cleanup is the concrete operation's own Cancel method, set by its
	// constructor. enterErrorState calls it with adoptCancelState=false
	// so a failed operation releases its handles the same way a
	// cancelled one does, without being forced into StateCanceled.
	cleanup func(adoptCancelState bool)
}

func newOperationBase(isBarrier bool) operationBase {
	return operationBase{id: core.NewOperationId(), state: core.StateNotStarted, isBarrier: isBarrier}
}

func (b *operationBase) ID() core.OperationId    { return b.id }
func (b *operationBase) State() core.OperationState { return b.state }
func (b *operationBase) IsBarrier() bool         { return b.isBarrier }

// checkTerminal returns the specific CannotWork* error if the operation
// is already in a terminal state, so Work() can refuse re-entry without
// disturbing the stored state or error.
func (b *operationBase) checkTerminal() (core.WorkResult, bool) {
	if b.state.IsTerminal() {
		return core.Failed(core.CannotWorkError(b.state)), true
	}
	return core.WorkResult{}, false
}

// enterErrorState runs the concrete operation's own cleanup — closing
// whatever local/remote handles it still holds, per §4.7/§7 — then
// transitions to Failed and records err. adoptCancelState is false so
// cleanup cannot overwrite the Failed state with Canceled.
func (b *operationBase) enterErrorState(err error) core.WorkResult {
	if b.cleanup != nil {
		b.cleanup(false)
	}
	b.state = core.StateFailed
	b.err = asOperationError(err)
	return core.Failed(b.err)
}

// cancel performs the state transition half of cancel(adoptCancelState):
// concrete operations still must run their own cleanup before or after
// calling this, per their own resource shape.
func (b *operationBase) cancel(adoptCancelState bool) {
	if adoptCancelState && !b.state.IsTerminal() {
		b.state = core.StateCanceled
	}
}

func asOperationError(err error) *core.OperationError {
	if err == nil {
		return nil
	}
	if opErr, ok := err.(*core.OperationError); ok {
		return opErr
	}
	return core.NewOperationError(core.ErrSftpError, err)
}

// blockOn waits for future, translating a timeout into ErrFutureTimeout
// and folding any resolved error into an OperationError of the given
// kind. This is the synchronous face operations present to the queue:
// "a driver thread blocks on a strand-bound future with a bounded
// timeout" per the concurrency model — never the strand itself.
func blockOn[T any](future *async.Future[T], timeout time.Duration, kind core.OperationErrorKind) (T, error) {
	value, err, ok := future.Get(timeout)
	if !ok {
		var zero T
		return zero, core.NewOperationError(core.ErrFutureTimeout, nil)
	}
	if err != nil {
		return value, core.NewOperationError(kind, err)
	}
	return value, nil
}
