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
	"time"

	"golang.org/x/sync/semaphore"

	"tunnelpilot/internal/async"
	"tunnelpilot/internal/core"
	"tunnelpilot/internal/network"
)

// OperationAdded is emitted when the queue accepts a new top-level
// request (a plain download/upload, or the scan+bulk pair for a
// directory), per spec §4.12.
type OperationAdded struct {
	OperationID core.OperationId
	Kind        string
	TotalBytes  int64
}

// OperationCompleted is emitted once for each operation that Work removes
// from the queue after it completes or fails. Operations removed by Cancel
// or CancelAll leave without this event.
type OperationCompleted struct {
	Reason         core.CompletionReason
	OperationID    core.OperationId
	CompletionTime time.Time
	LocalPath      string
	RemotePath     string
	Err            error
}

// QueueObserver receives the queue's fan-out events.
type QueueObserver interface {
	OnOperationAdded(OperationAdded)
	OnOperationCompleted(OperationCompleted)
}

// OperationQueue is an ordered deque of operations driven one throttled
// quantum at a time by the owning session's strand. All mutation happens
// inside that strand — invariant 4.
type OperationQueue struct {
	sftp        *network.SftpSession
	opts        core.SftpOptions
	observers   []QueueObserver
	parallelism int

	entries []Operation
	paused  bool

	// reentry allows at most one in-flight Work() call at a time, even if a
	// caller mistakenly drives the same queue from two goroutines — Work()
	// is only ever meant to be called from the owning session's strand,
	// but the semaphore turns a would-be invariant-1 data race into a
	// dropped cycle instead.
	reentry *semaphore.Weighted
}

// NewOperationQueue builds an empty queue bound to one SFTP session.
func NewOperationQueue(sftp *network.SftpSession, opts core.SftpOptions) *OperationQueue {
	parallelism := opts.Concurrency
	if parallelism < 1 {
		parallelism = 1
	}
	return &OperationQueue{
		sftp:        sftp,
		opts:        opts,
		parallelism: parallelism,
		reentry:     semaphore.NewWeighted(1),
	}
}

// Subscribe registers an observer for OperationAdded/OperationCompleted
// events.
func (q *OperationQueue) Subscribe(o QueueObserver) { q.observers = append(q.observers, o) }

func (q *OperationQueue) emitAdded(ev OperationAdded) {
	for _, o := range q.observers {
		o.OnOperationAdded(ev)
	}
}

func (q *OperationQueue) emitCompleted(ev OperationCompleted) {
	for _, o := range q.observers {
		o.OnOperationCompleted(ev)
	}
}

// mutateOnStrand runs fn on the queue's owning session strand and blocks
// the caller until it has run, so entries/paused are only ever touched
// from that strand (invariant 4 / §4.12) no matter which goroutine a
// caller like Transfers invokes the queue from.
func mutateOnStrand[T any](q *OperationQueue, timeout time.Duration, fn func() (T, error)) (T, error) {
	value, err, ok := async.PushStrandPromiseTask(q.sftp.Strand(), fn).Get(timeout)
	if !ok {
		var zero T
		return zero, core.NewOperationError(core.ErrFutureTimeout, nil)
	}
	return value, err
}

// AddDownloadOperation implements the download enqueue algorithm from
// spec §4.12: stat the target off-strand, then branch on file vs.
// directory and splice the new entry/entries into the deque on-strand.
func (q *OperationQueue) AddDownloadOperation(remotePath, localPath string, override core.TransferOptions, progress ProgressCallback, overallProgress BulkProgressCallback, scanProgress ScanProgressCallback) (core.OperationId, error) {
	info, err := blockOn(q.sftp.Stat(remotePath), q.opts.OperationTimeout, core.ErrFileStatFailed)
	if err != nil {
		return "", err
	}

	effective := q.opts.DownloadOptions.Overlay(override)

	return mutateOnStrand(q, q.opts.OperationTimeout, func() (core.OperationId, error) {
		if info.Mode().IsRegular() {
			op := NewDownloadOperation(q.sftp, remotePath, localPath, effective, progress)
			q.entries = append(q.entries, op)
			q.emitAdded(OperationAdded{OperationID: op.ID(), Kind: "download", TotalBytes: info.Size()})
			return op.ID(), nil
		}
		if !info.IsDir() {
			return "", core.NewOperationError(core.ErrOperationNotPossibleOnFileType, nil)
		}

		// The scan and its bulk_download consumer share one operation id
		// so observers can correlate the pair as a single request, per
		// spec §4.12, even though they are two separate deque entries.
		scan := NewScanOperation(q.sftp, remotePath, scanProgress)
		bulk := NewBulkDownloadOperation(q.sftp, scan, remotePath, localPath, effective, overallProgress)
		bulk.id = scan.id
		q.entries = append(q.entries, scan, bulk)
		q.emitAdded(OperationAdded{OperationID: scan.ID(), Kind: "scan+bulk_download"})
		return scan.ID(), nil
	})
}

// AddUploadOperation enqueues a single-file upload.
func (q *OperationQueue) AddUploadOperation(localPath, remotePath string, override core.TransferOptions, progress ProgressCallback) (core.OperationId, error) {
	effective := q.opts.UploadOptions.Overlay(override)
	return mutateOnStrand(q, q.opts.OperationTimeout, func() (core.OperationId, error) {
		op := NewUploadOperation(q.sftp, localPath, remotePath, effective, progress)
		q.entries = append(q.entries, op)
		q.emitAdded(OperationAdded{OperationID: op.ID(), Kind: "upload"})
		return op.ID(), nil
	})
}

// Pause toggles whether Work() drives any operations at all. The flag is
// flipped on the strand, same as the deque itself.
func (q *OperationQueue) Pause(paused bool) {
	q.sftp.Strand().PushTask(func() { q.paused = paused })
}

// Cancel removes the operation matching id, running its cleanup first.
func (q *OperationQueue) Cancel(id core.OperationId) bool {
	found, _ := mutateOnStrand(q, q.opts.OperationTimeout, func() (bool, error) {
		for i, op := range q.entries {
			if op.ID() == id {
				op.Cancel(true)
				q.entries = append(q.entries[:i], q.entries[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
	return found
}

// CancelAll cancels and removes every queued operation.
func (q *OperationQueue) CancelAll() {
	q.sftp.Strand().PushTask(func() {
		for _, op := range q.entries {
			op.Cancel(true)
		}
		q.entries = nil
	})
}

// Len reports how many operations remain queued.
func (q *OperationQueue) Len() int { return len(q.entries) }

// Work drives up to min(len, parallelism) operations one quantum each,
// per the driver algorithm in spec §4.12. Returns whether any state
// change occurred, which the session driver uses to decide whether to run
// the next quantum immediately or back off.
func (q *OperationQueue) Work() bool {
	if q.paused || len(q.entries) == 0 {
		return false
	}
	if !q.reentry.TryAcquire(1) {
		return false
	}
	defer q.reentry.Release(1)

	limit := q.parallelism
	if limit > len(q.entries) {
		limit = len(q.entries)
	}

	changed := false
	for i := 0; i < limit; i++ {
		op := q.entries[i]
		if i > 0 && (op.IsBarrier() || q.entries[0].IsBarrier()) {
			break
		}

		result := op.Work()
		switch result.Kind {
		case core.WorkErr:
			// op already ran its own Cancel(false) cleanup inside
			// enterErrorState before returning WorkErr; nothing left to
			// release here but the deque slot.
			q.emitCompleted(OperationCompleted{
				Reason: core.ReasonFailed, OperationID: op.ID(), CompletionTime: time.Now(),
				LocalPath: op.LocalPath(), RemotePath: op.RemotePath(), Err: result.Err,
			})
			q.removeAt(i)
			return true
		case core.WorkComplete:
			q.emitCompleted(OperationCompleted{
				Reason: core.ReasonCompleted, OperationID: op.ID(), CompletionTime: time.Now(),
				LocalPath: op.LocalPath(), RemotePath: op.RemotePath(),
			})
			q.removeAt(i)
			return true
		default:
			changed = true
		}
	}
	return changed
}

func (q *OperationQueue) removeAt(i int) {
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
}
