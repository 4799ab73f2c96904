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

package tunnelpilot

import (
	"tunnelpilot/internal/network"
	"tunnelpilot/internal/pfte"
)

// Transfers is one SFTP sub-session's queue of downloads and uploads, run
// to completion in the background by a throttled driver on the owning
// session's processing thread. Callers enqueue work and subscribe for
// progress; nothing here blocks the caller's goroutine beyond the initial
// enqueue call itself.
type Transfers struct {
	sftp   *network.SftpSession
	queue  *pfte.OperationQueue
	driver *pfte.Driver
}

func newTransfers(sftp *network.SftpSession, opts SftpOptions) *Transfers {
	queue := pfte.NewOperationQueue(sftp, opts)
	driver := pfte.NewDriver(sftp.Strand(), queue)
	return &Transfers{sftp: sftp, queue: queue, driver: driver}
}

// Subscribe registers an observer for OperationAdded/OperationDone events.
func (t *Transfers) Subscribe(o pfte.QueueObserver) { t.queue.Subscribe(o) }

// Download enqueues remotePath for download to localPath. If remotePath
// names a directory, this queues a recursive scan followed by a bulk
// download of every regular file found under it, and overallProgress (not
// progress) receives updates instead.
func (t *Transfers) Download(remotePath, localPath string, override TransferOptions, progress pfte.ProgressCallback, overallProgress pfte.BulkProgressCallback, scanProgress pfte.ScanProgressCallback) (OperationId, error) {
	id, err := t.queue.AddDownloadOperation(remotePath, localPath, override, progress, overallProgress, scanProgress)
	if err != nil {
		return "", err
	}
	t.driver.Kick()
	return id, nil
}

// Upload enqueues localPath for upload to remotePath.
func (t *Transfers) Upload(localPath, remotePath string, override TransferOptions, progress pfte.ProgressCallback) (OperationId, error) {
	id, err := t.queue.AddUploadOperation(localPath, remotePath, override, progress)
	if err != nil {
		return "", err
	}
	t.driver.Kick()
	return id, nil
}

// Pause stops the driver from running any further quanta until resumed.
func (t *Transfers) Pause() {
	t.queue.Pause(true)
	t.driver.Kick()
}

// Resume re-enables the driver and immediately kicks it, resetting the
// throttle back to its fastest setting.
func (t *Transfers) Resume() {
	t.queue.Pause(false)
	t.driver.Kick()
}

// Cancel cancels and removes a single queued operation.
func (t *Transfers) Cancel(id OperationId) bool { return t.queue.Cancel(id) }

// CancelAll cancels and removes every queued operation.
func (t *Transfers) CancelAll() { t.queue.CancelAll() }

// Len reports how many operations remain queued.
func (t *Transfers) Len() int { return t.queue.Len() }

// Close stops the driver and closes the underlying SFTP sub-session.
func (t *Transfers) Close() {
	t.driver.Stop()
	t.queue.CancelAll()
	t.sftp.Close()
}
