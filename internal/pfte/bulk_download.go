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
	"path/filepath"
	"strings"

	"tunnelpilot/internal/core"
)

// BulkProgress is the overall-progress payload for a bulk download, per
// spec §4.11: per-file position plus the running totals across the set.
type BulkProgress struct {
	CurrentFile           string
	CurrentFileBytes      int64
	CurrentFileTotalBytes int64
	BytesCurrent          int64
	BytesTotal            int64
	FileCurrentIndex      int
	FileCount             int
}

// BulkProgressCallback receives overall bulk-download progress.
type BulkProgressCallback func(BulkProgress)

// BulkDownloadOperation consumes a completed ScanOperation's entries and
// downloads every regular file found, one inline DownloadOperation at a
// time, against the same SFTP session.
type BulkDownloadOperation struct {
	operationBase

	sftp       sftpHandle
	scan       *ScanOperation
	remoteRoot string
	localRoot  string
	options    core.TransferOptions

	files        []scanEntry
	bytesTotal   int64
	fileIndex    int
	bytesCurrent int64

	current *DownloadOperation
	overall BulkProgressCallback
}

func NewBulkDownloadOperation(sftp sftpHandle, scan *ScanOperation, remoteRoot, localRoot string, options core.TransferOptions, overall BulkProgressCallback) *BulkDownloadOperation {
	b := &BulkDownloadOperation{
		operationBase: newOperationBase(false),
		sftp:          sftp,
		scan:          scan,
		remoteRoot:    remoteRoot,
		localRoot:     localRoot,
		options:       options,
		overall:       overall,
	}
	b.cleanup = b.Cancel
	return b
}

func (b *BulkDownloadOperation) LocalPath() string  { return b.localRoot }
func (b *BulkDownloadOperation) RemotePath() string { return b.remoteRoot }

func (b *BulkDownloadOperation) ParallelWorkDoable(maxParallel int) int { return 1 }

func (b *BulkDownloadOperation) Work() core.WorkResult {
	if result, terminal := b.checkTerminal(); terminal {
		return result
	}

	switch b.state {
	case core.StateNotStarted:
		b.state = core.StateRunning
		b.collectFiles()
		return core.MoreWork

	case core.StateRunning:
		return b.step()

	default:
		return b.enterErrorState(core.NewOperationError(core.ErrInvalidOperationState, nil))
	}
}

func (b *BulkDownloadOperation) collectFiles() {
	for _, e := range b.scan.Entries() {
		if !e.isDir {
			b.files = append(b.files, e)
			b.bytesTotal += e.size
		}
	}
}

func (b *BulkDownloadOperation) step() core.WorkResult {
	if b.current == nil {
		if b.fileIndex >= len(b.files) {
			b.state = core.StateCompleted
			return core.Complete
		}
		b.current = b.newDownloadFor(b.files[b.fileIndex])
	}

	result := b.current.Work()
	switch result.Kind {
	case core.WorkErr:
		return b.enterErrorState(result.Err)
	case core.WorkComplete:
		b.bytesCurrent += b.files[b.fileIndex].size
		b.fileIndex++
		b.current = nil
		if b.fileIndex >= len(b.files) {
			b.state = core.StateCompleted
			return core.Complete
		}
		return core.MoreWork
	default:
		return core.MoreWork
	}
}

func (b *BulkDownloadOperation) newDownloadFor(entry scanEntry) *DownloadOperation {
	relative := strings.TrimPrefix(entry.path, b.remoteRoot)
	localPath := filepath.Join(b.localRoot, filepath.FromSlash(relative))
	_ = os.MkdirAll(filepath.Dir(localPath), 0o755)

	fileIndex := b.fileIndex
	return NewDownloadOperation(b.sftp, entry.path, localPath, b.options, func(current, max int64) {
		if b.overall == nil {
			return
		}
		b.overall(BulkProgress{
			CurrentFile:           entry.path,
			CurrentFileBytes:      current,
			CurrentFileTotalBytes: max,
			BytesCurrent:          b.bytesCurrent + current,
			BytesTotal:            b.bytesTotal,
			FileCurrentIndex:      fileIndex,
			FileCount:             len(b.files),
		})
	})
}

func (b *BulkDownloadOperation) Cancel(adoptCancelState bool) {
	if b.current != nil {
		b.current.Cancel(adoptCancelState)
	}
	b.cancel(adoptCancelState)
}
