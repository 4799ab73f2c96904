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
	"path"
	"time"

	"tunnelpilot/internal/core"
)

// ScanProgressCallback reports (totalBytes, currentIndex, totalEntries).
type ScanProgressCallback func(totalBytes int64, currentIndex, totalEntries int)

// scanEntry is one node discovered by the walk.
type scanEntry struct {
	path  string
	isDir bool
	size  int64
}

// ScanOperation breadth-first walks a remote directory subtree, feeding
// BulkDownloadOperation. It is a barrier: the queue must not run anything
// that depends on its output ahead of it finishing.
type ScanOperation struct {
	operationBase

	sftp    sftpHandle
	root    string
	timeout time.Duration

	entries      []scanEntry
	currentIndex int
	totalBytes   int64

	progress ScanProgressCallback
}

func NewScanOperation(sftp sftpHandle, root string, progress ScanProgressCallback) *ScanOperation {
	s := &ScanOperation{
		operationBase: newOperationBase(true),
		sftp:          sftp,
		root:          root,
		timeout:       core.DefaultFutureTimeout,
		entries:       []scanEntry{{path: root, isDir: true}},
		progress:      progress,
	}
	s.cleanup = s.Cancel
	return s
}

func (s *ScanOperation) LocalPath() string  { return "" }
func (s *ScanOperation) RemotePath() string { return s.root }

func (s *ScanOperation) ParallelWorkDoable(maxParallel int) int { return 1 }

// Entries exposes the discovered nodes, for BulkDownloadOperation to
// consume once the scan reaches Completed.
func (s *ScanOperation) Entries() []scanEntry { return s.entries }

// TotalBytes is the accumulated size of every regular file discovered.
func (s *ScanOperation) TotalBytes() int64 { return s.totalBytes }

func (s *ScanOperation) Work() core.WorkResult {
	if result, terminal := s.checkTerminal(); terminal {
		return result
	}

	switch s.state {
	case core.StateNotStarted:
		s.state = core.StateRunning
		return core.MoreWork

	case core.StateRunning:
		return s.step()

	default:
		return s.enterErrorState(core.NewOperationError(core.ErrInvalidOperationState, nil))
	}
}

func (s *ScanOperation) step() core.WorkResult {
	if s.currentIndex >= len(s.entries) {
		s.state = core.StateCompleted
		return core.Complete
	}

	current := s.entries[s.currentIndex]
	if current.isDir {
		children, err := blockOn(s.sftp.ReadDir(current.path), s.timeout, core.ErrSftpError)
		if err != nil {
			return s.enterErrorState(err)
		}
		for _, child := range children {
			childPath := path.Join(current.path, child.Name())
			s.entries = append(s.entries, scanEntry{path: childPath, isDir: child.IsDir(), size: child.Size()})
		}
		s.currentIndex++
	} else {
		// Advance past a contiguous run of regular files, accumulating size.
		for s.currentIndex < len(s.entries) && !s.entries[s.currentIndex].isDir {
			s.totalBytes += s.entries[s.currentIndex].size
			s.currentIndex++
		}
	}

	if s.progress != nil {
		s.progress(s.totalBytes, s.currentIndex, len(s.entries))
	}

	if s.currentIndex >= len(s.entries) {
		s.state = core.StateCompleted
		return core.Complete
	}
	return core.MoreWork
}

func (s *ScanOperation) Cancel(adoptCancelState bool) {
	s.cancel(adoptCancelState)
}
