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
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"tunnelpilot/internal/core"
	"tunnelpilot/internal/network"
)

// DownloadOperation pulls one remote file to a local path through a
// ".part" staging file, resumable across runs when TryContinue is set.
type DownloadOperation struct {
	operationBase

	sftp     sftpHandle
	remote   string
	local    string
	tempPath string
	options  core.TransferOptions
	timeout  time.Duration

	progress ProgressCallback
	checksum *runningChecksum

	buffer       []byte
	size         int64
	localFile    *os.File
	remoteStream network.FileHandle
	tellp        int64
}

// NewDownloadOperation builds a download; Prepare runs lazily on the
// first Work() call, per the canonical state machine.
func NewDownloadOperation(sftp sftpHandle, remotePath, localPath string, options core.TransferOptions, progress ProgressCallback) *DownloadOperation {
	options = options.Sanitized()
	d := &DownloadOperation{
		operationBase: newOperationBase(false),
		sftp:          sftp,
		remote:        remotePath,
		local:         localPath,
		tempPath:      localPath + options.TempFileSuffix,
		options:       options,
		timeout:       core.DefaultFutureTimeout,
		progress:      progress,
		checksum:      newRunningChecksum(),
		buffer:        make([]byte, downloadReadChunk),
	}
	d.cleanup = d.Cancel
	return d
}

const downloadReadChunk = 64 * 1024

func (d *DownloadOperation) LocalPath() string  { return d.local }
func (d *DownloadOperation) RemotePath() string { return d.remote }

// ParallelWorkDoable reports how many concurrent quanta this operation
// can usefully claim; a single-stream download only ever claims one.
func (d *DownloadOperation) ParallelWorkDoable(maxParallel int) int {
	if maxParallel < 1 {
		return 1
	}
	return 1
}

// Checksum returns the running CRC32 digest of bytes written so far.
func (d *DownloadOperation) Checksum() string { return d.checksum.sum() }

func (d *DownloadOperation) Work() core.WorkResult {
	if result, terminal := d.checkTerminal(); terminal {
		return result
	}

	switch d.state {
	case core.StateNotStarted:
		d.state = core.StatePreparing
		if err := d.prepare(); err != nil {
			return d.enterErrorState(err)
		}
		d.state = core.StatePrepared
		return core.MoreWork

	case core.StatePreparing, core.StatePrepared:
		d.state = core.StateRunning
		return core.MoreWork

	case core.StateRunning:
		done, err := d.readOnce()
		if err != nil {
			return d.enterErrorState(err)
		}
		if done {
			d.state = core.StateFinalizing
		}
		return core.MoreWork

	case core.StateFinalizing:
		if err := d.finalize(); err != nil {
			return d.enterErrorState(err)
		}
		d.state = core.StateCompleted
		return core.Complete

	default:
		return d.enterErrorState(core.NewOperationError(core.ErrInvalidOperationState, nil))
	}
}

func (d *DownloadOperation) prepare() error {
	if d.local == "" {
		return core.NewOperationError(core.ErrInvalidPath, nil)
	}
	if !d.options.MayOverwrite {
		if _, err := os.Stat(d.local); err == nil {
			return core.NewOperationError(core.ErrFileExists, nil)
		}
	}

	info, err := blockOn(d.sftp.Stat(d.remote), d.timeout, core.ErrFileStatFailed)
	if err != nil {
		return err
	}
	d.size = info.Size()

	stream, localOffset, err := d.openLocalAndRemote()
	if err != nil {
		return err
	}
	d.remoteStream = stream
	d.tellp = localOffset

	if d.options.ReserveSpace && d.size > 0 {
		if _, err := d.localFile.WriteAt([]byte{0}, d.size-1); err != nil {
			return core.NewOperationError(core.ErrOpenFailure, err)
		}
		if _, err := d.localFile.Seek(d.tellp, io.SeekStart); err != nil {
			return core.NewOperationError(core.ErrOpenFailure, err)
		}
	}
	return nil
}

func (d *DownloadOperation) openLocalAndRemote() (network.FileHandle, int64, error) {
	mode := os.O_CREATE | os.O_WRONLY
	startOffset := int64(0)

	if d.options.TryContinue {
		if existing, err := os.Stat(d.tempPath); err == nil {
			switch {
			case existing.Size() == d.size:
				// Already fully staged; finalize will just rename it.
				mode = os.O_WRONLY
				startOffset = d.size
			case existing.Size() > d.size:
				mode = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
				startOffset = 0
			default:
				mode = os.O_WRONLY
				startOffset = existing.Size()
			}
		} else {
			mode |= os.O_TRUNC
		}
	} else {
		mode |= os.O_TRUNC
	}

	localFile, err := os.OpenFile(d.tempPath, mode, 0o644)
	if err != nil {
		return nil, 0, core.NewOperationError(core.ErrOpenFailure, err)
	}
	if _, err := localFile.Seek(startOffset, io.SeekStart); err != nil {
		localFile.Close()
		return nil, 0, core.NewOperationError(core.ErrOpenFailure, err)
	}
	d.localFile = localFile

	stream, err := blockOn(d.sftp.Open(d.remote, network.OpenRead, nil), d.timeout, core.ErrOpenFailure)
	if err != nil {
		localFile.Close()
		return nil, 0, err
	}
	if startOffset > 0 {
		if _, err := blockOn(stream.Seek(startOffset, io.SeekStart), d.timeout, core.ErrOpenFailure); err != nil {
			localFile.Close()
			stream.Close()
			return nil, 0, err
		}
	}
	return stream, startOffset, nil
}

// readOnce performs one read-limited chunk, appends it locally, and
// reports progress; returns done=true once tellp reaches the cached size.
func (d *DownloadOperation) readOnce() (bool, error) {
	if d.tellp >= d.size {
		return true, nil
	}

	n, err := blockOn(d.remoteStream.Read(d.buffer), d.timeout, core.ErrSftpError)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if n > 0 {
		chunk := d.buffer[:n]
		if _, writeErr := d.localFile.Write(chunk); writeErr != nil {
			return false, core.NewOperationError(core.ErrOpenFailure, writeErr)
		}
		d.checksum.update(chunk)
		d.tellp += int64(n)
		if d.progress != nil {
			d.progress(d.tellp, d.size)
		}
	}
	return d.tellp >= d.size, nil
}

func (d *DownloadOperation) finalize() error {
	if d.localFile != nil {
		d.localFile.Close()
		d.localFile = nil
	}
	if d.remoteStream != nil {
		d.remoteStream.Close()
		d.remoteStream = nil
	}

	if !d.options.MayOverwrite {
		if _, err := os.Stat(d.local); err == nil {
			return core.NewOperationError(core.ErrFileExists, nil)
		}
	}

	if err := os.Rename(d.tempPath, d.local); err != nil {
		return core.NewOperationError(core.ErrRenameFailure, err)
	}

	if d.options.InheritPermissions {
		info, err := blockOn(d.sftp.Stat(d.remote), d.timeout, core.ErrFileStatFailed)
		if err == nil {
			_ = os.Chmod(d.local, info.Mode())
		}
	} else if d.options.CustomPermissions != nil {
		if err := os.Chmod(d.local, *d.options.CustomPermissions); err != nil {
			return core.NewOperationError(core.ErrCannotSetFilePermissions, err)
		}
	}
	return nil
}

// Cancel closes open handles and, if DoCleanup is set, removes the
// in-progress ".part" file.
func (d *DownloadOperation) Cancel(adoptCancelState bool) {
	if d.localFile != nil {
		d.localFile.Close()
		d.localFile = nil
	}
	if d.remoteStream != nil {
		d.remoteStream.Close()
		d.remoteStream = nil
	}
	if d.options.DoCleanup {
		if _, err := os.Stat(d.tempPath); err == nil {
			_ = os.Remove(d.tempPath)
		}
	}
	d.cancel(adoptCancelState)
}
