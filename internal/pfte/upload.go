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

	"tunnelpilot/internal/core"
	"tunnelpilot/internal/network"
)

// UploadOperation pushes one local file to a remote path through a
// remote ".part" staging file. Mirrors DownloadOperation; see spec §4.9
// for the differences (remote-side staging instead of local-side).
type UploadOperation struct {
	operationBase

	sftp     sftpHandle
	local    string
	remote   string
	tempPath string
	options  core.TransferOptions
	timeout  time.Duration

	progress ProgressCallback
	checksum *runningChecksum

	buffer       []byte
	localFile    *os.File
	remoteStream network.FileHandle
	totalSize    int64
	leftToUpload int64
}

func NewUploadOperation(sftp sftpHandle, localPath, remotePath string, options core.TransferOptions, progress ProgressCallback) *UploadOperation {
	options = options.Sanitized()
	u := &UploadOperation{
		operationBase: newOperationBase(false),
		sftp:          sftp,
		local:         localPath,
		remote:        remotePath,
		tempPath:      remotePath + options.TempFileSuffix,
		options:       options,
		timeout:       core.DefaultFutureTimeout,
		progress:      progress,
		checksum:      newRunningChecksum(),
		buffer:        make([]byte, downloadReadChunk),
	}
	u.cleanup = u.Cancel
	return u
}

func (u *UploadOperation) LocalPath() string  { return u.local }
func (u *UploadOperation) RemotePath() string { return u.remote }

func (u *UploadOperation) ParallelWorkDoable(maxParallel int) int {
	if maxParallel < 1 {
		return 1
	}
	return 1
}

// Checksum returns the running CRC32 digest of bytes read so far.
func (u *UploadOperation) Checksum() string { return u.checksum.sum() }

func (u *UploadOperation) Work() core.WorkResult {
	if result, terminal := u.checkTerminal(); terminal {
		return result
	}

	switch u.state {
	case core.StateNotStarted:
		u.state = core.StatePreparing
		if err := u.prepare(); err != nil {
			return u.enterErrorState(err)
		}
		u.state = core.StatePrepared
		return core.MoreWork

	case core.StatePreparing, core.StatePrepared:
		u.state = core.StateRunning
		return core.MoreWork

	case core.StateRunning:
		done, err := u.writeOnce()
		if err != nil {
			return u.enterErrorState(err)
		}
		if done {
			u.state = core.StateFinalizing
		}
		return core.MoreWork

	case core.StateFinalizing:
		if err := u.finalize(); err != nil {
			return u.enterErrorState(err)
		}
		u.state = core.StateCompleted
		return core.Complete

	default:
		return u.enterErrorState(core.NewOperationError(core.ErrInvalidOperationState, nil))
	}
}

func (u *UploadOperation) prepare() error {
	localFile, err := os.Open(u.local)
	if err != nil {
		return core.NewOperationError(core.ErrOpenFailure, err)
	}
	info, err := localFile.Stat()
	if err != nil {
		localFile.Close()
		return core.NewOperationError(core.ErrFileStatFailed, err)
	}
	localSize := info.Size()
	u.localFile = localFile
	u.totalSize = localSize
	u.leftToUpload = localSize

	if !u.options.MayOverwrite {
		if _, err := blockOn(u.sftp.Stat(u.remote), u.timeout, core.ErrFileStatFailed); err == nil {
			return core.NewOperationError(core.ErrFileExists, nil)
		}
	}

	startOffset := int64(0)
	openFlags := network.OpenWrite | network.OpenCreate | network.OpenTruncate
	if u.options.TryContinue {
		if partInfo, err := blockOn(u.sftp.Stat(u.tempPath), u.timeout, core.ErrFileStatFailed); err == nil {
			if partInfo.Size() < localSize {
				startOffset = partInfo.Size()
				openFlags = network.OpenWrite
			}
		}
	}

	stream, err := blockOn(u.sftp.Open(u.tempPath, openFlags, u.options.CustomPermissions), u.timeout, core.ErrOpenFailure)
	if err != nil {
		localFile.Close()
		u.localFile = nil
		return err
	}
	u.remoteStream = stream

	if startOffset > 0 {
		if _, err := blockOn(stream.Seek(startOffset, io.SeekStart), u.timeout, core.ErrOpenFailure); err != nil {
			return err
		}
		if _, err := localFile.Seek(startOffset, io.SeekStart); err != nil {
			return core.NewOperationError(core.ErrOpenFailure, err)
		}
		u.leftToUpload -= startOffset
	}
	return nil
}

func (u *UploadOperation) writeOnce() (bool, error) {
	if u.leftToUpload <= 0 {
		return true, nil
	}

	chunk := u.buffer
	if int64(len(chunk)) > u.leftToUpload {
		chunk = chunk[:u.leftToUpload]
	}

	n, err := u.localFile.Read(chunk)
	if n > 0 {
		written, writeErr := blockOn(u.remoteStream.Write(chunk[:n]), u.timeout, core.ErrSftpError)
		_ = written
		if writeErr != nil {
			return false, writeErr
		}
		u.checksum.update(chunk[:n])
		u.leftToUpload -= int64(n)
		if u.progress != nil {
			u.progress(u.totalSize-u.leftToUpload, u.totalSize)
		}
	}
	if err != nil && err != io.EOF {
		return false, core.NewOperationError(core.ErrOpenFailure, err)
	}
	return u.leftToUpload <= 0, nil
}

func (u *UploadOperation) finalize() error {
	if u.localFile != nil {
		u.localFile.Close()
		u.localFile = nil
	}
	if u.remoteStream != nil {
		u.remoteStream.Close()
		u.remoteStream = nil
	}

	if !u.options.MayOverwrite {
		if _, err := blockOn(u.sftp.Stat(u.remote), u.timeout, core.ErrFileStatFailed); err == nil {
			return core.NewOperationError(core.ErrFileExists, nil)
		}
	}

	if _, err := blockOn(u.sftp.Rename(u.tempPath, u.remote), u.timeout, core.ErrRenameFailure); err != nil {
		return err
	}
	return nil
}

// Cancel closes the local and remote handles but deliberately leaves the
// remote ".part" file in place, so a later TryContinue upload can resume.
func (u *UploadOperation) Cancel(adoptCancelState bool) {
	if u.localFile != nil {
		u.localFile.Close()
		u.localFile = nil
	}
	if u.remoteStream != nil {
		u.remoteStream.Close()
		u.remoteStream = nil
	}
	u.cancel(adoptCancelState)
}
