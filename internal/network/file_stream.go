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

package network

import (
	"io"
	"os"
	"weak"

	"github.com/pkg/sftp"

	"tunnelpilot/internal/async"
	"tunnelpilot/internal/core"
)

// FileHandle is the subset of *FileStream that DownloadOperation and
// UploadOperation depend on. Tests substitute a fake that resolves
// immediately instead of round-tripping through a real strand.
type FileHandle interface {
	Seek(offset int64, whence int) *async.Future[int64]
	Read(buf []byte) *async.Future[int]
	Write(data []byte) *async.Future[int]
	Close()
}

// FileStream wraps one open remote file handle. It holds only a weak
// reference to the SftpSession that opened it (which itself only weakly
// references the owning SshSession), so a caller holding a FileStream
// can never be the reason either ancestor stays alive past its own
// lifetime — invariant 2.
type FileStream struct {
	id      core.SessionId
	session weak.Pointer[SftpSession]
	native  *sftp.File
	path    string

	maxReadLen  int
	maxWriteLen int

	offset int64
	closed bool
}

func newFileStream(id core.SessionId, owner *SftpSession, native *sftp.File, path string) *FileStream {
	maxRead, maxWrite := owner.Limits()
	return &FileStream{
		id:          id,
		session:     weak.Make(owner),
		native:      native,
		path:        path,
		maxReadLen:  maxRead,
		maxWriteLen: maxWrite,
	}
}

// Path returns the remote path this stream was opened against.
func (f *FileStream) Path() string { return f.path }

func (f *FileStream) owningSession() (*SftpSession, error) {
	owner := f.session.Value()
	if owner == nil {
		return nil, core.NewWrapperError(core.WrapperOwnerDestroyed, "sftp session no longer exists")
	}
	return owner, nil
}

// Stat returns metadata for the already-open handle.
func (f *FileStream) Stat() *async.Future[os.FileInfo] {
	owner, err := f.owningSession()
	if err != nil {
		future := async.NewFuture[os.FileInfo]()
		return future
	}
	return async.PushStrandPromiseTask(owner.strand, func() (os.FileInfo, error) {
		if f.closed {
			return nil, core.NewWrapperError(core.WrapperFileNull, "stat on closed stream")
		}
		info, err := f.native.Stat()
		return info, translateSftpError(err, "stat")
	})
}

// Seek moves the stream's cursor. whence follows io.Seeker's convention.
func (f *FileStream) Seek(offset int64, whence int) *async.Future[int64] {
	owner, err := f.owningSession()
	if err != nil {
		future := async.NewFuture[int64]()
		return future
	}
	return async.PushStrandPromiseTask(owner.strand, func() (int64, error) {
		if f.closed {
			return 0, core.NewWrapperError(core.WrapperFileNull, "seek on closed stream")
		}
		newOffset, err := f.native.Seek(offset, whence)
		if err == nil {
			f.offset = newOffset
		}
		return newOffset, translateSftpError(err, "seek")
	})
}

// Tell reports the stream's current logical offset without a round-trip.
func (f *FileStream) Tell() int64 { return f.offset }

// Rewind seeks back to the start of the file.
func (f *FileStream) Rewind() *async.Future[int64] {
	return f.Seek(0, io.SeekStart)
}

// Read fills buf starting at the current offset, never requesting more
// than maxReadLen from the wire in one round-trip.
func (f *FileStream) Read(buf []byte) *async.Future[int] {
	owner, err := f.owningSession()
	if err != nil {
		future := async.NewFuture[int]()
		return future
	}
	return async.PushStrandPromiseTask(owner.strand, func() (int, error) {
		if f.closed {
			return 0, core.NewWrapperError(core.WrapperFileNull, "read on closed stream")
		}
		chunk := buf
		if len(chunk) > f.maxReadLen {
			chunk = chunk[:f.maxReadLen]
		}
		n, err := f.native.Read(chunk)
		f.offset += int64(n)
		if err == io.EOF {
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		return n, translateSftpError(err, "read")
	})
}

// Write sends data at the current offset, chunked to maxWriteLen per
// round-trip, returning the total bytes accepted before any error.
func (f *FileStream) Write(data []byte) *async.Future[int] {
	owner, err := f.owningSession()
	if err != nil {
		future := async.NewFuture[int]()
		return future
	}
	return async.PushStrandPromiseTask(owner.strand, func() (int, error) {
		if f.closed {
			return 0, core.NewWrapperError(core.WrapperFileNull, "write on closed stream")
		}
		written := 0
		for written < len(data) {
			end := written + f.maxWriteLen
			if end > len(data) {
				end = len(data)
			}
			n, err := f.native.Write(data[written:end])
			written += n
			f.offset += int64(n)
			if err != nil {
				return written, translateSftpError(err, "write")
			}
			if n == 0 {
				return written, core.NewWrapperError(core.WrapperShortWrite, "write made no progress")
			}
		}
		return written, nil
	})
}

// Close requests removal of this stream from its owning SFTP session.
// Safe to call more than once and from any goroutine.
func (f *FileStream) Close() {
	owner := f.session.Value()
	if owner == nil {
		return
	}
	owner.strand.PushTask(func() {
		f.closeNative()
		owner.fileStreamRemoveItself(f)
	})
}

// closeNative performs the actual native close; invoked either from
// Close() above or from the owning session's teardown sweep.
func (f *FileStream) closeNative() {
	if f.closed {
		return
	}
	f.closed = true
	_ = f.native.Close()
}

// Release hands the native handle to the caller without closing it and
// marks this FileStream inert: further calls behave as if the stream were
// already closed, but the remote file descriptor stays open under the
// caller's management. Useful when a transfer operation wants to keep
// reading/writing a handle it opened through a FileStream without paying
// the strand round-trip for every call.
func (f *FileStream) Release() (*sftp.File, error) {
	owner, err := f.owningSession()
	if err != nil {
		return nil, err
	}
	result, releaseErr, _ := async.PushStrandPromiseTask(owner.strand, func() (*sftp.File, error) {
		if f.closed {
			return nil, core.NewWrapperError(core.WrapperFileNull, "release on closed stream")
		}
		native := f.native
		f.closed = true
		f.native = nil
		owner.fileStreamRemoveItself(f)
		return native, nil
	}).Get(core.DefaultFutureTimeout)
	return result, releaseErr
}
