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
	"sync"
	"time"

	"tunnelpilot/internal/async"
	"tunnelpilot/internal/network"
)

// fakeFileInfo is a minimal os.FileInfo for the fake remote tree.
type fakeFileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (fi fakeFileInfo) Name() string       { return fi.name }
func (fi fakeFileInfo) Size() int64        { return fi.size }
func (fi fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (fi fakeFileInfo) IsDir() bool        { return fi.isDir }
func (fi fakeFileInfo) Sys() any           { return nil }

// fakeRemoteFile is a network.FileHandle double backed by an in-memory
// byte slice, standing in for an open *sftp.File.
type fakeRemoteFile struct {
	mu      sync.Mutex
	data    []byte
	offset  int64
	closed  bool
	onClose func(data []byte)

	// failErr, when set, is returned by Read instead of real data once
	// the cursor reaches failAtOffset — used to exercise the
	// enterErrorState/Cancel cleanup path on a non-EOF read failure.
	failErr      error
	failAtOffset int64
}

func (f *fakeRemoteFile) Seek(offset int64, whence int) *async.Future[int64] {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	case io.SeekEnd:
		f.offset = int64(len(f.data)) + offset
	}
	return async.ResolvedFuture(f.offset, nil)
}

func (f *fakeRemoteFile) Read(buf []byte) *async.Future[int] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil && f.offset >= f.failAtOffset {
		return async.ResolvedFuture(0, f.failErr)
	}
	if f.offset >= int64(len(f.data)) {
		return async.ResolvedFuture(0, io.EOF)
	}
	n := copy(buf, f.data[f.offset:])
	f.offset += int64(n)
	return async.ResolvedFuture(n, nil)
}

func (f *fakeRemoteFile) Write(data []byte) *async.Future[int] {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := f.offset + int64(len(data))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[f.offset:end], data)
	f.offset = end
	return async.ResolvedFuture(len(data), nil)
}

// Close publishes the accumulated data back to the owning fakeSftp, the
// way a real remote write is only durable once the handle is closed.
func (f *fakeRemoteFile) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	data := append([]byte(nil), f.data...)
	cb := f.onClose
	f.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// fakeSftp is a sftpHandle double that resolves every call immediately
// against an in-memory remote tree, so transfer state machines can be
// driven without a live SSH server.
type fakeSftp struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string][]os.FileInfo
	statErr error
	opened  []string

	// openHook, when set, is called with every freshly opened remote
	// file so a test can inject failures or inspect behaviour.
	openHook func(path string, rf *fakeRemoteFile)
}

func newFakeSftp() *fakeSftp {
	return &fakeSftp{files: map[string][]byte{}, dirs: map[string][]os.FileInfo{}}
}

func (s *fakeSftp) Stat(path string) *async.Future[os.FileInfo] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statErr != nil {
		return async.ResolvedFuture[os.FileInfo](nil, s.statErr)
	}
	if data, ok := s.files[path]; ok {
		return async.ResolvedFuture[os.FileInfo](fakeFileInfo{name: path, size: int64(len(data))}, nil)
	}
	if _, ok := s.dirs[path]; ok {
		return async.ResolvedFuture[os.FileInfo](fakeFileInfo{name: path, isDir: true}, nil)
	}
	return async.ResolvedFuture[os.FileInfo](nil, os.ErrNotExist)
}

func (s *fakeSftp) ReadDir(path string) *async.Future[[]os.FileInfo] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return async.ResolvedFuture(s.dirs[path], nil)
}

func (s *fakeSftp) Rename(oldPath, newPath string) *async.Future[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[oldPath]
	if !ok {
		return async.ResolvedFuture(struct{}{}, os.ErrNotExist)
	}
	delete(s.files, oldPath)
	s.files[newPath] = data
	return async.ResolvedFuture(struct{}{}, nil)
}

func (s *fakeSftp) Open(path string, flags network.OpenFlag, perms *os.FileMode) *async.Future[network.FileHandle] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, path)

	data := s.files[path]
	if flags&network.OpenCreate != 0 {
		if data == nil {
			data = []byte{}
		}
		if flags&network.OpenTruncate != 0 {
			data = []byte{}
		}
	}
	rf := &fakeRemoteFile{data: append([]byte(nil), data...)}
	if flags&network.OpenWrite != 0 {
		rf.onClose = func(final []byte) {
			s.mu.Lock()
			s.files[path] = final
			s.mu.Unlock()
		}
	}
	if s.openHook != nil {
		s.openHook(path, rf)
	}
	return async.ResolvedFuture[network.FileHandle](rf, nil)
}
