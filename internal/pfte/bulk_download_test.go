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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelpilot/internal/core"
)

func runBulkToTerminal(t *testing.T, op *BulkDownloadOperation) core.WorkResult {
	t.Helper()
	var result core.WorkResult
	for i := 0; i < 256; i++ {
		result = op.Work()
		if op.State().IsTerminal() {
			return result
		}
	}
	t.Fatalf("bulk download did not reach a terminal state within the iteration cap")
	return result
}

func TestBulkDownloadOperationDownloadsEveryDiscoveredFile(t *testing.T) {
	remote := newFakeSftp()
	remote.dirs["/r"] = []os.FileInfo{
		fakeFileInfo{name: "a.txt", size: 5},
		fakeFileInfo{name: "sub", isDir: true},
	}
	remote.dirs["/r/sub"] = []os.FileInfo{
		fakeFileInfo{name: "b.txt", size: 6},
	}
	remote.files["/r/a.txt"] = []byte("aaaaa")
	remote.files["/r/sub/b.txt"] = []byte("bbbbbb")

	scan := NewScanOperation(remote, "/r", nil)
	scanResult := runScanToTerminal(t, scan)
	require.Equal(t, core.WorkComplete, scanResult.Kind)

	localRoot := t.TempDir()
	var lastProgress BulkProgress
	bulk := NewBulkDownloadOperation(remote, scan, "/r", localRoot, core.DefaultTransferOptions(), func(p BulkProgress) {
		lastProgress = p
	})

	result := runBulkToTerminal(t, bulk)
	require.Equal(t, core.WorkComplete, result.Kind)

	gotA, err := os.ReadFile(filepath.Join(localRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "aaaaa", string(gotA))

	gotB, err := os.ReadFile(filepath.Join(localRoot, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb", string(gotB))

	assert.Equal(t, 2, lastProgress.FileCount)
	assert.EqualValues(t, 11, lastProgress.BytesTotal)
}

func TestBulkDownloadOperationFailurePropagatesAndClosesCurrent(t *testing.T) {
	remote := newFakeSftp()
	remote.dirs["/r"] = []os.FileInfo{
		fakeFileInfo{name: "a.txt", size: 5},
	}
	remote.files["/r/a.txt"] = []byte("aaaaa")

	var opened *fakeRemoteFile
	remote.openHook = func(path string, rf *fakeRemoteFile) {
		opened = rf
		rf.failErr = os.ErrClosed
		rf.failAtOffset = 0
	}

	scan := NewScanOperation(remote, "/r", nil)
	require.Equal(t, core.WorkComplete, runScanToTerminal(t, scan).Kind)

	bulk := NewBulkDownloadOperation(remote, scan, "/r", t.TempDir(), core.DefaultTransferOptions(), nil)
	result := runBulkToTerminal(t, bulk)

	require.Equal(t, core.WorkErr, result.Kind)
	assert.Equal(t, core.StateFailed, bulk.State())
	require.NotNil(t, opened)
	assert.True(t, opened.closed, "the in-flight DownloadOperation's remote handle must close when the bulk fails")
}
