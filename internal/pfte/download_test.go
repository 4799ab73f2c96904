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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelpilot/internal/core"
)

// runToTerminal drives op.Work() until it reaches a terminal state or the
// iteration cap is hit, returning the last WorkResult.
func runToTerminal(t *testing.T, op *DownloadOperation) core.WorkResult {
	t.Helper()
	var result core.WorkResult
	for i := 0; i < 64; i++ {
		result = op.Work()
		if op.State().IsTerminal() {
			return result
		}
	}
	t.Fatalf("operation did not reach a terminal state within the iteration cap")
	return result
}

func TestDownloadOperationZeroByteFile(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "empty.txt")

	remote := newFakeSftp()
	remote.files["/r/empty.txt"] = []byte{}

	op := NewDownloadOperation(remote, "/r/empty.txt", localPath, core.DefaultTransferOptions(), nil)
	result := runToTerminal(t, op)

	require.Equal(t, core.WorkComplete, result.Kind)
	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestDownloadOperationOversizedPartRestartsFromScratch(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "file.bin")
	content := []byte("the quick brown fox")

	remote := newFakeSftp()
	remote.files["/r/file.bin"] = content

	options := core.DefaultTransferOptions()
	options.TryContinue = true
	tempPath := localPath + options.TempFileSuffix
	require.NoError(t, os.WriteFile(tempPath, []byte("this stale partial file is way bigger than the real one"), 0o644))

	op := NewDownloadOperation(remote, "/r/file.bin", localPath, options, nil)
	result := runToTerminal(t, op)

	require.Equal(t, core.WorkComplete, result.Kind)
	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestDownloadOperationResumesFromExistingPart(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "file.bin")
	content := []byte("the quick brown fox jumps over the lazy dog")
	already := content[:10]

	remote := newFakeSftp()
	remote.files["/r/file.bin"] = content

	options := core.DefaultTransferOptions()
	options.TryContinue = true
	tempPath := localPath + options.TempFileSuffix
	require.NoError(t, os.WriteFile(tempPath, already, 0o644))

	op := NewDownloadOperation(remote, "/r/file.bin", localPath, options, nil)
	result := runToTerminal(t, op)

	require.Equal(t, core.WorkComplete, result.Kind)
	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestDownloadOperationFailureClosesHandlesAndRemovesPart(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "file.bin")

	remote := newFakeSftp()
	remote.files["/r/file.bin"] = []byte("the quick brown fox")

	wantErr := errors.New("connection reset")
	var opened *fakeRemoteFile
	remote.openHook = func(path string, rf *fakeRemoteFile) {
		opened = rf
		rf.failErr = wantErr
		rf.failAtOffset = 0
	}

	options := core.DefaultTransferOptions()
	op := NewDownloadOperation(remote, "/r/file.bin", localPath, options, nil)
	result := runToTerminal(t, op)

	require.Equal(t, core.WorkErr, result.Kind)
	assert.Equal(t, core.StateFailed, op.State())

	require.NotNil(t, opened)
	assert.True(t, opened.closed, "the remote stream must be closed exactly once, even on a failed transfer")

	tempPath := localPath + options.TempFileSuffix
	_, statErr := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(statErr), "DoCleanup must remove the .part file after a mid-transfer failure")
}
