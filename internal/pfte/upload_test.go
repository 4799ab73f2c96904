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

func runUploadToTerminal(t *testing.T, op *UploadOperation) core.WorkResult {
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

func TestUploadOperationZeroByteFile(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(localPath, []byte{}, 0o644))

	remote := newFakeSftp()
	op := NewUploadOperation(remote, localPath, "/r/empty.txt", core.DefaultTransferOptions(), nil)
	result := runUploadToTerminal(t, op)

	require.Equal(t, core.WorkComplete, result.Kind)
	assert.Empty(t, remote.files["/r/empty.txt"])
}

func TestUploadOperationResumesFromExistingRemotePart(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "file.bin")
	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(localPath, content, 0o644))

	options := core.DefaultTransferOptions()
	options.TryContinue = true

	remote := newFakeSftp()
	remote.files["/r/file.bin"+options.TempFileSuffix] = content[:10]

	op := NewUploadOperation(remote, localPath, "/r/file.bin", options, nil)
	result := runUploadToTerminal(t, op)

	require.Equal(t, core.WorkComplete, result.Kind)
	assert.Equal(t, content, remote.files["/r/file.bin"])
}

// TestUploadOperationFailureClosesHandlesAndKeepsRemotePart sabotages the
// already-opened local handle so the first writeOnce hits a genuine
// non-EOF read error, then checks that Cancel's cleanup ran (the remote
// stream closed) while the remote ".part" survives for a later resume,
// per UploadOperation's resumability contract.
func TestUploadOperationFailureClosesHandlesAndKeepsRemotePart(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(localPath, []byte("the quick brown fox"), 0o644))

	remote := newFakeSftp()
	var opened *fakeRemoteFile
	remote.openHook = func(path string, rf *fakeRemoteFile) { opened = rf }

	options := core.DefaultTransferOptions()
	tempPath := "/r/file.bin" + options.TempFileSuffix
	op := NewUploadOperation(remote, localPath, "/r/file.bin", options, nil)

	require.Equal(t, core.MoreWork, op.Work()) // NotStarted -> Prepared
	require.Equal(t, core.MoreWork, op.Work()) // Prepared -> Running
	require.NoError(t, op.localFile.Close())   // sabotage: next read must fail

	result := op.Work()
	require.Equal(t, core.WorkErr, result.Kind)
	assert.Equal(t, core.StateFailed, op.State())

	require.NotNil(t, opened)
	assert.True(t, opened.closed, "the remote stream must be closed exactly once, even on a failed upload")
	_, stillThere := remote.files[tempPath]
	assert.True(t, stillThere, "the remote .part must survive a failure so TryContinue can resume later")
}
