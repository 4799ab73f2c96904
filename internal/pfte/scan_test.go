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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelpilot/internal/core"
)

func runScanToTerminal(t *testing.T, op *ScanOperation) core.WorkResult {
	t.Helper()
	var result core.WorkResult
	for i := 0; i < 64; i++ {
		result = op.Work()
		if op.State().IsTerminal() {
			return result
		}
	}
	t.Fatalf("scan did not reach a terminal state within the iteration cap")
	return result
}

func TestScanOperationIsBarrier(t *testing.T) {
	op := NewScanOperation(newFakeSftp(), "/r", nil)
	assert.True(t, op.IsBarrier(), "a scan must block later entries until it finishes, per the scan+bulk_download pairing")
}

func TestScanOperationWalksNestedDirectories(t *testing.T) {
	remote := newFakeSftp()
	remote.dirs["/r"] = []os.FileInfo{
		fakeFileInfo{name: "a.txt", size: 10},
		fakeFileInfo{name: "sub", isDir: true},
	}
	remote.dirs["/r/sub"] = []os.FileInfo{
		fakeFileInfo{name: "b.txt", size: 20},
	}

	op := NewScanOperation(remote, "/r", nil)
	result := runScanToTerminal(t, op)

	require.Equal(t, core.WorkComplete, result.Kind)
	assert.EqualValues(t, 30, op.TotalBytes())

	var names []string
	for _, e := range op.Entries() {
		if !e.isDir {
			names = append(names, e.path)
		}
	}
	assert.ElementsMatch(t, []string{"/r/a.txt", "/r/sub/b.txt"}, names)
}

func TestScanOperationUnlistedDirectoryCompletesEmpty(t *testing.T) {
	remote := newFakeSftp()
	remote.statErr = nil
	// No dirs registered for "/missing" — ReadDir on the fake returns a
	// nil slice with no error, which is a valid empty listing.
	op := NewScanOperation(remote, "/missing", nil)
	result := runScanToTerminal(t, op)

	// An empty directory listing is itself a valid (if uninteresting)
	// scan outcome, not a failure.
	require.Equal(t, core.WorkComplete, result.Kind)
	assert.Zero(t, op.TotalBytes())
}
