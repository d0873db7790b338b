// Copyright © 2024 OmniTI Labs
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/omniti-labs/omnipitr/archive"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/pg"
	"github.com/stretchr/testify/require"
)

// fakeRsync writes a small stand-in for rsync -t that copies its source to
// its destination, so the tests do not depend on rsync being installed.
func fakeRsync(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-rsync")
	script := "#!/bin/sh\n" +
		"# skip flags\n" +
		"while [ \"${1#-}\" != \"$1\" ]; do shift; done\n" +
		"cp \"$1\" \"$2\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// writeSegment creates a full-size 16 MiB segment with a recognizable
// prefix.
func writeSegment(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("wal-segment-payload"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(int64(pg.WALSegmentSize)))
	require.NoError(t, f.Close())
	return path
}

func newArchiver(t *testing.T, dataDir string, dests []archive.Destination) (*archive.Archiver, string) {
	t.Helper()
	tempDir := t.TempDir()
	paths := compress.DefaultPaths()
	paths.NotNice = true
	return &archive.Archiver{
		DataDir:      dataDir,
		TempDir:      tempDir,
		Destinations: dests,
		ParallelJobs: 2,
		RsyncPath:    fakeRsync(t, t.TempDir()),
		Compress:     paths,
	}, tempDir
}

// Scenario: single local uncompressed delivery, no state dir.
func TestArchiveSingleLocalDelivery(t *testing.T) {
	dataDir := t.TempDir()
	dstDir := t.TempDir()
	segPath := writeSegment(t, dataDir, testSegment)

	a, _ := newArchiver(t, dataDir, []archive.Destination{
		{Kind: archive.Local, Path: dstDir, Compression: compress.None},
	})

	require.NoError(t, a.Archive(context.Background(), testSegment))

	got, err := os.ReadFile(filepath.Join(dstDir, testSegment))
	require.NoError(t, err)
	want, err := os.ReadFile(segPath)
	require.NoError(t, err)
	require.True(t, bytes.Equal(want, got), "delivered bytes differ from the source")
}

// Scenario: two destinations, one gzip; state file must be gone afterwards.
func TestArchiveFanoutWithCompression(t *testing.T) {
	if _, err := exec.LookPath("gzip"); err != nil {
		t.Skip("gzip not installed")
	}

	dataDir := t.TempDir()
	plainDir := t.TempDir()
	gzipDir := t.TempDir()
	stateDir := t.TempDir()
	segPath := writeSegment(t, dataDir, testSegment)

	a, _ := newArchiver(t, dataDir, []archive.Destination{
		{Kind: archive.Local, Path: plainDir, Compression: compress.None},
		{Kind: archive.Local, Path: gzipDir, Compression: compress.Gzip},
	})
	a.StateDir = stateDir

	require.NoError(t, a.Archive(context.Background(), segPath))

	// Plain copy is byte-identical
	got, err := os.ReadFile(filepath.Join(plainDir, testSegment))
	require.NoError(t, err)
	want, err := os.ReadFile(segPath)
	require.NoError(t, err)
	require.True(t, bytes.Equal(want, got))

	// Gzip copy decompresses back to the source bytes
	out, err := exec.Command("gzip", "--decompress", "--stdout",
		filepath.Join(gzipDir, testSegment+".gz")).Output()
	require.NoError(t, err)
	require.True(t, bytes.Equal(want, out))

	// State file is unlinked on full success
	_, err = os.Stat(filepath.Join(stateDir, testSegment))
	require.True(t, os.IsNotExist(err))
}

// Scenario: resume after a transient destination failure.
func TestArchiveResumeAfterFailure(t *testing.T) {
	if _, err := exec.LookPath("gzip"); err != nil {
		t.Skip("gzip not installed")
	}

	dataDir := t.TempDir()
	stateDir := t.TempDir()
	flagDir := t.TempDir()
	okDir := t.TempDir()
	writeSegment(t, dataDir, testSegment)

	// A pipe destination that fails until its flag file exists
	flaky := filepath.Join(flagDir, "flaky-consumer")
	script := "#!/bin/sh\n" +
		"[ -f \"" + flagDir + "/ready\" ] || exit 1\n" +
		"cat > \"" + flagDir + "/consumed-$1\"\n"
	require.NoError(t, os.WriteFile(flaky, []byte(script), 0755))

	a, tempDir := newArchiver(t, dataDir, []archive.Destination{
		{Kind: archive.Local, Path: okDir, Compression: compress.None},
		{Kind: archive.Pipe, Path: flaky, Compression: compress.Gzip},
	})
	a.StateDir = stateDir

	// First invocation: pipe destination fails, invocation fails
	require.Error(t, a.Archive(context.Background(), testSegment))

	// The compressed artifact and its digest survive for the retry
	store := &archive.Store{Dir: stateDir}
	state, err := store.Load(testSegment)
	require.NoError(t, err)
	digest, found := state.CompressedDigest("gzip")
	require.True(t, found)
	onDisk, err := archive.MD5File(filepath.Join(tempDir, testSegment+".gz"))
	require.NoError(t, err)
	require.Equal(t, digest, onDisk)
	require.True(t, state.WasSent("local", okDir), "successful destination must be recorded")

	// Second invocation succeeds and clears the state
	require.NoError(t, os.WriteFile(filepath.Join(flagDir, "ready"), nil, 0644))
	require.NoError(t, a.Archive(context.Background(), testSegment))

	_, err = os.Stat(filepath.Join(flagDir, "consumed-"+testSegment+".gz"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(stateDir, testSegment))
	require.True(t, os.IsNotExist(err))

	// The local destination holds exactly one copy
	entries, err := os.ReadDir(okDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestArchiveSkipsAlreadySentDestinations(t *testing.T) {
	dataDir := t.TempDir()
	stateDir := t.TempDir()
	writeSegment(t, dataDir, testSegment)

	// The pipe program would fail loudly if it ever ran
	a, _ := newArchiver(t, dataDir, []archive.Destination{
		{Kind: archive.Pipe, Path: "/nonexistent/consumer", Compression: compress.None},
	})
	a.StateDir = stateDir

	store := &archive.Store{Dir: stateDir}
	state := archive.NewState(testSegment)
	state.MarkSent("pipe", "/nonexistent/consumer")
	require.NoError(t, store.Save(state))

	require.NoError(t, a.Archive(context.Background(), testSegment))

	// Fully-delivered segment clears its state file
	_, err := os.Stat(filepath.Join(stateDir, testSegment))
	require.True(t, os.IsNotExist(err))
}

func TestArchiveBackupDestinationIsDegraded(t *testing.T) {
	dataDir := t.TempDir()
	dstDir := t.TempDir()
	writeSegment(t, dataDir, testSegment)

	a, _ := newArchiver(t, dataDir, []archive.Destination{
		{Kind: archive.Local, Path: dstDir, Compression: compress.None},
	})
	// Unwritable backup path: failure must be swallowed
	a.BackupPath = "/nonexistent/backup-dir"

	require.NoError(t, a.Archive(context.Background(), testSegment))

	_, err := os.Stat(filepath.Join(dstDir, testSegment))
	require.NoError(t, err)
}

func TestArchiveRejectsBadSegments(t *testing.T) {
	dataDir := t.TempDir()
	a, _ := newArchiver(t, dataDir, nil)

	// Bad name
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "bogus"), []byte("x"), 0644))
	require.Error(t, a.Archive(context.Background(), "bogus"))

	// Right name, wrong size
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, testSegment), []byte("short"), 0644))
	require.Error(t, a.Archive(context.Background(), testSegment))

	// Missing file
	require.Error(t, a.Archive(context.Background(), "000000010000000000000099"))
}
