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

package restore_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/restore"
	"github.com/stretchr/testify/require"
)

const testSegment = "000000010000000000000001"

func newWorker(t *testing.T) *restore.Worker {
	t.Helper()
	paths := compress.DefaultPaths()
	paths.NotNice = true
	return &restore.Worker{
		SourceDir: t.TempDir(),
		DataDir:   t.TempDir(),
		ShellPath: "/bin/sh",
		Compress:  paths,
	}
}

func TestRestoreDeliversStagedSegment(t *testing.T) {
	w := newWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(w.SourceDir, testSegment), []byte("wal bytes"), 0644))

	require.NoError(t, os.MkdirAll(filepath.Join(w.DataDir, "pg_xlog"), 0755))
	require.NoError(t, w.Run(context.Background(), testSegment, "pg_xlog/RESTORED"))

	got, err := os.ReadFile(filepath.Join(w.DataDir, "pg_xlog", "RESTORED"))
	require.NoError(t, err)
	require.Equal(t, "wal bytes", string(got))
}

func TestRestoreDeliversCompressedSegment(t *testing.T) {
	if _, err := exec.LookPath("gzip"); err != nil {
		t.Skip("gzip not installed")
	}

	w := newWorker(t)
	w.SourceCompression = compress.Gzip

	plain := filepath.Join(t.TempDir(), testSegment)
	require.NoError(t, os.WriteFile(plain, []byte("compressed wal"), 0644))
	gz, err := exec.Command("gzip", "--stdout", plain).Output()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(w.SourceDir, testSegment+".gz"), gz, 0644))

	require.NoError(t, os.MkdirAll(filepath.Join(w.DataDir, "pg_xlog"), 0755))
	require.NoError(t, w.Run(context.Background(), testSegment, "pg_xlog/RESTORED"))

	got, err := os.ReadFile(filepath.Join(w.DataDir, "pg_xlog", "RESTORED"))
	require.NoError(t, err)
	require.Equal(t, "compressed wal", string(got))
}

func TestRestoreRecoveryDelayHoldsFreshSegments(t *testing.T) {
	w := newWorker(t)
	w.RecoveryDelay = time.Hour
	require.NoError(t, os.WriteFile(filepath.Join(w.SourceDir, testSegment), []byte("fresh"), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := w.Run(ctx, testSegment, "RESTORED")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(w.DataDir, "RESTORED"))
	require.True(t, os.IsNotExist(statErr), "a fresh segment must not be delivered inside the delay window")
}

func TestRestoreRecoveryDelayServesOldSegments(t *testing.T) {
	w := newWorker(t)
	w.RecoveryDelay = time.Minute

	path := filepath.Join(w.SourceDir, testSegment)
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))
	old := time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, w.Run(context.Background(), testSegment, "RESTORED"))
}

func TestRestoreFinishTriggerNow(t *testing.T) {
	w := newWorker(t)
	trigger := filepath.Join(t.TempDir(), "finish")
	w.FinishTriggerPath = trigger
	require.NoError(t, os.WriteFile(trigger, []byte("NOW\n"), 0644))

	// Even a staged segment is not delivered under an immediate finish
	require.NoError(t, os.WriteFile(filepath.Join(w.SourceDir, testSegment), []byte("x"), 0644))

	err := w.Run(context.Background(), testSegment, "RESTORED")
	require.ErrorIs(t, err, restore.ErrImmediateFinish)
}

func TestRestoreFinishTriggerSmart(t *testing.T) {
	w := newWorker(t)
	trigger := filepath.Join(t.TempDir(), "finish")
	w.FinishTriggerPath = trigger
	require.NoError(t, os.WriteFile(trigger, []byte("when done\n"), 0644))

	// Absent segment: terminate
	err := w.Run(context.Background(), testSegment, "RESTORED")
	require.ErrorIs(t, err, restore.ErrSmartFinish)

	// Staged segment: still served
	require.NoError(t, os.WriteFile(filepath.Join(w.SourceDir, testSegment), []byte("x"), 0644))
	require.NoError(t, w.Run(context.Background(), testSegment, "RESTORED"))
}

func TestRestoreMissingHistoryFile(t *testing.T) {
	w := newWorker(t)
	err := w.Run(context.Background(), "00000002.history", "RESTORED")
	require.ErrorIs(t, err, restore.ErrHistoryUnavailable)
}

func TestRestoreStreamingReplicationFallback(t *testing.T) {
	w := newWorker(t)
	w.StreamingReplication = true
	err := w.Run(context.Background(), testSegment, "RESTORED")
	require.ErrorIs(t, err, restore.ErrStreamingReplication)
}

func TestRestoreRejectsBadSegmentNames(t *testing.T) {
	w := newWorker(t)
	require.Error(t, w.Run(context.Background(), "not-a-segment", "RESTORED"))
}

func TestCheckFinishTrigger(t *testing.T) {
	mode, err := restore.CheckFinishTrigger("")
	require.NoError(t, err)
	require.Equal(t, restore.FinishNone, mode)

	dir := t.TempDir()
	path := filepath.Join(dir, "finish")

	mode, err = restore.CheckFinishTrigger(path)
	require.NoError(t, err)
	require.Equal(t, restore.FinishNone, mode)

	require.NoError(t, os.WriteFile(path, []byte("NOW\n"), 0644))
	mode, err = restore.CheckFinishTrigger(path)
	require.NoError(t, err)
	require.Equal(t, restore.FinishNow, mode)

	require.NoError(t, os.WriteFile(path, []byte("NOW"), 0644))
	mode, err = restore.CheckFinishTrigger(path)
	require.NoError(t, err)
	require.Equal(t, restore.FinishSmart, mode, "NOW without a newline is a smart finish")
}
