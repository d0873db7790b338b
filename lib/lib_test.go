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

package lib_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omniti-labs/omnipitr/lib"
	"github.com/stretchr/testify/require"
)

func TestIsShuttingDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.False(t, lib.IsShuttingDown(ctx))
	cancel()
	require.True(t, lib.IsShuttingDown(ctx))
}

func TestWaitForFileReturnsWhenPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, lib.WaitForFile(context.Background(), path))
}

func TestWaitForFileHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := lib.WaitForFile(ctx, filepath.Join(t.TempDir(), "never"))
	require.Error(t, err)
}

func TestAcquirePidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnipitr.pid")

	release, err := lib.AcquirePidFile(path)
	require.NoError(t, err)

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(buf))

	// Held by our own live pid: a second instance is refused
	_, err = lib.AcquirePidFile(path)
	require.Error(t, err)

	release()
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestAcquirePidFileTakesOverStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnipitr.pid")
	// An implausible pid long dead
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0644))

	release, err := lib.AcquirePidFile(path)
	require.NoError(t, err)
	release()
}

func TestAcquirePidFileEmptyPathIsNoop(t *testing.T) {
	release, err := lib.AcquirePidFile("")
	require.NoError(t, err)
	release()
}
