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

package parallel_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/omniti-labs/omnipitr/parallel"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	jobs := []*parallel.Job{
		{Argv: []string{"/bin/sh", "-c", "echo out; echo err 1>&2"}, Tag: "both"},
	}

	r := &parallel.Runner{MaxJobs: 1}
	require.NoError(t, r.Run(context.Background(), jobs))

	job := jobs[0]
	require.True(t, job.Ok())
	require.Equal(t, "out\n", job.Stdout)
	require.Equal(t, "err\n", job.Stderr)
	require.False(t, job.Started.IsZero())
	require.False(t, job.Ended.Before(job.Started))
}

func TestRunBoundedPool(t *testing.T) {
	const numJobs = 8

	jobs := make([]*parallel.Job, 0, numJobs)
	for i := 0; i < numJobs; i++ {
		jobs = append(jobs, &parallel.Job{
			Argv: []string{"/bin/sh", "-c", fmt.Sprintf("echo %d", i)},
			Tag:  fmt.Sprintf("job-%d", i),
		})
	}

	var started, finished int
	r := &parallel.Runner{
		MaxJobs:  3,
		OnStart:  func(*parallel.Job) { started++ },
		OnFinish: func(*parallel.Job) { finished++ },
	}
	require.NoError(t, r.Run(context.Background(), jobs))

	require.Equal(t, numJobs, started)
	require.Equal(t, numJobs, finished)
	for i, job := range jobs {
		require.True(t, job.Ok(), "job %d: %+v", i, job)
		require.Equal(t, fmt.Sprintf("%d\n", i), job.Stdout)
	}
}

func TestRunStatusEncoding(t *testing.T) {
	jobs := []*parallel.Job{
		{Argv: []string{"/bin/sh", "-c", "exit 0"}},
		{Argv: []string{"/bin/sh", "-c", "exit 3"}},
		{Argv: []string{"/bin/sh", "-c", "kill -TERM $$"}},
	}

	r := &parallel.Runner{MaxJobs: 2}
	err := r.Run(context.Background(), jobs)
	// Non-zero exits are job results, not supervisor errors
	require.NoError(t, err)

	require.True(t, jobs[0].Ok())
	require.Equal(t, 0, jobs[0].Status)

	require.False(t, jobs[1].Ok())
	require.Equal(t, 3, jobs[1].ExitCode)
	require.Equal(t, 3<<8, jobs[1].Status)

	require.False(t, jobs[2].Ok())
	require.Equal(t, 15, jobs[2].Signal)
	require.Equal(t, 15, jobs[2].Status&0xff)
}

func TestRunStdinFile(t *testing.T) {
	dir := t.TempDir()
	stdinPath := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(stdinPath, []byte("fed via stdin"), 0644))

	jobs := []*parallel.Job{
		{Argv: []string{"/bin/cat"}, StdinFile: stdinPath},
	}

	r := &parallel.Runner{MaxJobs: 1}
	require.NoError(t, r.Run(context.Background(), jobs))
	require.Equal(t, "fed via stdin", jobs[0].Stdout)
}

func TestRunSpawnFailureSurfacesAfterDrain(t *testing.T) {
	jobs := []*parallel.Job{
		{Argv: []string{"/nonexistent/program"}},
		{Argv: []string{"/bin/sh", "-c", "echo survivor"}},
	}

	var finished int
	r := &parallel.Runner{
		MaxJobs:  1,
		OnFinish: func(*parallel.Job) { finished++ },
	}
	err := r.Run(context.Background(), jobs)
	require.Error(t, err)

	// The failed spawn does not abort the batch
	require.Equal(t, 2, finished)
	require.Error(t, jobs[0].Err)
	require.True(t, jobs[1].Ok())
	require.Equal(t, "survivor\n", jobs[1].Stdout)
}

func TestRunRejectsBadConfig(t *testing.T) {
	r := &parallel.Runner{MaxJobs: 0}
	require.Error(t, r.Run(context.Background(), nil))

	r = &parallel.Runner{MaxJobs: 1}
	jobs := []*parallel.Job{{}}
	err := r.Run(context.Background(), jobs)
	require.Error(t, err)
	require.Error(t, jobs[0].Err)
}
