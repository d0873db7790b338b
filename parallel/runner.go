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

// Package parallel runs batches of external commands under a bounded worker
// pool.  Child-death notifications are delivered asynchronously by the OS
// but are drained and processed at a single point in the supervisor loop, so
// callbacks always observe a fully-populated descriptor.
package parallel

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
)

// Job describes one command submission.  The supervisor enriches it in place
// once the child exits.
type Job struct {
	Argv []string

	// StdinFile, when set, reopens the child's stdin from the named file
	// before exec.  Pipe-kind destinations rely on this.
	StdinFile string

	// Tag and Payload travel with the job untouched; callers use them to find
	// their way back from an OnFinish callback.
	Tag     string
	Payload interface{}

	// Filled in by the supervisor after the child exits.
	Started time.Time
	Ended   time.Time

	// Status uses the wait(2) convention: exit code in the high byte,
	// terminating signal in the low byte.
	Status   int
	ExitCode int
	Signal   int

	Stdout string
	Stderr string

	// Err records a supervisor-side failure (unable to spawn, unreadable
	// capture file).  A non-zero exit is not an Err.
	Err error
}

// Ok reports whether the child ran and exited zero.
func (j *Job) Ok() bool {
	return j.Err == nil && j.Status == 0
}

// Runner is the bounded supervisor.  Zero value is unusable; MaxJobs must be
// at least 1.
type Runner struct {
	MaxJobs int

	// OnStart is invoked in the supervisor immediately after a child spawns.
	OnStart func(*Job)

	// OnFinish is invoked in the supervisor after the descriptor is enriched
	// and the capture files are consumed.
	OnFinish func(*Job)

	// TempDir holds the per-job stdout/stderr capture files; "" uses the
	// system default.
	TempDir string
}

type completion struct {
	job        *Job
	waitErr    error
	stdoutPath string
	stderrPath string
}

// Run executes every job and blocks until all of them have completed.  There
// is no mid-flight cancellation: a supervisor error is surfaced only after
// the last worker exits.  There is no fairness guarantee across jobs.
func (r *Runner) Run(ctx context.Context, jobs []*Job) error {
	if r.MaxJobs < 1 {
		return errors.New("parallel: MaxJobs must be >= 1")
	}

	completionCh := make(chan completion, len(jobs))
	var running int
	var firstErr error

	next := 0
	for next < len(jobs) || running > 0 {
		// Top up the pool before blocking on the dead-set.
		for running < r.MaxJobs && next < len(jobs) {
			job := jobs[next]
			next++

			if err := r.spawn(ctx, job, completionCh); err != nil {
				job.Err = err
				if firstErr == nil {
					firstErr = err
				}
				if r.OnFinish != nil {
					r.OnFinish(job)
				}
				continue
			}
			running++
		}

		if running == 0 {
			continue
		}

		done := <-completionCh
		running--
		r.reap(done)
		if firstErr == nil && done.job.Err != nil {
			firstErr = done.job.Err
		}
		if r.OnFinish != nil {
			r.OnFinish(done.job)
		}
	}

	return firstErr
}

// spawn starts one worker.  The worker goroutine only waits on the child and
// reports; all bookkeeping happens in the supervisor.
func (r *Runner) spawn(ctx context.Context, job *Job, completionCh chan<- completion) error {
	if len(job.Argv) == 0 {
		return errors.New("parallel: job has an empty argv")
	}

	stdout, err := os.CreateTemp(r.TempDir, "omnipitr-job-stdout-")
	if err != nil {
		return errors.Wrap(err, "unable to create a stdout capture file")
	}
	stderr, err := os.CreateTemp(r.TempDir, "omnipitr-job-stderr-")
	if err != nil {
		stdout.Close()
		os.Remove(stdout.Name())
		return errors.Wrap(err, "unable to create a stderr capture file")
	}

	cmd := exec.CommandContext(ctx, job.Argv[0], job.Argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if job.StdinFile != "" {
		stdin, err := os.Open(job.StdinFile)
		if err != nil {
			stdout.Close()
			stderr.Close()
			os.Remove(stdout.Name())
			os.Remove(stderr.Name())
			return errors.Wrapf(err, "unable to open stdin file %q", job.StdinFile)
		}
		cmd.Stdin = stdin
		defer stdin.Close()
	}

	job.Started = time.Now()
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		os.Remove(stdout.Name())
		os.Remove(stderr.Name())
		return errors.Wrapf(err, "unable to spawn %q", job.Argv[0])
	}

	if r.OnStart != nil {
		r.OnStart(job)
	}

	stdoutPath, stderrPath := stdout.Name(), stderr.Name()
	go func() {
		waitErr := cmd.Wait()
		job.Ended = time.Now()
		stdout.Close()
		stderr.Close()
		completionCh <- completion{
			job:        job,
			waitErr:    waitErr,
			stdoutPath: stdoutPath,
			stderrPath: stderrPath,
		}
	}()

	return nil
}

// reap consumes a completion: decodes the wait status, slurps and unlinks the
// capture files.
func (r *Runner) reap(done completion) {
	job := done.job

	switch waitErr := done.waitErr.(type) {
	case nil:
		job.Status, job.ExitCode, job.Signal = 0, 0, 0
	case *exec.ExitError:
		if ws, ok := waitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				job.Signal = int(ws.Signal())
			}
			job.ExitCode = ws.ExitStatus()
			if job.ExitCode < 0 {
				job.ExitCode = 0
			}
			job.Status = job.ExitCode<<8 | job.Signal
		} else {
			job.ExitCode = waitErr.ExitCode()
			job.Status = job.ExitCode << 8
		}
	default:
		job.Err = errors.Wrapf(done.waitErr, "unable to wait for %q", job.Argv[0])
	}

	for _, capture := range []struct {
		path string
		dst  *string
	}{
		{path: done.stdoutPath, dst: &job.Stdout},
		{path: done.stderrPath, dst: &job.Stderr},
	} {
		buf, err := os.ReadFile(capture.path)
		if err != nil {
			log.Warn().Err(err).Str("path", capture.path).Msg("unable to read a capture file")
			if job.Err == nil {
				job.Err = errors.Wrap(err, "unable to read a capture file")
			}
		} else {
			*capture.dst = string(buf)
		}
		if err := os.Remove(capture.path); err != nil {
			log.Warn().Err(err).Str("path", capture.path).Msg("unable to remove a capture file")
		}
	}
}
