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

package backup

import (
	"context"
	"os"
	"path/filepath"

	"github.com/omniti-labs/omnipitr/archive"
	"github.com/omniti-labs/omnipitr/parallel"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
)

// Deliver fans every produced artifact out to the declared destinations
// through the bounded supervisor.  Direct-kind destinations were fed
// in-stream during MakeArchive and are skipped here.  On full success the
// local temp artifacts are removed.
func (e *Engine) Deliver(ctx context.Context) error {
	var jobs []*parallel.Job

	for _, dest := range e.Destinations {
		if dest.Kind == archive.Direct {
			continue
		}
		for _, artifact := range e.artifacts {
			// Every destination receives only its own compression's tars and
			// digests.
			if artifact.Compression != dest.Compression {
				continue
			}
			name := filepath.Base(artifact.Path)

			job := &parallel.Job{Tag: dest.Path + " <- " + name}
			switch dest.Kind {
			case archive.Local:
				job.Argv = []string{e.RsyncPath, "-t", artifact.Path, filepath.Join(dest.Path, name)}
			case archive.Remote:
				job.Argv = []string{e.RsyncPath, "-t", artifact.Path, dest.Path + "/" + name}
			case archive.Pipe:
				job.Argv = []string{dest.Path, name}
				job.StdinFile = artifact.Path
			}
			if !e.Compress.NotNice {
				job.Argv = append([]string{e.Compress.Nice, "-n", "19"}, job.Argv...)
			}
			jobs = append(jobs, job)
		}
	}

	if len(jobs) == 0 {
		return nil
	}

	var failed []string
	runner := &parallel.Runner{
		MaxJobs: e.ParallelJobs,
		TempDir: e.TempDir,
		OnStart: func(job *parallel.Job) {
			log.Debug().Str("transfer", job.Tag).Msg("starting delivery")
		},
		OnFinish: func(job *parallel.Job) {
			if job.Ok() {
				log.Info().Str("transfer", job.Tag).Msg("delivered")
				return
			}
			log.Error().Str("transfer", job.Tag).Int("status", job.Status).
				Str("stderr", job.Stderr).Err(job.Err).Msg("delivery failed")
			failed = append(failed, job.Tag)
		},
	}

	if err := runner.Run(ctx, jobs); err != nil {
		log.Debug().Err(err).Msg("supervisor reported an error")
	}
	if len(failed) > 0 {
		e.count(metricsBackupsFailed)
		return errors.Errorf("backup artifacts were not delivered: %v", failed)
	}

	for _, artifact := range e.artifacts {
		if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("artifact", artifact.Path).Msg("unable to remove a delivered artifact")
		}
	}

	e.count(metricsBackupsOK)
	return nil
}
