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

// Package archive implements the WAL archival pipeline sitting behind
// PostgreSQL's archive_command.  It compresses a finished segment into every
// format the destination set requires, fans the artifacts out to all
// destinations concurrently, and keeps a per-segment state file so a retried
// invocation never redoes finished work.
package archive

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	cgm "github.com/circonus-labs/circonus-gometrics"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/parallel"
	"github.com/omniti-labs/omnipitr/wal"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
)

const (
	metricsSegmentsArchived  = "archive-segments-ok"
	metricsSegmentsFailed    = "archive-segments-failed"
	metricsDeliveries        = "archive-deliveries"
	metricsDeliveryFailures  = "archive-delivery-failures"
	metricsCompressSeconds   = "archive-compress-seconds"
	metricsBackupDstFailures = "archive-backup-dst-failures"
)

// Archiver is one configured archival pipeline.  PostgreSQL invokes the
// archive command once per completed segment; Archive is the whole of that
// invocation.
type Archiver struct {
	DataDir  string
	TempDir  string
	StateDir string

	Destinations []Destination

	// BackupPath is the degraded dst-backup destination: failures there are
	// logged but never fail the invocation.
	BackupPath string

	ParallelJobs int

	RsyncPath string
	Compress  compress.Paths

	// Metrics is optional; nil disables instrumentation.
	Metrics *cgm.CirconusMetrics
}

// deliveryJob rides along on a parallel.Job so OnFinish can find its way
// back to the destination that ran.
type deliveryJob struct {
	dest     Destination
	isBackup bool
}

// Archive runs the full pipeline for one segment.  The returned error means
// some non-backup destination did not receive the segment; PostgreSQL will
// re-invoke us and the state file makes the retry cheap.
func (a *Archiver) Archive(ctx context.Context, segmentArg string) error {
	segPath := segmentArg
	if !filepath.IsAbs(segPath) {
		segPath = filepath.Join(a.DataDir, segPath)
	}
	segName := filepath.Base(segPath)

	if err := wal.ValidateFile(segPath, segName); err != nil {
		a.count(metricsSegmentsFailed)
		return err
	}

	useState := a.StateDir != ""
	var store *Store
	state := NewState(segName)
	if useState {
		store = &Store{Dir: a.StateDir}
		var err error
		if state, err = store.Load(segName); err != nil {
			return err
		}
	}

	artifacts, err := a.compressAll(ctx, segPath, segName, state, store)
	if err != nil {
		a.count(metricsSegmentsFailed)
		return err
	}

	if err := a.deliverAll(ctx, segPath, segName, artifacts, state, store); err != nil {
		a.count(metricsSegmentsFailed)
		return err
	}

	// Full success: drop the temp artifacts and the state file.
	for _, artifact := range artifacts {
		if artifact == segPath {
			continue
		}
		if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("artifact", artifact).Msg("unable to remove a temp artifact")
		}
	}
	if store != nil {
		if err := store.Delete(segName); err != nil {
			return err
		}
	}

	a.count(metricsSegmentsArchived)
	log.Info().Str("segment", segName).Int("destinations", len(a.Destinations)).Msg("segment archived")
	return nil
}

// compressAll produces every required compressed artifact serially and
// returns the artifact path per compression (None maps to the original
// segment).  Cached artifacts whose md5 still matches the state file are
// reused as-is.
func (a *Archiver) compressAll(ctx context.Context, segPath, segName string, state *State, store *Store) (map[compress.Compression]string, error) {
	artifacts := map[compress.Compression]string{compress.None: segPath}

	for _, c := range NeededCompressions(a.Destinations) {
		artifact := filepath.Join(a.TempDir, segName+c.Extension())

		if digest, found := state.CompressedDigest(c.String()); found {
			onDisk, err := MD5File(artifact)
			if err == nil && onDisk == digest {
				log.Debug().Str("segment", segName).Str("compression", c.String()).Msg("reusing a cached artifact")
				artifacts[c] = artifact
				continue
			}
			// Checksum mismatch or missing artifact: recompress silently.
		}

		start := time.Now()
		if err := a.compressOne(ctx, c, segPath, artifact); err != nil {
			return nil, err
		}
		a.record(metricsCompressSeconds, time.Since(start).Seconds())

		digest, err := MD5File(artifact)
		if err != nil {
			return nil, err
		}
		state.MarkCompressed(c.String(), digest)
		if store != nil {
			if err := store.Save(state); err != nil {
				return nil, err
			}
		}

		artifacts[c] = artifact
	}

	return artifacts, nil
}

// compressOne runs the external compressor with the segment on stdin and the
// artifact as stdout, then sets the artifact's access and modification times
// to the source's modification time.  The source's access time is not copied.
func (a *Archiver) compressOne(ctx context.Context, c compress.Compression, segPath, artifact string) error {
	argv, err := a.Compress.CompressArgv(c)
	if err != nil {
		return err
	}

	src, err := os.Open(segPath)
	if err != nil {
		return errors.Wrapf(err, "unable to open %q", segPath)
	}
	defer src.Close()

	dst, err := os.Create(artifact)
	if err != nil {
		return errors.Wrapf(err, "unable to create %q", artifact)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = src
	cmd.Stdout = dst
	cmd.Stderr = os.Stderr
	runErr := cmd.Run()
	if err := dst.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		os.Remove(artifact)
		return errors.Wrapf(runErr, "%s of %q failed", c, segPath)
	}

	fi, err := os.Stat(segPath)
	if err != nil {
		return errors.Wrapf(err, "unable to stat %q", segPath)
	}
	if err := os.Chtimes(artifact, fi.ModTime(), fi.ModTime()); err != nil {
		return errors.Wrapf(err, "unable to preserve times on %q", artifact)
	}

	return nil
}

// deliverAll fans the artifacts out to every destination not yet recorded in
// the state file, all transfers running concurrently under the supervisor.
func (a *Archiver) deliverAll(ctx context.Context, segPath, segName string, artifacts map[compress.Compression]string, state *State, store *Store) error {
	jobs := make([]*parallel.Job, 0, len(a.Destinations)+1)

	for _, dest := range a.Destinations {
		if state.WasSent(dest.Kind.String(), dest.Path) {
			log.Debug().Str("segment", segName).Str("destination", dest.Path).Msg("already delivered, skipping")
			continue
		}
		jobs = append(jobs, a.buildDeliveryJob(dest, segName, artifacts, false))
	}

	if a.BackupPath != "" {
		backupDest := Destination{Kind: Local, Path: a.BackupPath, Compression: compress.None}
		if !state.WasSent(backupDest.Kind.String(), backupDest.Path) {
			jobs = append(jobs, a.buildDeliveryJob(backupDest, segName, artifacts, true))
		}
	}

	if len(jobs) == 0 {
		return nil
	}

	var failed []string
	var saveErr error
	runner := &parallel.Runner{
		MaxJobs: a.ParallelJobs,
		TempDir: a.TempDir,
		OnStart: func(job *parallel.Job) {
			log.Debug().Str("segment", segName).Strs("argv", job.Argv).Msg("starting delivery")
		},
		OnFinish: func(job *parallel.Job) {
			d := job.Payload.(deliveryJob)

			if job.Ok() {
				a.count(metricsDeliveries)
				state.MarkSent(d.dest.Kind.String(), d.dest.Path)
				if store != nil {
					if err := store.Save(state); err != nil && saveErr == nil {
						saveErr = err
					}
				}
				return
			}

			if d.isBackup {
				// Degraded destination: log and carry on.
				a.count(metricsBackupDstFailures)
				log.Warn().Str("segment", segName).Str("destination", d.dest.Path).
					Int("status", job.Status).Str("stderr", job.Stderr).Err(job.Err).
					Msg("backup destination failed; ignoring")
				return
			}

			a.count(metricsDeliveryFailures)
			log.Error().Str("segment", segName).Str("destination", d.dest.Path).
				Int("status", job.Status).Str("stderr", job.Stderr).Err(job.Err).
				Msg("delivery failed")
			failed = append(failed, d.dest.Path)
		},
	}

	if err := runner.Run(ctx, jobs); err != nil {
		// A supervisor error on a backup-only job was already degraded in
		// OnFinish; anything else lands in failed as well.
		log.Debug().Err(err).Msg("supervisor reported an error")
	}
	if saveErr != nil {
		return saveErr
	}
	if len(failed) > 0 {
		return errors.Errorf("segment %q was not delivered to: %v", segName, failed)
	}

	return nil
}

// buildDeliveryJob builds the supervisor job for one destination.
func (a *Archiver) buildDeliveryJob(dest Destination, segName string, artifacts map[compress.Compression]string, isBackup bool) *parallel.Job {
	artifact := artifacts[dest.Compression]
	artifactName := segName + dest.Compression.Extension()

	job := &parallel.Job{
		Tag:     dest.Path,
		Payload: deliveryJob{dest: dest, isBackup: isBackup},
	}

	switch dest.Kind {
	case Local:
		job.Argv = a.rsyncArgv(artifact, filepath.Join(dest.Path, artifactName))
	case Remote:
		job.Argv = a.rsyncArgv(artifact, dest.Path+"/"+artifactName)
	case Pipe:
		job.Argv = []string{dest.Path, artifactName}
		job.StdinFile = artifact
	}

	return job
}

// rsyncArgv builds the transfer command; -t preserves mtimes so the
// recovery-delay check on the restore side stays meaningful.
func (a *Archiver) rsyncArgv(src, dst string) []string {
	argv := []string{a.RsyncPath, "-t", src, dst}
	if !a.Compress.NotNice {
		argv = append([]string{a.Compress.Nice, "-n", "19"}, argv...)
	}
	return argv
}

func (a *Archiver) count(metric string) {
	if a.Metrics != nil {
		a.Metrics.Increment(metric)
	}
}

func (a *Archiver) record(metric string, value float64) {
	if a.Metrics != nil {
		a.Metrics.RecordValue(metric, value)
	}
}
