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
	"time"

	"github.com/jackc/pgx"
	"github.com/omniti-labs/omnipitr/buildtime"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/lib"
	"github.com/omniti-labs/omnipitr/pg"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
)

// Slave runs a base backup on a hot standby.  By default it never talks to
// the primary: pg_controldata snapshots bracket the copy and the
// backup_label is synthesized locally.  With CallMaster it brackets the copy
// with pg_start_backup/pg_stop_backup on the primary instead and fetches the
// real backup_label through pg_read_file.
type Slave struct {
	Engine

	// SourceDir is the standby's wal-archive directory (the restore
	// command's source); the xlog tar is built from it.
	SourceDir string

	// SourceCompression is how segments are stored in SourceDir.
	SourceCompression compress.Compression

	// PauseTriggerPath suspends the restore process's retention while the
	// backup holds the archive steady.  Created on entry, removed on exit.
	PauseTriggerPath string

	ControldataPath string

	// PollInterval paces the pg_controldata checkpoint-advance poll.
	PollInterval time.Duration

	CallMaster bool

	// Pool connects to the primary; only used with CallMaster.
	Pool *pgx.ConnPool
}

// Run executes the whole slave-mode protocol.
func (s *Slave) Run(ctx context.Context) error {
	if s.PollInterval <= 0 {
		s.PollInterval = 5 * time.Second
	}

	if s.PauseTriggerPath != "" {
		if err := os.WriteFile(s.PauseTriggerPath, []byte(buildtime.PROGNAME+"\n"), 0644); err != nil {
			return errors.Wrapf(err, "unable to create the removal-pause trigger %q", s.PauseTriggerPath)
		}
		defer func() {
			if err := os.Remove(s.PauseTriggerPath); err != nil {
				log.Warn().Err(err).Str("trigger", s.PauseTriggerPath).Msg("unable to remove the removal-pause trigger")
			}
		}()
	}

	if s.CallMaster {
		return s.runCallingMaster(ctx)
	}
	return s.runStandalone(ctx)
}

// runStandalone brackets the data copy with pg_controldata snapshots and
// synthesizes the backup metadata locally.
func (s *Slave) runStandalone(ctx context.Context) error {
	initial, err := pg.RunControlData(ctx, s.ControldataPath, s.DataDir)
	if err != nil {
		return err
	}

	s.StartTime = time.Now()

	tablespaces, err := DiscoverTablespaces(s.DataDir)
	if err != nil {
		return err
	}
	flags, members := DataTarArgs(s.DataDir, WALDirName(s.DataDir), tablespaces, true)
	if err := s.MakeArchive(ctx, FiletypeData, flags, members); err != nil {
		return err
	}

	final, err := s.waitCheckpointAdvance(ctx, initial)
	if err != nil {
		return err
	}

	label := Label{
		StartLSN:   initial.RedoLocation,
		StopLSN:    final.CheckpointLocation,
		Checkpoint: initial.CheckpointLocation,
		Timeline:   initial.TimelineID,
		StartTime:  s.StartTime,
		StopTime:   time.Now(),
		Label:      SlaveLabel,
	}

	if s.SkipXlogs {
		return s.Deliver(ctx)
	}

	if err := s.makeXlogArchive(ctx, label); err != nil {
		return err
	}
	return s.Deliver(ctx)
}

// runCallingMaster brackets the copy on the primary and retrieves the real
// backup_label, then waits for the standby to replay past the backup start
// before touching the data directory.
func (s *Slave) runCallingMaster(ctx context.Context) error {
	if s.Pool == nil {
		return errors.New("--call-master requires a primary connection")
	}

	initial, err := pg.RunControlData(ctx, s.ControldataPath, s.DataDir)
	if err != nil {
		return err
	}

	session, err := pg.NewBackupSession(ctx, s.Pool, buildtime.PROGNAME)
	if err != nil {
		return err
	}

	s.StartTime = time.Now()

	startLSN, err := session.Start(ctx)
	if err != nil {
		return err
	}

	labelBody, err := session.ReadBackupLabel(ctx)
	if err != nil {
		// Surface the configuration problem rather than falling back to a
		// half-synthesized label; the server stays out of backup mode.
		if _, stopErr := session.Stop(ctx); stopErr != nil {
			log.Error().Err(stopErr).Msg("unable to stop backup mode after a failed pg_read_file")
		}
		return err
	}

	// The standby must have replayed past the master's start-backup point
	// before its data directory is a usable copy.
	if _, err := s.waitCheckpointReaches(ctx, startLSN); err != nil {
		session.Stop(ctx)
		return err
	}

	tablespaces, err := DiscoverTablespaces(s.DataDir)
	if err != nil {
		session.Stop(ctx)
		return err
	}
	flags, members := DataTarArgs(s.DataDir, WALDirName(s.DataDir), tablespaces, true)
	if err := s.MakeArchive(ctx, FiletypeData, flags, members); err != nil {
		if _, stopErr := session.Stop(ctx); stopErr != nil {
			log.Error().Err(stopErr).Msg("unable to stop backup mode after a failed data archive")
		}
		return err
	}

	stopLSN, err := session.Stop(ctx)
	if err != nil {
		return err
	}

	label := Label{
		StartLSN:  startLSN,
		StopLSN:   stopLSN,
		Timeline:  initial.TimelineID,
		StartTime: s.StartTime,
		StopTime:  time.Now(),
		Label:     buildtime.PROGNAME,
	}

	if s.SkipXlogs {
		return s.Deliver(ctx)
	}

	if err := s.makeXlogArchiveWithLabelBody(ctx, label, labelBody); err != nil {
		return err
	}
	return s.Deliver(ctx)
}

// makeXlogArchive stages the synthesized backup_label and sentinel next to
// the archived segments and tars everything.
func (s *Slave) makeXlogArchive(ctx context.Context, label Label) error {
	return s.makeXlogArchiveWithLabelBody(ctx, label, label.BackupLabel())
}

func (s *Slave) makeXlogArchiveWithLabelBody(ctx context.Context, label Label, labelBody string) error {
	extraDir := filepath.Join(s.TempDir, "xlog-extra")
	if err := os.MkdirAll(extraDir, 0700); err != nil {
		return errors.Wrapf(err, "unable to create %q", extraDir)
	}
	defer os.RemoveAll(extraDir)

	if err := os.WriteFile(filepath.Join(extraDir, "backup_label"), []byte(labelBody), 0644); err != nil {
		return errors.Wrap(err, "unable to stage backup_label")
	}
	if err := os.WriteFile(filepath.Join(extraDir, label.SentinelName()), []byte(label.Sentinel()), 0644); err != nil {
		return errors.Wrap(err, "unable to stage the .backup sentinel")
	}

	// The archive must reach the segment containing the stop location.
	finalSegment := string(label.StopLSN.WALFilename(label.Timeline)) + s.SourceCompression.Extension()
	if err := lib.WaitForFile(ctx, filepath.Join(s.SourceDir, finalSegment)); err != nil {
		return err
	}

	flags, members := XlogTarArgs(s.SourceDir, extraDir)
	return s.MakeArchive(ctx, FiletypeXlog, flags, members)
}

// waitCheckpointAdvance polls pg_controldata until the checkpoint location
// moves past the initial snapshot.
func (s *Slave) waitCheckpointAdvance(ctx context.Context, initial *pg.ControlData) (*pg.ControlData, error) {
	log.Info().Str("checkpoint", initial.CheckpointLocation.String()).
		Msg("waiting for the checkpoint to advance")

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "cancelled while waiting for a checkpoint")
		case <-time.After(s.PollInterval):
		}

		cd, err := pg.RunControlData(ctx, s.ControldataPath, s.DataDir)
		if err != nil {
			log.Warn().Err(err).Msg("pg_controldata failed; retrying")
			continue
		}

		if pg.LSNCmp(cd.CheckpointLocation, initial.CheckpointLocation) > 0 {
			log.Info().Str("checkpoint", cd.CheckpointLocation.String()).Msg("checkpoint advanced")
			return cd, nil
		}
	}
}

// waitCheckpointReaches polls pg_controldata until the standby's checkpoint
// passes the given LSN.
func (s *Slave) waitCheckpointReaches(ctx context.Context, target pg.LSN) (*pg.ControlData, error) {
	log.Info().Str("target", target.String()).Msg("waiting for the standby to replay past the backup start")

	for {
		cd, err := pg.RunControlData(ctx, s.ControldataPath, s.DataDir)
		if err != nil {
			log.Warn().Err(err).Msg("pg_controldata failed; retrying")
		} else if pg.LSNCmp(cd.CheckpointLocation, target) >= 0 {
			return cd, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "cancelled while waiting for replay")
		case <-time.After(s.PollInterval):
		}
	}
}

// WALDirName resolves the wal directory name for clusters we can only see
// on disk (no live connection): pg_wal on 10+, pg_xlog before.
func WALDirName(dataDir string) string {
	if _, err := os.Stat(filepath.Join(dataDir, "pg_wal")); err == nil {
		return "pg_wal"
	}
	return "pg_xlog"
}

func readFileString(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to read %q", path)
	}
	return string(buf), nil
}
