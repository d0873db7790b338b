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

package pg

import (
	"context"
	"strconv"

	"github.com/jackc/pgx"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
)

// BackupSession drives the pg_start_backup/pg_stop_backup protocol against a
// live server.  One session maps onto one base backup.
type BackupSession struct {
	pool  *pgx.ConnPool
	xlate WALTranslations

	label   string
	started bool
}

// NewBackupSession connects the session and resolves the server's WAL-naming
// era from server_version_num.
func NewBackupSession(ctx context.Context, pool *pgx.ConnPool, label string) (*BackupSession, error) {
	s := &BackupSession{
		pool:  pool,
		label: label,
	}

	var versionStr string
	if err := pool.QueryRowEx(ctx, Translate(0).Queries.ServerVersion, nil).Scan(&versionStr); err != nil {
		return nil, errors.Wrap(err, "unable to query server_version_num")
	}

	versionNum, err := strconv.ParseUint(versionStr, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse server_version_num %q", versionStr)
	}
	s.xlate = Translate(versionNum)

	log.Debug().Uint64("server-version-num", versionNum).
		Str("wal-directory", s.xlate.Directory).
		Msg("resolved server WAL era")

	return s, nil
}

// Translations exposes the resolved per-era names.
func (s *BackupSession) Translations() WALTranslations {
	return s.xlate
}

// IsInRecovery reports whether the connected server is a hot standby.
func (s *BackupSession) IsInRecovery(ctx context.Context) (bool, error) {
	var inRecovery bool
	if err := s.pool.QueryRowEx(ctx, s.xlate.Queries.IsInRecovery, nil).Scan(&inRecovery); err != nil {
		return false, errors.Wrap(err, "unable to execute recovery check")
	}
	return inRecovery, nil
}

// Start issues pg_start_backup and returns the backup's start LSN.
func (s *BackupSession) Start(ctx context.Context) (LSN, error) {
	var lsnStr string
	if err := s.pool.QueryRowEx(ctx, s.xlate.Queries.StartBackup, nil, s.label).Scan(&lsnStr); err != nil {
		return InvalidLSN, errors.Wrap(err, "unable to execute pg_start_backup")
	}

	l, err := ParseLSN(lsnStr)
	if err != nil {
		return InvalidLSN, errors.Wrapf(err, "unable to parse pg_start_backup LSN %q", lsnStr)
	}

	s.started = true
	log.Info().Str("start-lsn", l.String()).Str("label", s.label).Msg("pg_start_backup issued")
	return l, nil
}

// ReadBackupLabel fetches the server-side backup_label through pg_read_file.
// Servers that refuse the call (restrictive pg_read_file grants, pre-8.4
// clusters) surface a configuration error; there is no silent fallback.
func (s *BackupSession) ReadBackupLabel(ctx context.Context) (string, error) {
	if !s.started {
		return "", errors.New("backup_label is only readable between pg_start_backup and pg_stop_backup")
	}

	var label string
	if err := s.pool.QueryRowEx(ctx, s.xlate.Queries.ReadBackupLabel, nil).Scan(&label); err != nil {
		return "", errors.Wrap(err, "unable to read backup_label via pg_read_file (verify the role may call pg_read_file)")
	}
	return label, nil
}

// Stop issues pg_stop_backup and returns the backup's stop LSN.
func (s *BackupSession) Stop(ctx context.Context) (LSN, error) {
	if !s.started {
		return InvalidLSN, errors.New("pg_stop_backup without pg_start_backup")
	}

	var lsnStr string
	if err := s.pool.QueryRowEx(ctx, s.xlate.Queries.StopBackup, nil).Scan(&lsnStr); err != nil {
		return InvalidLSN, errors.Wrap(err, "unable to execute pg_stop_backup")
	}

	l, err := ParseLSN(lsnStr)
	if err != nil {
		return InvalidLSN, errors.Wrapf(err, "unable to parse pg_stop_backup LSN %q", lsnStr)
	}

	s.started = false
	log.Info().Str("stop-lsn", l.String()).Msg("pg_stop_backup issued")
	return l, nil
}
