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
	"path/filepath"
	"time"

	"github.com/jackc/pgx"
	"github.com/omniti-labs/omnipitr/buildtime"
	"github.com/omniti-labs/omnipitr/lib"
	"github.com/omniti-labs/omnipitr/pg"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
)

// Master runs a base backup on a primary, bracketed by
// pg_start_backup/pg_stop_backup over a live connection.
type Master struct {
	Engine

	Pool *pgx.ConnPool

	// XlogsDir is the hold area the archive command also delivers into;
	// the .backup sentinel and every needed segment appear there.
	XlogsDir string

	// ControldataPath locates pg_controldata(1), used to learn the current
	// timeline.
	ControldataPath string
}

// Run executes the whole master-mode protocol:
// start → pg_start_backup → data tar → pg_stop_backup →
// wait for the sentinel and the final xlog → xlog tar → deliver.
func (m *Master) Run(ctx context.Context) error {
	session, err := pg.NewBackupSession(ctx, m.Pool, buildtime.PROGNAME)
	if err != nil {
		return err
	}

	inRecovery, err := session.IsInRecovery(ctx)
	if err != nil {
		return err
	}
	if inRecovery {
		return errors.New("server is a hot standby; use backup-slave")
	}

	cd, err := pg.RunControlData(ctx, m.ControldataPath, m.DataDir)
	if err != nil {
		return err
	}

	m.StartTime = time.Now()

	startLSN, err := session.Start(ctx)
	if err != nil {
		return err
	}

	tablespaces, err := DiscoverTablespaces(m.DataDir)
	if err != nil {
		session.Stop(ctx)
		return err
	}

	flags, members := DataTarArgs(m.DataDir, session.Translations().Directory, tablespaces, false)
	if err := m.MakeArchive(ctx, FiletypeData, flags, members); err != nil {
		// The server must not stay in backup mode behind a failed tar.
		if _, stopErr := session.Stop(ctx); stopErr != nil {
			log.Error().Err(stopErr).Msg("unable to stop backup mode after a failed data archive")
		}
		return err
	}

	stopLSN, err := session.Stop(ctx)
	if err != nil {
		return err
	}

	if !m.SkipXlogs {
		if err := m.makeXlogArchive(ctx, cd.TimelineID, startLSN, stopLSN); err != nil {
			return err
		}
	}

	return m.Deliver(ctx)
}

// makeXlogArchive waits for the sentinel and the last needed segment to land
// in the hold area, then tars the collected xlogs.
func (m *Master) makeXlogArchive(ctx context.Context, timeline pg.TimelineID, startLSN, stopLSN pg.LSN) error {
	label := Label{StartLSN: startLSN, StopLSN: stopLSN, Timeline: timeline}

	sentinelPath := filepath.Join(m.XlogsDir, label.SentinelName())
	log.Debug().Str("sentinel", sentinelPath).Msg("waiting for the .backup sentinel")
	if err := lib.WaitForFile(ctx, sentinelPath); err != nil {
		return err
	}

	// The sentinel's STOP WAL LOCATION is authoritative for which segment
	// the archive must reach.
	body, err := readFileString(sentinelPath)
	if err != nil {
		return err
	}
	stopStr, found := ParseSentinelField(body, "STOP WAL LOCATION")
	if !found {
		return errors.Errorf("sentinel %q has no STOP WAL LOCATION", sentinelPath)
	}
	sentinelStop, err := pg.ParseLSN(stopStr)
	if err != nil {
		return errors.Wrapf(err, "unable to parse the sentinel's STOP WAL LOCATION %q", stopStr)
	}

	lastSegment := filepath.Join(m.XlogsDir, string(sentinelStop.WALFilename(timeline)))
	log.Debug().Str("segment", lastSegment).Msg("waiting for the final xlog segment")
	if err := lib.WaitForFile(ctx, lastSegment); err != nil {
		return err
	}

	flags, members := XlogTarArgs(m.XlogsDir, "")
	return m.MakeArchive(ctx, FiletypeXlog, flags, members)
}
