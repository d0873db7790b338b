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

// WALTranslations papers over the pg_xlog/pg_wal rename and the 9.x vs 10+
// admin function spellings so the backup engines can speak to either era.
type WALTranslations struct {
	Major     uint64
	Directory string
	Queries   WALQueries
}

type WALQueries struct {
	StartBackup     string
	StopBackup      string
	ReadBackupLabel string
	IsInRecovery    string
	ServerVersion   string
}

// Translate builds the per-era SQL.  pgMajor is the server_version_num style
// number (e.g. 90605, 110013).
func Translate(pgMajor uint64) WALTranslations {
	const translateHorizon uint64 = 100000 // PostgreSQL version 10

	t := WALTranslations{Major: pgMajor}
	q := WALQueries{
		IsInRecovery:  `SELECT pg_is_in_recovery()`,
		ServerVersion: `SELECT current_setting('server_version_num')`,
		// pg_read_file spelling is stable across the horizon
		ReadBackupLabel: `SELECT pg_read_file('backup_label')`,
	}

	if pgMajor < translateHorizon {
		t.Directory = "pg_xlog"
		q.StartBackup = `SELECT (pg_start_backup($1))::TEXT`
		q.StopBackup = `SELECT (pg_stop_backup())::TEXT`
	} else {
		t.Directory = "pg_wal"
		q.StartBackup = `SELECT (pg_start_backup($1, false))::TEXT`
		q.StopBackup = `SELECT (pg_stop_backup())::TEXT`
	}

	t.Queries = q
	return t
}
