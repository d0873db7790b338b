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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/rs/zerolog/log"
)

// stored returns the name tar stores an absolute path under (leading slash
// stripped).
func stored(path string) string {
	return strings.TrimPrefix(filepath.Clean(path), "/")
}

// DataTarArgs builds the flags and members for the data-directory pass:
// exclusions, the data-dir transform, and the tablespace transforms mapping
// each real location onto tablespaces/<oid>.
func DataTarArgs(dataDir, walDir string, tablespaces []Tablespace, excludeRecoveryConf bool) (flags, members []string) {
	base := stored(dataDir)

	excludes := []string{
		base + "/pg_log/*",
		base + "/" + walDir + "/0*",
		base + "/" + walDir + "/archive_status/*",
		base + "/postmaster.pid",
	}
	if excludeRecoveryConf {
		excludes = append(excludes, base+"/recovery.conf")
	}

	// A symlinked pg_log or wal dir is excluded outright; its content lives
	// outside the cluster's tree and is not part of the backup.
	for _, sub := range []string{"pg_log", walDir} {
		full := filepath.Join(dataDir, sub)
		if fi, err := os.Lstat(full); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			log.Warn().Str("path", full).Msg("directory is a symlink; excluding it from the backup")
			excludes = append(excludes, base+"/"+sub)
		}
	}

	for _, ex := range excludes {
		flags = append(flags, "--exclude="+ex)
	}

	// Store the data dir under its basename so a restore untars next to
	// wherever it wants the cluster.
	flags = append(flags, fmt.Sprintf("--transform=s,^%s,%s,", base, filepath.Base(dataDir)))
	for _, ts := range tablespaces {
		flags = append(flags, ts.TransformRule())
	}

	members = append(members, dataDir)
	for _, ts := range tablespaces {
		members = append(members, ts.Location)
	}

	return flags, members
}

// XlogTarArgs builds the flags and members for the xlog pass.  extraDir,
// when non-empty, holds synthesized backup_label and .backup files staged by
// the slave engine; its entries surface next to the segments.
func XlogTarArgs(sourceDir, extraDir string) (flags, members []string) {
	flags = append(flags, fmt.Sprintf("--transform=s,^%s,xlogs,", stored(sourceDir)))
	members = append(members, sourceDir)

	if extraDir != "" {
		flags = append(flags, fmt.Sprintf("--transform=s,^%s,xlogs,", stored(extraDir)))
		members = append(members, extraDir)
	}

	return flags, members
}
