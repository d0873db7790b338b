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

package cmd

import (
	"os"
	"path/filepath"

	"github.com/omniti-labs/omnipitr/archive"
	"github.com/omniti-labs/omnipitr/config"
	"github.com/omniti-labs/omnipitr/lib"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// archiveCmd is the archive_command side: one invocation per finished WAL
// segment.
var archiveCmd = &cobra.Command{
	Use:   "archive SEGMENT",
	Short: "Archive one WAL segment to every configured destination",
	Long: `Invoked by PostgreSQL's archive_command once per completed WAL segment.
The segment is compressed into every format the destination set requires and
fanned out concurrently.  A per-segment state file makes retried invocations
resumable: finished compressions and deliveries are never repeated.

Exit code 0 tells PostgreSQL the segment may be recycled; any non-zero exit
makes PostgreSQL retry the same segment later.`,

	Args: cobra.ExactArgs(1),

	PreRunE: func(cmd *cobra.Command, args []string) error {
		dataDir := viper.GetString(config.KeyPGData)
		if !viper.GetBool(config.KeyArchiveForceData) {
			if _, err := os.Stat(filepath.Join(dataDir, "PG_VERSION")); err != nil {
				return errors.Errorf("%q does not look like a data directory (use --force-data-dir to override)", dataDir)
			}
		}

		numDst := len(viper.GetStringSlice(config.KeyArchiveDstLocal)) +
			len(viper.GetStringSlice(config.KeyArchiveDstRemote)) +
			len(viper.GetStringSlice(config.KeyArchiveDstPipe))
		if numDst == 0 {
			return errors.New("at least one destination is required")
		}

		// Multi-destination fan-out cannot be made exactly-once without the
		// state file.
		if numDst > 1 && viper.GetString(config.KeyArchiveStateDir) == "" {
			return errors.New("--state-dir is required with more than one destination")
		}

		if viper.GetInt(config.KeyArchiveParallel) < 1 {
			return errors.New("--parallel-jobs must be at least 1")
		}

		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		release, err := lib.AcquirePidFile(viper.GetString(config.KeyArchivePidFile))
		if err != nil {
			return err
		}
		defer release()

		var dests []archive.Destination
		for _, spec := range []struct {
			kind archive.Kind
			key  string
		}{
			{kind: archive.Local, key: config.KeyArchiveDstLocal},
			{kind: archive.Remote, key: config.KeyArchiveDstRemote},
			{kind: archive.Pipe, key: config.KeyArchiveDstPipe},
		} {
			parsed, err := archive.ParseDestinations(spec.kind, viper.GetStringSlice(spec.key))
			if err != nil {
				return err
			}
			dests = append(dests, parsed...)
		}

		metrics, err := newMetrics(config.NewDefault())
		if err != nil {
			return err
		}
		defer flushMetrics(metrics)

		archiver := &archive.Archiver{
			DataDir:      viper.GetString(config.KeyPGData),
			TempDir:      viper.GetString(config.KeyArchiveTempDir),
			StateDir:     viper.GetString(config.KeyArchiveStateDir),
			Destinations: dests,
			BackupPath:   viper.GetString(config.KeyArchiveDstBackup),
			ParallelJobs: viper.GetInt(config.KeyArchiveParallel),
			RsyncPath:    viper.GetString(config.KeyRsyncPath),
			Compress:     config.CompressPaths(),
			Metrics:      metrics,
		}

		if err := archiver.Archive(cmd.Context(), args[0]); err != nil {
			log.Error().Err(err).Str("segment", args[0]).Msg("archiving failed")
			return err
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(archiveCmd)

	{
		const (
			key         = config.KeyArchiveDstLocal
			longName    = "dst-local"
			description = "Local destination directory, optionally prefixed with a compression ([CMP=]path); repeatable"
		)

		archiveCmd.Flags().StringArray(longName, nil, description)
		viper.BindPFlag(key, archiveCmd.Flags().Lookup(longName))
	}

	{
		const (
			key         = config.KeyArchiveDstRemote
			longName    = "dst-remote"
			description = "Remote destination ([CMP=][user@]host:/path); repeatable"
		)

		archiveCmd.Flags().StringArray(longName, nil, description)
		viper.BindPFlag(key, archiveCmd.Flags().Lookup(longName))
	}

	{
		const (
			key         = config.KeyArchiveDstPipe
			longName    = "dst-pipe"
			description = "Program receiving each artifact on stdin ([CMP=]program); repeatable"
		)

		archiveCmd.Flags().StringArray(longName, nil, description)
		viper.BindPFlag(key, archiveCmd.Flags().Lookup(longName))
	}

	{
		const (
			key          = config.KeyArchiveDstBackup
			longName     = "dst-backup"
			defaultValue = ""
			description  = "Degraded local destination: failures are logged but never fail the invocation"
		)

		archiveCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, archiveCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyArchiveStateDir
			longName     = "state-dir"
			defaultValue = ""
			description  = "Directory for per-segment delivery state (required for multi-destination fan-out)"
		)

		archiveCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, archiveCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key         = config.KeyArchiveTempDir
			longName    = "temp-dir"
			description = "Directory for compressed temp artifacts"
		)

		defaultValue := os.TempDir()
		archiveCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, archiveCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyArchiveParallel
			longName     = "parallel-jobs"
			defaultValue = 1
			description  = "Maximum concurrent destination transfers"
		)

		archiveCmd.Flags().Int(longName, defaultValue, description)
		viper.BindPFlag(key, archiveCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyArchiveForceData
			longName     = "force-data-dir"
			defaultValue = false
			description  = "Skip the data-directory sanity check"
		)

		archiveCmd.Flags().Bool(longName, defaultValue, description)
		viper.BindPFlag(key, archiveCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyArchivePidFile
			longName     = "pid-file"
			defaultValue = ""
			description  = "Refuse to start while another live instance holds this pid file"
		)

		archiveCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, archiveCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}
}
