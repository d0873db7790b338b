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
	"time"

	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/config"
	"github.com/omniti-labs/omnipitr/lib"
	"github.com/omniti-labs/omnipitr/restore"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// restoreCmd is the restore_command side: one invocation per requested
// segment, blocking until the segment is served or the operator finishes
// recovery.
var restoreCmd = &cobra.Command{
	Use:   "restore SEGMENT DESTINATION",
	Short: "Serve one WAL segment to a recovering server",
	Long: `Invoked by PostgreSQL's restore_command.  Blocks until the requested
segment appears in the archive (decompressing it on demand), honoring the
recovery delay and the finish trigger, and garbage-collecting segments older
than the latest checkpoint's REDO location while it waits.

SIGUSR1 requests immediate termination at the next check.  A finish-trigger
file containing "NOW" (with a newline) does the same; any other content
serves already-staged segments and terminates on the first missing one.`,

	Args: cobra.ExactArgs(2),

	PreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString(config.KeyRestoreSource) == "" {
			return errors.New("--source is required")
		}
		return config.ValidStringArg(config.KeyRestoreErrorCtrl, []string{
			restore.ControldataBreak, restore.ControldataIgnore, restore.ControldataHang,
		})
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		release, err := lib.AcquirePidFile(viper.GetString(config.KeyRestorePidFile))
		if err != nil {
			return err
		}
		defer release()

		srcCompression, srcDir, err := compress.SplitPrefixed(viper.GetString(config.KeyRestoreSource))
		if err != nil {
			return err
		}

		metrics, err := newMetrics(config.NewDefault())
		if err != nil {
			return err
		}
		defer flushMetrics(metrics)

		var retention *restore.Retention
		if viper.GetString(config.KeyRestoreRemoveBound) != "" || viper.GetBool(config.KeyRestoreRemoveFirst) {
			retention = &restore.Retention{
				ArchiveDir:       srcDir,
				Compression:      srcCompression,
				Boundary:         viper.GetString(config.KeyRestoreRemoveBound),
				DataDir:          viper.GetString(config.KeyPGData),
				ControldataPath:  viper.GetString(config.KeyPGControldata),
				PauseTriggerPath: viper.GetString(config.KeyRestorePauseFile),
				RemoveAtATime:    viper.GetInt(config.KeyRestoreRemoveAtOnce),
				Hook:             viper.GetString(config.KeyRestorePreRemoval),
				ShellPath:        viper.GetString(config.KeyShellPath),
				TempDir:          viper.GetString(config.KeyRestoreTempDir),
				Compress:         config.CompressPaths(),
				ErrorMode:        viper.GetString(config.KeyRestoreErrorCtrl),
				Metrics:          metrics,
			}
		}

		worker := &restore.Worker{
			SourceDir:            srcDir,
			SourceCompression:    srcCompression,
			DataDir:              viper.GetString(config.KeyPGData),
			RecoveryDelay:        time.Duration(viper.GetInt(config.KeyRestoreDelay)) * time.Second,
			FinishTriggerPath:    viper.GetString(config.KeyRestoreFinishFile),
			StreamingReplication: viper.GetBool(config.KeyRestoreStreamingRep),
			ShellPath:            viper.GetString(config.KeyShellPath),
			Compress:             config.CompressPaths(),
			Retention:            retention,
			RemoveBefore:         viper.GetBool(config.KeyRestoreRemoveFirst),
			Metrics:              metrics,
		}

		err = worker.Run(cmd.Context(), args[0], args[1])
		switch {
		case err == nil:
			return nil
		case errors.Is(err, restore.ErrHistoryUnavailable):
			// Routine during timeline switches; non-zero exit without the
			// fatal noise.
			log.Info().Str("segment", args[0]).Msg("history file not in the archive")
			return err
		default:
			log.Error().Err(err).Str("segment", args[0]).Msg("restore failed")
			return err
		}
	},
}

func init() {
	RootCmd.AddCommand(restoreCmd)

	{
		const (
			key          = config.KeyRestoreSource
			longName     = "source"
			defaultValue = ""
			description  = "Wal-archive directory segments are served from ([CMP=]dir)"
		)

		restoreCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestoreDelay
			longName     = "recovery-delay"
			defaultValue = 0
			description  = "Serve segments only once they are at least this many seconds old"
		)

		restoreCmd.Flags().Int(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestoreFinishFile
			longName     = "finish-trigger"
			defaultValue = ""
			description  = `Trigger file ending recovery ("NOW" content finishes immediately)`
		)

		restoreCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestorePauseFile
			longName     = "removal-pause-trigger"
			defaultValue = ""
			description  = "Trigger file suspending retention (created by backup-slave)"
		)

		restoreCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestorePreRemoval
			longName     = "pre-removal-processing"
			defaultValue = ""
			description  = "Program run (via the shell) against each segment before removal; non-zero exit abandons the batch"
		)

		restoreCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestoreRemoveAtOnce
			longName     = "remove-at-a-time"
			defaultValue = 3
			description  = "Maximum segments removed per retention pass"
		)

		restoreCmd.Flags().Int(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestoreRemoveBound
			longName     = "remove-unneeded"
			defaultValue = ""
			description  = "Enable retention with an explicit boundary segment name"
		)

		restoreCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestoreRemoveFirst
			longName     = "remove-before"
			defaultValue = false
			description  = "Enable retention (boundary from pg_controldata) and run one pass before the first segment check"
		)

		restoreCmd.Flags().Bool(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestoreStreamingRep
			longName     = "streaming-replication"
			defaultValue = false
			description  = "Fail fast on missing segments so PostgreSQL falls through to streaming replication"
		)

		restoreCmd.Flags().Bool(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestoreErrorCtrl
			longName     = "error-pgcontroldata"
			defaultValue = restore.ControldataIgnore
			description  = `What a pg_controldata failure does to retention ("break", "ignore", or "hang")`
		)

		restoreCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key         = config.KeyRestoreTempDir
			longName    = "temp-dir"
			description = "Directory the pre-removal hook staging happens in"
		)

		defaultValue := "/tmp"
		restoreCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyRestorePidFile
			longName     = "pid-file"
			defaultValue = ""
			description  = "Refuse to start while another live instance holds this pid file"
		)

		restoreCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, restoreCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}
}
